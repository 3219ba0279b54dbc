package strategy

import (
	"encoding/binary"
	"fmt"

	"github.com/memfault/memfaultd-go/internal/coredump/elf"
)

// rDebugSize and linkMapSize mirror glibc's struct r_debug and struct
// link_map on a 64-bit target (<link.h>, <bits/link.h>):
//
//	struct r_debug  { int r_version; struct link_map *r_map; ElfW(Addr) r_brk;
//	                   enum r_state r_state; ElfW(Addr) r_ldbase; };
//	struct link_map { ElfW(Addr) l_addr; char *l_name; ElfW(Dyn) *l_ld;
//	                   struct link_map *l_next, *l_prev; ... (implementation fields follow) };
//
// The reference implementation's own r_debug.rs (defining RDebug/LinkMap/
// RDebugIter precisely) was not available to ground this port against, so
// the field layout below is taken directly from the glibc headers rather
// than transcribed from pack source. Only the fields needed to walk the
// link_map chain are decoded; trailing implementation-private fields of
// link_map are left unparsed, matching how the map is only ever walked
// forward through l_next here.
const (
	rDebugSize  = 4 + 4 /*padding*/ + 8 + 8 + 8 /*Addr align*/ + 8
	rDebugMapOffset    = 8
	rDebugStateOffset  = 24

	linkMapSize       = 8 + 8 + 8 + 8 + 8
	linkMapNameOffset = 8
	linkMapNextOffset = 24
)

type dynEntryReader interface {
	ReadBytes(vaddr uint64, length uint64) ([]byte, error)
}

// FindDynamicLinkerRanges walks the main executable's program headers (as
// mapped in the crashing process, read via procMem) to find the PT_DYNAMIC
// segment's DT_DEBUG entry, then follows the r_debug/link_map chain it
// points to, collecting the memory ranges backing every node and its
// path string. These ranges let a debugger enumerate every loaded shared
// object the same way it would from a live process.
func FindDynamicLinkerRanges(procMem dynEntryReader, phdrVaddr uint64, phdrNum uint64, memoryMaps []MemoryRange) ([]MemoryRange, error) {
	phdr, err := readMainExecutablePHDR(procMem, phdrVaddr, phdrNum)
	if err != nil {
		return nil, err
	}

	relocAddr := phdrVaddr - phdr.Vaddr

	var ranges []MemoryRange
	ranges = append(ranges, MemoryRangeFromStartAndSize(relocAddr+phdr.Vaddr, phdr.Memsz))

	mainHeaders, err := readMainExecProgramHeaders(procMem, phdr, relocAddr)
	if err != nil {
		return nil, err
	}

	dynamicPH, err := findDynamicProgramHeader(mainHeaders)
	if err != nil {
		return nil, err
	}
	ranges = append(ranges, MemoryRangeFromStartAndSize(relocAddr+dynamicPH.Vaddr, dynamicPH.Memsz))

	rDebugAddr, err := findRDebugAddr(procMem, relocAddr, dynamicPH)
	if err != nil {
		return nil, err
	}
	ranges = append(ranges, MemoryRangeFromStartAndSize(rDebugAddr, rDebugSize))

	linkMapNameVaddrs, linkMapRanges, err := walkLinkMapChain(procMem, rDebugAddr)
	if err != nil {
		return nil, err
	}
	ranges = append(ranges, linkMapRanges...)

	for _, nameVaddr := range linkMapNameVaddrs {
		ranges = append(ranges, findCStringRegion(procMem, memoryMaps, nameVaddr))
	}

	return ranges, nil
}

func readMainExecutablePHDR(procMem dynEntryReader, phdrVaddr uint64, phdrNum uint64) (elf.ProgramHeader, error) {
	headers, err := readProgramHeadersAt(procMem, phdrVaddr, phdrNum)
	if err != nil {
		return elf.ProgramHeader{}, err
	}
	for _, ph := range headers {
		if ph.Type == elf.PT_PHDR {
			return ph, nil
		}
	}
	return elf.ProgramHeader{}, fmt.Errorf("strategy: main executable PT_PHDR not found")
}

func readMainExecProgramHeaders(procMem dynEntryReader, phdr elf.ProgramHeader, relocAddr uint64) ([]elf.ProgramHeader, error) {
	count := phdr.Memsz / elf.PhdrSize
	return readProgramHeadersAt(procMem, relocAddr+phdr.Vaddr, count)
}

func readProgramHeadersAt(procMem dynEntryReader, vaddr uint64, count uint64) ([]elf.ProgramHeader, error) {
	data, err := procMem.ReadBytes(vaddr, count*elf.PhdrSize)
	if err != nil {
		return nil, err
	}
	return elf.DecodeProgramHeaders(data, int(count)), nil
}

func findDynamicProgramHeader(headers []elf.ProgramHeader) (elf.ProgramHeader, error) {
	for _, ph := range headers {
		if ph.Type == elf.PT_DYNAMIC {
			return ph, nil
		}
	}
	return elf.ProgramHeader{}, fmt.Errorf("strategy: no PT_DYNAMIC found")
}

func findRDebugAddr(procMem dynEntryReader, relocAddr uint64, dynamicPH elf.ProgramHeader) (uint64, error) {
	data, err := procMem.ReadBytes(relocAddr+dynamicPH.Vaddr, dynamicPH.Memsz)
	if err != nil {
		return 0, fmt.Errorf("strategy: failed to read dynamic segment: %w", err)
	}

	for offset := 0; offset+elf.DynEntrySize <= len(data); offset += elf.DynEntrySize {
		entry := elf.DecodeDynEntry(data[offset : offset+elf.DynEntrySize])
		if entry.Tag == elf.DT_DEBUG {
			return entry.Val, nil
		}
	}
	return 0, fmt.Errorf("strategy: missing DT_DEBUG entry")
}

// walkLinkMapChain follows r_debug.r_map through link_map.l_next until the
// list ends, returning each node's path-string vaddr and the memory range
// of the link_map struct itself.
func walkLinkMapChain(procMem dynEntryReader, rDebugAddr uint64) ([]uint64, []MemoryRange, error) {
	rDebugData, err := procMem.ReadBytes(rDebugAddr, rDebugSize)
	if err != nil {
		return nil, nil, fmt.Errorf("strategy: failed to read r_debug: %w", err)
	}
	mapAddr := binary.LittleEndian.Uint64(rDebugData[rDebugMapOffset:])

	var nameVaddrs []uint64
	var ranges []MemoryRange

	// Bound the walk defensively: a corrupted chain must not hang capture.
	const maxLinkMapNodes = 4096
	for i := 0; mapAddr != 0 && i < maxLinkMapNodes; i++ {
		nodeData, err := procMem.ReadBytes(mapAddr, linkMapSize)
		if err != nil {
			break
		}
		ranges = append(ranges, MemoryRangeFromStartAndSize(mapAddr, linkMapSize))
		nameVaddrs = append(nameVaddrs, binary.LittleEndian.Uint64(nodeData[linkMapNameOffset:]))
		mapAddr = binary.LittleEndian.Uint64(nodeData[linkMapNextOffset:])
	}

	return nameVaddrs, ranges, nil
}

const pathMax = 4096

func findCStringRegion(procMem dynEntryReader, memoryMaps []MemoryRange, cStringVaddr uint64) MemoryRange {
	readSize := uint64(pathMax)
	for _, r := range memoryMaps {
		if r.Contains(cStringVaddr) {
			if remaining := r.End - cStringVaddr; remaining < readSize {
				readSize = remaining
			}
			break
		}
	}

	data, err := procMem.ReadBytes(cStringVaddr, readSize)
	if err != nil {
		return MemoryRangeFromStartAndSize(cStringVaddr, readSize)
	}

	for idx, b := range data {
		if b == 0 {
			return MemoryRangeFromStartAndSize(cStringVaddr, uint64(idx+1))
		}
	}
	return MemoryRangeFromStartAndSize(cStringVaddr, readSize)
}
