package strategy

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfault/memfaultd-go/internal/coredump/elf"
)

type fakeAddressSpace struct {
	buf []byte
}

func newFakeAddressSpace(size int) *fakeAddressSpace {
	return &fakeAddressSpace{buf: make([]byte, size)}
}

func (f *fakeAddressSpace) ReadBytes(vaddr uint64, length uint64) ([]byte, error) {
	if vaddr+length > uint64(len(f.buf)) {
		return nil, fmt.Errorf("out of range: %d+%d > %d", vaddr, length, len(f.buf))
	}
	return f.buf[vaddr : vaddr+length], nil
}

func (f *fakeAddressSpace) putProgramHeader(vaddr uint64, ph elf.ProgramHeader) {
	copy(f.buf[vaddr:], ph.Encode())
}

func (f *fakeAddressSpace) putDynEntry(vaddr uint64, tag, val uint64) {
	binary.LittleEndian.PutUint64(f.buf[vaddr:], tag)
	binary.LittleEndian.PutUint64(f.buf[vaddr+8:], val)
}

func (f *fakeAddressSpace) putU64(vaddr uint64, v uint64) {
	binary.LittleEndian.PutUint64(f.buf[vaddr:], v)
}

func TestFindDynamicLinkerRangesWalksLinkMapChain(t *testing.T) {
	mem := newFakeAddressSpace(0x6100)

	const phdrVaddr = 0x1000
	mem.putProgramHeader(phdrVaddr, elf.ProgramHeader{Type: elf.PT_PHDR, Vaddr: phdrVaddr, Memsz: 2 * elf.PhdrSize})
	mem.putProgramHeader(phdrVaddr+elf.PhdrSize, elf.ProgramHeader{Type: elf.PT_DYNAMIC, Vaddr: 0x2000, Memsz: 32})

	const dynVaddr = 0x2000
	const rDebugVaddr = 0x3000
	mem.putDynEntry(dynVaddr, elf.DT_DEBUG, rDebugVaddr)
	mem.putDynEntry(dynVaddr+16, elf.DT_NULL, 0)

	const linkMapVaddr = 0x4000
	mem.putU64(rDebugVaddr+rDebugMapOffset, linkMapVaddr)

	const nameVaddr = 0x5000
	mem.putU64(linkMapVaddr+linkMapNameOffset, nameVaddr)
	mem.putU64(linkMapVaddr+linkMapNextOffset, 0) // chain ends here

	copy(mem.buf[nameVaddr:], "/lib/libfoo.so\x00")

	memoryMaps := []MemoryRange{NewMemoryRange(0x5000, 0x6000)}

	ranges, err := FindDynamicLinkerRanges(mem, phdrVaddr, 2, memoryMaps)
	require.NoError(t, err)

	// main exec phdr range, dynamic segment range, r_debug range, link_map range, name string range
	require.Len(t, ranges, 5)
	assert.EqualValues(t, nameVaddr, ranges[4].Start)
	assert.EqualValues(t, len("/lib/libfoo.so")+1, ranges[4].Size())
}

func TestFindDynamicLinkerRangesErrorsWithoutPTPHDR(t *testing.T) {
	mem := newFakeAddressSpace(0x1000)
	mem.putProgramHeader(0, elf.ProgramHeader{Type: elf.PT_LOAD})
	_, err := FindDynamicLinkerRanges(mem, 0, 1, nil)
	assert.Error(t, err)
}
