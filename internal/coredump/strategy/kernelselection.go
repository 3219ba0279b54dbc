package strategy

import "github.com/memfault/memfaultd-go/internal/coredump/elf"

// KernelSelectionSegments returns every PT_LOAD program header verbatim,
// forwarding exactly the segments the kernel itself chose to dump.
func KernelSelectionSegments(programHeaders []elf.ProgramHeader) []elf.ProgramHeader {
	var loads []elf.ProgramHeader
	for _, ph := range programHeaders {
		if ph.Type == elf.PT_LOAD {
			loads = append(loads, ph)
		}
	}
	return loads
}

// ProgramHeaderFromRange synthesizes a PT_LOAD program header covering a
// memory range, used by the Threads strategy to turn its collected ranges
// into segments the writer can stream from /proc/<pid>/mem.
func ProgramHeaderFromRange(r MemoryRange) elf.ProgramHeader {
	return elf.ProgramHeader{
		Type:   elf.PT_LOAD,
		Vaddr:  r.Start,
		Filesz: r.Size(),
		Memsz:  r.Size(),
		Align:  8,
	}
}
