package strategy

import (
	"fmt"

	"github.com/memfault/memfaultd-go/internal/coredump/elf"
	"github.com/memfault/memfaultd-go/internal/coredump/notes"
)

// FindELFHeadersAndBuildIDNoteRanges inspects the ELF image living at
// vaddrBase in data (a file-backed mapping's own bytes, read from
// /proc/<pid>/mem starting at its load address) and returns the ranges
// covering its ELF header, program header table, and GNU build-id note,
// merged into one contiguous range. The debugger's symbol resolution
// needs all three to line up a shared object's on-disk debug info with
// its loaded address; a single merged range keeps the ranges workable
// even when a downstream consumer expects one covering segment.
func FindELFHeadersAndBuildIDNoteRanges(vaddrBase uint64, data []byte) ([]MemoryRange, error) {
	if len(data) < elf.EhdrSize {
		return nil, fmt.Errorf("strategy: not enough data for an ELF header")
	}

	header := elf.DecodeHeader(data[:elf.EhdrSize])
	if header.Ident[0] != elf.ELFMAG0 || header.Ident[1] != elf.ELFMAG1 ||
		header.Ident[2] != elf.ELFMAG2 || header.Ident[3] != elf.ELFMAG3 {
		return nil, fmt.Errorf("strategy: invalid ELF header")
	}

	phdrStart := int(header.Phoff)
	phdrEnd := phdrStart + int(header.Phentsize)*int(header.Phnum)
	if phdrEnd > len(data) {
		return nil, fmt.Errorf("strategy: program header table extends past available data")
	}
	programHeaders := elf.DecodeProgramHeaders(data[phdrStart:phdrEnd], int(header.Phnum))

	var buildIDNotePH *elf.ProgramHeader
	for i := range programHeaders {
		ph := programHeaders[i]
		if ph.Type != elf.PT_NOTE {
			continue
		}
		start := int(ph.Offset)
		end := start + int(ph.Filesz)
		if start < 0 || end > len(data) {
			continue
		}
		if containsGNUBuildIDNote(data[start:end]) {
			buildIDNotePH = &ph
			break
		}
	}

	if buildIDNotePH == nil {
		return nil, fmt.Errorf("strategy: build ID note missing")
	}

	ranges := []MemoryRange{
		MemoryRangeFromStartAndSize(vaddrBase, uint64(header.Ehsize)),
		MemoryRangeFromStartAndSize(vaddrBase+header.Phoff, uint64(header.Phentsize)*uint64(header.Phnum)),
		MemoryRangeFromStartAndSize(vaddrBase+buildIDNotePH.Offset, buildIDNotePH.Filesz),
	}

	min, max := ranges[0].Start, ranges[0].End
	for _, r := range ranges[1:] {
		if r.Start < min {
			min = r.Start
		}
		if r.End > max {
			max = r.End
		}
	}

	return []MemoryRange{NewMemoryRange(min, max)}, nil
}

func containsGNUBuildIDNote(noteData []byte) bool {
	it := notes.NewIterator(noteData)
	for {
		note, ok := it.Next()
		if !ok {
			return false
		}
		if note.Name == notes.NameGNU && note.Type == notes.NTGNUBuildID {
			return true
		}
	}
}
