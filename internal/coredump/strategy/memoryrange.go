// Package strategy selects which virtual memory ranges of a crashing
// process get captured into a core file: the kernel's own PT_LOAD/PT_NOTE
// selection, or a synthesized covering set of just-enough-to-debug ranges
// (stacks, ELF/build-id headers, dynamic linker bookkeeping).
package strategy

import "sort"

// MemoryRange is a half-open [Start, End) virtual address range.
type MemoryRange struct {
	Start uint64
	End   uint64
}

func NewMemoryRange(start, end uint64) MemoryRange {
	return MemoryRange{Start: start, End: end}
}

func MemoryRangeFromStartAndSize(start, size uint64) MemoryRange {
	return MemoryRange{Start: start, End: start + size}
}

func (r MemoryRange) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r MemoryRange) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r MemoryRange) Overlaps(other MemoryRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// MergeRanges sorts and coalesces overlapping or directly-adjacent ranges,
// so the capture strategy never streams the same bytes twice.
func MergeRanges(ranges []MemoryRange) []MemoryRange {
	if len(ranges) == 0 {
		return nil
	}

	sorted := append([]MemoryRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := []MemoryRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
