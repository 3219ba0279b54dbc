package strategy

import (
	"github.com/prometheus/procfs"
)

// ProcMaps reads a process's /proc/<pid>/maps snapshot and exposes the
// memory ranges and offset-zero file-backed mappings the Threads strategy
// needs.
type ProcMaps struct {
	ranges           []MemoryRange
	fileBackedOffset []uint64
}

// LoadProcMaps reads the maps entries for pid via the procfs package.
func LoadProcMaps(pid int) (*ProcMaps, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, err
	}

	entries, err := proc.ProcMaps()
	if err != nil {
		return nil, err
	}

	pm := &ProcMaps{}
	for _, e := range entries {
		pm.ranges = append(pm.ranges, NewMemoryRange(uint64(e.StartAddr), uint64(e.EndAddr)))
		if e.Pathname != "" && e.Offset == 0 {
			pm.fileBackedOffset = append(pm.fileBackedOffset, uint64(e.StartAddr))
		}
	}
	return pm, nil
}

func (pm *ProcMaps) Ranges() []MemoryRange {
	return pm.ranges
}

func (pm *ProcMaps) FileBackedAtOffsetZero() []uint64 {
	return pm.fileBackedOffset
}
