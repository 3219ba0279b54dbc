package asa

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/memfault/memfaultd-go/internal/disksize"
	"github.com/memfault/memfaultd-go/internal/logging"
)

// Cleaner evicts ASA entries against a two-dimensional (bytes, inodes)
// budget, oldest first, whenever the budget or the filesystem's headroom is
// under pressure.
type Cleaner struct {
	Root         string
	MaxTotalSize disksize.DiskSize
	MinHeadroom  disksize.DiskSize
	log          *logging.Logger
}

// NewCleaner builds a Cleaner rooted at an ASA directory.
func NewCleaner(root string, maxTotalSize, minHeadroom disksize.DiskSize, log *logging.Logger) *Cleaner {
	return &Cleaner{Root: root, MaxTotalSize: maxTotalSize, MinHeadroom: minHeadroom, log: log}
}

// Clean enforces the budget, reserving requiredSpace for an entry the
// caller is about to write. It returns the usable quota remaining after
// eviction: the smaller of (a) how much further total staged size can grow
// before max_total_size is reached and (b) how much further the filesystem
// can shrink before min_headroom is breached.
func (c *Cleaner) clean(requiredSpace disksize.DiskSize) (disksize.DiskSize, error) {
	available, err := disksize.Available(c.Root)
	if err != nil {
		available = disksize.ZERO
	}
	return cleanStagingArea(
		c.Root,
		c.MaxTotalSize.Sub(requiredSpace),
		available,
		c.MinHeadroom.Add(requiredSpace),
		time.Now(),
		c.log,
	)
}

// Clean is the public entry point; see clean for semantics.
func (c *Cleaner) Clean(requiredSpace disksize.DiskSize) (disksize.DiskSize, error) {
	return c.clean(requiredSpace)
}

type ageSizePath struct {
	age  time.Duration
	size disksize.DiskSize
	path string
}

func cleanStagingArea(
	root string,
	maxTotalSize disksize.DiskSize,
	availableSpace disksize.DiskSize,
	minSpace disksize.DiskSize,
	referenceTime time.Time,
	log *logging.Logger,
) (disksize.DiskSize, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return disksize.ZERO, err
	}

	entries := make([]ageSizePath, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		path := filepath.Join(root, de.Name())
		timestamp := referenceTime
		if entry, err := LoadEntry(path); err == nil {
			timestamp = entry.Manifest.CollectionTime.Timestamp
		} else if info, statErr := os.Stat(path); statErr == nil {
			timestamp = info.ModTime()
		}

		age := referenceTime.Sub(timestamp)
		if age < 0 {
			age = 0
		}
		size, err := dirDiskSize(path)
		if err != nil {
			size = disksize.ZERO
		}
		entries = append(entries, ageSizePath{age: age, size: size, path: path})
	}

	// Newest first: smallest age sorts to the front.
	sort.Slice(entries, func(i, j int) bool { return entries[i].age < entries[j].age })

	totalSize := disksize.ZERO
	for _, entry := range entries {
		// (totalSize + entry.size).Exceeds(maxTotalSize) is wrong here: it
		// is false whenever only one of bytes/inodes is over budget. The
		// negated comparison below catches either dimension individually.
		maxTotalSizeExceeded := !maxTotalSize.Exceeds(totalSize.Add(entry.size))
		minHeadroomExceeded := !availableSpace.Exceeds(minSpace)

		if maxTotalSizeExceeded || minHeadroomExceeded {
			if log != nil {
				log.WithField("path", entry.path).
					WithField("reason_total", maxTotalSizeExceeded).
					WithField("reason_headroom", minHeadroomExceeded).
					Debug("evicting staging entry")
			}
			if err := os.RemoveAll(entry.path); err != nil {
				if log != nil {
					log.WithField("path", entry.path).Warn("unable to remove staging entry")
				}
				// Couldn't reclaim it: still count its size against the total.
				if size, serr := dirDiskSize(entry.path); serr == nil {
					totalSize = totalSize.Add(size)
				} else {
					totalSize = totalSize.Add(entry.size)
				}
			} else {
				availableSpace = availableSpace.Add(entry.size)
			}
		} else {
			totalSize = totalSize.Add(entry.size)
		}
	}

	remainingQuota := maxTotalSize.Sub(totalSize)
	usableSpace := availableSpace.Sub(minSpace)
	return disksize.Min(remainingQuota, usableSpace), nil
}

// dirDiskSize sums file sizes and counts inodes (files and directories)
// under path, for entries whose collected size estimate may be stale.
func dirDiskSize(path string) (disksize.DiskSize, error) {
	var total disksize.DiskSize
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		total.Inodes++
		if !info.IsDir() {
			total.Bytes += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return disksize.ZERO, err
	}
	return total, nil
}
