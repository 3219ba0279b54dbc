// Package disksize tracks disk consumption as a (bytes, inodes) pair.
// Both dimensions are tracked independently throughout the agent because a
// filesystem can run out of either one without the other: a directory full
// of many small files exhausts inodes long before it exhausts bytes.
package disksize

import (
	"math"
	"syscall"
)

// DiskSize is a pair of byte and inode counts.
type DiskSize struct {
	Bytes  uint64
	Inodes uint64
}

// ZERO is the additive identity.
var ZERO = DiskSize{}

// NewCapacity returns a DiskSize with the given byte budget and an
// effectively unlimited inode budget, for callers that only care about
// bounding bytes.
func NewCapacity(bytes uint64) DiskSize {
	return DiskSize{Bytes: bytes, Inodes: math.MaxUint64}
}

// Add returns the componentwise sum of d and other.
func (d DiskSize) Add(other DiskSize) DiskSize {
	return DiskSize{Bytes: d.Bytes + other.Bytes, Inodes: d.Inodes + other.Inodes}
}

// Sub returns the componentwise difference of d and other, saturating at
// zero per component instead of underflowing.
func (d DiskSize) Sub(other DiskSize) DiskSize {
	return DiskSize{Bytes: saturatingSub(d.Bytes, other.Bytes), Inodes: saturatingSub(d.Inodes, other.Inodes)}
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Exceeds reports whether d strictly exceeds other in BOTH dimensions.
// Callers that need "exceeded in at least one dimension" should negate the
// inverse comparison (see internal/asa's cleaner) rather than add an "or"
// variant here, since that is a property of the caller's eviction policy,
// not of DiskSize itself.
func (d DiskSize) Exceeds(other DiskSize) bool {
	return d.Bytes > other.Bytes && d.Inodes > other.Inodes
}

// Min returns the componentwise minimum of a and b.
func Min(a, b DiskSize) DiskSize {
	return DiskSize{Bytes: minU64(a.Bytes, b.Bytes), Inodes: minU64(a.Inodes, b.Inodes)}
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Available returns the free bytes and free inodes of the filesystem
// containing path.
func Available(path string) (DiskSize, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return ZERO, err
	}
	return DiskSize{
		Bytes:  uint64(stat.Bavail) * uint64(stat.Bsize),
		Inodes: stat.Ffree,
	}, nil
}
