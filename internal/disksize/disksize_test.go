package disksize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddIsComponentwise(t *testing.T) {
	a := DiskSize{Bytes: 10, Inodes: 2}
	b := DiskSize{Bytes: 5, Inodes: 1}
	assert.Equal(t, DiskSize{Bytes: 15, Inodes: 3}, a.Add(b))
}

func TestSubSaturatesAtZero(t *testing.T) {
	a := DiskSize{Bytes: 5, Inodes: 1}
	b := DiskSize{Bytes: 10, Inodes: 10}
	assert.Equal(t, ZERO, a.Sub(b))
}

func TestExceedsRequiresBothDimensions(t *testing.T) {
	self := DiskSize{Bytes: 100, Inodes: 1}
	other := DiskSize{Bytes: 50, Inodes: 10}
	// self exceeds other in bytes only, not inodes: overall false.
	assert.False(t, self.Exceeds(other))

	self2 := DiskSize{Bytes: 100, Inodes: 20}
	assert.True(t, self2.Exceeds(other))
}

func TestMinIsComponentwise(t *testing.T) {
	a := DiskSize{Bytes: 10, Inodes: 100}
	b := DiskSize{Bytes: 20, Inodes: 5}
	assert.Equal(t, DiskSize{Bytes: 10, Inodes: 5}, Min(a, b))
}

func TestNewCapacityHasUnlimitedInodes(t *testing.T) {
	c := NewCapacity(1024)
	assert.EqualValues(t, 1024, c.Bytes)
	assert.EqualValues(t, uint64(math.MaxUint64), c.Inodes)
}

func TestAvailableReadsRootFilesystem(t *testing.T) {
	size, err := Available("/")
	assert.NoError(t, err)
	assert.Greater(t, size.Bytes, uint64(0))
}
