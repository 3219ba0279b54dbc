package asa

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/memfault/memfaultd-go/internal/disksize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureMaxTotalSize() disksize.DiskSize { return disksize.NewCapacity(1024) }

func fixtureAvailableSpace() disksize.DiskSize {
	return disksize.DiskSize{Bytes: math.MaxUint64 / 2, Inodes: math.MaxUint64 / 2}
}

func fixtureMinHeadroom() disksize.DiskSize { return disksize.ZERO }

func createEmptyEntry(t *testing.T, root string) string {
	t.Helper()
	b, err := NewBuilder(root)
	require.NoError(t, err)
	b.SetMetadata(Metadata{Kind: KindDeviceConfig, DeviceConfig: &DeviceConfigPayload{Revision: "rev1"}})
	entry, err := b.Save(testDevice(), testProducer())
	require.NoError(t, err)
	return entry.Path
}

// setEntryAge rewrites the manifest's collection timestamp in place so tests
// can control eviction ordering without sleeping.
func setEntryAge(t *testing.T, entryDir string, age time.Duration) {
	t.Helper()
	entry, err := LoadEntry(entryDir)
	require.NoError(t, err)
	entry.Manifest.CollectionTime.Timestamp = time.Now().Add(-age)
	data, err := json.Marshal(entry.Manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(entryDir, manifestFilename), data, 0o600))
}

func TestCleanEmptyStagingArea(t *testing.T) {
	root := t.TempDir()
	avail, err := cleanStagingArea(root, fixtureMaxTotalSize(), fixtureAvailableSpace(), fixtureMinHeadroom(), time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, disksize.Min(fixtureMaxTotalSize(), fixtureAvailableSpace().Sub(fixtureMinHeadroom())), avail)
}

func TestCleanKeepsRecentUnfinishedEntry(t *testing.T) {
	root := t.TempDir()
	// An unfinished entry: the builder's directory, with no manifest.json yet.
	b, err := NewBuilder(root)
	require.NoError(t, err)
	defer b.Discard()
	path := b.Dir()

	avail, err := cleanStagingArea(root, fixtureMaxTotalSize(), fixtureAvailableSpace(), fixtureMinHeadroom(), time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, disksize.Min(fixtureMaxTotalSize(), fixtureAvailableSpace().Sub(fixtureMinHeadroom())), avail)
	assert.DirExists(t, path)
}

func TestCleanRemovesEntryExceedingMaxTotalSize(t *testing.T) {
	root := t.TempDir()
	path := createEmptyEntry(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(path, "log.txt"), make([]byte, fixtureMaxTotalSize().Bytes+1), 0o600))

	_, err := cleanStagingArea(root, fixtureMaxTotalSize(), fixtureAvailableSpace(), fixtureMinHeadroom(), time.Now(), nil)
	require.NoError(t, err)
	assert.NoDirExists(t, path)
}

func TestCleanKeepsRecentEntryUnderBudget(t *testing.T) {
	root := t.TempDir()
	path := createEmptyEntry(t, root)
	setEntryAge(t, path, 0)

	avail, err := cleanStagingArea(root, fixtureMaxTotalSize(), fixtureAvailableSpace(), fixtureMinHeadroom(), time.Now(), nil)
	require.NoError(t, err)
	assert.True(t, fixtureMaxTotalSize().Exceeds(avail))
	assert.DirExists(t, path)
}

func TestCleanRemovesEntryExceedingMinHeadroomBytes(t *testing.T) {
	root := t.TempDir()
	path := createEmptyEntry(t, root)

	maxTotalSize := disksize.NewCapacity(4096)
	minHeadroom := disksize.DiskSize{Bytes: 1024, Inodes: 10}
	availableSpace := disksize.DiskSize{Bytes: minHeadroom.Bytes - 1, Inodes: 100}

	avail, err := cleanStagingArea(root, maxTotalSize, availableSpace, minHeadroom, time.Now(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, avail.Bytes, uint64(0))
	assert.NoDirExists(t, path)
}

func TestCleanRemovesEntryExceedingMinHeadroomInodes(t *testing.T) {
	root := t.TempDir()
	path := createEmptyEntry(t, root)

	maxTotalSize := disksize.NewCapacity(10 * 1024 * 1024)
	minHeadroom := disksize.DiskSize{Bytes: 1024, Inodes: 10}
	availableSpace := disksize.DiskSize{Bytes: maxTotalSize.Bytes, Inodes: 5}

	avail, err := cleanStagingArea(root, maxTotalSize, availableSpace, minHeadroom, time.Now(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, avail.Bytes, uint64(0))
	assert.NoDirExists(t, path)
}

func TestCleanerClean(t *testing.T) {
	root := t.TempDir()
	createEmptyEntry(t, root)

	c := NewCleaner(root, fixtureMaxTotalSize(), fixtureMinHeadroom(), nil)
	avail, err := c.Clean(disksize.ZERO)
	require.NoError(t, err)
	assert.LessOrEqual(t, avail.Bytes, fixtureMaxTotalSize().Bytes)
}
