package sysmetrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProcMounts(t *testing.T, dir string, lines ...string) {
	t.Helper()
	contents := ""
	for _, l := range lines {
		contents += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mounts"), []byte(contents), 0o644))
}

func TestDiskSpaceCollectorAutoMonitorsDevPrefixedDevices(t *testing.T) {
	procDir := t.TempDir()
	writeProcMounts(t, procDir,
		"/dev/sda1 / ext4 rw,noatime 0 0",
		"tmpfs /tmp tmpfs rw 0 0",
		"proc /proc proc rw 0 0",
	)

	c := NewDiskSpaceCollector(procDir)
	require.NoError(t, c.initializeMounts())

	require.Len(t, c.mounts, 1)
	assert.Equal(t, "/dev/sda1", c.mounts[0].device)
	assert.Equal(t, "/", c.mounts[0].mountPoint)
}

func TestDiskSpaceCollectorForDevicesRestrictsToConfiguredSet(t *testing.T) {
	procDir := t.TempDir()
	writeProcMounts(t, procDir,
		"/dev/sda1 / ext4 rw,noatime 0 0",
		"/dev/sdb1 /mnt/data ext4 rw,noatime 0 0",
	)

	c := NewDiskSpaceCollectorForDevices(procDir, []string{"/dev/sdb1"})
	require.NoError(t, c.initializeMounts())

	require.Len(t, c.mounts, 1)
	assert.Equal(t, "/dev/sdb1", c.mounts[0].device)
}

func TestDiskSpaceCollectorReportsFreeAndUsedBytesForRealMountPoint(t *testing.T) {
	procDir := t.TempDir()
	mountPoint := t.TempDir()
	writeProcMounts(t, procDir, "/dev/sda1 "+mountPoint+" ext4 rw,noatime 0 0")

	c := NewDiskSpaceCollectorForDevices(procDir, []string{"/dev/sda1"})
	readings, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)

	byName := make(map[string]bool)
	for _, r := range readings {
		byName[r.Name.String()] = true
		assert.GreaterOrEqual(t, r.Value.Value, 0.0)
	}
	assert.True(t, byName["disk_space/sda1/free_bytes"])
	assert.True(t, byName["disk_space/sda1/used_bytes"])
}

func TestDiskSpaceCollectorAvailableReflectsProcMountsExistence(t *testing.T) {
	procDir := t.TempDir()
	c := NewDiskSpaceCollector(procDir)
	assert.False(t, c.Available().Ok)

	writeProcMounts(t, procDir, "/dev/sda1 / ext4 rw 0 0")
	assert.True(t, c.Available().Ok)
}
