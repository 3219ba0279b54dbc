package sysmetrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeThermalZone(t *testing.T, sysRoot, zone, zoneType, tempMilliC string) {
	t.Helper()
	dir := filepath.Join(sysRoot, "class", "thermal", zone)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "type"), []byte(zoneType+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp"), []byte(tempMilliC+"\n"), 0o644))
}

func TestThermalCollectorReportsEachZoneByType(t *testing.T) {
	sysRoot := t.TempDir()
	writeThermalZone(t, sysRoot, "thermal_zone0", "cpu-temp", "45000")
	writeThermalZone(t, sysRoot, "thermal_zone1", "gpu-temp", "52500")

	c := NewThermalCollector(sysRoot)
	readings, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)

	byName := make(map[string]float64)
	for _, r := range readings {
		byName[r.Name.String()] = r.Value.Value
	}
	assert.Equal(t, 45.0, byName["thermal/cpu-temp/temp"])
	assert.Equal(t, 52.5, byName["thermal/gpu-temp/temp"])
}

func TestThermalCollectorSkipsNonThermalZoneEntries(t *testing.T) {
	sysRoot := t.TempDir()
	writeThermalZone(t, sysRoot, "thermal_zone0", "cpu-temp", "40000")
	require.NoError(t, os.MkdirAll(filepath.Join(sysRoot, "class", "thermal", "cooling_device0"), 0o755))

	c := NewThermalCollector(sysRoot)
	readings, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestThermalCollectorSkipsZoneWithUnreadableTemp(t *testing.T) {
	sysRoot := t.TempDir()
	writeThermalZone(t, sysRoot, "thermal_zone0", "cpu-temp", "40000")
	zoneDir := filepath.Join(sysRoot, "class", "thermal", "thermal_zone1")
	require.NoError(t, os.MkdirAll(zoneDir, 0o755))
	// thermal_zone1 has no temp/type files; its read errors are tolerated.

	c := NewThermalCollector(sysRoot)
	readings, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestThermalCollectorAvailableReflectsDirExistence(t *testing.T) {
	sysRoot := t.TempDir()
	c := NewThermalCollector(sysRoot)
	assert.False(t, c.Available().Ok)

	writeThermalZone(t, sysRoot, "thermal_zone0", "cpu-temp", "40000")
	assert.True(t, c.Available().Ok)
}
