package sysmetrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBatteryState(t *testing.T, sysRoot, supply, capacity, status string) {
	t.Helper()
	dir := filepath.Join(sysRoot, "class", "power_supply", supply)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capacity"), []byte(capacity+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status+"\n"), 0o644))
}

func TestBatteryCollectorFirstReadingReportsZeroDischargeCounters(t *testing.T) {
	sysRoot := t.TempDir()
	writeBatteryState(t, sysRoot, "battery0", "90", "Charging")

	c := NewBatteryCollector(sysRoot, "battery0")
	readings, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 3)

	byName := make(map[string]float64)
	for _, r := range readings {
		byName[r.Name.String()] = r.Value.Value
	}
	assert.Equal(t, 90.0, byName[metricBatterySocPct])
	assert.Equal(t, 0.0, byName[metricBatteryDischargeDurationMs])
	assert.Equal(t, 0.0, byName[metricBatterySocPctDrop])
}

func TestBatteryCollectorTracksDischargeAcrossConsecutiveDischargingReadings(t *testing.T) {
	sysRoot := t.TempDir()
	writeBatteryState(t, sysRoot, "battery0", "90", "Discharging")

	c := NewBatteryCollector(sysRoot, "battery0")
	_, err := c.Collect(context.Background())
	require.NoError(t, err)

	c.lastAt = c.lastAt.Add(-30 * time.Second)
	writeBatteryState(t, sysRoot, "battery0", "85", "Discharging")

	readings, err := c.Collect(context.Background())
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, r := range readings {
		byName[r.Name.String()] = r.Value.Value
	}
	assert.Equal(t, 85.0, byName[metricBatterySocPct])
	assert.InDelta(t, 30000.0, byName[metricBatteryDischargeDurationMs], 1.0)
	assert.Equal(t, 5.0, byName[metricBatterySocPctDrop])
}

func TestBatteryCollectorResetsDischargeWhenStateChangesToCharging(t *testing.T) {
	sysRoot := t.TempDir()
	writeBatteryState(t, sysRoot, "battery0", "90", "Discharging")

	c := NewBatteryCollector(sysRoot, "battery0")
	_, err := c.Collect(context.Background())
	require.NoError(t, err)

	writeBatteryState(t, sysRoot, "battery0", "90", "Charging")
	readings, err := c.Collect(context.Background())
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, r := range readings {
		byName[r.Name.String()] = r.Value.Value
	}
	assert.Equal(t, 0.0, byName[metricBatteryDischargeDurationMs])
	assert.Equal(t, 0.0, byName[metricBatterySocPctDrop])
}

func TestBatteryCollectorAvailableRequiresBothFiles(t *testing.T) {
	sysRoot := t.TempDir()
	c := NewBatteryCollector(sysRoot, "battery0")
	assert.False(t, c.Available().Ok)

	writeBatteryState(t, sysRoot, "battery0", "50", "Full")
	assert.True(t, c.Available().Ok)
}

func TestParseChargingStateRecognizesAllValidStates(t *testing.T) {
	assert.Equal(t, chargingStateCharging, parseChargingState("Charging"))
	assert.Equal(t, chargingStateDischarging, parseChargingState("Discharging"))
	assert.Equal(t, chargingStateFull, parseChargingState("Full"))
	assert.Equal(t, chargingStateNotCharging, parseChargingState("Not charging"))
	assert.Equal(t, chargingStateUnknown, parseChargingState("Unknown"))
	assert.Equal(t, chargingStateUnknown, parseChargingState("garbage"))
}
