package sysmetrics

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/memfault/memfaultd-go/internal/metrics"
)

// BatteryMetricNamespace groups the keys below for documentation purposes;
// unlike the other collectors these are flat core-metric keys, not
// namespaced.
const BatteryMetricNamespace = "battery"

const (
	metricBatterySocPct              = "battery_soc_pct"
	metricBatteryDischargeDurationMs = "battery_discharge_duration_ms"
	metricBatterySocPctDrop          = "battery_soc_pct_drop"
)

type chargingState int

const (
	chargingStateUnknown chargingState = iota
	chargingStateCharging
	chargingStateDischarging
	chargingStateFull
	chargingStateNotCharging
)

func parseChargingState(status string) chargingState {
	switch strings.TrimSpace(status) {
	case "Charging":
		return chargingStateCharging
	case "Discharging":
		return chargingStateDischarging
	case "Full":
		return chargingStateFull
	case "Not charging":
		return chargingStateNotCharging
	case "Unknown":
		return chargingStateUnknown
	default:
		return chargingStateUnknown
	}
}

type batteryReading struct {
	socPct float64
	state  chargingState
}

// BatteryCollector reports state-of-charge percentage, along with
// cumulative discharge duration and percentage dropped while discharging,
// read directly from the power supply's sysfs entry rather than shelling
// out to an external command.
type BatteryCollector struct {
	capacityPath string
	statusPath   string

	previous *batteryReading
	lastAt   time.Time
}

// NewBatteryCollector reads capacity/status from
// sysRoot/class/power_supply/<supplyName>/.
func NewBatteryCollector(sysRoot, supplyName string) *BatteryCollector {
	base := sysRoot + "/class/power_supply/" + supplyName
	return &BatteryCollector{capacityPath: base + "/capacity", statusPath: base + "/status"}
}

func (c *BatteryCollector) Name() string { return BatteryMetricNamespace }

func (c *BatteryCollector) Available() Availability {
	if _, err := os.Stat(c.capacityPath); err != nil {
		return unavailable(fmt.Sprintf("%s not readable: %v", c.capacityPath, err))
	}
	if _, err := os.Stat(c.statusPath); err != nil {
		return unavailable(fmt.Sprintf("%s not readable: %v", c.statusPath, err))
	}
	return available()
}

func readTrimmed(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *BatteryCollector) readCurrent() (batteryReading, error) {
	pctRaw, err := readTrimmed(c.capacityPath)
	if err != nil {
		return batteryReading{}, err
	}
	pct, err := strconv.ParseFloat(pctRaw, 64)
	if err != nil {
		return batteryReading{}, fmt.Errorf("invalid battery capacity %q: %w", pctRaw, err)
	}

	statusRaw, err := readTrimmed(c.statusPath)
	if err != nil {
		return batteryReading{}, err
	}
	return batteryReading{socPct: pct, state: parseChargingState(statusRaw)}, nil
}

func (c *BatteryCollector) Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error) {
	current, err := c.readCurrent()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	previous := c.previous
	lastAt := c.lastAt
	c.previous = &current
	c.lastAt = now

	var dischargeDurationMs, socPctDrop float64
	if previous != nil && previous.state == chargingStateDischarging && current.state == chargingStateDischarging {
		dischargeDurationMs = now.Sub(lastAt).Seconds() * 1000.0
		if drop := previous.socPct - current.socPct; drop > 0 {
			socPctDrop = drop
		}
	}

	return []metrics.KeyedMetricReading{
		metrics.NewKeyedMetricReading(metrics.MetricStringKey(metricBatterySocPct), metrics.NewGaugeReading(current.socPct, now)),
		metrics.NewKeyedMetricReading(metrics.MetricStringKey(metricBatteryDischargeDurationMs), metrics.NewCounterReading(dischargeDurationMs, now)),
		metrics.NewKeyedMetricReading(metrics.MetricStringKey(metricBatterySocPctDrop), metrics.NewCounterReading(socPctDrop, now)),
	}, nil
}
