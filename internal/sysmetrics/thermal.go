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

// ThermalMetricNamespace is the prefix for thermal zone temperature keys.
const ThermalMetricNamespace = "thermal"

// ThermalCollector reports the temperature of every thermal zone under
// /sys/class/thermal, keyed by the zone's reported type (e.g. "cpu-temp")
// rather than its numeric index, since the index isn't stable across
// reboots on every platform.
type ThermalCollector struct {
	thermalDir string
}

// NewThermalCollector creates a collector reading thermal zones under
// sysRoot/class/thermal.
func NewThermalCollector(sysRoot string) *ThermalCollector {
	return &ThermalCollector{thermalDir: sysRoot + "/class/thermal"}
}

func (c *ThermalCollector) Name() string { return ThermalMetricNamespace }

func (c *ThermalCollector) Available() Availability {
	if _, err := os.Stat(c.thermalDir); err != nil {
		return unavailable(fmt.Sprintf("%s not present: %v", c.thermalDir, err))
	}
	return available()
}

func readThermalZoneTemp(dir, zoneName string) (metrics.KeyedMetricReading, error) {
	tempRaw, err := os.ReadFile(dir + "/" + zoneName + "/temp")
	if err != nil {
		return metrics.KeyedMetricReading{}, err
	}
	tempMilliC, err := strconv.ParseFloat(strings.TrimSpace(string(tempRaw)), 64)
	if err != nil {
		return metrics.KeyedMetricReading{}, fmt.Errorf("invalid temp value for %s: %w", zoneName, err)
	}

	typeRaw, err := os.ReadFile(dir + "/" + zoneName + "/type")
	if err != nil {
		return metrics.KeyedMetricReading{}, err
	}
	zoneType := strings.TrimSpace(string(typeRaw))

	key, err := metrics.NewMetricStringKey(fmt.Sprintf("%s/%s/temp", ThermalMetricNamespace, zoneType))
	if err != nil {
		return metrics.KeyedMetricReading{}, err
	}
	return metrics.NewKeyedMetricReading(key, metrics.NewHistogramReading(tempMilliC/1000.0, time.Now())), nil
}

func (c *ThermalCollector) Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error) {
	entries, err := os.ReadDir(c.thermalDir)
	if err != nil {
		return nil, err
	}

	var readings []metrics.KeyedMetricReading
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "thermal_zone") {
			continue
		}
		reading, err := readThermalZoneTemp(c.thermalDir, entry.Name())
		if err != nil {
			continue
		}
		readings = append(readings, reading)
	}
	return readings, nil
}
