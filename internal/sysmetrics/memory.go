package sysmetrics

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/memfault/memfaultd-go/internal/metrics"
)

// MemoryMetricNamespace is the prefix for memory usage keys.
const MemoryMetricNamespace = "memory"

// MemoryCollector reports used/free bytes and used percentage, parsed
// from /proc/meminfo using the same MemTotal-minus-MemAvailable
// methodology as the "free" command line tool (falling back to MemFree
// on kernels that don't report MemAvailable).
type MemoryCollector struct {
	meminfoPath string
}

// NewMemoryCollector creates a collector reading /proc/meminfo under root.
func NewMemoryCollector(procRoot string) *MemoryCollector {
	return &MemoryCollector{meminfoPath: procRoot + "/meminfo"}
}

func (c *MemoryCollector) Name() string { return MemoryMetricNamespace }

func (c *MemoryCollector) Available() Availability {
	if _, err := os.Stat(c.meminfoPath); err != nil {
		return unavailable(fmt.Sprintf("%s not readable: %v", c.meminfoPath, err))
	}
	return available()
}

func parseMeminfo(r *bufio.Scanner) (map[string]float64, error) {
	stats := make(map[string]float64)
	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		key, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		rest = strings.TrimSuffix(rest, " kB")
		kb, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			continue
		}
		stats[key] = kb * 1024.0
	}
	return stats, r.Err()
}

func (c *MemoryCollector) Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error) {
	f, err := os.Open(c.meminfoPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stats, err := parseMeminfo(bufio.NewScanner(f))
	if err != nil {
		return nil, err
	}

	total, ok := stats["MemTotal"]
	if !ok {
		return nil, fmt.Errorf("%s is missing required value MemTotal", c.meminfoPath)
	}
	free, ok := stats["MemFree"]
	if !ok {
		return nil, fmt.Errorf("%s is missing required value MemFree", c.meminfoPath)
	}
	if total == 0 {
		return nil, fmt.Errorf("MemTotal is 0, can't calculate memory usage metrics")
	}

	available, ok := stats["MemAvailable"]
	if !ok {
		available = free
	}
	used := total - available
	pctUsed := (used / total) * 100.0

	now := time.Now()
	return []metrics.KeyedMetricReading{
		metrics.NewKeyedMetricReading("memory/memory/free", metrics.NewHistogramReading(free, now)),
		metrics.NewKeyedMetricReading("memory/memory/used", metrics.NewHistogramReading(used, now)),
		metrics.NewKeyedMetricReading(metrics.MetricStringKey(metrics.MetricMemoryPct), metrics.NewHistogramReading(pctUsed, now)),
	}, nil
}
