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

// CPUMetricNamespace is the prefix for per-state CPU percentage keys.
const CPUMetricNamespace = "cpu"

var cpuStateNames = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq"}

// CPUCollector reports aggregate CPU time spent in each state, as a
// percentage of total CPU time elapsed since the previous poll, parsed
// from the "cpu " summary line of /proc/stat.
type CPUCollector struct {
	procStatPath string
	last         []float64
}

// NewCPUCollector creates a collector reading /proc/stat under root.
func NewCPUCollector(procRoot string) *CPUCollector {
	return &CPUCollector{procStatPath: procRoot + "/stat"}
}

func (c *CPUCollector) Name() string { return CPUMetricNamespace }

func (c *CPUCollector) Available() Availability {
	if _, err := os.Stat(c.procStatPath); err != nil {
		return unavailable(fmt.Sprintf("%s not readable: %v", c.procStatPath, err))
	}
	return available()
}

// parseProcStatCPULine parses the "cpu  326218 0 178980 ..." summary line,
// returning the first 7 fields (user, nice, system, idle, iowait, irq,
// softirq). Values beyond the 7th, and any per-core "cpuN" lines, are
// ignored.
func parseProcStatCPULine(line string) ([]float64, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 || fields[0] != "cpu" {
		return nil, fmt.Errorf("not a cpu summary line: %q", line)
	}
	values := make([]float64, 7)
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu stat field %d: %w", i+1, err)
		}
		values[i] = v
	}
	return values, nil
}

func (c *CPUCollector) readCPULine() ([]float64, error) {
	f, err := os.Open(c.procStatPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if values, err := parseProcStatCPULine(line); err == nil {
			return values, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no cpu summary line found in %s", c.procStatPath)
}

func (c *CPUCollector) Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error) {
	current, err := c.readCPULine()
	if err != nil {
		return nil, err
	}
	previous := c.last
	c.last = current
	if previous == nil {
		return nil, nil
	}
	return cpuDelta(previous, current, time.Now()), nil
}

func cpuDelta(previous, current []float64, timestamp time.Time) []metrics.KeyedMetricReading {
	delta := make([]float64, len(current))
	sum := 0.0
	for i := range current {
		delta[i] = current[i] - previous[i]
		sum += delta[i]
	}
	if sum <= 0 {
		return nil
	}

	readings := make([]metrics.KeyedMetricReading, 0, len(cpuStateNames)+1)
	for i, state := range cpuStateNames {
		key := metrics.MetricStringKey(fmt.Sprintf("%s/cpu/percent/%s", CPUMetricNamespace, state))
		readings = append(readings, metrics.NewKeyedMetricReading(key, metrics.NewHistogramReading(100.0*delta[i]/sum, timestamp)))
	}

	idleIndex := 3
	cpuUsagePct := ((sum - delta[idleIndex]) / sum) * 100.0
	readings = append(readings, metrics.NewKeyedMetricReading(
		metrics.MetricStringKey(metrics.MetricCPUUsagePct),
		metrics.NewHistogramReading(cpuUsagePct, timestamp),
	))
	return readings
}
