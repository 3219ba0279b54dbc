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

// ProcessesMetricNamespace is the prefix for per-process resource keys.
const ProcessesMetricNamespace = "processes"

type processReading struct {
	pid             uint64
	name            string
	cputimeUser     float64
	cputimeSystem   float64
	numThreads      float64
	rss             float64
	vm              float64
	pagefaultsMajor float64
	pagefaultsMinor float64
	at              time.Time
}

// ProcessCollector reports per-process resource usage for a configured set
// of process names, parsed from /proc/<pid>/stat. Auto mode monitors only
// this agent's own process.
type ProcessCollector struct {
	procDir         string
	processNames    map[string]struct{} // nil means Auto (self only)
	selfName        string
	clockTicksPerMs float64
	bytesPerPage    float64
	memTotalBytes   float64
	previous        map[uint64]processReading
}

// NewProcessCollectorAuto monitors only the process named selfName.
func NewProcessCollectorAuto(procRoot, selfName string, clockTicksPerMs, bytesPerPage, memTotalBytes float64) *ProcessCollector {
	return &ProcessCollector{
		procDir: procRoot, selfName: selfName,
		clockTicksPerMs: clockTicksPerMs, bytesPerPage: bytesPerPage, memTotalBytes: memTotalBytes,
		previous: make(map[uint64]processReading),
	}
}

// NewProcessCollectorForNames monitors exactly the named processes.
func NewProcessCollectorForNames(procRoot string, names []string, clockTicksPerMs, bytesPerPage, memTotalBytes float64) *ProcessCollector {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &ProcessCollector{
		procDir: procRoot, processNames: set,
		clockTicksPerMs: clockTicksPerMs, bytesPerPage: bytesPerPage, memTotalBytes: memTotalBytes,
		previous: make(map[uint64]processReading),
	}
}

func (c *ProcessCollector) Name() string { return ProcessesMetricNamespace }

func (c *ProcessCollector) Available() Availability {
	if _, err := os.Stat(c.procDir); err != nil {
		return unavailable(fmt.Sprintf("%s not readable: %v", c.procDir, err))
	}
	return available()
}

func (c *ProcessCollector) isMonitored(name string) bool {
	if c.processNames != nil {
		_, ok := c.processNames[name]
		return ok
	}
	return name == c.selfName
}

// parseProcPIDStat parses a /proc/<pid>/stat line, returning the fields we
// need (indices count from 0 at ppid, i.e. the proc_pid_stat(5) field
// number minus 4): pagefaults minor (6), major (8),
// cputime user (10), system (11), num_threads (16), vm (19), rss in pages
// (20). The process name is delimited by parentheses since it may itself
// contain spaces.
func parseProcPIDStat(line string) (name string, stats []float64, err error) {
	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return "", nil, fmt.Errorf("malformed stat line: missing comm field")
	}
	name = line[open+1 : close]

	rest := strings.Fields(line[close+1:])
	if len(rest) < 22 {
		return "", nil, fmt.Errorf("expected at least 22 fields after comm, got %d", len(rest))
	}
	// rest[0] is the state field; rest[1] is ppid (stats index 0 below), so
	// stats[idx] lives at rest[idx+1].
	stats = make([]float64, 21)
	fieldIndices := []int{6, 8, 10, 11, 16, 19, 20}
	for _, idx := range fieldIndices {
		pos := idx + 1
		if pos < 0 || pos >= len(rest) {
			return "", nil, fmt.Errorf("field %d out of range", idx)
		}
		v, err := strconv.ParseFloat(rest[pos], 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid field %d: %w", idx, err)
		}
		stats[idx] = v
	}
	return name, stats, nil
}

func (c *ProcessCollector) readProcessReading(pidDir string, pid uint64, now time.Time) (processReading, bool, error) {
	contents, err := os.ReadFile(pidDir + "/stat")
	if err != nil {
		return processReading{}, false, err
	}
	name, stats, err := parseProcPIDStat(strings.TrimSpace(string(contents)))
	if err != nil {
		return processReading{}, false, err
	}
	if !c.isMonitored(name) {
		return processReading{}, false, nil
	}
	return processReading{
		pid:             pid,
		name:            name,
		pagefaultsMinor: stats[6],
		pagefaultsMajor: stats[8],
		cputimeUser:     stats[10],
		cputimeSystem:   stats[11],
		numThreads:      stats[16],
		vm:              stats[19],
		rss:             stats[20] * c.bytesPerPage,
		at:              now,
	}, true, nil
}

func (c *ProcessCollector) calculateReadings(previous, current processReading) []metrics.KeyedMetricReading {
	elapsedMs := current.at.Sub(previous.at).Seconds() * 1000.0
	if elapsedMs <= 0 {
		return nil
	}

	cputimeUserPct := ((current.cputimeUser - previous.cputimeUser) / c.clockTicksPerMs) / elapsedMs * 100.0
	cputimeSysPct := ((current.cputimeSystem - previous.cputimeSystem) / c.clockTicksPerMs) / elapsedMs * 100.0

	keyed := func(key string, value float64) metrics.KeyedMetricReading {
		return metrics.NewKeyedMetricReading(metrics.MetricStringKey(key), metrics.NewHistogramReading(value, current.at))
	}

	readings := []metrics.KeyedMetricReading{
		keyed(fmt.Sprintf("%s/%s/rss_bytes", ProcessesMetricNamespace, current.name), current.rss),
		keyed(fmt.Sprintf("%s/%s/vm_bytes", ProcessesMetricNamespace, current.name), current.vm),
		keyed(fmt.Sprintf("%s/%s/num_threads", ProcessesMetricNamespace, current.name), current.numThreads),
		keyed(fmt.Sprintf("%s/%s/cpu/percent/user", ProcessesMetricNamespace, current.name), cputimeUserPct),
		keyed(fmt.Sprintf("%s/%s/cpu/percent/system", ProcessesMetricNamespace, current.name), cputimeSysPct),
		keyed(fmt.Sprintf("%s/%s/pagefaults/minor", ProcessesMetricNamespace, current.name), current.pagefaultsMinor-previous.pagefaultsMinor),
		keyed(fmt.Sprintf("%s/%s/pagefaults/major", ProcessesMetricNamespace, current.name), current.pagefaultsMajor-previous.pagefaultsMajor),
		keyed(fmt.Sprintf("%s%s%s", metrics.MetricCPUUsageProcessPctPrefix, current.name, metrics.MetricCPUUsageProcessPctSuffix), cputimeSysPct+cputimeUserPct),
	}
	if c.memTotalBytes > 0 {
		readings = append(readings, keyed(
			fmt.Sprintf("%s%s%s", metrics.MetricMemoryProcessPctPrefix, current.name, metrics.MetricMemoryProcessPctSuffix),
			current.rss/c.memTotalBytes,
		))
	}
	return readings
}

func (c *ProcessCollector) Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error) {
	entries, err := os.ReadDir(c.procDir)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var readings []metrics.KeyedMetricReading
	seen := make(map[uint64]struct{})
	for _, entry := range entries {
		pid, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		current, monitored, err := c.readProcessReading(c.procDir+"/"+entry.Name(), pid, now)
		if err != nil || !monitored {
			continue
		}
		seen[pid] = struct{}{}

		previous, ok := c.previous[pid]
		c.previous[pid] = current
		if !ok {
			continue
		}
		readings = append(readings, c.calculateReadings(previous, current)...)
	}

	for pid := range c.previous {
		if _, ok := seen[pid]; !ok {
			delete(c.previous, pid)
		}
	}
	return readings, nil
}
