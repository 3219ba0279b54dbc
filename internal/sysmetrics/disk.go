package sysmetrics

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/memfault/memfaultd-go/internal/metrics"
)

// DiskSpaceMetricNamespace is the prefix for disk free/used byte keys.
const DiskSpaceMetricNamespace = "disk_space"

type mount struct {
	device     string
	mountPoint string
}

// DiskSpaceCollector reports free and used bytes for monitored mounted
// devices, read from /proc/mounts and statfs(2).
type DiskSpaceCollector struct {
	procMountsPath string
	devices        map[string]struct{} // nil means Auto: anything under /dev
	mounts         []mount
}

// NewDiskSpaceCollector auto-detects mounted devices under /dev.
func NewDiskSpaceCollector(procRoot string) *DiskSpaceCollector {
	return &DiskSpaceCollector{procMountsPath: procRoot + "/mounts"}
}

// NewDiskSpaceCollectorForDevices monitors exactly the named devices.
func NewDiskSpaceCollectorForDevices(procRoot string, devices []string) *DiskSpaceCollector {
	set := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		set[d] = struct{}{}
	}
	return &DiskSpaceCollector{procMountsPath: procRoot + "/mounts", devices: set}
}

func (c *DiskSpaceCollector) Name() string { return DiskSpaceMetricNamespace }

func (c *DiskSpaceCollector) Available() Availability {
	if _, err := os.Stat(c.procMountsPath); err != nil {
		return unavailable(fmt.Sprintf("%s not readable: %v", c.procMountsPath, err))
	}
	return available()
}

func (c *DiskSpaceCollector) isMonitored(device string) bool {
	if c.devices != nil {
		_, ok := c.devices[device]
		return ok
	}
	return strings.HasPrefix(device, "/dev")
}

func (c *DiskSpaceCollector) initializeMounts() error {
	f, err := os.Open(c.procMountsPath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(fields) < 2 {
			continue
		}
		device, mountPoint := fields[0], fields[1]
		if c.isMonitored(device) {
			c.mounts = append(c.mounts, mount{device: device, mountPoint: mountPoint})
		}
	}
	return scanner.Err()
}

func (c *DiskSpaceCollector) readingsForMount(m mount, now time.Time) ([]metrics.KeyedMetricReading, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(m.mountPoint, &stat); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", m.mountPoint, err)
	}

	blockSize := uint64(stat.Bsize)
	bytesFree := stat.Bfree * blockSize
	bytesUsed := stat.Blocks*blockSize - bytesFree
	diskID := path.Base(m.device)

	keyed := func(key string, value float64) (metrics.KeyedMetricReading, error) {
		k, err := metrics.NewMetricStringKey(key)
		if err != nil {
			return metrics.KeyedMetricReading{}, err
		}
		return metrics.NewKeyedMetricReading(k, metrics.NewHistogramReading(value, now)), nil
	}

	freeReading, err := keyed(fmt.Sprintf("%s/%s/free_bytes", DiskSpaceMetricNamespace, diskID), float64(bytesFree))
	if err != nil {
		return nil, err
	}
	usedReading, err := keyed(fmt.Sprintf("%s/%s/used_bytes", DiskSpaceMetricNamespace, diskID), float64(bytesUsed))
	if err != nil {
		return nil, err
	}
	return []metrics.KeyedMetricReading{freeReading, usedReading}, nil
}

func (c *DiskSpaceCollector) Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error) {
	if len(c.mounts) == 0 {
		if err := c.initializeMounts(); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	var readings []metrics.KeyedMetricReading
	for _, m := range c.mounts {
		r, err := c.readingsForMount(m, now)
		if err != nil {
			continue
		}
		readings = append(readings, r...)
	}
	return readings, nil
}
