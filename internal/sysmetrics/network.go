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

// NetworkInterfaceMetricNamespace is the prefix for per-interface
// throughput keys.
const NetworkInterfaceMetricNamespace = "interface"

// procNetDevFields indexes the 16 space-delimited counters on each
// /proc/net/dev data line, receive counters first then transmit.
var procNetDevFields = []string{
	"bytes_per_second/rx", "packets_per_second/rx", "errors_per_second/rx", "dropped_per_second/rx",
	"", "", "", "", // fifo, frame, compressed, multicast: not reported
	"bytes_per_second/tx", "packets_per_second/tx", "errors_per_second/tx", "dropped_per_second/tx",
}

type netDevSample struct {
	counters []uint64
	at       time.Time
}

// NetworkInterfaceCollector reports per-second rate metrics for every
// monitored network interface, derived from the monotonic counters in
// /proc/net/dev.
type NetworkInterfaceCollector struct {
	procNetDevPath string
	interfaces     map[string]struct{} // nil means auto-detect, excluding loopback/tunnel/dummy
	previous       map[string]netDevSample
}

// NewNetworkInterfaceCollector auto-detects interfaces, skipping
// loopback, tunnel, and dummy devices.
func NewNetworkInterfaceCollector(procRoot string) *NetworkInterfaceCollector {
	return &NetworkInterfaceCollector{procNetDevPath: procRoot + "/net/dev", previous: make(map[string]netDevSample)}
}

// NewNetworkInterfaceCollectorForInterfaces monitors exactly the named
// interfaces.
func NewNetworkInterfaceCollectorForInterfaces(procRoot string, interfaces []string) *NetworkInterfaceCollector {
	set := make(map[string]struct{}, len(interfaces))
	for _, name := range interfaces {
		set[name] = struct{}{}
	}
	return &NetworkInterfaceCollector{procNetDevPath: procRoot + "/net/dev", interfaces: set, previous: make(map[string]netDevSample)}
}

func (c *NetworkInterfaceCollector) Name() string { return NetworkInterfaceMetricNamespace }

func (c *NetworkInterfaceCollector) Available() Availability {
	if _, err := os.Stat(c.procNetDevPath); err != nil {
		return unavailable(fmt.Sprintf("%s not readable: %v", c.procNetDevPath, err))
	}
	return available()
}

func (c *NetworkInterfaceCollector) isMonitored(name string) bool {
	if c.interfaces != nil {
		_, ok := c.interfaces[name]
		return ok
	}
	return !(strings.HasPrefix(name, "lo") || strings.HasPrefix(name, "tun") || strings.HasPrefix(name, "dummy"))
}

func parseProcNetDevLine(line string) (string, []uint64, error) {
	name, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "", nil, fmt.Errorf("missing interface name separator")
	}
	name = strings.TrimSpace(name)
	fields := strings.Fields(rest)
	if len(fields) < 16 {
		return "", nil, fmt.Errorf("expected 16 counters, got %d", len(fields))
	}
	counters := make([]uint64, 16)
	for i := 0; i < 16; i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid counter %d for %s: %w", i, name, err)
		}
		counters[i] = v
	}
	return name, counters, nil
}

func (c *NetworkInterfaceCollector) Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error) {
	f, err := os.Open(c.procNetDevPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	now := time.Now()
	var readings []metrics.KeyedMetricReading

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		name, counters, err := parseProcNetDevLine(line)
		if err != nil || !c.isMonitored(name) {
			continue
		}

		current := netDevSample{counters: counters, at: now}
		previous, ok := c.previous[name]
		c.previous[name] = current
		if !ok {
			continue
		}

		elapsedSeconds := current.at.Sub(previous.at).Seconds()
		if elapsedSeconds <= 0 {
			continue
		}

		for i, suffix := range procNetDevFields {
			if suffix == "" {
				continue
			}
			rate := float64(current.counters[i]-previous.counters[i]) / elapsedSeconds
			key, err := metrics.NewMetricStringKey(fmt.Sprintf("%s/%s/%s", NetworkInterfaceMetricNamespace, name, suffix))
			if err != nil {
				continue
			}
			readings = append(readings, metrics.NewKeyedMetricReading(key, metrics.NewHistogramReading(rate, now)))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}
