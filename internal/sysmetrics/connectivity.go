package sysmetrics

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/memfault/memfaultd-go/internal/metrics"
)

// ConnectivityMetricNamespace names this collector for logging.
const ConnectivityMetricNamespace = "connectivity"

// ConnectivityTarget is one host:port pair attempted on each poll; the
// collector considers the device connected if any target accepts a TCP
// connection within the timeout.
type ConnectivityTarget struct {
	Host string
	Port int
}

// ConnectivityCollector tracks how much of the elapsed time between polls
// the device was reachable, reported as two running counters: time spent
// connected, and time elapsed overall (so a backend can compute an uptime
// ratio without needing wall-clock gaps filled in separately).
type ConnectivityCollector struct {
	targets []ConnectivityTarget
	timeout time.Duration
	dial    func(network, address string, timeout time.Duration) (net.Conn, error)

	lastCheckedAt time.Time
	haveChecked   bool
}

// NewConnectivityCollector polls the given targets, dialing with timeout.
func NewConnectivityCollector(targets []ConnectivityTarget, timeout time.Duration) *ConnectivityCollector {
	return &ConnectivityCollector{targets: targets, timeout: timeout, dial: net.DialTimeout}
}

func (c *ConnectivityCollector) Name() string { return ConnectivityMetricNamespace }

func (c *ConnectivityCollector) Available() Availability {
	if len(c.targets) == 0 {
		return unavailable("no connectivity targets configured")
	}
	return available()
}

func (c *ConnectivityCollector) isConnected() bool {
	for _, target := range c.targets {
		conn, err := c.dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(target.Port)), c.timeout)
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

func (c *ConnectivityCollector) Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error) {
	now := time.Now()

	sinceLastReading := time.Duration(0)
	if c.haveChecked {
		sinceLastReading = now.Sub(c.lastCheckedAt)
	}

	connectedDuration := time.Duration(0)
	if c.isConnected() {
		connectedDuration = sinceLastReading
	}

	c.lastCheckedAt = now
	c.haveChecked = true

	return []metrics.KeyedMetricReading{
		metrics.NewKeyedMetricReading(
			metrics.MetricStringKey(metrics.MetricConnectedTime),
			metrics.NewCounterReading(float64(connectedDuration.Milliseconds()), now),
		),
		metrics.NewKeyedMetricReading(
			metrics.MetricStringKey(metrics.MetricExpectedConnectedTime),
			metrics.NewCounterReading(float64(sinceLastReading.Milliseconds()), now),
		),
	}, nil
}
