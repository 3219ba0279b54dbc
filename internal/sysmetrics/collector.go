// Package sysmetrics implements the built-in system metric collectors:
// CPU, memory, disk space, network interface throughput, per-process
// resource usage, thermal zone temperature, battery state of charge, and
// network connectivity. Each collector polls a procfs/sysfs source (or,
// for connectivity, attempts a TCP connection) and returns readings for
// delivery into the metric engine.
package sysmetrics

import (
	"context"
	"time"

	"github.com/memfault/memfaultd-go/internal/metrics"
)

// Collector gathers one family of metrics on each call to Collect.
type Collector interface {
	// Name identifies the family, used in logs and as the metric
	// namespace readings are grouped under.
	Name() string

	// Collect returns the readings gathered on this poll. A collector
	// that depends on a delta from a previous poll (CPU, network,
	// process) returns no readings the first time it's called.
	Collect(ctx context.Context) ([]metrics.KeyedMetricReading, error)

	// Available reports whether this collector's data source exists on
	// the running system.
	Available() Availability
}

// Availability describes whether a collector can run on this device.
type Availability struct {
	Ok     bool
	Reason string
}

func available() Availability { return Availability{Ok: true} }

func unavailable(reason string) Availability { return Availability{Ok: false, Reason: reason} }

// Config bounds the filesystem roots collectors read from, overridable in
// tests.
type Config struct {
	ProcRoot string
	SysRoot  string
}

// DefaultConfig points at the real procfs/sysfs mounts.
func DefaultConfig() Config {
	return Config{ProcRoot: "/proc", SysRoot: "/sys"}
}

// Registry runs a fixed set of collectors on a shared poll interval and
// forwards their readings to a sink, mirroring the single poll loop the
// original system metrics collector runs all families under.
type Registry struct {
	collectors []Collector
	sink       func([]metrics.KeyedMetricReading) error
	now        func() time.Time
}

// NewRegistry creates a Registry that forwards every collector's readings
// to sink on each Poll call.
func NewRegistry(collectors []Collector, sink func([]metrics.KeyedMetricReading) error) *Registry {
	return &Registry{collectors: collectors, sink: sink, now: time.Now}
}

// Poll runs every collector once, forwarding successful collections and
// returning the last error encountered (after attempting every
// collector, matching the original's log-and-continue behavior).
func (r *Registry) Poll(ctx context.Context) error {
	var lastErr error
	for _, c := range r.collectors {
		readings, err := c.Collect(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if len(readings) == 0 {
			continue
		}
		if err := r.sink(readings); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Run polls every interval until ctx is canceled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Poll(ctx)
		}
	}
}
