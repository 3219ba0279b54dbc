// Package selfmetrics tracks the agent's own operational health — upload
// attempts, staged artifacts, cleaner evictions, coredump processing — as
// Prometheus metrics, served on /metrics alongside the export endpoint.
// This is deliberately separate from internal/metrics, which aggregates
// the device telemetry the agent collects on behalf of the product it
// runs on; the two track different things for different consumers.
package selfmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memfault/memfaultd-go/internal/circuit"
)

const namespace = "memfaultd"

// Collector owns a private Prometheus registry — never the global default
// one — so an embedding binary's own metrics never collide with these.
type Collector struct {
	registry *prometheus.Registry

	uploadAttempts      *prometheus.CounterVec
	uploadBytes         prometheus.Counter
	stagedEntries       *prometheus.CounterVec
	cleanerEvictions    prometheus.Counter
	cleanerEvictedBytes prometheus.Counter
	coredumpsProcessed  *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	retryAttempts       *prometheus.CounterVec
	retryDelaySeconds   *prometheus.CounterVec
}

// NewCollector builds a Collector with every metric registered and ready.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		uploadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploader",
			Name:      "attempts_total",
			Help:      "Upload bundle attempts by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploader",
			Name:      "bytes_sent_total",
			Help:      "Bytes successfully sent to the backend.",
		}),
		stagedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "asa",
			Name:      "entries_staged_total",
			Help:      "Artifacts staged by kind.",
		}, []string{"kind"}),
		cleanerEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaner",
			Name:      "evictions_total",
			Help:      "Staging-area entries removed to stay within budget.",
		}),
		cleanerEvictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaner",
			Name:      "evicted_bytes_total",
			Help:      "Bytes reclaimed by the staging-area cleaner.",
		}),
		coredumpsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coredump",
			Name:      "processed_total",
			Help:      "Coredumps processed by result.",
		}, []string{"result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "breaker_state",
			Help:      "Circuit breaker state by name (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retry attempts by operation.",
		}, []string{"operation"}),
		retryDelaySeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "delay_seconds_total",
			Help:      "Cumulative backoff delay waited between retries, by operation.",
		}, []string{"operation"}),
	}

	registry.MustRegister(
		c.uploadAttempts,
		c.uploadBytes,
		c.stagedEntries,
		c.cleanerEvictions,
		c.cleanerEvictedBytes,
		c.coredumpsProcessed,
		c.breakerState,
		c.retryAttempts,
		c.retryDelaySeconds,
	)

	return c
}

// RecordUploadAttempt tallies one bundle upload attempt, successful or not.
func (c *Collector) RecordUploadAttempt(success bool, bytesSent int64) {
	c.uploadAttempts.WithLabelValues(resultLabel(success)).Inc()
	if success && bytesSent > 0 {
		c.uploadBytes.Add(float64(bytesSent))
	}
}

// RecordEntryStaged tallies one artifact staged to the ASA directory.
func (c *Collector) RecordEntryStaged(kind string) {
	c.stagedEntries.WithLabelValues(kind).Inc()
}

// RecordCleanerEviction tallies one entry the cleaner removed to satisfy
// its budget, along with the bytes reclaimed.
func (c *Collector) RecordCleanerEviction(bytesFreed uint64) {
	c.cleanerEvictions.Inc()
	c.cleanerEvictedBytes.Add(float64(bytesFreed))
}

// RecordCoredumpProcessed tallies one coredump transform attempt.
func (c *Collector) RecordCoredumpProcessed(success bool) {
	c.coredumpsProcessed.WithLabelValues(resultLabel(success)).Inc()
}

// RecordBreakerStateChange reports a circuit breaker's new state, keyed by
// the name it was constructed with (e.g. the backend host it guards).
func (c *Collector) RecordBreakerStateChange(name string, state circuit.State) {
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRetryAttempt tallies one retry of operation and the backoff delay
// waited before it.
func (c *Collector) RecordRetryAttempt(operation string, delay time.Duration) {
	c.retryAttempts.WithLabelValues(operation).Inc()
	c.retryDelaySeconds.WithLabelValues(operation).Add(delay.Seconds())
}

// Handler exposes the collector's registry in the Prometheus exposition
// format, suitable for mounting at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
