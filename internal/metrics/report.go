package metrics

import (
	"fmt"
	"time"
)

// MetricsSet is an explicit set of metric keys, extended by wildcard
// patterns, used to decide whether a report captures a given reading.
type MetricsSet struct {
	metricKeys   map[MetricStringKey]struct{}
	wildcardKeys []WildcardPattern
}

// NewMetricsSet builds a MetricsSet from explicit keys and wildcard
// patterns.
func NewMetricsSet(keys []MetricStringKey, wildcards []WildcardPattern) MetricsSet {
	set := MetricsSet{metricKeys: make(map[MetricStringKey]struct{}, len(keys)), wildcardKeys: wildcards}
	for _, k := range keys {
		set.metricKeys[k] = struct{}{}
	}
	return set
}

// Contains reports whether key is an explicit member or matches a wildcard.
func (s MetricsSet) Contains(key MetricStringKey) bool {
	if _, ok := s.metricKeys[key]; ok {
		return true
	}
	for _, pattern := range s.wildcardKeys {
		if pattern.Matches(string(key)) {
			return true
		}
	}
	return false
}

// union returns a new MetricsSet containing the keys and wildcards of both.
func (s MetricsSet) union(other MetricsSet) MetricsSet {
	merged := NewMetricsSet(nil, append(append([]WildcardPattern{}, s.wildcardKeys...), other.wildcardKeys...))
	for k := range s.metricKeys {
		merged.metricKeys[k] = struct{}{}
	}
	for k := range other.metricKeys {
		merged.metricKeys[k] = struct{}{}
	}
	return merged
}

// CapturedMetrics is either "every metric" (heartbeats) or an explicit
// MetricsSet (sessions).
type CapturedMetrics struct {
	all bool
	set MetricsSet
}

// CapturedAll captures every metric delivered to the report.
func CapturedAll() CapturedMetrics { return CapturedMetrics{all: true} }

// CapturedMetricsSet captures only metrics in set.
func CapturedMetricsSet(set MetricsSet) CapturedMetrics { return CapturedMetrics{set: set} }

func (c CapturedMetrics) contains(key MetricStringKey) bool {
	if c.all {
		return true
	}
	return c.set.Contains(key)
}

// ReportKind discriminates the three report types a ReportManager owns.
type ReportKind int

const (
	ReportHeartbeat ReportKind = iota
	ReportSession
	ReportDailyHeartbeat
)

const (
	heartbeatReportType      = "heartbeat"
	dailyHeartbeatReportType = "daily-heartbeat"
)

// MetricReportType names the kind of report an artifact was generated from,
// using the session's own name as the string for session reports.
type MetricReportType struct {
	Kind    ReportKind
	Session SessionName
}

func HeartbeatReportType() MetricReportType      { return MetricReportType{Kind: ReportHeartbeat} }
func DailyHeartbeatReportType() MetricReportType { return MetricReportType{Kind: ReportDailyHeartbeat} }
func SessionReportType(name SessionName) MetricReportType {
	return MetricReportType{Kind: ReportSession, Session: name}
}

func (t MetricReportType) String() string {
	switch t.Kind {
	case ReportHeartbeat:
		return heartbeatReportType
	case ReportDailyHeartbeat:
		return dailyHeartbeatReportType
	case ReportSession:
		return t.Session.String()
	default:
		return "unknown"
	}
}

// MetricReport accumulates readings for one heartbeat, daily heartbeat, or
// session, aggregating each key into a TimeSeries and exposing periodic
// snapshots that reset the accumulation window.
type MetricReport struct {
	series     map[MetricStringKey]TimeSeries
	start      time.Time
	captured   CapturedMetrics
	reportType MetricReportType
	histoKeys  MetricsSet
	onReset    func(key MetricStringKey, err error)
	now        func() time.Time
}

// NewMetricReport creates a report of the given type and capture set.
func NewMetricReport(reportType MetricReportType, captured CapturedMetrics) *MetricReport {
	return &MetricReport{
		series:     make(map[MetricStringKey]TimeSeries),
		start:      time.Now(),
		captured:   captured,
		reportType: reportType,
		histoKeys:  histoMinMaxKeys(),
		now:        time.Now,
	}
}

// NewHeartbeatReport creates a heartbeat report that captures every metric.
func NewHeartbeatReport() *MetricReport {
	return NewMetricReport(HeartbeatReportType(), CapturedAll())
}

// NewDailyHeartbeatReport creates a daily heartbeat report that captures
// every metric.
func NewDailyHeartbeatReport() *MetricReport {
	return NewMetricReport(DailyHeartbeatReportType(), CapturedAll())
}

// ReportType returns the report's type.
func (r *MetricReport) ReportType() MetricReportType { return r.reportType }

// OnReset installs a callback invoked whenever an incompatible reading
// resets an existing series, so callers can log a warning.
func (r *MetricReport) OnReset(fn func(key MetricStringKey, err error)) {
	r.onReset = fn
}

func (r *MetricReport) isCaptured(key MetricStringKey) bool {
	return r.captured.contains(key)
}

// AddMetric delivers a reading to the report if it captures that key. A
// reading whose kind is incompatible with the key's existing series resets
// the series from scratch rather than failing the whole delivery.
func (r *MetricReport) AddMetric(reading KeyedMetricReading) error {
	if !r.isCaptured(reading.Name) {
		return nil
	}

	existing, ok := r.series[reading.Name]
	if !ok {
		fresh, err := selectAggregateFor(reading.Value)
		if err != nil {
			return err
		}
		r.series[reading.Name] = fresh
		return nil
	}

	if err := existing.Aggregate(reading.Value); err != nil {
		fresh, freshErr := selectAggregateFor(reading.Value)
		if freshErr != nil {
			return freshErr
		}
		r.series[reading.Name] = fresh
		if r.onReset != nil {
			r.onReset(reading.Name, err)
		}
	}
	return nil
}

// IncrementCounter adds 1 to the named counter, timestamped now.
func (r *MetricReport) IncrementCounter(name string) error {
	return r.AddToCounter(name, 1.0)
}

// AddToCounter adds value to the named counter, timestamped now.
func (r *MetricReport) AddToCounter(name string, value float64) error {
	key, err := NewMetricStringKey(name)
	if err != nil {
		return fmt.Errorf("invalid metric name: %s: %w", name, err)
	}
	return r.AddMetric(NewKeyedMetricReading(key, NewCounterReading(value, r.now())))
}

// TakeMetrics returns the report's current metric values and resets its
// accumulation window, discarding the in-memory series.
func (r *MetricReport) TakeMetrics() map[MetricStringKey]MetricValue {
	_, metrics := r.TakeSnapshot()
	return metrics
}

// TakeSnapshot returns how long the report had been accumulating and its
// current metric values, then resets both. Histogram series configured in
// histoMinMaxKeys are expanded into three entries (key, key_min, key_max);
// every other series yields one entry under its own key.
func (r *MetricReport) TakeSnapshot() (time.Duration, map[MetricStringKey]MetricValue) {
	duration := r.now().Sub(r.start)
	r.start = r.now()

	series := r.series
	r.series = make(map[MetricStringKey]TimeSeries)

	metrics := make(map[MetricStringKey]MetricValue, len(series))
	for name, s := range series {
		value := s.Value()
		if value.Kind == ValueHistogram {
			metrics[name] = NumberValue(value.Histogram.Mean)
			if r.histoKeys.Contains(name) {
				metrics[name.WithSuffix("_max")] = NumberValue(value.Histogram.Max)
				metrics[name.WithSuffix("_min")] = NumberValue(value.Histogram.Min)
			}
			continue
		}
		metrics[name] = value
	}
	return duration, metrics
}

// IsEmpty reports whether the report currently holds no metrics, the
// condition under which a snapshot should not be written as an artifact.
func (r *MetricReport) IsEmpty() bool {
	return len(r.series) == 0
}
