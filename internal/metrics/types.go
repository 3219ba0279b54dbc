// Package metrics implements the device-resident metric engine: aggregating
// readings into time series, grouping those series into heartbeat/session
// reports, and tracking crash-free operational intervals.
package metrics

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// MetricStringKey is a validated metric name. Keys are restricted to the
// characters a backend can safely use as a flat attribute name.
type MetricStringKey string

var metricKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_/.\-]+$`)

// NewMetricStringKey validates name and returns it as a MetricStringKey.
func NewMetricStringKey(name string) (MetricStringKey, error) {
	if name == "" || !metricKeyPattern.MatchString(name) {
		return "", fmt.Errorf("invalid metric name: %q", name)
	}
	return MetricStringKey(name), nil
}

func (k MetricStringKey) String() string { return string(k) }

// WithSuffix returns a new key with suffix appended, used to derive the
// "_min"/"_max" companion keys emitted for histogram metrics.
func (k MetricStringKey) WithSuffix(suffix string) MetricStringKey {
	return MetricStringKey(string(k) + suffix)
}

// SessionName identifies a named, bounded-duration metric report. It shares
// MetricStringKey's character restrictions.
type SessionName string

// NewSessionName validates name and returns it as a SessionName.
func NewSessionName(name string) (SessionName, error) {
	if name == "" || !metricKeyPattern.MatchString(name) {
		return "", fmt.Errorf("invalid session name: %q", name)
	}
	return SessionName(name), nil
}

func (n SessionName) String() string { return string(n) }

// ReadingKind discriminates the variants of MetricReading.
type ReadingKind int

const (
	ReadingHistogram ReadingKind = iota
	ReadingCounter
	ReadingGauge
	ReadingTimeWeightedAverage
	ReadingReportTag
)

func (k ReadingKind) String() string {
	switch k {
	case ReadingHistogram:
		return "Histogram"
	case ReadingCounter:
		return "Counter"
	case ReadingGauge:
		return "Gauge"
	case ReadingTimeWeightedAverage:
		return "TimeWeightedAverage"
	case ReadingReportTag:
		return "ReportTag"
	default:
		return "Unknown"
	}
}

// MetricReading is a single observation delivered to the engine. Exactly one
// of Value/StringValue is meaningful, selected by Kind.
type MetricReading struct {
	Kind        ReadingKind
	Value       float64
	StringValue string
	Timestamp   time.Time
	// Interval is only meaningful for TimeWeightedAverage readings: the
	// duration over which Value was sampled.
	Interval time.Duration
}

func NewHistogramReading(value float64, timestamp time.Time) MetricReading {
	return MetricReading{Kind: ReadingHistogram, Value: value, Timestamp: timestamp}
}

func NewCounterReading(value float64, timestamp time.Time) MetricReading {
	return MetricReading{Kind: ReadingCounter, Value: value, Timestamp: timestamp}
}

func NewGaugeReading(value float64, timestamp time.Time) MetricReading {
	return MetricReading{Kind: ReadingGauge, Value: value, Timestamp: timestamp}
}

func NewTimeWeightedAverageReading(value float64, timestamp time.Time, interval time.Duration) MetricReading {
	return MetricReading{Kind: ReadingTimeWeightedAverage, Value: value, Timestamp: timestamp, Interval: interval}
}

func NewReportTagReading(value string, timestamp time.Time) MetricReading {
	return MetricReading{Kind: ReadingReportTag, StringValue: value, Timestamp: timestamp}
}

// KeyedMetricReading pairs a reading with the metric name it was recorded
// under, the unit of delivery into the report manager.
type KeyedMetricReading struct {
	Name  MetricStringKey
	Value MetricReading
}

func NewKeyedMetricReading(name MetricStringKey, value MetricReading) KeyedMetricReading {
	return KeyedMetricReading{Name: name, Value: value}
}

// wireReading and wireKeyedReading mirror the session API's wire format:
// {"name": "foo", "value": {"Gauge": {"value": 1.0, "timestamp": "..."}}}.
type wireReading struct {
	Value     *float64   `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
	Interval  *int64     `json:"interval_ms,omitempty"`
}

type wireReadingEnvelope struct {
	Histogram           *wireReading `json:"Histogram,omitempty"`
	Counter             *wireReading `json:"Counter,omitempty"`
	Gauge               *wireReading `json:"Gauge,omitempty"`
	TimeWeightedAverage *wireReading `json:"TimeWeightedAverage,omitempty"`
	ReportTag           *struct {
		Value     string    `json:"value"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"ReportTag,omitempty"`
}

// MarshalJSON renders a MetricReading as its tagged-enum wire form.
func (r MetricReading) MarshalJSON() ([]byte, error) {
	var env wireReadingEnvelope
	switch r.Kind {
	case ReadingHistogram:
		env.Histogram = &wireReading{Value: &r.Value, Timestamp: r.Timestamp}
	case ReadingCounter:
		env.Counter = &wireReading{Value: &r.Value, Timestamp: r.Timestamp}
	case ReadingGauge:
		env.Gauge = &wireReading{Value: &r.Value, Timestamp: r.Timestamp}
	case ReadingTimeWeightedAverage:
		ms := r.Interval.Milliseconds()
		env.TimeWeightedAverage = &wireReading{Value: &r.Value, Timestamp: r.Timestamp, Interval: &ms}
	case ReadingReportTag:
		env.ReportTag = &struct {
			Value     string    `json:"value"`
			Timestamp time.Time `json:"timestamp"`
		}{Value: r.StringValue, Timestamp: r.Timestamp}
	}
	return json.Marshal(env)
}

// UnmarshalJSON parses a MetricReading from its tagged-enum wire form.
func (r *MetricReading) UnmarshalJSON(data []byte) error {
	var env wireReadingEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch {
	case env.Histogram != nil:
		*r = NewHistogramReading(*env.Histogram.Value, env.Histogram.Timestamp)
	case env.Counter != nil:
		*r = NewCounterReading(*env.Counter.Value, env.Counter.Timestamp)
	case env.Gauge != nil:
		*r = NewGaugeReading(*env.Gauge.Value, env.Gauge.Timestamp)
	case env.TimeWeightedAverage != nil:
		var interval time.Duration
		if env.TimeWeightedAverage.Interval != nil {
			interval = time.Duration(*env.TimeWeightedAverage.Interval) * time.Millisecond
		}
		*r = NewTimeWeightedAverageReading(*env.TimeWeightedAverage.Value, env.TimeWeightedAverage.Timestamp, interval)
	case env.ReportTag != nil:
		*r = NewReportTagReading(env.ReportTag.Value, env.ReportTag.Timestamp)
	default:
		return fmt.Errorf("metric reading has no recognized variant")
	}
	return nil
}

// MarshalJSON renders a KeyedMetricReading as {"name": ..., "value": ...}.
func (k KeyedMetricReading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string        `json:"name"`
		Value MetricReading `json:"value"`
	}{Name: k.Name.String(), Value: k.Value})
}

// UnmarshalJSON parses a KeyedMetricReading from {"name": ..., "value": ...}.
func (k *KeyedMetricReading) UnmarshalJSON(data []byte) error {
	var wire struct {
		Name  string        `json:"name"`
		Value MetricReading `json:"value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	name, err := NewMetricStringKey(wire.Name)
	if err != nil {
		return err
	}
	k.Name = name
	k.Value = wire.Value
	return nil
}

// ValueKind discriminates the variants of MetricValue.
type ValueKind int

const (
	ValueNumber ValueKind = iota
	ValueString
	ValueHistogram
)

// HistogramValue is the min/mean/max summary of a Histogram aggregate.
type HistogramValue struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
}

// MetricValue is the current reading of an aggregate: a plain number, a
// string tag, or (only before snapshot expansion) a histogram summary.
type MetricValue struct {
	Kind      ValueKind
	Number    float64
	String    string
	Histogram HistogramValue
}

func NumberValue(v float64) MetricValue       { return MetricValue{Kind: ValueNumber, Number: v} }
func StringValue(v string) MetricValue        { return MetricValue{Kind: ValueString, String: v} }
func HistogramSummary(v HistogramValue) MetricValue {
	return MetricValue{Kind: ValueHistogram, Histogram: v}
}

// MarshalJSON renders a MetricValue as the bare JSON scalar it represents,
// matching the flat attribute shape a backend expects in a metric report.
func (v MetricValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return json.Marshal(v.Number)
	case ValueString:
		return json.Marshal(v.String)
	case ValueHistogram:
		return json.Marshal(v.Histogram)
	default:
		return json.Marshal(nil)
	}
}
