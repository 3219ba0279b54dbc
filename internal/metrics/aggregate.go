package metrics

import (
	"fmt"
	"math"
	"time"
)

// TimeSeries aggregates a sequence of same-key readings into one running
// value. Each call to aggregate must reject a reading whose Kind does not
// match the series, so that the report layer can detect the mismatch and
// reset the series rather than silently merging incompatible readings.
type TimeSeries interface {
	Aggregate(reading MetricReading) error
	Value() MetricValue
}

func checkFinite(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("metric values must be finite")
	}
	return nil
}

// selectAggregateFor constructs the right TimeSeries implementation for a
// reading's Kind, seeded with that reading's value.
func selectAggregateFor(reading MetricReading) (TimeSeries, error) {
	switch reading.Kind {
	case ReadingHistogram:
		return newHistogram(reading)
	case ReadingCounter:
		return newCounter(reading)
	case ReadingGauge:
		return newGauge(reading)
	case ReadingTimeWeightedAverage:
		return newTimeWeightedAverage(reading)
	case ReadingReportTag:
		return newReportTag(reading)
	default:
		return nil, fmt.Errorf("unknown reading kind %v", reading.Kind)
	}
}

// histogramSeries tracks min/mean/max/count across all readings, regardless
// of arrival order; out-of-order timestamps are accepted.
type histogramSeries struct {
	sum, min, max float64
	count         uint64
}

func newHistogram(reading MetricReading) (*histogramSeries, error) {
	if reading.Kind != ReadingHistogram {
		return nil, fmt.Errorf("cannot create a histogram from a non-histogram metric")
	}
	if err := checkFinite(reading.Value); err != nil {
		return nil, err
	}
	return &histogramSeries{sum: reading.Value, min: reading.Value, max: reading.Value, count: 1}, nil
}

func (h *histogramSeries) Aggregate(reading MetricReading) error {
	if reading.Kind != ReadingHistogram {
		return fmt.Errorf("cannot aggregate a histogram with a non-histogram metric")
	}
	if err := checkFinite(reading.Value); err != nil {
		return err
	}
	h.sum += reading.Value
	h.count++
	h.min = math.Min(h.min, reading.Value)
	h.max = math.Max(h.max, reading.Value)
	return nil
}

func (h *histogramSeries) Value() MetricValue {
	if h.count == 0 {
		return HistogramSummary(HistogramValue{Min: math.NaN(), Mean: math.NaN(), Max: math.NaN()})
	}
	return HistogramSummary(HistogramValue{Min: h.min, Mean: h.sum / float64(h.count), Max: h.max})
}

// counterSeries is a running sum; out-of-order timestamps are accepted.
type counterSeries struct {
	sum float64
}

func newCounter(reading MetricReading) (*counterSeries, error) {
	if reading.Kind != ReadingCounter {
		return nil, fmt.Errorf("cannot create a counter from a non-counter metric")
	}
	if err := checkFinite(reading.Value); err != nil {
		return nil, err
	}
	return &counterSeries{sum: reading.Value}, nil
}

func (c *counterSeries) Aggregate(reading MetricReading) error {
	if reading.Kind != ReadingCounter {
		return fmt.Errorf("cannot aggregate a counter with a non-counter metric")
	}
	if err := checkFinite(reading.Value); err != nil {
		return err
	}
	c.sum += reading.Value
	return nil
}

func (c *counterSeries) Value() MetricValue { return NumberValue(c.sum) }

// gaugeSeries keeps the last-by-timestamp value. Readings at or before the
// latest observed timestamp are silently ignored rather than rejected, since
// they carry no new information about "now".
type gaugeSeries struct {
	value float64
	end   time.Time
}

func newGauge(reading MetricReading) (*gaugeSeries, error) {
	if reading.Kind != ReadingGauge {
		return nil, fmt.Errorf("cannot create a gauge from a non-gauge metric")
	}
	if err := checkFinite(reading.Value); err != nil {
		return nil, err
	}
	return &gaugeSeries{value: reading.Value, end: reading.Timestamp}, nil
}

func (g *gaugeSeries) Aggregate(reading MetricReading) error {
	if reading.Kind != ReadingGauge {
		return fmt.Errorf("cannot aggregate a gauge with a non-gauge metric")
	}
	if err := checkFinite(reading.Value); err != nil {
		return err
	}
	if reading.Timestamp.After(g.end) {
		g.value = reading.Value
		g.end = reading.Timestamp
	}
	return nil
}

func (g *gaugeSeries) Value() MetricValue { return NumberValue(g.value) }

// timeWeightedAverageSeries weights each reading by the elapsed wall time
// since the previous one, so the average reflects actual sampling gaps
// rather than assuming a fixed interval.
type timeWeightedAverageSeries struct {
	weightedSum float64
	duration    float64 // milliseconds
	end         time.Time
}

func newTimeWeightedAverage(reading MetricReading) (*timeWeightedAverageSeries, error) {
	if reading.Kind != ReadingTimeWeightedAverage {
		return nil, fmt.Errorf("cannot create a time-weighted average from a non-time-weighted-average metric")
	}
	if err := checkFinite(reading.Value); err != nil {
		return nil, err
	}
	intervalMs := float64(reading.Interval.Milliseconds())
	return &timeWeightedAverageSeries{
		weightedSum: reading.Value * intervalMs,
		duration:    intervalMs,
		end:         reading.Timestamp,
	}, nil
}

func (a *timeWeightedAverageSeries) Aggregate(reading MetricReading) error {
	if reading.Kind != ReadingTimeWeightedAverage {
		return fmt.Errorf("cannot aggregate a time-weighted average with a non-time-weighted-average metric")
	}
	if err := checkFinite(reading.Value); err != nil {
		return err
	}
	if reading.Timestamp.Before(a.end) {
		return fmt.Errorf("cannot aggregate a time-weighted average with an older timestamp")
	}
	elapsedMs := float64(reading.Timestamp.Sub(a.end).Milliseconds())
	a.weightedSum += reading.Value * elapsedMs
	a.duration += elapsedMs
	a.end = reading.Timestamp
	return nil
}

func (a *timeWeightedAverageSeries) Value() MetricValue {
	if a.duration > 0 {
		return NumberValue(a.weightedSum / a.duration)
	}
	return NumberValue(math.NaN())
}

// reportTagSeries keeps the last-by-timestamp string value. As with Gauge,
// readings at or before the latest observed timestamp are silently ignored.
type reportTagSeries struct {
	value string
	end   time.Time
}

func newReportTag(reading MetricReading) (*reportTagSeries, error) {
	if reading.Kind != ReadingReportTag {
		return nil, fmt.Errorf("cannot create a report tag from a non-report-tag metric")
	}
	return &reportTagSeries{value: reading.StringValue, end: reading.Timestamp}, nil
}

func (r *reportTagSeries) Aggregate(reading MetricReading) error {
	if reading.Kind != ReadingReportTag {
		return fmt.Errorf("cannot aggregate a report tag with a non-report-tag metric")
	}
	if reading.Timestamp.After(r.end) {
		r.value = reading.StringValue
		r.end = reading.Timestamp
	}
	return nil
}

func (r *reportTagSeries) Value() MetricValue { return StringValue(r.value) }
