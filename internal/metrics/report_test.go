package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSetContainsExplicitAndWildcard(t *testing.T) {
	set := NewMetricsSet(
		[]MetricStringKey{"foo"},
		[]WildcardPattern{NewWildcardPattern("bar_", "")},
	)
	assert.True(t, set.Contains("foo"))
	assert.True(t, set.Contains("bar_anything"))
	assert.False(t, set.Contains("baz"))
}

func TestMetricsSetUnion(t *testing.T) {
	a := NewMetricsSet([]MetricStringKey{"foo"}, nil)
	b := NewMetricsSet([]MetricStringKey{"bar"}, []WildcardPattern{NewWildcardPattern("baz_", "")})
	merged := a.union(b)
	assert.True(t, merged.Contains("foo"))
	assert.True(t, merged.Contains("bar"))
	assert.True(t, merged.Contains("baz_anything"))
}

func TestCapturedMetricsAllCapturesEverything(t *testing.T) {
	c := CapturedAll()
	assert.True(t, c.contains("anything"))
}

func TestCapturedMetricsSetOnlyCapturesMembers(t *testing.T) {
	c := CapturedMetricsSet(NewMetricsSet([]MetricStringKey{"foo"}, nil))
	assert.True(t, c.contains("foo"))
	assert.False(t, c.contains("bar"))
}

func TestMetricReportTypeString(t *testing.T) {
	assert.Equal(t, "heartbeat", HeartbeatReportType().String())
	assert.Equal(t, "daily-heartbeat", DailyHeartbeatReportType().String())
	assert.Equal(t, "my-session", SessionReportType("my-session").String())
}

func TestAddMetricIgnoresUncapturedKeys(t *testing.T) {
	r := NewMetricReport(HeartbeatReportType(), CapturedMetricsSet(NewMetricsSet([]MetricStringKey{"foo"}, nil)))
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("bar", NewCounterReading(1.0, ts(0)))))
	assert.True(t, r.IsEmpty())
}

func TestAddMetricAggregatesRepeatedReadings(t *testing.T) {
	r := NewHeartbeatReport()
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("counter_a", NewCounterReading(1.0, ts(0)))))
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("counter_a", NewCounterReading(2.0, ts(1)))))
	metrics := r.TakeMetrics()
	assert.Equal(t, NumberValue(3.0), metrics["counter_a"])
}

func TestAddMetricResetsSeriesOnKindMismatchAndWarns(t *testing.T) {
	r := NewHeartbeatReport()
	var resetKey MetricStringKey
	var resetErr error
	r.OnReset(func(key MetricStringKey, err error) {
		resetKey, resetErr = key, err
	})

	require.NoError(t, r.AddMetric(NewKeyedMetricReading("metric_a", NewCounterReading(1.0, ts(0)))))
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("metric_a", NewGaugeReading(5.0, ts(1)))))

	assert.Equal(t, MetricStringKey("metric_a"), resetKey)
	assert.Error(t, resetErr)

	metrics := r.TakeMetrics()
	assert.Equal(t, NumberValue(5.0), metrics["metric_a"])
}

func TestAddMetricResetsTimeWeightedAverageOnOldTimestamp(t *testing.T) {
	r := NewHeartbeatReport()
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("twa", NewTimeWeightedAverageReading(10.0, ts(10), 0))))
	// An older timestamp errors inside Aggregate, triggering a reset rather
	// than a failed delivery.
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("twa", NewTimeWeightedAverageReading(2.0, ts(0), 0))))
	metrics := r.TakeMetrics()
	assert.True(t, metrics["twa"].Number == 2.0 || metrics["twa"].Kind == ValueNumber)
}

func TestTakeSnapshotExpandsHistogramMinMaxForConfiguredKeys(t *testing.T) {
	r := NewHeartbeatReport()
	require.NoError(t, r.AddMetric(NewKeyedMetricReading(MetricCPUUsagePct, NewHistogramReading(1.0, ts(0)))))
	require.NoError(t, r.AddMetric(NewKeyedMetricReading(MetricCPUUsagePct, NewHistogramReading(3.0, ts(1)))))

	metrics := r.TakeMetrics()
	assert.Equal(t, NumberValue(2.0), metrics[MetricStringKey(MetricCPUUsagePct)])
	assert.Equal(t, NumberValue(1.0), metrics[MetricStringKey(MetricCPUUsagePct).WithSuffix("_min")])
	assert.Equal(t, NumberValue(3.0), metrics[MetricStringKey(MetricCPUUsagePct).WithSuffix("_max")])
}

func TestTakeSnapshotDoesNotExpandHistogramForUnconfiguredKeys(t *testing.T) {
	r := NewHeartbeatReport()
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("custom_histogram", NewHistogramReading(1.0, ts(0)))))
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("custom_histogram", NewHistogramReading(3.0, ts(1)))))

	metrics := r.TakeMetrics()
	_, hasMin := metrics[MetricStringKey("custom_histogram").WithSuffix("_min")]
	assert.False(t, hasMin)
	assert.Equal(t, NumberValue(2.0), metrics["custom_histogram"])
}

func TestTakeSnapshotResetsAccumulationWindow(t *testing.T) {
	r := NewHeartbeatReport()
	require.NoError(t, r.AddMetric(NewKeyedMetricReading("foo", NewCounterReading(1.0, ts(0)))))
	_, metrics := r.TakeSnapshot()
	assert.Len(t, metrics, 1)
	assert.True(t, r.IsEmpty())

	_, empty := r.TakeSnapshot()
	assert.Empty(t, empty)
}

func TestIncrementAndAddToCounter(t *testing.T) {
	r := NewHeartbeatReport()
	r.now = func() time.Time { return ts(0) }
	require.NoError(t, r.IncrementCounter("hits"))
	require.NoError(t, r.AddToCounter("hits", 4.0))
	metrics := r.TakeMetrics()
	assert.Equal(t, NumberValue(5.0), metrics["hits"])
}
