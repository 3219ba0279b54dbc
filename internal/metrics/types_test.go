package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricStringKeyRejectsInvalidCharacters(t *testing.T) {
	_, err := NewMetricStringKey("")
	assert.Error(t, err)
	_, err = NewMetricStringKey("has a space")
	assert.Error(t, err)

	key, err := NewMetricStringKey("cpu_usage_pct")
	require.NoError(t, err)
	assert.Equal(t, "cpu_usage_pct", key.String())
}

func TestMetricStringKeyWithSuffix(t *testing.T) {
	key, err := NewMetricStringKey("cpu_usage_pct")
	require.NoError(t, err)
	assert.Equal(t, MetricStringKey("cpu_usage_pct_max"), key.WithSuffix("_max"))
}

func TestKeyedMetricReadingJSONRoundTrip(t *testing.T) {
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	original := NewKeyedMetricReading(MetricStringKey("cpu_usage_pct"), NewGaugeReading(42.5, when))

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded KeyedMetricReading
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.Name, decoded.Name)
	assert.Equal(t, original.Value.Kind, decoded.Value.Kind)
	assert.Equal(t, original.Value.Value, decoded.Value.Value)
	assert.True(t, original.Value.Timestamp.Equal(decoded.Value.Timestamp))
}

func TestReportTagReadingJSONRoundTrip(t *testing.T) {
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	original := NewReportTagReading("release-5", when)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded MetricReading
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ReadingReportTag, decoded.Kind)
	assert.Equal(t, "release-5", decoded.StringValue)
}

func TestMetricValueMarshalsAsBareScalar(t *testing.T) {
	data, err := json.Marshal(NumberValue(1.5))
	require.NoError(t, err)
	assert.Equal(t, "1.5", string(data))

	data, err = json.Marshal(StringValue("abc"))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(data))

	data, err = json.Marshal(HistogramSummary(HistogramValue{Min: 1, Mean: 2, Max: 3}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"min":1,"mean":2,"max":3}`, string(data))
}
