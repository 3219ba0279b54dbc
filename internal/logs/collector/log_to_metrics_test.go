package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfault/memfaultd-go/internal/config"
)

type counterCall struct {
	name  string
	value float64
}

func newRecordingIncrement() (func(string, float64) error, *[]counterCall) {
	var calls []counterCall
	return func(name string, value float64) error {
		calls = append(calls, counterCall{name, value})
		return nil
	}, &calls
}

func TestLogToMetricsIncrementsOnSimpleMatch(t *testing.T) {
	increment, calls := newRecordingIncrement()
	m, err := NewLogToMetrics([]config.LogToMetricRule{
		{Pattern: `segfault`, CounterName: "segfaults"},
	}, increment)
	require.NoError(t, err)

	require.NoError(t, m.Process(map[string]interface{}{"MESSAGE": "process foo segfault at 0x0"}))
	require.Len(t, *calls, 1)
	assert.Equal(t, "segfaults", (*calls)[0].name)
}

func TestLogToMetricsInterpolatesCaptureGroupsIntoCounterName(t *testing.T) {
	increment, calls := newRecordingIncrement()
	m, err := NewLogToMetrics([]config.LogToMetricRule{
		{Pattern: `Started unit (\w+)\.service`, CounterName: "${1}_restarts"},
	}, increment)
	require.NoError(t, err)

	require.NoError(t, m.Process(map[string]interface{}{"MESSAGE": "Started unit networkd.service"}))
	require.Len(t, *calls, 1)
	assert.Equal(t, "networkd_restarts", (*calls)[0].name)
}

func TestLogToMetricsExtractsProcessNameFromOOMKillMessage(t *testing.T) {
	increment, calls := newRecordingIncrement()
	m, err := NewLogToMetrics([]config.LogToMetricRule{
		{Pattern: `Out of memory: Killed process \d+ \(([\w-]+)\)`, CounterName: "oom_kill_${1}"},
	}, increment)
	require.NoError(t, err)

	require.NoError(t, m.Process(map[string]interface{}{
		"MESSAGE": "Out of memory: Killed process 1234 (chromium)",
	}))
	require.Len(t, *calls, 1)
	assert.Equal(t, "oom_kill_chromium", (*calls)[0].name)
}

func TestLogToMetricsQuickRejectSkipsRegexWhenFilterFieldMismatches(t *testing.T) {
	increment, calls := newRecordingIncrement()
	m, err := NewLogToMetrics([]config.LogToMetricRule{
		{Pattern: `.*`, CounterName: "syslog_lines", QuickRejectField: "SYSLOG_IDENTIFIER", QuickRejectValue: "sshd"},
	}, increment)
	require.NoError(t, err)

	require.NoError(t, m.Process(map[string]interface{}{
		"MESSAGE":           "connection accepted",
		"SYSLOG_IDENTIFIER": "cron",
	}))
	assert.Empty(t, *calls)

	require.NoError(t, m.Process(map[string]interface{}{
		"MESSAGE":           "connection accepted",
		"SYSLOG_IDENTIFIER": "sshd",
	}))
	assert.Len(t, *calls, 1)
}

func TestLogToMetricsNoMatchProducesNoIncrement(t *testing.T) {
	increment, calls := newRecordingIncrement()
	m, err := NewLogToMetrics([]config.LogToMetricRule{
		{Pattern: `segfault`, CounterName: "segfaults"},
	}, increment)
	require.NoError(t, err)

	require.NoError(t, m.Process(map[string]interface{}{"MESSAGE": "all is well"}))
	assert.Empty(t, *calls)
}

func TestLogToMetricsInvalidPatternFailsAtConstruction(t *testing.T) {
	_, err := NewLogToMetrics([]config.LogToMetricRule{
		{Pattern: `(unterminated`, CounterName: "x"},
	}, func(string, float64) error { return nil })
	assert.Error(t, err)
}
