package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace":   TRACE,
		"DEBUG":   DEBUG,
		"Info":    INFO,
		"warn":    WARN,
		"WARNING": WARN,
		"error":   ERROR,
		"FATAL":   FATAL,
	}
	for input, want := range cases {
		got, err := ParseLogLevel(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLogLevel("bogus")
	assert.Error(t, err)
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: WARN, Output: &buf, Format: FormatText})

	l.Info("should not appear")
	assert.Empty(t, buf.String())

	l.Warn("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestLoggerComponentLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: ERROR, Output: &buf, Format: FormatText})
	l.SetComponentLevel("uploader", DEBUG)

	uploaderLog := l.WithComponent("uploader")
	uploaderLog.Debug("bundle queued")
	assert.Contains(t, buf.String(), "bundle queued")

	buf.Reset()
	l.WithComponent("coredump").Debug("should be filtered")
	assert.Empty(t, buf.String())
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: TRACE, Output: &buf, Format: FormatJSON, IncludeCaller: false})
	l.WithField("entry_id", "abc123").Info("collected metric report")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "collected metric report", entry.Message)
	assert.Equal(t, "abc123", entry.Fields["entry_id"])
}

func TestLoggerWithFieldsIsImmutable(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: TRACE, Output: &buf, Format: FormatText, IncludeCaller: false})
	derived := base.WithFields(map[string]interface{}{"a": 1})

	base.Info("base entry")
	assert.NotContains(t, buf.String(), "a=1")

	buf.Reset()
	derived.Info("derived entry")
	assert.Contains(t, buf.String(), "a=1")
}

func TestKmsgWriterFallsBackToStderr(t *testing.T) {
	w := &KmsgWriter{}
	n, err := w.Write([]byte("test\n"))
	require.NoError(t, err)
	assert.Equal(t, len("test\n"), n)
}

func TestFormatTextIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: TRACE, Output: &buf, Format: FormatText, IncludeCaller: false})
	l.Info("heartbeat", map[string]interface{}{"boot_count": 4})
	assert.True(t, strings.Contains(buf.String(), "boot_count=4"))
}
