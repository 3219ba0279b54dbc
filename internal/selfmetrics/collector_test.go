package selfmetrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfault/memfaultd-go/internal/circuit"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordUploadAttemptIncrementsResultLabeledCounter(t *testing.T) {
	c := NewCollector()
	c.RecordUploadAttempt(true, 1024)
	c.RecordUploadAttempt(false, 0)

	body := scrape(t, c)
	assert.Contains(t, body, `memfaultd_uploader_attempts_total{result="success"} 1`)
	assert.Contains(t, body, `memfaultd_uploader_attempts_total{result="failure"} 1`)
	assert.Contains(t, body, "memfaultd_uploader_bytes_sent_total 1024")
}

func TestRecordUploadAttemptFailureDoesNotCountBytes(t *testing.T) {
	c := NewCollector()
	c.RecordUploadAttempt(false, 999)

	body := scrape(t, c)
	assert.NotContains(t, body, "memfaultd_uploader_bytes_sent_total 999")
}

func TestRecordEntryStagedLabelsByKind(t *testing.T) {
	c := NewCollector()
	c.RecordEntryStaged("linux-logs")
	c.RecordEntryStaged("linux-logs")
	c.RecordEntryStaged("coredump")

	body := scrape(t, c)
	assert.Contains(t, body, `memfaultd_asa_entries_staged_total{kind="linux-logs"} 2`)
	assert.Contains(t, body, `memfaultd_asa_entries_staged_total{kind="coredump"} 1`)
}

func TestRecordCleanerEvictionTracksCountAndBytes(t *testing.T) {
	c := NewCollector()
	c.RecordCleanerEviction(4096)
	c.RecordCleanerEviction(2048)

	body := scrape(t, c)
	assert.Contains(t, body, "memfaultd_cleaner_evictions_total 2")
	assert.Contains(t, body, "memfaultd_cleaner_evicted_bytes_total 6144")
}

func TestRecordCoredumpProcessedLabelsByResult(t *testing.T) {
	c := NewCollector()
	c.RecordCoredumpProcessed(true)
	c.RecordCoredumpProcessed(false)
	c.RecordCoredumpProcessed(false)

	body := scrape(t, c)
	assert.Contains(t, body, `memfaultd_coredump_processed_total{result="success"} 1`)
	assert.Contains(t, body, `memfaultd_coredump_processed_total{result="failure"} 2`)
}

func TestRecordBreakerStateChangeSetsGaugeByName(t *testing.T) {
	c := NewCollector()
	c.RecordBreakerStateChange("api.example.com", circuit.StateOpen)

	body := scrape(t, c)
	assert.Contains(t, body, `memfaultd_circuit_breaker_state{name="api.example.com"} 1`)
}

func TestRecordRetryAttemptTracksCountAndDelay(t *testing.T) {
	c := NewCollector()
	c.RecordRetryAttempt("upload", 500*time.Millisecond)
	c.RecordRetryAttempt("upload", 500*time.Millisecond)

	body := scrape(t, c)
	assert.Contains(t, body, `memfaultd_retry_attempts_total{operation="upload"} 2`)
	assert.Contains(t, body, `memfaultd_retry_delay_seconds_total{operation="upload"} 1`)
}

func TestTwoCollectorsUseIndependentRegistries(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.RecordCleanerEviction(100)

	assert.Contains(t, scrape(t, a), "memfaultd_cleaner_evictions_total 1")
	assert.Contains(t, scrape(t, b), "memfaultd_cleaner_evictions_total 0")
}
