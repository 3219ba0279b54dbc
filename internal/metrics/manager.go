package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/memfault/memfaultd-go/internal/asa"
	"github.com/memfault/memfaultd-go/internal/config"
	"github.com/memfault/memfaultd-go/internal/logging"
)

// ReportManager owns one heartbeat report, one daily-heartbeat report, and a
// map of named session reports, and is the single point every reading (from
// system collectors, the session API, or the crashfree tracker) passes
// through. It is safe for concurrent use: callers needn't run it behind
// their own actor/mailbox, a mutex is enough for the rates at which metrics
// arrive.
type ReportManager struct {
	mu             sync.Mutex
	heartbeat      *MetricReport
	dailyHeartbeat *MetricReport
	sessions       map[SessionName]*MetricReport
	sessionConfigs []config.SessionConfig
	coreMetrics    MetricsSet
	log            *logging.Logger
}

// NewReportManager creates a manager with no sessions configured.
func NewReportManager(log *logging.Logger) *ReportManager {
	return NewReportManagerWithSessions(log, nil, nil)
}

// NewReportManagerWithSessions creates a manager that accepts start/stop
// requests for the named sessions, and appends extraCoreMetricKeys to the
// hardcoded core metric set every session always captures.
func NewReportManagerWithSessions(log *logging.Logger, sessionConfigs []config.SessionConfig, extraCoreMetricKeys []string) *ReportManager {
	m := &ReportManager{
		heartbeat:      NewHeartbeatReport(),
		dailyHeartbeat: NewDailyHeartbeatReport(),
		sessions:       make(map[SessionName]*MetricReport),
		sessionConfigs: sessionConfigs,
		coreMetrics:    sessionCoreMetrics(extraCoreMetricKeys...),
		log:            log,
	}
	m.heartbeat.OnReset(m.logReset)
	m.dailyHeartbeat.OnReset(m.logReset)
	return m
}

func (m *ReportManager) logReset(key MetricStringKey, err error) {
	if m.log == nil {
		return
	}
	m.log.Warn("resetting incompatible metric timeseries", map[string]interface{}{
		"metric": key.String(), "cause": err.Error(),
	})
}

// StartSession begins capturing the named session if it isn't already
// ongoing; starting an already-open session is a no-op. name must match a
// configured session.
func (m *ReportManager) StartSession(name SessionName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[name]; ok {
		return nil
	}

	captured, err := m.capturedMetricsForSession(name)
	if err != nil {
		return err
	}

	report := NewMetricReport(SessionReportType(name), captured)
	report.OnReset(m.logReset)
	if err := report.AddToCounter(MetricOperationalCrashes, 0.0); err != nil {
		return err
	}
	m.sessions[name] = report
	return nil
}

func (m *ReportManager) capturedMetricsForSession(name SessionName) (CapturedMetrics, error) {
	for _, cfg := range m.sessionConfigs {
		if cfg.Name != name.String() {
			continue
		}
		keys := make([]MetricStringKey, 0, len(cfg.CapturedMetrics))
		for _, k := range cfg.CapturedMetrics {
			keys = append(keys, MetricStringKey(k))
		}
		set := NewMetricsSet(keys, nil).union(m.coreMetrics)
		return CapturedMetricsSet(set), nil
	}
	return CapturedMetrics{}, fmt.Errorf("no configuration for session named %s found", name)
}

// reports returns every live report: every session plus the two
// heartbeats, the set AddMetric/IncrementCounter/AddToCounter fan out to.
func (m *ReportManager) reports() []*MetricReport {
	all := make([]*MetricReport, 0, len(m.sessions)+2)
	for _, s := range m.sessions {
		all = append(all, s)
	}
	return append(all, m.heartbeat, m.dailyHeartbeat)
}

// AddMetric delivers a reading to every live report that captures its key.
func (m *ReportManager) AddMetric(reading KeyedMetricReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports() {
		if err := r.AddMetric(reading); err != nil {
			return err
		}
	}
	return nil
}

// IncrementCounter adds 1 to name in every live report.
func (m *ReportManager) IncrementCounter(name string) error {
	return m.AddToCounter(name, 1.0)
}

// AddToCounter adds value to name in every live report.
func (m *ReportManager) AddToCounter(name string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports() {
		if err := r.AddToCounter(name, value); err != nil {
			return err
		}
	}
	return nil
}

// AddMetricToReport delivers a reading to one specific report.
func (m *ReportManager) AddMetricToReport(reportType MetricReportType, reading KeyedMetricReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, err := m.reportFor(reportType)
	if err != nil {
		return err
	}
	return report.AddMetric(reading)
}

func (m *ReportManager) reportFor(reportType MetricReportType) (*MetricReport, error) {
	switch reportType.Kind {
	case ReportHeartbeat:
		return m.heartbeat, nil
	case ReportDailyHeartbeat:
		return m.dailyHeartbeat, nil
	case ReportSession:
		report, ok := m.sessions[reportType.Session]
		if !ok {
			return nil, fmt.Errorf("no ongoing session with name %s", reportType.Session)
		}
		return report, nil
	default:
		return nil, fmt.Errorf("unknown report type")
	}
}

// TakeHeartbeatMetrics returns and resets the heartbeat report's metrics.
func (m *ReportManager) TakeHeartbeatMetrics() map[MetricStringKey]MetricValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeat.TakeMetrics()
}

// TakeSessionMetrics returns and resets a session's metrics without ending
// it.
func (m *ReportManager) TakeSessionMetrics(name SessionName) (map[MetricStringKey]MetricValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("no ongoing session with name %s", name)
	}
	return report.TakeMetrics(), nil
}

// DumpReportToMAREntry snapshots reportType's report and, if it held any
// metrics, writes it as an ASA artifact under stagingRoot. A session report
// is removed from the manager once dumped, ending the session; heartbeats
// are only reset. A snapshot with no metrics is a no-op (matching the
// original's "skip generating metrics entry" behavior).
func (m *ReportManager) DumpReportToMAREntry(stagingRoot string, device asa.DeviceIdentity, producer asa.ProducerIdentity, reportType MetricReportType) error {
	m.mu.Lock()
	report, err := m.reportFor(reportType)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	duration, snapshot := report.TakeSnapshot()
	if reportType.Kind == ReportSession {
		delete(m.sessions, reportType.Session)
	}
	m.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	return writeMetricReportEntry(stagingRoot, device, producer, reportType, duration, snapshot)
}

// DumpAllReports snapshots every live report (heartbeats and every ongoing
// session) and writes non-empty ones as ASA artifacts. Sessions are removed
// once dumped.
func (m *ReportManager) DumpAllReports(stagingRoot string, device asa.DeviceIdentity, producer asa.ProducerIdentity) error {
	m.mu.Lock()
	type snap struct {
		reportType MetricReportType
		duration   time.Duration
		metrics    map[MetricStringKey]MetricValue
	}
	var snaps []snap
	for name, s := range m.sessions {
		duration, metrics := s.TakeSnapshot()
		snaps = append(snaps, snap{SessionReportType(name), duration, metrics})
		delete(m.sessions, name)
	}
	hbDuration, hbMetrics := m.heartbeat.TakeSnapshot()
	snaps = append(snaps, snap{HeartbeatReportType(), hbDuration, hbMetrics})
	dhDuration, dhMetrics := m.dailyHeartbeat.TakeSnapshot()
	snaps = append(snaps, snap{DailyHeartbeatReportType(), dhDuration, dhMetrics})
	m.mu.Unlock()

	for _, s := range snaps {
		if len(s.metrics) == 0 {
			if m.log != nil {
				m.log.Debug("skipping metric report with no metrics", map[string]interface{}{"report_type": s.reportType.String()})
			}
			continue
		}
		if err := writeMetricReportEntry(stagingRoot, device, producer, s.reportType, s.duration, s.metrics); err != nil {
			if m.log != nil {
				m.log.Error("failed to write metric report entry", map[string]interface{}{"report_type": s.reportType.String(), "error": err.Error()})
			}
		}
	}
	return nil
}

func writeMetricReportEntry(stagingRoot string, device asa.DeviceIdentity, producer asa.ProducerIdentity, reportType MetricReportType, duration time.Duration, snapshot map[MetricStringKey]MetricValue) error {
	builder, err := asa.NewBuilder(stagingRoot)
	if err != nil {
		return err
	}
	defer builder.Discard()

	now := time.Now().UTC()
	metrics := make(map[string]interface{}, len(snapshot))
	for k, v := range snapshot {
		metrics[k.String()] = v
	}

	builder.SetMetadata(asa.Metadata{
		Kind: asa.KindLinuxMetricReport,
		LinuxMetricReport: &asa.LinuxMetricReportPayload{
			ReportType: reportType.String(),
			Duration:   duration.Milliseconds(),
			StartTime:  now.Add(-duration),
			EndTime:    now,
			Metrics:    metrics,
		},
	})

	_, err = builder.Save(device, producer)
	return err
}
