// Package collector orchestrates structured log ingestion: applying
// log-to-metrics rules, enforcing headroom and rate limits, writing
// accepted lines to the current rotating log file, and staging rotated
// files as artifacts ready for upload.
package collector

import (
	"strconv"
	"sync"
	"time"

	"github.com/memfault/memfaultd-go/internal/asa"
	"github.com/memfault/memfaultd-go/internal/config"
	"github.com/memfault/memfaultd-go/internal/disksize"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/internal/logs/headroom"
	"github.com/memfault/memfaultd-go/internal/logs/recovery"
	"github.com/memfault/memfaultd-go/internal/logs/rotation"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// Identity carries the device and producer fields a promoted artifact's
// manifest needs, passed straight through from the agent's own identity.
type Identity struct {
	Device   asa.DeviceIdentity
	Producer asa.ProducerIdentity
}

// Collector is the C7 pipeline: one per configured log temp directory.
type Collector struct {
	mu sync.Mutex

	rotation     *rotation.Controller
	headroom     *headroom.Limiter
	rateLimiter  *RateLimiter
	logToMetrics *LogToMetrics
	levelMapper  *LevelMapper

	stagingRoot string
	identity    Identity
	onArtifact  func(asa.Entry)
	log         *logging.Logger
}

// New recovers any log files left behind by a previous run, opens a fresh
// current log file, and wires up rate limiting, headroom checking, and
// log-to-metrics translation per cfg. onArtifact is called every time a log
// file is rotated out and staged as an entry, including entries recovered
// from a prior crash; rotations done by ProcessLogRecord, Tick and Close
// call it with the collector's lock held.
func New(cfg config.LogsConfig, stagingRoot string, identity Identity, incrementCounter func(name string, value float64) error, onArtifact func(asa.Entry), log *logging.Logger) (*Collector, error) {
	c := &Collector{
		stagingRoot: stagingRoot,
		identity:    identity,
		onArtifact:  onArtifact,
		log:         log,
		rateLimiter: NewRateLimiter(cfg.MaxLinesPerMinute),
		levelMapper: NewLevelMapper(),
	}

	logToMetrics, err := NewLogToMetrics(cfg.LogToMetricRules, incrementCounter)
	if err != nil {
		return nil, err
	}
	c.logToMetrics = logToMetrics

	nextCid, err := recovery.Run(cfg.TmpPath, func(r recovery.Recovered) error {
		return c.promote(rotation.CompletedLog{
			Path:        r.Path,
			Cid:         r.Cid,
			NextCid:     r.NextCid,
			Compression: r.Compression,
		})
	})
	if err != nil {
		return nil, err
	}

	compressionLevel := 0
	if cfg.CompressOnRotate {
		compressionLevel = 6
	}

	ctrl, err := rotation.Open(cfg.TmpPath, nextCid, cfg.RotateSizeBytes, cfg.RotateAfter, compressionLevel, c.promote, log)
	if err != nil {
		return nil, err
	}
	c.rotation = ctrl

	minHeadroom := disksize.DiskSize{Bytes: uint64(cfg.MinHeadroomBytes), Inodes: uint64(cfg.MinHeadroomInodes)}
	c.headroom = headroom.NewLimiter(minHeadroom, func() (disksize.DiskSize, error) {
		return disksize.Available(cfg.TmpPath)
	})

	return c, nil
}

// controlAdapter narrows *rotation.Controller down to headroom.LogFileControl.
// *rotation.LogFile already satisfies headroom.LogFile structurally, so only
// the CurrentLog return type needs widening here.
type controlAdapter struct{ c *rotation.Controller }

func (a controlAdapter) CurrentLog() (headroom.LogFile, error) { return a.c.CurrentLog() }
func (a controlAdapter) RotateIfNeeded() (bool, error)         { return a.c.RotateIfNeeded() }

// ProcessLogRecord runs one structured log line through the full pipeline:
// log-to-metrics, headroom, pre-write rotation, rate-limited write, and
// post-write rotation.
func (c *Collector) ProcessLogRecord(ts time.Time, data map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.logToMetrics.Process(data); err != nil && c.log != nil {
		c.log.Warn("log-to-metrics rule failed", map[string]interface{}{"cause": err.Error()})
	}

	hasHeadroom, err := c.headroom.Check(ts, controlAdapter{c.rotation})
	if err != nil {
		return err
	}
	if !hasHeadroom {
		return nil
	}

	if _, err := c.rotation.RotateIfNeeded(); err != nil {
		return err
	}

	admitted, suppressed := c.rateLimiter.Admit(ts)
	if !admitted {
		return nil
	}

	lf, err := c.rotation.CurrentLog()
	if err != nil {
		return err
	}
	if suppressed > 0 {
		if err := lf.WriteLog(ts, "WARN", rateLimitedMessage(suppressed)); err != nil {
			return err
		}
	}
	if err := lf.WriteJSONLine(ts, c.tagLevel(data)); err != nil {
		return err
	}

	_, err = c.rotation.RotateIfNeeded()
	return err
}

// Close flushes and stages the current log file without opening a
// replacement. Safe to call once, at shutdown.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rotation.Close()
}

// Tick is the periodic maintenance hook a scheduler calls once per cycle:
// a forced cycle (e.g. a forced sync) rotates and stages the current log
// file even if it hasn't hit its size or age threshold, so anything
// buffered goes out with that sync; an ordinary cycle only rotates once
// the configured threshold is actually crossed.
func (c *Collector) Tick(forced bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if forced {
		_, err := c.rotation.RotateUnlessEmpty()
		return err
	}
	_, err := c.rotation.RotateIfNeeded()
	return err
}

// promote is the completion callback handed to both rotation.Controller
// and recovery.Run: it builds a staged entry for a file that's done being
// written to and hands it to onArtifact.
func (c *Collector) promote(cl rotation.CompletedLog) error {
	b, err := asa.NewBuilder(c.stagingRoot)
	if err != nil {
		return err
	}
	defer b.Discard()

	b.AddAttachment(cl.Path)
	b.SetMetadata(asa.Metadata{
		Kind:               asa.KindLinuxLogs,
		AttachmentFilename: cl.Cid + ".log.zlib",
		CompressionTag:     cl.Compression,
		LinuxLogs: &asa.LinuxLogsPayload{
			StartTime: cl.StartTime,
			EndTime:   cl.EndTime,
			CidBegin:  cl.Cid,
			NextCid:   cl.NextCid,
		},
	})

	entry, err := b.Save(c.identity.Device, c.identity.Producer)
	if err != nil {
		return agenterrors.New(agenterrors.CodeLogRotationFailed, "failed to stage rotated log file").
			WithComponent("logs").WithOperation("Collector.promote").WithCause(err).WithContext("path", cl.Path)
	}

	if c.onArtifact != nil {
		c.onArtifact(entry)
	}
	return nil
}

// tagLevel strips a severity token out of MESSAGE (if any rule matches)
// and records the matched level, leaving every other field untouched. It
// never mutates the caller's map.
func (c *Collector) tagLevel(data map[string]interface{}) map[string]interface{} {
	message, ok := data["MESSAGE"].(string)
	if !ok {
		return data
	}
	level, stripped := c.levelMapper.Map(message)

	tagged := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		tagged[k] = v
	}
	tagged["MESSAGE"] = stripped
	tagged["LEVEL"] = level.String()
	return tagged
}

func rateLimitedMessage(suppressed int) string {
	if suppressed == 1 {
		return "Memfaultd rate limited 1 message."
	}
	return "Memfaultd rate limited " + strconv.Itoa(suppressed) + " messages."
}
