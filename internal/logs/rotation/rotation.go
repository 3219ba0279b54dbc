// Package rotation manages the single log file currently being written:
// tracking its size and age, compressing it with zlib as lines are
// appended, and rotating it out to a caller-supplied completion callback
// when it grows too large, gets too old, or is force-flushed.
package rotation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"

	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// CompletedLog describes a log file that has just been closed out and is
// ready to be promoted into a staged artifact by the caller.
type CompletedLog struct {
	Path        string
	Cid         string
	NextCid     string
	Compression string
	StartTime   time.Time
	EndTime     time.Time
}

// countingWriter tallies the uncompressed bytes written through it, so
// rotation can be triggered on logical size rather than requiring a stat
// of the (buffered, compressed) file on disk.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// LogFile is one open, in-progress log file: a zlib-compressed stream of
// newline-delimited JSON records.
type LogFile struct {
	path      string
	cid       string
	startedAt time.Time

	file    *os.File
	bufw    *bufio.Writer
	counter *countingWriter
	zw      *zlib.Writer
}

func openLogFile(dir, cid string, compressionLevel int) (*LogFile, error) {
	path := filepath.Join(dir, cid+".log.zlib")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, agenterrors.New(agenterrors.CodeLogRotationFailed, "failed to create log file").
			WithComponent("logs").WithOperation("openLogFile").WithCause(err).WithContext("path", path)
	}

	bufw := bufio.NewWriter(f)
	zw, err := zlib.NewWriterLevel(bufw, compressionLevel)
	if err != nil {
		f.Close()
		return nil, agenterrors.New(agenterrors.CodeLogRotationFailed, "failed to create zlib writer").
			WithComponent("logs").WithOperation("openLogFile").WithCause(err)
	}
	counter := &countingWriter{w: zw}

	return &LogFile{
		path:      path,
		cid:       cid,
		startedAt: time.Now(),
		file:      f,
		bufw:      bufw,
		counter:   counter,
		zw:        zw,
	}, nil
}

type wireLine struct {
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// WriteLog appends a synthetic agent-authored line (a headroom warning, a
// rate-limit notice, or a recovery message), as opposed to a structured
// line ingested from a source.
func (lf *LogFile) WriteLog(ts time.Time, level, message string) error {
	return lf.writeLine(wireLine{Timestamp: ts, Level: level, Data: map[string]interface{}{"MESSAGE": message}})
}

// WriteJSONLine appends an already-assembled structured log record.
func (lf *LogFile) WriteJSONLine(ts time.Time, data map[string]interface{}) error {
	return lf.writeLine(wireLine{Timestamp: ts, Data: data})
}

func (lf *LogFile) writeLine(line wireLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to marshal log line").
			WithComponent("logs").WithOperation("LogFile.writeLine").WithCause(err)
	}
	data = append(data, '\n')
	if _, err := lf.counter.Write(data); err != nil {
		return agenterrors.New(agenterrors.CodeLogRotationFailed, "failed to write log line").
			WithComponent("logs").WithOperation("LogFile.writeLine").WithCause(err)
	}
	return nil
}

// Flush pushes buffered bytes through the zlib and buffered-I/O layers to
// the underlying file, without closing the stream.
func (lf *LogFile) Flush() error {
	if err := lf.zw.Flush(); err != nil {
		return err
	}
	return lf.bufw.Flush()
}

// Size is the number of uncompressed bytes written so far.
func (lf *LogFile) Size() int64 { return lf.counter.n }

// Age is how long this file has been open, as of now.
func (lf *LogFile) Age(now time.Time) time.Duration { return now.Sub(lf.startedAt) }

func (lf *LogFile) close() error {
	if err := lf.zw.Close(); err != nil {
		lf.file.Close()
		return err
	}
	if err := lf.bufw.Flush(); err != nil {
		lf.file.Close()
		return err
	}
	return lf.file.Close()
}

// Controller owns the currently open LogFile and decides when it must be
// rotated out, implementing headroom.LogFileControl structurally (it is
// never imported by that package, only satisfied).
type Controller struct {
	dir              string
	rotateSize       int64
	rotateAfter      time.Duration
	compressionLevel int
	onCompletion     func(CompletedLog) error
	log              *logging.Logger

	current *LogFile
}

// Open creates the log temp directory if needed and opens the first log
// file, named by startCid (normally the next_cid recovered from a prior
// run, or a fresh UUID on a clean start).
func Open(dir, startCid string, rotateSize int64, rotateAfter time.Duration, compressionLevel int, onCompletion func(CompletedLog) error, log *logging.Logger) (*Controller, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, agenterrors.New(agenterrors.CodeInternal, "failed to create log temp directory").
			WithComponent("logs").WithOperation("rotation.Open").WithCause(err).WithContext("path", dir)
	}

	lf, err := openLogFile(dir, startCid, compressionLevel)
	if err != nil {
		return nil, err
	}

	return &Controller{
		dir:              dir,
		rotateSize:       rotateSize,
		rotateAfter:      rotateAfter,
		compressionLevel: compressionLevel,
		onCompletion:     onCompletion,
		log:              log,
		current:          lf,
	}, nil
}

// CurrentLog returns the file currently accepting writes.
func (c *Controller) CurrentLog() (*LogFile, error) {
	if c.current == nil {
		return nil, agenterrors.New(agenterrors.CodeInvalidState, "log controller has been closed").
			WithComponent("logs").WithOperation("Controller.CurrentLog")
	}
	return c.current, nil
}

// RotateIfNeeded rotates the current file if it has grown past rotateSize
// or aged past rotateAfter, returning whether a rotation happened.
func (c *Controller) RotateIfNeeded() (bool, error) {
	if c.current == nil {
		return false, nil
	}
	now := time.Now()
	if c.current.Size() < c.rotateSize && c.current.Age(now) < c.rotateAfter {
		return false, nil
	}
	return true, c.rotate(now)
}

// RotateUnlessEmpty force-rotates the current file (ignoring size/age
// thresholds) unless it has never had a line written to it, in which case
// it is left untouched; rotating an empty file would just produce an
// empty artifact.
func (c *Controller) RotateUnlessEmpty() (bool, error) {
	if c.current == nil || c.current.Size() == 0 {
		return false, nil
	}
	return true, c.rotate(time.Now())
}

func (c *Controller) rotate(now time.Time) error {
	closing := c.current
	if err := closing.close(); err != nil {
		return agenterrors.New(agenterrors.CodeLogRotationFailed, "failed to close rotating log file").
			WithComponent("logs").WithOperation("Controller.rotate").WithCause(err)
	}

	nextCid := uuid.New().String()
	next, err := openLogFile(c.dir, nextCid, c.compressionLevel)
	if err != nil {
		return err
	}
	c.current = next

	completed := CompletedLog{
		Path:        closing.path,
		Cid:         closing.cid,
		NextCid:     nextCid,
		Compression: "zlib",
		StartTime:   closing.startedAt,
		EndTime:     now,
	}
	if err := c.onCompletion(completed); err != nil {
		if c.log != nil {
			c.log.Warn("failed to promote rotated log file, deleting it", map[string]interface{}{
				"path": completed.Path, "cause": err.Error(),
			})
		}
		_ = os.Remove(completed.Path)
	}
	return nil
}

// Close flushes and closes the current file without opening a
// replacement: a non-empty file is handed to onCompletion like a normal
// rotation, an empty one is just discarded.
func (c *Controller) Close() error {
	if c.current == nil {
		return nil
	}
	closing := c.current
	c.current = nil

	if err := closing.close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	if closing.Size() == 0 {
		_ = os.Remove(closing.path)
		return nil
	}

	completed := CompletedLog{
		Path:        closing.path,
		Cid:         closing.cid,
		NextCid:     uuid.New().String(),
		Compression: "zlib",
		StartTime:   closing.startedAt,
		EndTime:     time.Now(),
	}
	if err := c.onCompletion(completed); err != nil {
		_ = os.Remove(completed.Path)
		return err
	}
	return nil
}
