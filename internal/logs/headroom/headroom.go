// Package headroom guards log writing against running the filesystem out
// of bytes or inodes: it tracks a small Ok/Shortage state machine and
// drives the current log file to rotate (freeing space) when headroom
// drops below a configured minimum.
package headroom

import (
	"fmt"
	"time"

	"github.com/memfault/memfaultd-go/internal/disksize"
)

// LogFile is the minimal surface the limiter needs from whatever file is
// currently being written to, so this package never has to know about
// rotation.LogFile or zlib compression.
type LogFile interface {
	WriteLog(ts time.Time, level, message string) error
	Flush() error
}

// LogFileControl gives the limiter access to the current log file and the
// ability to force an early rotation when space is short.
type LogFileControl interface {
	CurrentLog() (LogFile, error)
	RotateIfNeeded() (bool, error)
}

// state is the Ok/Shortage machine described by the limiter's transition
// table. shortage == false means Ok; the other two fields are only
// meaningful while shortage is true.
type state struct {
	shortage       bool
	numDroppedLogs int
	hasRotated     bool
}

// Limiter enforces min_headroom against the filesystem holding the log
// temp directory.
type Limiter struct {
	state             state
	minHeadroom       disksize.DiskSize
	getAvailableSpace func() (disksize.DiskSize, error)
}

// NewLimiter builds a Limiter. getAvailableSpace is injected so tests can
// simulate disk pressure without touching a real filesystem.
func NewLimiter(minHeadroom disksize.DiskSize, getAvailableSpace func() (disksize.DiskSize, error)) *Limiter {
	return &Limiter{minHeadroom: minHeadroom, getAvailableSpace: getAvailableSpace}
}

// Check reports whether there is currently enough headroom to write a log
// line at ts, driving the state machine's transitions (and their side
// effects: warning lines, flushes, forced rotation, and a recovery line)
// along the way. It returns an error if the available space can't be read,
// if the current log file can't be obtained, or if writing the recovery
// line fails; warning-line and flush failures are swallowed since a line
// that can't be logged shouldn't also block the state transition.
func (l *Limiter) Check(ts time.Time, control LogFileControl) (bool, error) {
	available, err := l.getAvailableSpace()
	if err != nil {
		return false, err
	}
	hasHeadroom := available.Exceeds(l.minHeadroom)

	switch {
	case hasHeadroom && !l.state.shortage:
		// stays Ok

	case !hasHeadroom && !l.state.shortage:
		current, err := control.CurrentLog()
		if err != nil {
			return false, err
		}
		_ = current.WriteLog(ts, "WARN", shortageMessage(available, l.minHeadroom))
		_ = current.Flush()
		hasRotated, err := control.RotateIfNeeded()
		if err != nil {
			hasRotated = false
		}
		l.state = state{shortage: true, numDroppedLogs: 1, hasRotated: hasRotated}

	case !hasHeadroom && l.state.shortage:
		hasRotated := l.state.hasRotated
		if !hasRotated {
			rotated, err := control.RotateIfNeeded()
			if err == nil {
				hasRotated = rotated
			}
		}
		l.state = state{shortage: true, numDroppedLogs: l.state.numDroppedLogs + 1, hasRotated: hasRotated}

	case hasHeadroom && l.state.shortage:
		current, err := control.CurrentLog()
		if err != nil {
			return false, err
		}
		msg := fmt.Sprintf("Recovered from low disk space. Dropped %d logs.", l.state.numDroppedLogs)
		if err := current.WriteLog(ts, "INFO", msg); err != nil {
			return false, err
		}
		l.state = state{}
	}

	return hasHeadroom, nil
}

func shortageMessage(available, minHeadroom disksize.DiskSize) string {
	bytesShort := available.Bytes < minHeadroom.Bytes
	inodesShort := available.Inodes < minHeadroom.Inodes
	switch {
	case bytesShort && inodesShort:
		return "Low on disk space and inodes. Starting to drop logs..."
	case bytesShort:
		return "Low on disk space. Starting to drop logs..."
	case inodesShort:
		return "Low on inodes. Starting to drop logs..."
	default:
		// hasHeadroom was already false via Exceeds, so one of the above
		// must hold; this is unreachable in practice.
		return "Low on disk space. Starting to drop logs..."
	}
}
