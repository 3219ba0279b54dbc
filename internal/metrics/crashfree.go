package metrics

import (
	"sync"
	"time"
)

// CrashFreeIntervalTracker counts elapsed operational intervals (typically
// hours) and, separately, how many of those intervals passed without a
// crash. Crashes are reported via CaptureCrash from any goroutine; the
// interval math lives entirely in WaitAndUpdate, called from one
// goroutine's loop.
type CrashFreeIntervalTracker struct {
	mu sync.Mutex

	interval         time.Duration
	lastMark         time.Time
	lastCrashfreeMark time.Time
	crashCount       uint32

	crashes chan time.Time
	now     func() time.Time

	elapsedIntervalsKey  string
	crashfreeIntervalsKey string
	crashCountKey        string

	manager *ReportManager
}

// NewHourlyCrashFreeIntervalTracker creates a tracker with an hourly
// interval reporting the standard operational/crashfree-hours/crashes
// counters.
func NewHourlyCrashFreeIntervalTracker(manager *ReportManager) *CrashFreeIntervalTracker {
	return NewCrashFreeIntervalTracker(time.Hour, MetricOperationalHours, MetricOperationalCrashfreeHours, MetricOperationalCrashes, manager)
}

// NewCrashFreeIntervalTracker creates a tracker with a custom interval and
// counter names.
func NewCrashFreeIntervalTracker(interval time.Duration, elapsedIntervalsKey, crashfreeIntervalsKey, crashCountKey string, manager *ReportManager) *CrashFreeIntervalTracker {
	now := time.Now()
	return &CrashFreeIntervalTracker{
		interval:              interval,
		lastMark:              now,
		lastCrashfreeMark:     now,
		crashes:               make(chan time.Time, 64),
		now:                   time.Now,
		elapsedIntervalsKey:   elapsedIntervalsKey,
		crashfreeIntervalsKey: crashfreeIntervalsKey,
		crashCountKey:         crashCountKey,
		manager:               manager,
	}
}

// CaptureCrash records a crash timestamp, to be picked up by the next
// WaitAndUpdate call (or immediately, if one is currently waiting).
func (t *CrashFreeIntervalTracker) CaptureCrash() {
	select {
	case t.crashes <- t.now():
	default:
		// channel full: count the crash directly so a burst beyond the
		// buffer is still reflected in crashCount; a waiting WaitAndUpdate
		// is already woken by what the channel holds.
		t.recordCrash(t.now())
	}
}

// WaitAndUpdate blocks for up to waitDuration, returning early the instant a
// crash is captured, then always updates the interval counters — so metrics
// reflect crashes immediately but are also refreshed periodically even if
// none occur.
func (t *CrashFreeIntervalTracker) WaitAndUpdate(waitDuration time.Duration) error {
	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case crashTS := <-t.crashes:
		t.recordCrash(crashTS)
		t.drainCrashes()
	case <-timer.C:
	}

	return t.update()
}

func (t *CrashFreeIntervalTracker) drainCrashes() {
	for {
		select {
		case crashTS := <-t.crashes:
			t.recordCrash(crashTS)
		default:
			return
		}
	}
}

func (t *CrashFreeIntervalTracker) recordCrash(crashTS time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.crashCount++
	if crashTS.After(t.lastCrashfreeMark) {
		t.lastCrashfreeMark = crashTS
	}
}

func (t *CrashFreeIntervalTracker) update() error {
	t.mu.Lock()
	elapsedCount, elapsedMark := fullIntervalsElapsedSince(t.interval, t.lastMark, t.now())
	crashfreeCount, crashfreeMark := fullIntervalsElapsedSince(t.interval, t.lastCrashfreeMark, t.now())

	t.lastMark = elapsedMark
	t.lastCrashfreeMark = crashfreeMark
	crashes := t.crashCount
	t.crashCount = 0
	t.mu.Unlock()

	if t.manager == nil {
		return nil
	}
	if err := t.manager.AddToCounter(t.elapsedIntervalsKey, float64(elapsedCount)); err != nil {
		return err
	}
	if err := t.manager.AddToCounter(t.crashfreeIntervalsKey, float64(crashfreeCount)); err != nil {
		return err
	}
	return t.manager.AddToCounter(t.crashCountKey, float64(crashes))
}

// fullIntervalsElapsedSince counts how many full interval-widths have
// elapsed between since and now, and returns the timestamp marking the end
// of the last one counted — the value to pass as "since" next time. If
// since is in the future (clock skew), no intervals are counted and the
// mark resets to now.
func fullIntervalsElapsedSince(interval time.Duration, since, now time.Time) (uint32, time.Time) {
	if since.After(now) {
		return 0, now
	}
	elapsed := now.Sub(since)
	count := uint32(elapsed / interval)
	return count, since.Add(interval * time.Duration(count))
}
