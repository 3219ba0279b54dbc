// Package agent runs the device-resident scheduler: one loop that ticks
// sync tasks (log rotation, coredump/metric housekeeping, ...), reclaims
// staging-area disk budget, and drives the uploader, all under a single
// signal-driven stop/reload/force-sync condition.
package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/memfault/memfaultd-go/internal/asa"
	"github.com/memfault/memfaultd-go/internal/disksize"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/internal/reboot"
	"github.com/memfault/memfaultd-go/internal/upload"
)

// errorRetryBaseline is the fixed first-retry delay after a failing cycle.
// It is not exposed via config, matching the production default on the
// device.
const errorRetryBaseline = 60 * time.Second

// forcedSyncOnlyPeriod is the loop's own tick cadence when upload_interval
// is zero: uploads then only ever happen on a forced sync, but the loop
// still needs to run periodically to drive the staging-area cleaner.
const forcedSyncOnlyPeriod = 15 * time.Minute

// ExitAction tells the caller what to do once Run returns.
type ExitAction int

const (
	// Terminate means the process should exit.
	Terminate ExitAction = iota
	// Relaunch means SIGHUP asked for a config reload; the caller should
	// reread configuration and start a fresh Agent.
	Relaunch
)

// SyncTask is one unit of per-cycle work, dispatched with forced set when
// the cycle was triggered by a forced sync (SIGUSR1) rather than the
// regular schedule. Sync tasks are collected in a plain slice rather than
// behind a shared interface so the loop can dispatch over heterogeneous
// collectors (logs, coredumps, metrics, ...) without any of them knowing
// about each other.
type SyncTask struct {
	Name string
	Run  func(forced bool) error
}

// ShutdownTask runs once, after the loop has stopped, in registration
// order. Errors are logged, not propagated: one task's failure must not
// stop the rest from getting a chance to run during shutdown.
type ShutdownTask struct {
	Name string
	Run  func() error
}

// Config carries the scheduler's timing and data-collection knobs.
type Config struct {
	UploadInterval              time.Duration
	DeviceConfigRefreshInterval time.Duration
	DataCollectionEnabled       bool
}

// Agent owns the main loop: signal handling, the sync/shutdown task
// dispatch lists, staging-area cleanup, and the uploader.
type Agent struct {
	cfg           Config
	cleaner       *asa.Cleaner
	uploader      *upload.Uploader
	rebootTracker *reboot.Tracker
	log           *logging.Logger

	refreshDeviceConfig func() error
	readyCallback       func() error

	syncTasks     []SyncTask
	shutdownTasks []ShutdownTask

	term      atomic.Bool
	reload    atomic.Bool
	forceSync atomic.Bool
	wake      chan struct{}

	lastConfigRefresh time.Time
}

// New builds an Agent. cleaner, uploader and rebootTracker are required
// collaborators already wired by the caller; sync and shutdown tasks are
// registered afterward with AddSyncTask/AddShutdownTask.
func New(cfg Config, cleaner *asa.Cleaner, uploader *upload.Uploader, rebootTracker *reboot.Tracker, log *logging.Logger) *Agent {
	return &Agent{
		cfg:           cfg,
		cleaner:       cleaner,
		uploader:      uploader,
		rebootTracker: rebootTracker,
		log:           log,
		wake:          make(chan struct{}, 1),
	}
}

// AddSyncTask registers a per-cycle task, run in registration order.
func (a *Agent) AddSyncTask(name string, run func(forced bool) error) {
	a.syncTasks = append(a.syncTasks, SyncTask{Name: name, Run: run})
}

// AddShutdownTask registers a task run once after the loop stops.
func (a *Agent) AddShutdownTask(name string, run func() error) {
	a.shutdownTasks = append(a.shutdownTasks, ShutdownTask{Name: name, Run: run})
}

// SetRefreshDeviceConfig wires the (optional) device-config refresh call.
// Fetching and merging remote config is an external collaborator's job;
// the agent only needs to know when to ask it to run.
func (a *Agent) SetRefreshDeviceConfig(fn func() error) {
	a.refreshDeviceConfig = fn
}

// SetReadyCallback wires a hook invoked once, after reboot tracking and
// before the loop starts. Unlike every other hook here its error is fatal:
// a failure aborts startup instead of being logged and carried on from.
func (a *Agent) SetReadyCallback(fn func() error) {
	a.readyCallback = fn
}

// RequestForceSync marks the next cycle as forced, as if SIGUSR1 had been
// received. Exposed for callers that want to trigger a sync programmatically
// (e.g. a local HTTP endpoint) rather than only via a signal.
func (a *Agent) RequestForceSync() {
	a.forceSync.Store(true)
	a.notifyWake()
}

func (a *Agent) notifyWake() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run starts signal handling, tracks the current boot, and runs the main
// loop until a stop or reload signal is observed. It returns once the loop
// has drained: shutdown tasks have already run by the time Run returns.
func (a *Agent) Run(ctx context.Context) (ExitAction, error) {
	stopSignals := a.startSignalWatcher()
	defer stopSignals()

	if err := a.rebootTracker.TrackReboot(a.cfg.DataCollectionEnabled); err != nil && a.log != nil {
		a.log.Error("reboot tracking failed", map[string]interface{}{"error": err.Error()})
	}

	if a.readyCallback != nil {
		if err := a.readyCallback(); err != nil {
			return Terminate, err
		}
	}

	forcedSyncOnly := a.cfg.UploadInterval <= 0
	period := a.cfg.UploadInterval
	if forcedSyncOnly {
		period = forcedSyncOnlyPeriod
	}

	clock := systemClock{wake: a.wake}
	condition := a.condition()
	work := a.work(ctx, forcedSyncOnly)

	runLoopWithBackoff(clock, period, errorRetryBaseline, condition, work)

	for _, task := range a.shutdownTasks {
		if err := task.Run(); err != nil && a.log != nil {
			a.log.Error("shutdown task failed", map[string]interface{}{"task": task.Name, "error": err.Error()})
		}
	}

	if a.reload.Load() {
		return Relaunch, nil
	}
	return Terminate, nil
}

// condition reports Stop once term or reload has been observed, and
// RerunImmediately whenever a forced sync is pending — read fresh on every
// call so a signal arriving mid-cycle is picked up without waiting out a
// sleep that's already in progress.
func (a *Agent) condition() func() Continuation {
	return func() Continuation {
		if a.term.Load() || a.reload.Load() {
			return Stop
		}
		if a.forceSync.Load() {
			return RerunImmediately
		}
		return KeepRunning
	}
}

// work runs exactly one cycle: it consumes the force-sync flag first (so a
// signal that arrives during the cycle is independently re-observed by
// condition afterward), optionally refreshes device config, dispatches
// every sync task, reclaims staging-area budget, and finally uploads
// whatever is ready.
func (a *Agent) work(ctx context.Context, forcedSyncOnly bool) func() error {
	return func() error {
		forced := a.forceSync.Swap(false)

		refreshDue := a.cfg.DeviceConfigRefreshInterval > 0 &&
			time.Since(a.lastConfigRefresh) >= a.cfg.DeviceConfigRefreshInterval
		if a.cfg.DataCollectionEnabled && ((!forcedSyncOnly && refreshDue) || forced) {
			a.runDeviceConfigRefresh()
		}

		for _, task := range a.syncTasks {
			if err := task.Run(forced); err != nil && a.log != nil {
				a.log.Error("sync task failed", map[string]interface{}{"task": task.Name, "error": err.Error()})
			}
		}

		if _, err := a.cleaner.Clean(disksize.ZERO); err != nil && a.log != nil {
			a.log.Error("staging area cleanup failed", map[string]interface{}{"error": err.Error()})
		}

		if (a.cfg.DataCollectionEnabled && !forcedSyncOnly) || forced {
			if err := a.uploader.Run(ctx); err != nil {
				if a.log != nil {
					a.log.Warn("upload run failed", map[string]interface{}{"error": err.Error()})
				}
				return err
			}
		}
		return nil
	}
}

func (a *Agent) runDeviceConfigRefresh() {
	if a.refreshDeviceConfig == nil {
		a.lastConfigRefresh = time.Now()
		return
	}
	if err := a.refreshDeviceConfig(); err != nil {
		if a.log != nil {
			a.log.Warn("device config refresh failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	a.lastConfigRefresh = time.Now()
}
