package coredump

import (
	"encoding/json"
	"os"
	"time"

	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// RateLimiter bounds how many coredumps get captured within a sliding
// window, backed by a small state file on disk: the coredump handler runs
// as a freshly exec'd process per crash, so an in-memory counter can't
// survive between invocations the way it would for a long-running
// component.
type RateLimiter struct {
	path   string
	count  int
	window time.Duration
}

func NewRateLimiter(statePath string, count int, window time.Duration) *RateLimiter {
	return &RateLimiter{path: statePath, count: count, window: window}
}

type rateLimiterState struct {
	TimestampsUnix []int64 `json:"timestamps_unix"`
}

// Allow prunes timestamps older than the window, and reports whether a new
// invocation is allowed. When allowed, the current time is recorded so
// the next call sees it.
func (r *RateLimiter) Allow(now time.Time) (bool, error) {
	state, err := r.load()
	if err != nil {
		return false, err
	}

	cutoff := now.Add(-r.window).Unix()
	kept := state.TimestampsUnix[:0]
	for _, ts := range state.TimestampsUnix {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	state.TimestampsUnix = kept

	if len(state.TimestampsUnix) >= r.count {
		return false, r.save(state)
	}

	state.TimestampsUnix = append(state.TimestampsUnix, now.Unix())
	return true, r.save(state)
}

func (r *RateLimiter) load() (rateLimiterState, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return rateLimiterState{}, nil
	}
	if err != nil {
		return rateLimiterState{}, agenterrors.New(agenterrors.CodeInternal, "failed to read rate limiter state").
			WithComponent("coredump").WithOperation("RateLimiter.load").WithCause(err)
	}

	var state rateLimiterState
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt state file shouldn't block every future capture; start fresh.
		return rateLimiterState{}, nil
	}
	return state, nil
}

func (r *RateLimiter) save(state rateLimiterState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to marshal rate limiter state").
			WithComponent("coredump").WithOperation("RateLimiter.save").WithCause(err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to write rate limiter state").
			WithComponent("coredump").WithOperation("RateLimiter.save").WithCause(err)
	}
	return nil
}
