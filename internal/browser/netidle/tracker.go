// Package netidle implements the quiet-window heuristic used to decide that a
// page has settled: no network response observed for a configured duration.
package netidle

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Tracker records the time of the most recent network response event.
type Tracker struct {
	clock clock.Clock

	mu       sync.Mutex
	last     time.Time
	observed int64
}

// NewTracker returns a tracker driven by clk. A nil clk uses the wall clock.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{clock: clk}
}

// Observe records a response event at the current time. It is safe to call
// from CDP event listeners.
func (t *Tracker) Observe() {
	now := t.clock.Now()
	t.mu.Lock()
	t.last = now
	t.observed++
	t.mu.Unlock()
}

// Observed returns the number of events recorded so far.
func (t *Tracker) Observed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observed
}

func (t *Tracker) lastEvent() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Wait blocks until quiet has elapsed since the later of the call's start and
// the last observed event. Every event seen before the window closes pushes
// the deadline out again. There is no upper bound; ctx is the only ceiling.
func (t *Tracker) Wait(ctx context.Context, quiet time.Duration) error {
	start := t.clock.Now()
	for {
		since := start
		if last := t.lastEvent(); last.After(since) {
			since = last
		}
		remaining := since.Add(quiet).Sub(t.clock.Now())
		if remaining <= 0 {
			return nil
		}

		timer := t.clock.Timer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
