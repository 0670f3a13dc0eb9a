// Package clocktest wraps the benbjohnson mock clock so tests can tell when a
// goroutine under test has armed a timer. Advancing a mock clock before the
// timer is registered would otherwise race with the code being tested.
package clocktest

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is a mock clock that reports every timer it creates on Armed.
type Clock struct {
	*clock.Mock
	armed chan time.Duration
}

// New returns a mock clock starting at the Unix epoch.
func New() *Clock {
	return &Clock{Mock: clock.NewMock(), armed: make(chan time.Duration, 64)}
}

// Timer creates a mock timer and announces its duration.
func (c *Clock) Timer(d time.Duration) *clock.Timer {
	t := c.Mock.Timer(d)
	c.armed <- d
	return t
}

// AwaitTimer blocks until the code under test arms its next timer and returns
// the timer's duration. It fails the test after a real-time second.
func (c *Clock) AwaitTimer(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.armed:
		return d
	case <-time.After(time.Second):
		t.Fatal("no timer was armed")
		return 0
	}
}

// NoTimerArmed reports whether no timer has been armed within wait.
func (c *Clock) NoTimerArmed(wait time.Duration) bool {
	select {
	case <-c.armed:
		return false
	case <-time.After(wait):
		return true
	}
}
