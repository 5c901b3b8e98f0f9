package monitoring

import (
	"time"

	"github.com/banshee-data/lateral.plan/internal/timeutil"
)

// Throttle admits at most one event per interval of clock time. The first
// call always passes. It is not safe for concurrent use; each tick owner
// keeps its own.
type Throttle struct {
	clock    timeutil.Clock
	interval time.Duration
	last     time.Time
	started  bool
	dropped  int
}

// NewThrottle returns a Throttle driven by clock. A nil clock uses the real
// clock.
func NewThrottle(clock timeutil.Clock, interval time.Duration) *Throttle {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Throttle{clock: clock, interval: interval}
}

// Allow reports whether an event may be emitted now, and records it if so.
func (t *Throttle) Allow() bool {
	now := t.clock.Now()
	if t.started && now.Sub(t.last) <= t.interval {
		t.dropped++
		return false
	}
	t.started = true
	t.last = now
	return true
}

// Dropped returns the number of events suppressed since the last admitted one.
func (t *Throttle) Dropped() int {
	return t.dropped
}

// Printf logs through Opsf when the throttle admits the event. The count of
// suppressed events is appended so that bursts stay visible.
func (t *Throttle) Printf(format string, args ...interface{}) bool {
	dropped := t.dropped
	if !t.Allow() {
		return false
	}
	t.dropped = 0
	if dropped > 0 {
		Opsf(format+" (suppressed %d)", append(args, dropped)...)
	} else {
		Opsf(format, args...)
	}
	return true
}
