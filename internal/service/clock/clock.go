// Package clock provides the timeline used to schedule playback and timers.
package clock

import (
	"time"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was stopped.
	Stop() bool
}

// Clock reports a monotonic position on the audio timeline and runs
// callbacks after a delay.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

// System is a Clock backed by the monotonic wall clock, measured from its creation.
type System struct {
	start time.Time
}

func NewSystem() *System {
	return &System{start: time.Now()}
}

func (c *System) Now() time.Duration {
	return time.Since(c.start)
}

func (c *System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
