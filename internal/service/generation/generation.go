// Package generation provides the response generation counter used to discard
// audio that belongs to an interrupted agent turn.
package generation

import (
	"strconv"
	"sync/atomic"
)

// Generation identifies one agent turn. Every inbound audio chunk and every
// scheduled playback buffer carries the generation current when it was created.
type Generation uint64

func (g Generation) String() string {
	return strconv.FormatUint(uint64(g), 10)
}

// Counter is a monotonic generation counter. Safe for concurrent use.
type Counter struct {
	current atomic.Uint64
}

func New() *Counter {
	return &Counter{}
}

// Current returns the active generation.
func (c *Counter) Current() Generation {
	return Generation(c.current.Load())
}

// Next bumps the counter and returns the new generation.
func (c *Counter) Next() Generation {
	return Generation(c.current.Add(1))
}

// IsCurrent reports whether g is still the active generation.
func (c *Counter) IsCurrent(g Generation) bool {
	return c.Current() == g
}

// Reset returns the counter to zero. Only used when a session is torn down.
func (c *Counter) Reset() {
	c.current.Store(0)
}
