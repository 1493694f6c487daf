package playback

import (
	"sync"

	"voice-companion-client/internal/service/analyser"
)

// Output renders buffers the scheduler starts. Play is called at a buffer's
// start instant and must not block for the buffer's duration.
type Output interface {
	Play(samples []float32) error
	// Stop silences anything already handed to Play.
	Stop()
	Close() error
}

// NullOutput discards audio, feeding it to an analyser only. Used when no
// speaker is configured.
type NullOutput struct {
	mu       sync.Mutex
	analyser *analyser.Analyser
	played   int
	stops    int
	closed   bool
}

func NewNullOutput(a *analyser.Analyser) *NullOutput {
	return &NullOutput{analyser: a}
}

func (o *NullOutput) Play(samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOutputClosed
	}
	o.played++
	if o.analyser != nil {
		o.analyser.Write(samples)
	}
	return nil
}

func (o *NullOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
}

func (o *NullOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// Played returns the number of buffers handed to Play.
func (o *NullOutput) Played() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.played
}

// Stops returns the number of Stop calls.
func (o *NullOutput) Stops() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stops
}
