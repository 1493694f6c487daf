package device

import (
	"context"
	"sync"
	"time"

	"voice-companion-client/internal/service/capture"
)

// Silence is a capture device producing zero samples in real time, for runs
// without a microphone.
type Silence struct {
	sampleRate int
	closed     chan struct{}
	once       sync.Once
}

// OpenSilence returns an opener for a silent input at sampleRate.
func OpenSilence(sampleRate int) capture.Opener {
	return func(ctx context.Context) (capture.Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewSilence(sampleRate), nil
	}
}

func NewSilence(sampleRate int) *Silence {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Silence{sampleRate: sampleRate, closed: make(chan struct{})}
}

func (s *Silence) SampleRate() int {
	return s.sampleRate
}

func (s *Silence) Read(ctx context.Context, buf []float32) (int, error) {
	d := time.Duration(len(buf)) * time.Second / time.Duration(s.sampleRate)
	if err := wait(ctx, s.closed, d); err != nil {
		return 0, err
	}
	clear(buf)
	return len(buf), nil
}

func (s *Silence) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
