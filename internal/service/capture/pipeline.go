// Package capture pulls fixed-size frames from the input device, feeds the
// level analyser and streams encoded frames to the agent while the
// connection is open.
package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/observability/metrics"
	"voice-companion-client/internal/service/analyser"
	"voice-companion-client/internal/service/pcm"
)

var (
	// ErrPermissionDenied is returned by device openers when the microphone
	// cannot be used.
	ErrPermissionDenied = errors.New("microphone access denied or unavailable")
	// ErrDeviceClosed is returned by Read after Close.
	ErrDeviceClosed = errors.New("capture device closed")
)

// Device is a live input device producing mono float samples.
type Device interface {
	SampleRate() int
	// Read fills buf with the next frame, blocking until it is available.
	Read(ctx context.Context, buf []float32) (int, error)
	Close() error
}

// Opener acquires a Device.
type Opener func(ctx context.Context) (Device, error)

// Sink receives encoded frames. IsOpen gates sending.
type Sink interface {
	IsOpen() bool
	SendAudio(ctx context.Context, msg models.OutboundAudio) error
}

// Config holds pipeline settings.
type Config struct {
	FrameSize        int
	TargetSampleRate int
}

// DefaultConfig returns 4096-sample frames resampled to 24 kHz.
func DefaultConfig() Config {
	return Config{
		FrameSize:        4096,
		TargetSampleRate: models.TargetSampleRate,
	}
}

// Pipeline owns the capture loop for one device.
type Pipeline struct {
	cfg      Config
	device   Device
	analyser *analyser.Analyser
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex
	sink    Sink
	onError func(error)
	cancel  context.CancelFunc
	done    chan struct{}

	frames atomic.Uint64
	sent   atomic.Uint64
}

// New creates a pipeline reading from device and writing levels to a.
func New(cfg Config, device Device, a *analyser.Analyser) *Pipeline {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultConfig().FrameSize
	}
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = models.TargetSampleRate
	}
	if a == nil {
		a = analyser.New()
	}
	return &Pipeline{
		cfg:      cfg,
		device:   device,
		analyser: a,
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithComponent("capture"),
	}
}

// Device returns the underlying device.
func (p *Pipeline) Device() Device {
	return p.device
}

// Analyser returns the capture-side analyser.
func (p *Pipeline) Analyser() *analyser.Analyser {
	return p.analyser
}

// SetSink attaches the connection frames are sent to. nil detaches it.
func (p *Pipeline) SetSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = s
}

// SetErrorHandler sets the callback for a device failure that ends the loop.
func (p *Pipeline) SetErrorHandler(f func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = f
}

// Frames returns the number of frames read from the device.
func (p *Pipeline) Frames() uint64 {
	return p.frames.Load()
}

// Sent returns the number of frames sent to the sink.
func (p *Pipeline) Sent() uint64 {
	return p.sent.Load()
}

// Start runs the capture loop in a goroutine. Calling Start on a running
// pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Capture loop stopped")
			p.mu.Lock()
			onError := p.onError
			p.mu.Unlock()
			if onError != nil {
				onError(err)
			}
		}
	}()
}

// Stop cancels the capture loop and waits for it to exit. Idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.sink = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	if p.done == done {
		p.cancel = nil
		p.done = nil
	}
	p.mu.Unlock()
}

// Running reports whether the capture loop is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Run reads frames until ctx is cancelled or the device fails. A closed
// device or cancelled context ends the loop without error.
func (p *Pipeline) Run(ctx context.Context) error {
	buf := make([]float32, p.cfg.FrameSize)
	srcRate := p.device.SampleRate()

	for {
		n, err := p.device.Read(ctx, buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrDeviceClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}
		frame := buf[:n]
		p.frames.Add(1)
		p.analyser.Write(frame)

		p.mu.Lock()
		sink := p.sink
		p.mu.Unlock()
		if sink == nil || !sink.IsOpen() {
			continue
		}

		out := pcm.Resample(frame, srcRate, p.cfg.TargetSampleRate)
		msg := models.NewOutboundAudio(pcm.EncodeBase64(out))
		if err := sink.SendAudio(ctx, msg); err != nil {
			p.metrics.RecordFrameSendError()
			p.logger.Debug().Err(err).Msg("Dropped captured frame")
			continue
		}
		p.sent.Add(1)
		p.metrics.RecordFrameSent(len(out) * pcm.BytesPerSample)
	}
}
