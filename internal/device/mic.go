package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"voice-companion-client/internal/apperr"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/service/capture"
)

// MicConfig selects and configures the capture device.
type MicConfig struct {
	// DeviceName matches a device by substring; empty uses the default input.
	DeviceName      string
	SampleRate      int
	FramesPerBuffer int
}

// DefaultMicConfig captures 4096-sample frames at 48 kHz from the default input.
func DefaultMicConfig() MicConfig {
	return MicConfig{SampleRate: 48000, FramesPerBuffer: 4096}
}

// Mic is a mono PortAudio input stream.
type Mic struct {
	stream     stream
	buf        []float32
	sampleRate int
	release    func()
	logger     zerolog.Logger

	// mu serializes Read with Close so the stream is never closed mid-read.
	mu        sync.Mutex
	closed    atomic.Bool
	overflows atomic.Uint64
}

// OpenMic returns an opener for the PortAudio microphone. Any failure to
// reach the device is reported as a permission error.
func OpenMic(cfg MicConfig) capture.Opener {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultMicConfig().SampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultMicConfig().FramesPerBuffer
	}
	return func(ctx context.Context) (capture.Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mic, err := openMic(cfg)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPermission, "Microphone access denied or unavailable",
				fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err))
		}
		return mic, nil
	}
}

func openMic(cfg MicConfig) (*Mic, error) {
	if err := acquireHost(); err != nil {
		return nil, err
	}
	info, err := findDevice(cfg.DeviceName, true)
	if err != nil {
		releaseHost()
		return nil, fmt.Errorf("find input device: %w", err)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = 1
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	buf := make([]float32, cfg.FramesPerBuffer)
	s, err := portaudio.OpenStream(params, buf)
	if err != nil {
		releaseHost()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	mic := newMic(s, buf, cfg.SampleRate, releaseHost)
	if err := s.Start(); err != nil {
		_ = s.Close()
		releaseHost()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}
	mic.logger.Info().Str("device", info.Name).Int("sampleRate", cfg.SampleRate).Msg("Microphone opened")
	return mic, nil
}

// newMic wraps a started stream reading into buf.
func newMic(s stream, buf []float32, sampleRate int, release func()) *Mic {
	return &Mic{
		stream:     s,
		buf:        buf,
		sampleRate: sampleRate,
		release:    release,
		logger:     logging.WithComponent("mic"),
	}
}

// SampleRate returns the capture rate.
func (m *Mic) SampleRate() int {
	return m.sampleRate
}

// Read blocks for the next buffer from the device. Input overflows drop the
// lost samples and continue.
func (m *Mic) Read(ctx context.Context, buf []float32) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return 0, capture.ErrDeviceClosed
	}

	if err := m.stream.Read(); err != nil {
		if !isOverrun(err) {
			return 0, fmt.Errorf("read capture stream: %w", err)
		}
		if m.overflows.Add(1)%100 == 1 {
			m.logger.Warn().Uint64("overflows", m.overflows.Load()).Msg("Capture input overflowed")
		}
	}
	return copy(buf, m.buf), nil
}

// Close stops the stream. Safe to call more than once.
func (m *Mic) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stopErr := m.stream.Stop()
	closeErr := m.stream.Close()
	if m.release != nil {
		m.release()
	}
	if stopErr != nil {
		return fmt.Errorf("stop capture stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close capture stream: %w", closeErr)
	}
	return nil
}
