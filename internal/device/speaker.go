package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/service/analyser"
	"voice-companion-client/internal/service/playback"
)

// SpeakerConfig selects and configures the playback device.
type SpeakerConfig struct {
	DeviceName      string
	SampleRate      int
	FramesPerBuffer int
}

// DefaultSpeakerConfig renders 24 kHz mono in 1024-sample buffers.
func DefaultSpeakerConfig() SpeakerConfig {
	return SpeakerConfig{SampleRate: models.TargetSampleRate, FramesPerBuffer: 1024}
}

// Speaker is a mono PortAudio output. Buffers handed to Play are queued and
// written by a single writer goroutine, which feeds the analyser with what
// is actually rendered.
type Speaker struct {
	stream   stream
	buf      []float32
	analyser *analyser.Analyser
	release  func()
	logger   zerolog.Logger

	mu     sync.Mutex
	queue  []float32
	closed bool

	done chan struct{}
	quit chan struct{}
}

// OpenSpeaker returns an opener for the PortAudio speaker.
func OpenSpeaker(cfg SpeakerConfig) func(ctx context.Context, a *analyser.Analyser) (playback.Output, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSpeakerConfig().SampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultSpeakerConfig().FramesPerBuffer
	}
	return func(ctx context.Context, a *analyser.Analyser) (playback.Output, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return openSpeaker(cfg, a)
	}
}

func openSpeaker(cfg SpeakerConfig, a *analyser.Analyser) (*Speaker, error) {
	if err := acquireHost(); err != nil {
		return nil, err
	}
	info, err := findDevice(cfg.DeviceName, false)
	if err != nil {
		releaseHost()
		return nil, fmt.Errorf("find output device: %w", err)
	}

	params := portaudio.LowLatencyParameters(nil, info)
	params.Input.Device = nil
	params.Input.Channels = 0
	params.Output.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	buf := make([]float32, cfg.FramesPerBuffer)
	s, err := portaudio.OpenStream(params, buf)
	if err != nil {
		releaseHost()
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		releaseHost()
		return nil, fmt.Errorf("start playback stream: %w", err)
	}
	sp := newSpeaker(s, buf, a, releaseHost)
	sp.logger.Info().Str("device", info.Name).Int("sampleRate", cfg.SampleRate).Msg("Speaker opened")
	return sp, nil
}

// newSpeaker starts the writer for a started stream writing from buf.
func newSpeaker(s stream, buf []float32, a *analyser.Analyser, release func()) *Speaker {
	sp := &Speaker{
		stream:   s,
		buf:      buf,
		analyser: a,
		release:  release,
		logger:   logging.WithComponent("speaker"),
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
	go sp.writeLoop()
	return sp
}

// Play queues samples behind anything still pending.
func (s *Speaker) Play(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return playback.ErrOutputClosed
	}
	s.queue = append(s.queue, samples...)
	return nil
}

// Stop drops queued audio. The buffer being written finishes.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// Pending returns the number of queued samples.
func (s *Speaker) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops the writer and the stream. Safe to call more than once.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	close(s.quit)
	<-s.done

	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if s.release != nil {
		s.release()
	}
	if stopErr != nil {
		return fmt.Errorf("stop playback stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close playback stream: %w", closeErr)
	}
	return nil
}

// writeLoop keeps the stream fed, padding with silence when the queue is
// empty. Write blocks for one buffer period, which paces the loop.
func (s *Speaker) writeLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		default:
		}

		n := s.fill()
		if n > 0 && s.analyser != nil {
			s.analyser.Write(s.buf[:n])
		}
		if err := s.stream.Write(); err != nil && !isOverrun(err) {
			s.logger.Error().Err(err).Msg("Playback stream failed")
			return
		}
	}
}

// fill copies the next queued samples into the stream buffer and returns how
// many were real audio.
func (s *Speaker) fill() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(s.buf, s.queue)
	s.queue = s.queue[n:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	clear(s.buf[n:])
	return n
}
