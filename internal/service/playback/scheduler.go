// Package playback schedules decoded agent audio back-to-back on an audio
// timeline and drops buffers that belong to an interrupted response.
package playback

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/observability/metrics"
	"voice-companion-client/internal/service/clock"
	"voice-companion-client/internal/service/generation"
	"voice-companion-client/internal/service/pcm"
)

var (
	ErrEmptyChunk      = errors.New("audio chunk has no samples")
	ErrStaleGeneration = errors.New("audio chunk belongs to a previous response")
	ErrOutputClosed    = errors.New("playback output closed")
)

// Interruption causes.
const (
	CauseBargeIn     = "barge_in"
	CauseNewResponse = "new_response"
	CauseClose       = "close"
)

// Chunk is decoded agent audio stamped with the generation active on arrival.
type Chunk struct {
	Samples    []float32
	Generation generation.Generation
}

// Source is a scheduled buffer on the timeline.
type Source struct {
	ID         uint64
	Generation generation.Generation
	StartAt    time.Duration
	EndAt      time.Duration

	samples    []float32
	started    bool
	startTimer clock.Timer
	endTimer   clock.Timer
}

// Duration returns the buffer length.
func (s *Source) Duration() time.Duration {
	return s.EndAt - s.StartAt
}

// Config holds scheduler settings.
type Config struct {
	SampleRate int
	Jitter     time.Duration
}

// DefaultConfig returns the 24 kHz / 20 ms jitter configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate: models.TargetSampleRate,
		Jitter:     20 * time.Millisecond,
	}
}

// Scheduler owns the playback timeline. It is not safe for concurrent use:
// every method, and every timer callback routed through the dispatch hook,
// must run on the session's event loop.
//
// Timeline rules:
//   - a new buffer starts at max(now + jitter, cursor) and the cursor moves to its end
//   - a buffer whose generation is no longer current when its start instant
//     arrives is discarded instead of played
//   - Interrupt stops every active buffer, resets the cursor to now and bumps
//     the generation
type Scheduler struct {
	cfg      Config
	clock    clock.Clock
	output   Output
	counter  *generation.Counter
	dispatch func(func())
	onIdle   func(generation.Generation)
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	cursor time.Duration
	active map[uint64]*Source
	nextID uint64
}

// NewScheduler creates a scheduler rendering to output. Timer callbacks run
// directly until SetDispatch routes them elsewhere.
func NewScheduler(cfg Config, clk clock.Clock, output Output, counter *generation.Counter) *Scheduler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = models.TargetSampleRate
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if counter == nil {
		counter = generation.New()
	}
	return &Scheduler{
		cfg:      cfg,
		clock:    clk,
		output:   output,
		counter:  counter,
		dispatch: func(f func()) { f() },
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithComponent("playback"),
		active:   make(map[uint64]*Source),
	}
}

// SetDispatch sets the hook that runs timer callbacks on the event loop.
func (s *Scheduler) SetDispatch(dispatch func(func())) {
	if dispatch != nil {
		s.dispatch = dispatch
	}
}

// SetIdleCallback sets the callback invoked when the last active buffer of the
// current generation finishes.
func (s *Scheduler) SetIdleCallback(f func(generation.Generation)) {
	s.onIdle = f
}

// SetOutput swaps the render target. Active buffers keep their schedule.
func (s *Scheduler) SetOutput(output Output) {
	s.output = output
}

// Generation returns the current response generation.
func (s *Scheduler) Generation() generation.Generation {
	return s.counter.Current()
}

// Stamp decodes a base64 PCM16 payload into a chunk of the current generation.
func (s *Scheduler) Stamp(data string) (Chunk, error) {
	samples, err := pcm.DecodeBase64(data)
	if err != nil {
		s.metrics.RecordChunkDropped("decode_error")
		return Chunk{}, err
	}
	return Chunk{Samples: samples, Generation: s.counter.Current()}, nil
}

// Enqueue schedules chunk after everything already on the timeline.
func (s *Scheduler) Enqueue(chunk Chunk) (*Source, error) {
	if len(chunk.Samples) == 0 {
		s.metrics.RecordChunkDropped("empty")
		return nil, ErrEmptyChunk
	}
	if chunk.Generation != s.counter.Current() {
		s.metrics.RecordChunkDropped("stale_generation")
		return nil, ErrStaleGeneration
	}

	now := s.clock.Now()
	start := now + s.cfg.Jitter
	if s.cursor > start {
		start = s.cursor
	}
	duration := time.Duration(len(chunk.Samples)) * time.Second / time.Duration(s.cfg.SampleRate)

	s.nextID++
	src := &Source{
		ID:         s.nextID,
		Generation: chunk.Generation,
		StartAt:    start,
		EndAt:      start + duration,
		samples:    chunk.Samples,
	}
	s.cursor = src.EndAt
	s.active[src.ID] = src

	id := src.ID
	src.startTimer = s.clock.AfterFunc(start-now, func() {
		s.dispatch(func() { s.handleStart(id) })
	})
	src.endTimer = s.clock.AfterFunc(src.EndAt-now, func() {
		s.dispatch(func() { s.handleEnd(id) })
	})

	s.metrics.RecordBufferScheduled((start - now).Seconds())
	s.logger.Trace().
		Uint64("sourceId", id).
		Str("generation", src.Generation.String()).
		Dur("startAt", start).
		Dur("duration", duration).
		Int("active", len(s.active)).
		Msg("Buffer scheduled")
	return src, nil
}

// Interrupt stops all active buffers, resets the cursor to now and starts a
// new generation, which it returns.
func (s *Scheduler) Interrupt(cause string) generation.Generation {
	stopped := s.stopAll()
	s.cursor = s.clock.Now()
	g := s.counter.Next()

	s.metrics.RecordInterruption(cause)
	s.logger.Debug().
		Str("cause", cause).
		Int("stopped", stopped).
		Str("generation", g.String()).
		Msg("Playback interrupted")
	return g
}

// ResetCursor moves the cursor to now. Only meaningful with no active buffers.
func (s *Scheduler) ResetCursor() {
	s.cursor = s.clock.Now()
}

// Reset stops everything and returns the generation counter to zero.
func (s *Scheduler) Reset() {
	s.stopAll()
	s.cursor = s.clock.Now()
	s.counter.Reset()
}

// ActiveCount returns the number of scheduled, unfinished buffers.
func (s *Scheduler) ActiveCount() int {
	return len(s.active)
}

// Cursor returns the next free playback instant.
func (s *Scheduler) Cursor() time.Duration {
	return s.cursor
}

func (s *Scheduler) stopAll() int {
	n := len(s.active)
	for id, src := range s.active {
		if src.startTimer != nil {
			src.startTimer.Stop()
		}
		if src.endTimer != nil {
			src.endTimer.Stop()
		}
		delete(s.active, id)
	}
	if n > 0 && s.output != nil {
		s.output.Stop()
	}
	return n
}

func (s *Scheduler) handleStart(id uint64) {
	src, ok := s.active[id]
	if !ok {
		return
	}
	if src.Generation != s.counter.Current() {
		if src.endTimer != nil {
			src.endTimer.Stop()
		}
		delete(s.active, id)
		s.metrics.RecordChunkDropped("stale_generation")
		s.logger.Debug().Uint64("sourceId", id).Msg("Dropped stale buffer at start")
		return
	}

	src.started = true
	if s.output == nil {
		return
	}
	if err := s.output.Play(src.samples); err != nil {
		s.logger.Warn().Err(err).Uint64("sourceId", id).Msg("Output rejected buffer")
		return
	}
	s.metrics.RecordBufferPlayed()
}

func (s *Scheduler) handleEnd(id uint64) {
	src, ok := s.active[id]
	if !ok {
		return
	}
	delete(s.active, id)

	if len(s.active) == 0 && src.Generation == s.counter.Current() && s.onIdle != nil {
		s.onIdle(src.Generation)
	}
}
