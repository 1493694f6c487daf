package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-companion-client/internal/apperr"
	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/observability/metrics"
	"voice-companion-client/internal/service/agent"
	"voice-companion-client/internal/service/analyser"
	"voice-companion-client/internal/service/backend"
	"voice-companion-client/internal/service/capture"
	"voice-companion-client/internal/service/clock"
	"voice-companion-client/internal/service/generation"
	"voice-companion-client/internal/service/playback"
	"voice-companion-client/internal/service/transcript"
)

var (
	// ErrNoWallet is returned by Start without a wallet address.
	ErrNoWallet = errors.New("no wallet address")
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("a voice session is already active")
	// ErrMustClose is returned by Start in the error state.
	ErrMustClose = errors.New("session failed; close it before starting again")
	// ErrClosedDuringStart is returned by Start when Close ran before it finished.
	ErrClosedDuringStart = errors.New("session closed while starting")
	// ErrNotRunning is returned when the session loop is not running.
	ErrNotRunning = errors.New("session loop is not running")
	// ErrAlreadyRunning is returned by a second Run.
	ErrAlreadyRunning = errors.New("session loop already running")
	// ErrInvalidVoice and ErrInvalidModel reject unknown selections.
	ErrInvalidVoice = errors.New("invalid voice")
	ErrInvalidModel = errors.New("invalid model")
)

// Backend issues and closes sessions.
type Backend interface {
	CreateSession(ctx context.Context, req backend.SessionRequest) (*backend.SessionInfo, error)
	CloseSession(ctx context.Context, sessionID, walletAddress string) error
	AgentURL(wsPath string) (string, error)
}

// Publisher receives session telemetry.
type Publisher interface {
	PublishLifecycle(ctx context.Context, ev models.SessionLifecycle) error
	PublishState(ctx context.Context, ev models.StateChanged) error
}

// OutputOpener acquires the playback device. Rendered audio should be fed to a.
type OutputOpener func(ctx context.Context, a *analyser.Analyser) (playback.Output, error)

// Options configures a Session.
type Options struct {
	ClientID           string
	WalletAddress      string
	UserID             string
	Voice              string
	Model              string
	SystemInstructions string
	Temperature        float64

	Backend    Backend
	Dialer     agent.Dialer
	OpenDevice capture.Opener
	OpenOutput OutputOpener
	Publisher  Publisher
	Clock      clock.Clock
	Normalizer *transcript.Normalizer

	Capture  capture.Config
	Playback playback.Config

	ErrorClearDelay time.Duration
	LevelInterval   time.Duration
	ConnectTimeout  time.Duration
	// CloseTimeout bounds the backend notification on close.
	CloseTimeout time.Duration
}

// View is a snapshot of the session for the UI.
type View struct {
	State         State              `json:"state"`
	SessionID     string             `json:"sessionId,omitempty"`
	Voice         string             `json:"voice"`
	Model         string             `json:"model"`
	MaxDuration   int                `json:"maxDuration,omitempty"`
	EstimatedCost float64            `json:"estimatedCost,omitempty"`
	Connection    string             `json:"connection"`
	Transcript    []transcript.Entry `json:"transcript"`
	Level         float64            `json:"level"`
	Frequency     []int              `json:"frequency"`
	Error         string             `json:"error,omitempty"`
	Generation    uint64             `json:"generation"`
}

// Session is one voice conversation client. A single loop goroutine (Run)
// owns all mutable state; connection, capture, timer and command callbacks
// only post closures to it. Blocking steps of Start and Close run on the
// caller's goroutine between loop turns.
type Session struct {
	opts    Options
	clock   clock.Clock
	metrics *metrics.Metrics
	// baseLog never changes and serves the caller-side steps of Start and
	// Close; logger carries the current session and belongs to the loop.
	baseLog zerolog.Logger

	events   chan func()
	done     chan struct{}
	stopping chan struct{}
	running  atomic.Bool
	stopOnce sync.Once

	// loop-owned
	logger           zerolog.Logger
	machine          *Machine
	transcript       *transcript.Accumulator
	counter          *generation.Counter
	scheduler        *playback.Scheduler
	handler          *Handler
	captureAnalyser  *analyser.Analyser
	playbackAnalyser *analyser.Analyser
	pipeline         *capture.Pipeline
	output           playback.Output
	conn             agent.Conn
	pendingConn      agent.Conn
	early            []func()
	info             *backend.SessionInfo
	wallet           string
	voice            string
	model            string
	starting         bool
	epoch            uint64
	openedAt         time.Time
	errMsg           string
	errSeq           uint64
	errTimer         clock.Timer
	levelTimer       clock.Timer
	level            float64
	freq             []byte

	viewMu sync.RWMutex
	view   View

	subsMu  sync.Mutex
	subs    map[int]chan View
	nextSub int
}

// New creates a session. Run must be called to process events.
func New(opts Options) *Session {
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Voice == "" {
		opts.Voice = models.DefaultVoice
	}
	if opts.Model == "" {
		opts.Model = models.DefaultModel
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.ErrorClearDelay <= 0 {
		opts.ErrorClearDelay = 5 * time.Second
	}
	if opts.LevelInterval <= 0 {
		opts.LevelInterval = 50 * time.Millisecond
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 5 * time.Second
	}
	if opts.Playback.SampleRate <= 0 {
		opts.Playback = playback.DefaultConfig()
	}

	s := &Session{
		opts:             opts,
		clock:            opts.Clock,
		metrics:          metrics.DefaultMetrics,
		baseLog:          logging.WithSession(opts.ClientID, ""),
		logger:           logging.WithSession(opts.ClientID, ""),
		events:           make(chan func(), 256),
		done:             make(chan struct{}),
		stopping:         make(chan struct{}),
		machine:          NewMachine(),
		transcript:       transcript.New(opts.Normalizer),
		counter:          generation.New(),
		captureAnalyser:  analyser.New(),
		playbackAnalyser: analyser.New(),
		wallet:           opts.WalletAddress,
		voice:            opts.Voice,
		model:            opts.Model,
		subs:             make(map[int]chan View),
	}

	s.scheduler = playback.NewScheduler(opts.Playback, s.clock, nil, s.counter)
	s.scheduler.SetDispatch(s.post)
	s.handler = NewHandler(s.machine, s.transcript, s.scheduler, s.connState, Hooks{
		OnTransition: s.onTransition,
		OnError:      s.onHandlerError,
		OnDisconnect: s.onDisconnect,
	})
	s.handler.SetLogger(s.logger)
	s.scheduler.SetIdleCallback(s.handler.HandlePlaybackIdle)
	s.view = s.buildView()
	return s
}

// ClientID returns the client correlation ID.
func (s *Session) ClientID() string {
	return s.opts.ClientID
}

// Run processes events until ctx is cancelled, then closes the session.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	s.armLevelTicker()
	s.refresh()
	s.logger.Info().Str("voice", s.voice).Str("model", s.model).Msg("Session loop started")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			s.logger.Info().Msg("Session loop stopped")
			return nil
		case f := <-s.events:
			f()
		}
	}
}

// post queues f on the loop, refreshing the view after it runs. Posts after
// the loop stopped are dropped.
func (s *Session) post(f func()) {
	wrapped := func() {
		f()
		s.refresh()
	}
	select {
	case s.events <- wrapped:
	case <-s.stopping:
	case <-s.done:
	}
}

// call runs f on the loop and waits for it.
func (s *Session) call(f func()) error {
	finished := make(chan struct{})
	select {
	case s.events <- func() {
		defer close(finished)
		f()
		s.refresh()
	}:
	case <-s.stopping:
		return ErrNotRunning
	case <-s.done:
		return ErrNotRunning
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrNotRunning
	}
}

// SetWallet sets the wallet used by the next Start.
func (s *Session) SetWallet(wallet string) error {
	var err error
	if cerr := s.call(func() {
		if s.busy() {
			err = ErrSessionActive
			return
		}
		s.wallet = wallet
	}); cerr != nil {
		return cerr
	}
	return err
}

// SetVoice selects the voice for the next Start.
func (s *Session) SetVoice(voice string) error {
	if !models.IsValidVoice(voice) {
		return fmt.Errorf("%w: %q", ErrInvalidVoice, voice)
	}
	var err error
	if cerr := s.call(func() {
		if s.busy() {
			err = ErrSessionActive
			return
		}
		s.voice = voice
	}); cerr != nil {
		return cerr
	}
	return err
}

// SetModel selects the model for the next Start.
func (s *Session) SetModel(model string) error {
	if !models.IsValidModel(model) {
		return fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	var err error
	if cerr := s.call(func() {
		if s.busy() {
			err = ErrSessionActive
			return
		}
		s.model = model
	}); cerr != nil {
		return cerr
	}
	return err
}

// busy reports whether a session is starting or connected.
func (s *Session) busy() bool {
	return s.starting || s.conn != nil || s.pendingConn != nil
}

// Start opens a session: it acquires audio (reusing a live capture stream),
// creates the backend session and connects to the agent. It returns once the
// connection is open or the attempt failed; failures leave the session in
// the error state except for a missing wallet.
func (s *Session) Start(ctx context.Context) error {
	var (
		epoch     uint64
		needAudio bool
		req       backend.SessionRequest
		startErr  error
		stale     resources
	)
	if err := s.call(func() {
		if s.wallet == "" {
			startErr = apperr.Wrap(apperr.KindCapability, "Please connect your wallet first", ErrNoWallet)
			return
		}
		switch {
		case s.machine.State() == StateError:
			startErr = ErrMustClose
			return
		case s.busy() || s.machine.State() != StateIdle:
			startErr = ErrSessionActive
			return
		}
		s.epoch++
		epoch = s.epoch
		s.starting = true
		s.handler.Fire(EventStart)
		needAudio = s.pipeline == nil || !s.pipeline.Running()
		if needAudio && s.pipeline != nil {
			stale = resources{pipeline: s.pipeline, output: s.output}
			s.pipeline = nil
			s.output = nil
			s.scheduler.SetOutput(nil)
		}
		req = s.sessionRequest()
	}); err != nil {
		return err
	}
	if startErr != nil {
		s.baseLog.Warn().Err(startErr).Msg("Start rejected")
		return startErr
	}
	if stale.pipeline != nil {
		s.release(ctx, stale)
	}

	if needAudio {
		if err := s.acquireAudio(ctx, epoch); err != nil {
			return err
		}
	} else {
		s.baseLog.Debug().Msg("Reusing capture stream")
	}

	info, err := s.opts.Backend.CreateSession(ctx, req)
	if err != nil {
		s.failStart(epoch, err, apperr.KindAvailability, "Failed to start voice session")
		return err
	}

	url, err := s.opts.Backend.AgentURL(info.WSURL)
	if err != nil {
		s.closeBackend(info.SessionID, req.WalletAddress)
		s.failStart(epoch, err, apperr.KindAvailability, "Failed to start voice session")
		return err
	}
	var (
		conn       agent.Conn
		superseded bool
	)
	if err := s.call(func() {
		if s.epoch != epoch {
			superseded = true
			return
		}
		conn = s.opts.Dialer(url)
		s.info = info
		s.pendingConn = conn
		s.logger = logging.WithConnection(s.opts.ClientID, info.SessionID, url)
		s.handler.SetLogger(s.logger)
	}); err != nil {
		return err
	}
	if superseded {
		s.closeBackend(info.SessionID, req.WalletAddress)
		return ErrClosedDuringStart
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	openErr := conn.Open(dialCtx, &connCallback{s: s, conn: conn})
	cancel()

	var result error
	if err := s.call(func() {
		if s.pendingConn != conn || s.epoch != epoch {
			superseded = true
			return
		}
		s.pendingConn = nil
		early := s.early
		s.early = nil
		if openErr != nil {
			s.starting = false
			result = openErr
			s.fail(EventFailed, openErr, apperr.KindAvailability, "Failed to connect to voice agent")
			return
		}
		s.conn = conn
		s.starting = false
		s.openedAt = time.Now()
		if s.pipeline != nil {
			s.pipeline.SetSink(conn)
		}
		s.handler.Fire(EventConnected)
		s.metrics.RecordSessionStart()
		s.publishLifecycle(models.EventSessionStarted, "", "", 0)
		s.logger.Info().
			Int("maxDuration", info.MaxDuration).
			Float64("estimatedCost", info.EstimatedCost).
			Msg("Voice session open")

		for _, f := range early {
			f()
		}
	}); err != nil {
		_ = conn.Close(agent.CloseNormal, agent.ReasonUserDisconnected)
		return err
	}
	if superseded {
		_ = conn.Close(agent.CloseNormal, agent.ReasonUserDisconnected)
		return ErrClosedDuringStart
	}
	return result
}

// acquireAudio opens the input and output devices and installs the capture
// pipeline. A device failure is a permission error.
func (s *Session) acquireAudio(ctx context.Context, epoch uint64) error {
	if s.opts.OpenDevice == nil {
		err := apperr.Wrap(apperr.KindPermission, "Microphone access denied or unavailable", capture.ErrPermissionDenied)
		s.failStart(epoch, err, apperr.KindPermission, "")
		return err
	}
	device, err := s.opts.OpenDevice(ctx)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Wrap(apperr.KindPermission, "Microphone access denied or unavailable", err)
		}
		s.failStart(epoch, err, apperr.KindPermission, "")
		return err
	}

	var output playback.Output
	if s.opts.OpenOutput != nil {
		output, err = s.opts.OpenOutput(ctx, s.playbackAnalyser)
		if err != nil {
			s.baseLog.Warn().Err(err).Msg("Speaker unavailable, playback muted")
			output = nil
		}
	}
	if output == nil {
		output = playback.NewNullOutput(s.playbackAnalyser)
	}

	var stale bool
	if err := s.call(func() {
		if s.epoch != epoch {
			stale = true
			return
		}
		p := capture.New(s.opts.Capture, device, s.captureAnalyser)
		p.SetErrorHandler(func(err error) {
			s.post(func() { s.onCaptureError(p, err) })
		})
		p.Start(context.Background())
		s.pipeline = p
		s.output = output
		s.scheduler.SetOutput(output)
	}); err != nil {
		stale = true
	}
	if stale {
		_ = device.Close()
		_ = output.Close()
		return ErrClosedDuringStart
	}
	s.baseLog.Info().Int("sampleRate", device.SampleRate()).Msg("Capture stream started")
	return nil
}

// failStart moves a start attempt that is still current to the error state.
func (s *Session) failStart(epoch uint64, err error, kind apperr.Kind, msg string) {
	_ = s.call(func() {
		if s.epoch != epoch {
			return
		}
		s.starting = false
		s.pendingConn = nil
		s.fail(EventFailed, err, kind, msg)
	})
}

// fail transitions to error and surfaces err. kind and msg are defaults for
// errors that carry no classification.
func (s *Session) fail(ev Event, err error, kind apperr.Kind, msg string) {
	if k := apperr.KindOf(err); k != apperr.KindUnknown {
		kind = k
		msg = apperr.Message(err)
	}
	if msg == "" {
		msg = apperr.Message(err)
	}
	s.logger.Error().Err(err).Str("kind", kind.String()).Msg("Voice session failed")
	s.handler.Fire(ev)
	s.metrics.RecordSessionFailed(kind.String())
	s.setError(msg)
	s.publishLifecycle(models.EventSessionFailed, msg, kind.String(), 0)
}

func (s *Session) onCaptureError(p *capture.Pipeline, err error) {
	if s.pipeline != p {
		return
	}
	s.pipeline = nil
	if s.machine.State() == StateError {
		return
	}
	s.fail(EventFatal, apperr.Wrap(apperr.KindPermission, "Microphone stopped unexpectedly", err), apperr.KindPermission, "")
}

// StartListening is a UI hint. The agent detects speech itself, so the
// state only changes on its speech events.
func (s *Session) StartListening() {
	s.post(func() {
		s.logger.Debug().Str("state", s.machine.State().String()).Msg("Start listening hint")
	})
}

// StopListening is a UI hint returning listening to idle.
func (s *Session) StopListening() {
	s.post(func() {
		s.handler.Fire(EventStopListening)
	})
}

// resources are what Close releases, detached from the loop first.
type resources struct {
	pipeline  *capture.Pipeline
	conn      agent.Conn
	output    playback.Output
	sessionID string
	wallet    string
	openedAt  time.Time
}

// Close ends the session from any state. Each step is best-effort: stop the
// capture device, detach the pipeline, close the connection with a normal
// closure, notify the backend, release audio, then clear session state.
// Safe to call repeatedly and while Start is in progress.
func (s *Session) Close(ctx context.Context) {
	var res resources
	if err := s.call(func() { res = s.detach() }); err != nil {
		return
	}
	s.release(ctx, res)
	_ = s.call(func() { s.clear(res) })
}

// detach takes every resource out of the loop state so later events from
// them are ignored, and invalidates any Start in progress.
func (s *Session) detach() resources {
	s.epoch++
	s.starting = false

	res := resources{
		pipeline: s.pipeline,
		output:   s.output,
		wallet:   s.wallet,
		openedAt: s.openedAt,
	}
	res.conn = s.conn
	if res.conn == nil {
		res.conn = s.pendingConn
	}
	if s.info != nil {
		res.sessionID = s.info.SessionID
	}

	s.pipeline = nil
	s.output = nil
	s.conn = nil
	s.pendingConn = nil
	s.early = nil
	s.openedAt = time.Time{}
	s.scheduler.Reset()
	s.scheduler.SetOutput(nil)
	return res
}

func (s *Session) release(ctx context.Context, res resources) {
	var errs []error

	if res.pipeline != nil {
		if err := res.pipeline.Device().Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture device: %w", err))
		}
		res.pipeline.Stop()
	}

	if res.conn != nil {
		if err := res.conn.Close(agent.CloseNormal, agent.ReasonUserDisconnected); err != nil {
			errs = append(errs, fmt.Errorf("close agent connection: %w", err))
		}
	}

	if res.sessionID != "" {
		if err := s.notifyBackend(ctx, res.sessionID, res.wallet); err != nil {
			errs = append(errs, fmt.Errorf("close backend session: %w", err))
		}
	}

	if res.output != nil {
		if err := res.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	s.captureAnalyser.Reset()
	s.playbackAnalyser.Reset()

	if err := errors.Join(errs...); err != nil {
		s.baseLog.Warn().Err(err).Str("sessionId", res.sessionID).Msg("Session close completed with errors")
	}
}

func (s *Session) notifyBackend(ctx context.Context, sessionID, wallet string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CloseTimeout)
	defer cancel()
	return s.opts.Backend.CloseSession(ctx, sessionID, wallet)
}

// closeBackend releases a backend session a cancelled Start created.
func (s *Session) closeBackend(sessionID, wallet string) {
	if err := s.notifyBackend(context.Background(), sessionID, wallet); err != nil {
		s.baseLog.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to release backend session")
	}
}

func (s *Session) clear(res resources) {
	var durationMs int64
	if !res.openedAt.IsZero() {
		elapsed := time.Since(res.openedAt)
		durationMs = elapsed.Milliseconds()
		s.metrics.RecordSessionEnd(elapsed.Seconds())
	}
	if res.sessionID != "" || res.conn != nil {
		s.publishLifecycle(models.EventSessionClosed, "user", "", durationMs)
	}

	s.transcript.Reset()
	s.counter.Reset()
	s.clearError()
	s.info = nil
	s.level = 0
	s.freq = nil
	if from, changed := s.machine.Reset(); changed {
		s.metrics.RecordStateTransition(from.String(), StateIdle.String())
		s.onTransition(from, StateIdle)
	}
	s.logger = logging.WithSession(s.opts.ClientID, "")
	s.handler.SetLogger(s.logger)
	s.logger.Info().Msg("Voice session closed")
}

// shutdown closes the session on the loop goroutine as Run exits.
func (s *Session) shutdown() {
	s.stopOnce.Do(func() { close(s.stopping) })
	if s.levelTimer != nil {
		s.levelTimer.Stop()
	}
	res := s.detach()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()
	s.release(ctx, res)
	s.clear(res)
	s.refresh()
}

func (s *Session) sessionRequest() backend.SessionRequest {
	req := backend.SessionRequest{
		WalletAddress:      s.wallet,
		UserID:             s.opts.UserID,
		Voice:              s.voice,
		Model:              s.model,
		SystemInstructions: s.opts.SystemInstructions,
	}
	if s.opts.Temperature != 0 {
		t := s.opts.Temperature
		req.Temperature = &t
	}
	return req
}

func (s *Session) connState() agent.ConnState {
	if s.conn == nil {
		return agent.ConnClosed
	}
	return s.conn.State()
}

func (s *Session) onTransition(from, to State) {
	s.publishState(from, to)
}

func (s *Session) onHandlerError(kind apperr.Kind, msg string) {
	s.setError(msg)
	s.publishLifecycle(models.EventSessionFailed, msg, kind.String(), 0)
}

// onDisconnect drops the finished connection and the session ID.
func (s *Session) onDisconnect(code int, reason string) {
	conn := s.conn
	s.conn = nil
	if s.pipeline != nil {
		s.pipeline.SetSink(nil)
	}
	sessionID := ""
	if s.info != nil {
		sessionID = s.info.SessionID
	}
	if !s.openedAt.IsZero() {
		s.metrics.RecordSessionEnd(time.Since(s.openedAt).Seconds())
		s.publishLifecycle(models.EventSessionClosed, fmt.Sprintf("%d %s", code, reason), "", time.Since(s.openedAt).Milliseconds())
		s.openedAt = time.Time{}
	}
	s.info = nil
	s.logger.Info().Str("sessionId", sessionID).Int("code", code).Msg("Session ended by connection close")

	if conn != nil {
		go func() { _ = conn.Close(agent.CloseNormal, agent.ReasonUserDisconnected) }()
	}
}

// setError shows msg until the clear delay passes or a newer error replaces it.
func (s *Session) setError(msg string) {
	if s.errTimer != nil {
		s.errTimer.Stop()
	}
	s.errSeq++
	seq := s.errSeq
	s.errMsg = msg
	s.errTimer = s.clock.AfterFunc(s.opts.ErrorClearDelay, func() {
		s.post(func() {
			if s.errSeq == seq {
				s.errMsg = ""
				s.errTimer = nil
			}
		})
	})
}

func (s *Session) clearError() {
	if s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer = nil
	}
	s.errSeq++
	s.errMsg = ""
}

// armLevelTicker schedules level sampling every LevelInterval. The level is
// frozen in the error state.
func (s *Session) armLevelTicker() {
	if s.levelTimer != nil {
		return
	}
	var tick func()
	tick = func() {
		s.post(func() {
			s.levelTimer = nil
			select {
			case <-s.stopping:
				return
			default:
			}
			s.sampleLevel()
			s.armLevelTicker()
		})
	}
	s.levelTimer = s.clock.AfterFunc(s.opts.LevelInterval, tick)
}

func (s *Session) sampleLevel() {
	switch s.machine.State() {
	case StateError:
		return
	case StateSpeaking:
		s.level, s.freq = s.playbackAnalyser.Snapshot()
	default:
		s.level, s.freq = s.captureAnalyser.Snapshot()
	}
}

func (s *Session) publishState(from, to State) {
	if s.opts.Publisher == nil {
		return
	}
	ev := models.StateChanged{
		EventType:  models.EventStateChanged,
		ClientID:   s.opts.ClientID,
		SessionID:  s.sessionID(),
		From:       from.String(),
		To:         to.String(),
		Generation: uint64(s.counter.Current()),
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := s.opts.Publisher.PublishState(context.Background(), ev); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish state change")
	}
}

func (s *Session) publishLifecycle(eventType, reason, kind string, durationMs int64) {
	if s.opts.Publisher == nil {
		return
	}
	ev := models.SessionLifecycle{
		EventType:  eventType,
		ClientID:   s.opts.ClientID,
		SessionID:  s.sessionID(),
		Voice:      s.voice,
		Model:      s.model,
		Reason:     reason,
		ErrorKind:  kind,
		DurationMs: durationMs,
		Timestamp:  time.Now().UnixMilli(),
	}
	if s.info != nil {
		ev.MaxDuration = float64(s.info.MaxDuration)
		ev.EstimatedCost = s.info.EstimatedCost
	}
	if err := s.opts.Publisher.PublishLifecycle(context.Background(), ev); err != nil {
		s.logger.Warn().Err(err).Str("eventType", eventType).Msg("Failed to publish lifecycle event")
	}
}

func (s *Session) sessionID() string {
	if s.info == nil {
		return ""
	}
	return s.info.SessionID
}

// Snapshot returns the latest view.
func (s *Session) Snapshot() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// Subscribe returns a channel receiving the latest view after every change,
// and a function to stop the subscription. Slow subscribers only see the
// newest view.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	ch <- s.Snapshot()

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Session) refresh() {
	v := s.buildView()

	s.viewMu.Lock()
	s.view = v
	s.viewMu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *Session) buildView() View {
	v := View{
		State:      s.machine.State(),
		Voice:      s.voice,
		Model:      s.model,
		Connection: s.connState().String(),
		Transcript: s.transcript.Entries(),
		Level:      s.level,
		Frequency:  make([]int, len(s.freq)),
		Error:      s.errMsg,
		Generation: uint64(s.counter.Current()),
	}
	if s.pendingConn != nil {
		v.Connection = s.pendingConn.State().String()
	}
	for i, b := range s.freq {
		v.Frequency[i] = int(b)
	}
	if s.info != nil {
		v.SessionID = s.info.SessionID
		v.MaxDuration = s.info.MaxDuration
		v.EstimatedCost = s.info.EstimatedCost
	}
	return v
}

// connCallback forwards connection events to the loop, ignoring connections
// that are no longer the session's.
type connCallback struct {
	s    *Session
	conn agent.Conn
}

func (c *connCallback) route(f func()) {
	c.s.post(func() {
		switch {
		case c.s.conn == c.conn:
			f()
		case c.s.pendingConn == c.conn:
			c.s.early = append(c.s.early, f)
		}
	})
}

func (c *connCallback) OnMessage(msg models.Inbound) {
	c.route(func() { c.s.handler.Handle(msg) })
}

func (c *connCallback) OnError(err error) {
	c.route(func() { c.s.handler.HandleTransportError(err) })
}

func (c *connCallback) OnClose(code int, reason string) {
	c.route(func() { c.s.handler.HandleClose(code, reason) })
}
