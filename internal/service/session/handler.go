package session

import (
	"github.com/rs/zerolog"

	"voice-companion-client/internal/apperr"
	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/observability/metrics"
	"voice-companion-client/internal/schema"
	"voice-companion-client/internal/service/agent"
	"voice-companion-client/internal/service/generation"
	"voice-companion-client/internal/service/playback"
	"voice-companion-client/internal/service/transcript"
)

// User-facing messages for connection failures.
const (
	MsgConnectionError     = "Connection error. Please try again."
	MsgConnectionLost      = "Connection lost. Please reconnect."
	MsgAgentError          = "An error occurred"
	MsgSessionDisconnected = "Session disconnected"
)

// Hooks are invoked by the Handler on the session loop.
type Hooks struct {
	// OnTransition is called after every state change.
	OnTransition func(from, to State)
	// OnError surfaces a user-visible error.
	OnError func(kind apperr.Kind, msg string)
	// OnDisconnect is called when the connection ended and the session ID
	// must be cleared.
	OnDisconnect func(code int, reason string)
}

// Handler routes agent events to the state machine, the transcript and the
// playback scheduler. All methods must run on the session loop.
type Handler struct {
	machine    *Machine
	transcript *transcript.Accumulator
	scheduler  *playback.Scheduler
	validator  *schema.Validator
	connState  func() agent.ConnState
	hooks      Hooks
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewHandler creates a handler. connState reports the state of the current
// connection and is consulted for benign disconnects.
func NewHandler(
	machine *Machine,
	acc *transcript.Accumulator,
	scheduler *playback.Scheduler,
	connState func() agent.ConnState,
	hooks Hooks,
) *Handler {
	if connState == nil {
		connState = func() agent.ConnState { return agent.ConnClosed }
	}
	return &Handler{
		machine:    machine,
		transcript: acc,
		scheduler:  scheduler,
		validator:  schema.New(),
		connState:  connState,
		hooks:      hooks,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("session-handler"),
	}
}

// SetLogger replaces the handler's logger, typically with session fields.
func (h *Handler) SetLogger(l zerolog.Logger) {
	h.logger = l
}

// Fire applies ev to the state machine, reporting whether the state changed.
// Events with no transition from the current state are logged and ignored.
func (h *Handler) Fire(ev Event) bool {
	from, changed := h.machine.Fire(ev)
	if !changed {
		if !h.machine.Can(ev) {
			h.logger.Debug().
				Str("event", ev.String()).
				Str("state", from.String()).
				Msg("Transition ignored")
		}
		return false
	}

	to := h.machine.State()
	h.metrics.RecordStateTransition(from.String(), to.String())
	h.logger.Debug().
		Str("event", ev.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("State transition")
	if h.hooks.OnTransition != nil {
		h.hooks.OnTransition(from, to)
	}
	return true
}

// Handle processes one inbound agent message. Messages arriving in the error
// state are dropped.
func (h *Handler) Handle(msg models.Inbound) {
	h.metrics.RecordInbound(msg.Type)

	if err := h.validator.Validate(msg); err != nil {
		h.metrics.RecordProtocolError("invalid_message")
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Dropping invalid agent message")
		return
	}
	if h.machine.State() == StateError {
		h.logger.Debug().Str("type", msg.Type).Msg("Dropping agent message in error state")
		return
	}

	switch msg.Type {
	case models.TypeAudio:
		h.handleAudio(msg.Data)

	case models.TypeTranscript:
		h.transcript.AppendDelta(msg.Text, transcript.SpeakerAgent)

	case models.TypeTranscriptDone:
		h.transcript.SealOpenAgentEntry()

	case models.TypeUserTranscript:
		h.transcript.ReplaceWithUserFinal(msg.Text)
		h.scheduler.Interrupt(playback.CauseBargeIn)

	case models.TypeSpeechStarted:
		h.Fire(EventSpeechStarted)

	case models.TypeSpeechStopped:
		h.Fire(EventSpeechStopped)

	case models.TypeResponseCreated:
		h.transcript.InterruptOpenAgentEntry()
		h.scheduler.Interrupt(playback.CauseNewResponse)
		h.Fire(EventResponseStarted)

	case models.TypeResponseDone:
		if h.scheduler.ActiveCount() == 0 {
			h.scheduler.ResetCursor()
			h.Fire(EventResponseDone)
		}

	case models.TypeError:
		h.handleAgentError(msg.Message)
	}
}

func (h *Handler) handleAudio(data string) {
	h.metrics.RecordChunkReceived()

	chunk, err := h.scheduler.Stamp(data)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Dropping undecodable audio chunk")
		return
	}
	if _, err := h.scheduler.Enqueue(chunk); err != nil {
		h.logger.Debug().Err(err).Msg("Audio chunk not scheduled")
		return
	}
	h.Fire(EventResponseStarted)
}

// handleAgentError routes an agent error event. "Session disconnected" while
// the connection is already closing is the expected end of a session. A
// Session detaches its connection before closing it, so there this case only
// arises for a connection closing on its own; events from a detached
// connection are dropped by the session and it ends idle either way.
func (h *Handler) handleAgentError(message string) {
	if message == "" {
		message = MsgAgentError
	}
	if message == MsgSessionDisconnected && h.connState() == agent.ConnClosing {
		h.logger.Debug().Msg("Agent reported disconnect while closing")
		h.Fire(EventDisconnected)
		if h.hooks.OnDisconnect != nil {
			h.hooks.OnDisconnect(agent.CloseNormal, message)
		}
		return
	}

	h.logger.Warn().Str("message", message).Msg("Agent reported an error")
	h.Fire(EventFatal)
	h.surface(apperr.KindTransport, message)
}

// HandleTransportError handles a socket failure on the current connection.
func (h *Handler) HandleTransportError(err error) {
	h.logger.Warn().Err(err).Msg("Agent connection error")
	h.Fire(EventFatal)
	h.surface(apperr.KindTransport, MsgConnectionError)
}

// HandleClose handles the end of the current connection. Normal closure codes
// return to idle; anything else is a transport error, surfaced only if the
// failure was not already reported. The session ID is cleared either way.
func (h *Handler) HandleClose(code int, reason string) {
	switch {
	case agent.IsNormalClose(code):
		h.logger.Info().Int("code", code).Str("reason", reason).Msg("Agent connection closed")
		h.Fire(EventDisconnected)
	case h.machine.State() == StateError:
		h.logger.Debug().Int("code", code).Str("reason", reason).Msg("Agent connection closed after failure")
	default:
		h.logger.Warn().Int("code", code).Str("reason", reason).Msg("Agent connection lost")
		h.Fire(EventFatal)
		h.surface(apperr.KindTransport, MsgConnectionLost)
	}
	if h.hooks.OnDisconnect != nil {
		h.hooks.OnDisconnect(code, reason)
	}
}

// HandlePlaybackIdle handles the last buffer of generation g finishing.
func (h *Handler) HandlePlaybackIdle(g generation.Generation) {
	if g != h.scheduler.Generation() {
		return
	}
	h.Fire(EventPlaybackIdle)
}

func (h *Handler) surface(kind apperr.Kind, msg string) {
	h.metrics.RecordSessionFailed(kind.String())
	if h.hooks.OnError != nil {
		h.hooks.OnError(kind, msg)
	}
}
