// Package http exposes the voice session to a local UI: snapshot and command
// endpoints plus a WebSocket stream of snapshots.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-companion-client/internal/apperr"
	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/observability/metrics"
	"voice-companion-client/internal/service/session"
)

// Session is the reactive handle the router drives.
type Session interface {
	Start(ctx context.Context) error
	Close(ctx context.Context)
	StartListening()
	StopListening()
	SetWallet(wallet string) error
	SetVoice(voice string) error
	SetModel(model string) error
	Snapshot() session.View
	Subscribe() (<-chan session.View, func())
}

// StartRequest optionally overrides session settings before starting.
type StartRequest struct {
	WalletAddress string `json:"walletAddress,omitempty"`
	Voice         string `json:"voice,omitempty"`
	Model         string `json:"model,omitempty"`
}

type errorResponse struct {
	Error string       `json:"error"`
	Kind  string       `json:"kind,omitempty"`
	View  session.View `json:"session"`
}

const streamWriteTimeout = 5 * time.Second

type handler struct {
	sess     Session
	ready    func() bool
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewRouter constructs the HTTP router for the UI bridge. ready backs the
// readiness endpoint; nil means always ready.
func NewRouter(sess Session, ready func() bool) http.Handler {
	h := &handler{
		sess:   sess,
		ready:  ready,
		logger: logging.WithComponent("ui-bridge"),
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(h.logger, metrics.DefaultMetrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if h.ready != nil && !h.ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/voices", h.voices)
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.snapshot)
			r.Post("/", h.start)
			r.Delete("/", h.close)
			r.Post("/listen", h.startListening)
			r.Delete("/listen", h.stopListening)
			r.Get("/stream", h.stream)
		})
	})

	return r
}

func (h *handler) voices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"voices":       models.Voices,
		"models":       models.Models,
		"defaultVoice": models.DefaultVoice,
		"defaultModel": models.DefaultModel,
	})
}

func (h *handler) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Snapshot())
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, apperr.New(apperr.KindUnknown, "Invalid request body"))
			return
		}
	}

	if req.WalletAddress != "" {
		if err := h.sess.SetWallet(req.WalletAddress); err != nil {
			h.writeError(w, statusFor(err), err)
			return
		}
	}
	if req.Voice != "" {
		if err := h.sess.SetVoice(req.Voice); err != nil {
			h.writeError(w, statusFor(err), err)
			return
		}
	}
	if req.Model != "" {
		if err := h.sess.SetModel(req.Model); err != nil {
			h.writeError(w, statusFor(err), err)
			return
		}
	}

	if err := h.sess.Start(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Start session request failed")
		h.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.sess.Snapshot())
}

func (h *handler) close(w http.ResponseWriter, r *http.Request) {
	h.sess.Close(r.Context())
	writeJSON(w, http.StatusOK, h.sess.Snapshot())
}

func (h *handler) startListening(w http.ResponseWriter, _ *http.Request) {
	h.sess.StartListening()
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) stopListening(w http.ResponseWriter, _ *http.Request) {
	h.sess.StopListening()
	w.WriteHeader(http.StatusAccepted)
}

// stream upgrades to a WebSocket and pushes every new snapshot until the
// client goes away.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Snapshot stream upgrade failed")
		return
	}
	defer conn.Close()

	views, cancel := h.sess.Subscribe()
	defer cancel()

	// The client sends nothing; reading detects its close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Snapshot stream opened")
	for {
		select {
		case <-gone:
			h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Snapshot stream closed")
			return
		case <-r.Context().Done():
			return
		case v := <-views:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(v); err != nil {
				h.logger.Debug().Err(err).Msg("Snapshot stream write failed")
				return
			}
		}
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{
		Error: apperr.Message(err),
		View:  h.sess.Snapshot(),
	}
	if k := apperr.KindOf(err); k != apperr.KindUnknown {
		resp.Kind = k.String()
	}
	writeJSON(w, status, resp)
}

// statusFor maps session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrMustClose),
		errors.Is(err, session.ErrClosedDuringStart):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidVoice), errors.Is(err, session.ErrInvalidModel),
		errors.Is(err, session.ErrNoWallet):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotRunning):
		return http.StatusServiceUnavailable
	}

	switch apperr.KindOf(err) {
	case apperr.KindCapability:
		return http.StatusPaymentRequired
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindAvailability:
		return http.StatusServiceUnavailable
	case apperr.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
