package mock

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability/logging"
)

// ServerConfig configures the scripted agent server.
type ServerConfig struct {
	Agent Config
	// InsufficientWallets are rejected with 402 on session create.
	InsufficientWallets []string
	MaxDuration         int
	EstimatedCost       float64
	CostPerMinute       float64
}

// DefaultServerConfig returns a server with the default script.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Agent:         DefaultConfig(),
		MaxDuration:   600,
		EstimatedCost: 0.05,
		CostPerMinute: 0.05,
	}
}

type serverSession struct {
	ID            string    `json:"sessionId"`
	WalletAddress string    `json:"walletAddress"`
	Voice         string    `json:"voice"`
	Model         string    `json:"model"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Server fakes the session backend and the agent WebSocket endpoint.
type Server struct {
	cfg      ServerConfig
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*serverSession
	turn     int
}

// NewServer creates a scripted agent server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Agent.FramesPerTurn <= 0 {
		cfg.Agent.FramesPerTurn = DefaultConfig().FramesPerTurn
	}
	if len(cfg.Agent.Turns) == 0 {
		cfg.Agent.Turns = DefaultTurns
	}
	return &Server{
		cfg:    cfg,
		logger: logging.WithComponent("mock-agent"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*serverSession),
	}
}

// Routes returns the server's HTTP routes, rooted at /api.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/voice", func(r chi.Router) {
		r.Post("/session", s.createSession)
		r.Get("/session/{id}", s.getSession)
		r.Delete("/session/{id}", s.closeSession)
		r.Get("/cost", s.cost)
		r.Get("/ws/{id}", s.serveAgent)
	})
	return r
}

// ActiveSessions returns the number of sessions not yet closed.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status == "active" {
			n++
		}
	}
	return n
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
		Voice         string `json:"voice"`
		Model         string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.WalletAddress == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "walletAddress is required"})
		return
	}
	for _, wallet := range s.cfg.InsufficientWallets {
		if wallet == req.WalletAddress {
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "Insufficient tokens"})
			return
		}
	}
	if req.Voice == "" {
		req.Voice = models.DefaultVoice
	}
	if req.Model == "" {
		req.Model = models.DefaultModel
	}

	sess := &serverSession{
		ID:            uuid.NewString(),
		WalletAddress: req.WalletAddress,
		Voice:         req.Voice,
		Model:         req.Model,
		Status:        "active",
		CreatedAt:     time.Now().UTC(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info().Str("sessionId", sess.ID).Str("voice", sess.Voice).Msg("Session created")
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":     sess.ID,
		"message":       "Voice session created",
		"wsUrl":         "/api/voice/ws/" + sess.ID,
		"maxDuration":   s.cfg.MaxDuration,
		"estimatedCost": s.cfg.EstimatedCost,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[chi.URLParam(r, "id")]
	var out serverSession
	if ok {
		out = *sess
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.Status = "closed"
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	s.logger.Info().Str("sessionId", id).Msg("Session closed")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": id})
}

func (s *Server) cost(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"costPerMinute": s.cfg.CostPerMinute,
		"currency":      "tokens",
		"maxDuration":   s.cfg.MaxDuration,
	})
}

// serveAgent plays a scripted turn after every FramesPerTurn audio frames.
func (s *Server) serveAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	active := ok && sess.Status == "active"
	s.mu.Unlock()
	if !active {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Upgrade failed")
		return
	}
	defer ws.Close()

	logger := s.logger.With().Str("sessionId", id).Logger()
	logger.Info().Msg("Agent connection open")

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
		playing sync.Mutex
	)
	stop := make(chan struct{})
	defer func() {
		close(stop)
		wg.Wait()
	}()

	frames := 0
	for {
		var msg models.OutboundAudio
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info().Msg("Client disconnected")
			} else {
				logger.Debug().Err(err).Msg("Agent read ended")
			}
			return
		}
		if msg.Type != models.TypeAudio {
			continue
		}
		frames++
		if frames%s.cfg.Agent.FramesPerTurn != 0 || !playing.TryLock() {
			continue
		}

		turn := s.nextTurn()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer playing.Unlock()
			for _, out := range turn.Messages() {
				select {
				case <-stop:
					return
				case <-time.After(s.cfg.Agent.MessageDelay):
				}
				writeMu.Lock()
				err := ws.WriteJSON(out)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}()
	}
}

func (s *Server) nextTurn() Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.cfg.Agent.Turns[s.turn%len(s.cfg.Agent.Turns)]
	s.turn++
	return t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
