// Package backend is the HTTP client for the session backend that issues and
// bills voice sessions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-companion-client/internal/apperr"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/observability/metrics"
)

// DefaultBaseURL is used when no backend URL is configured.
const DefaultBaseURL = "http://localhost:5000"

var (
	// ErrInsufficientBalance is returned when the wallet cannot pay for a session.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnavailable is returned when the backend or voice service is down.
	ErrUnavailable = errors.New("voice service unavailable")
	// ErrUnreachable is returned when the backend cannot be reached at all.
	ErrUnreachable = errors.New("backend unreachable")
)

// SessionRequest is the createSession body.
type SessionRequest struct {
	WalletAddress      string   `json:"walletAddress"`
	UserID             string   `json:"userId,omitempty"`
	Voice              string   `json:"voice,omitempty"`
	Model              string   `json:"model,omitempty"`
	SystemInstructions string   `json:"systemInstructions,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
}

// SessionInfo is the createSession response.
type SessionInfo struct {
	SessionID     string  `json:"sessionId"`
	Message       string  `json:"message"`
	WSURL         string  `json:"wsUrl"`
	MaxDuration   int     `json:"maxDuration"`
	EstimatedCost float64 `json:"estimatedCost"`
}

// Config holds client settings.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client talks to the session backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a client. The base URL is normalized to end in /api.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := NormalizeBaseURL(cfg.BaseURL)
	return &Client{
		baseURL: base,
		token:   cfg.AuthToken,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("backend").With().Str("baseUrl", base).Logger(),
	}
}

// NormalizeBaseURL strips trailing slashes and appends /api if missing.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultBaseURL
	}
	raw = strings.TrimRight(raw, "/")
	if !strings.HasSuffix(raw, "/api") {
		raw += "/api"
	}
	return raw
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AgentURL builds the agent WebSocket URL from the wsUrl path returned by
// createSession: the base without /api, http→ws and https→wss, plus path.
// Absolute ws:// or wss:// URLs are returned unchanged.
func (c *Client) AgentURL(wsPath string) (string, error) {
	if strings.HasPrefix(wsPath, "ws://") || strings.HasPrefix(wsPath, "wss://") {
		return wsPath, nil
	}
	base := strings.TrimSuffix(c.baseURL, "/api")
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if !strings.HasPrefix(wsPath, "/") {
		wsPath = "/" + wsPath
	}
	return u.String() + wsPath, nil
}

// CreateSession asks the backend for a new voice session.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionInfo, error) {
	var info SessionInfo
	status, body, err := c.do(ctx, "create_session", http.MethodPost, "/voice/session", req, &info)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		if info.SessionID == "" || info.WSURL == "" {
			return nil, apperr.Wrap(apperr.KindAvailability, "Failed to start voice session",
				fmt.Errorf("%w: incomplete session response", ErrUnavailable))
		}
		c.logger.Info().
			Str("sessionId", info.SessionID).
			Int("maxDuration", info.MaxDuration).
			Float64("estimatedCost", info.EstimatedCost).
			Msg("Voice session created")
		return &info, nil
	case status == http.StatusPaymentRequired:
		return nil, apperr.Wrap(apperr.KindCapability,
			body.pick("Insufficient tokens", body.Error), ErrInsufficientBalance)
	case status == http.StatusServiceUnavailable:
		return nil, apperr.Wrap(apperr.KindAvailability,
			body.pick("Voice service not configured", body.Message, body.Error), ErrUnavailable)
	default:
		return nil, apperr.Wrap(apperr.KindAvailability,
			body.pick("Failed to start voice session", body.Error, body.Message),
			fmt.Errorf("%w: status %d", ErrUnavailable, status))
	}
}

// CloseSession tells the backend the session ended. Unknown sessions are not
// an error.
func (c *Client) CloseSession(ctx context.Context, sessionID, walletAddress string) error {
	var payload any
	if walletAddress != "" {
		payload = map[string]string{"walletAddress": walletAddress}
	}
	status, body, err := c.do(ctx, "close_session", http.MethodDelete, "/voice/session/"+url.PathEscape(sessionID), payload, nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusNotFound {
		return apperr.Wrap(apperr.KindAvailability,
			body.pick("Failed to close voice session", body.Error, body.Message),
			fmt.Errorf("%w: status %d", ErrUnavailable, status))
	}
	return nil
}

// GetSession returns the backend's view of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (map[string]any, error) {
	out := map[string]any{}
	status, body, err := c.do(ctx, "get_session", http.MethodGet, "/voice/session/"+url.PathEscape(sessionID), nil, &out)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, apperr.Wrap(apperr.KindAvailability,
			body.pick("Failed to get voice session", body.Error, body.Message),
			fmt.Errorf("%w: status %d", ErrUnavailable, status))
	}
	return out, nil
}

// GetCost returns the backend's voice pricing.
func (c *Client) GetCost(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	status, body, err := c.do(ctx, "get_cost", http.MethodGet, "/voice/cost", nil, &out)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, apperr.Wrap(apperr.KindAvailability,
			body.pick("Failed to get voice cost", body.Error, body.Message),
			fmt.Errorf("%w: status %d", ErrUnavailable, status))
	}
	return out, nil
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// pick returns the first non-empty candidate, else def.
func (b errorBody) pick(def string, candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return def
}

// do sends a JSON request. A 2xx body is decoded into out; any other body is
// decoded as an errorBody. Transport failures are returned as errors, HTTP
// statuses are not.
func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) (int, errorBody, error) {
	start := time.Now()
	var eb errorBody

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, eb, fmt.Errorf("encode %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, eb, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordBackendRequest(op, "network_error", time.Since(start).Seconds())
		c.logger.Warn().Err(err).Str("operation", op).Msg("Backend unreachable")
		return 0, eb, apperr.Wrap(apperr.KindAvailability, "Backend unreachable (network error).",
			fmt.Errorf("%w: %v", ErrUnreachable, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.RecordBackendRequest(op, "read_error", time.Since(start).Seconds())
		return resp.StatusCode, eb, apperr.Wrap(apperr.KindAvailability, "Backend unreachable (network error).",
			fmt.Errorf("%w: read body: %v", ErrUnreachable, err))
	}

	outcome := "ok"
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				c.metrics.RecordBackendRequest(op, "decode_error", time.Since(start).Seconds())
				return resp.StatusCode, eb, apperr.Wrap(apperr.KindAvailability, "Invalid backend response",
					fmt.Errorf("decode %s response: %w", op, err))
			}
		}
	} else {
		outcome = fmt.Sprintf("http_%d", resp.StatusCode)
		_ = json.Unmarshal(data, &eb)
		c.logger.Debug().
			Str("operation", op).
			Int("status", resp.StatusCode).
			Str("error", eb.Error).
			Str("message", eb.Message).
			Msg("Backend returned an error")
	}
	c.metrics.RecordBackendRequest(op, outcome, time.Since(start).Seconds())
	return resp.StatusCode, eb, nil
}
