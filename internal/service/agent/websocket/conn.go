// Package websocket implements agent.Conn over a gorilla WebSocket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-companion-client/internal/apperr"
	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/observability/metrics"
	"voice-companion-client/internal/service/agent"
)

// Config holds connection settings.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// CloseWait bounds how long Close waits for the peer to echo the close frame.
	CloseWait time.Duration
	Header    http.Header
}

// DefaultConfig returns a 10s handshake timeout and short write/close waits.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		CloseWait:        2 * time.Second,
	}
}

// Conn is an agent connection backed by a WebSocket.
type Conn struct {
	url     string
	cfg     Config
	dialer  *websocket.Dialer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu    sync.Mutex
	state agent.ConnState
	ws    *websocket.Conn
	used  bool
	done  chan struct{}

	writeMu sync.Mutex
}

// New creates an unopened connection to url.
func New(url string, cfg Config) *Conn {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.CloseWait <= 0 {
		cfg.CloseWait = DefaultConfig().CloseWait
	}
	return &Conn{
		url: url,
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("agent-ws").With().Str("url", url).Logger(),
		done:    make(chan struct{}),
	}
}

// NewDialer returns an agent.Dialer producing connections with cfg.
func NewDialer(cfg Config) agent.Dialer {
	return func(url string) agent.Conn {
		return New(url, cfg)
	}
}

// Open dials the agent and starts the read loop.
func (c *Conn) Open(ctx context.Context, cb agent.Callback) error {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return agent.ErrAlreadyOpened
	}
	c.used = true
	c.state = agent.ConnOpening
	c.mu.Unlock()

	ws, resp, err := c.dialer.DialContext(ctx, c.url, c.cfg.Header)
	if err != nil {
		c.setState(agent.ConnClosed)
		close(c.done)
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return apperr.Wrap(apperr.KindAvailability, "Failed to connect to voice agent", err)
	}

	c.mu.Lock()
	if c.state != agent.ConnOpening {
		c.state = agent.ConnClosed
		c.mu.Unlock()
		_ = ws.Close()
		close(c.done)
		return agent.ErrClosedWhileOpening
	}
	c.ws = ws
	c.state = agent.ConnOpen
	c.mu.Unlock()

	c.logger.Debug().Msg("Agent connection open")
	go c.readLoop(ws, cb)
	return nil
}

// State returns the current lifecycle state.
func (c *Conn) State() agent.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the connection is open.
func (c *Conn) IsOpen() bool {
	return c.State() == agent.ConnOpen
}

// SendAudio writes one audio frame as JSON.
func (c *Conn) SendAudio(_ context.Context, msg models.OutboundAudio) error {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()
	if state != agent.ConnOpen || ws == nil {
		return agent.ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return ws.WriteJSON(msg)
}

// Close sends a close frame, waits briefly for the peer's echo and closes
// the socket. A connection still opening is torn down by Open.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	switch c.state {
	case agent.ConnClosed, agent.ConnClosing:
		c.mu.Unlock()
		return nil
	case agent.ConnOpening:
		c.state = agent.ConnClosing
		c.mu.Unlock()
		return nil
	}
	c.state = agent.ConnClosing
	ws := c.ws
	c.mu.Unlock()

	c.writeMu.Lock()
	werr := ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(c.cfg.WriteTimeout))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(c.cfg.CloseWait):
	}
	cerr := ws.Close()
	<-c.done

	c.setState(agent.ConnClosed)
	c.logger.Debug().Int("code", code).Str("reason", reason).Msg("Agent connection closed")

	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return werr
	}
	if cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		return cerr
	}
	return nil
}

func (c *Conn) setState(s agent.ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) readLoop(ws *websocket.Conn, cb agent.Callback) {
	defer close(c.done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			code, reason, abnormal := c.closeDetails(err)
			if abnormal {
				c.logger.Warn().Err(err).Msg("Agent connection failed")
				cb.OnError(apperr.Wrap(apperr.KindTransport, "Connection error. Please try again.", err))
			}
			c.mu.Lock()
			if c.state == agent.ConnOpen {
				c.state = agent.ConnClosed
			}
			c.mu.Unlock()
			cb.OnClose(code, reason)
			return
		}

		msg, err := models.DecodeInbound(data)
		if err != nil {
			c.metrics.RecordProtocolError("decode")
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Discarding malformed agent message")
			continue
		}
		cb.OnMessage(msg)
	}
}

// closeDetails maps a read error to a close code. Errors after a local Close
// count as a normal closure. gorilla reports a dropped socket as a
// synthesized 1006 CloseError, which is abnormal like any other read error.
func (c *Conn) closeDetails(err error) (code int, reason string, abnormal bool) {
	closing := c.State() == agent.ConnClosing
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		return ce.Code, ce.Text, false
	}
	if closing {
		return agent.CloseNormal, agent.ReasonUserDisconnected, false
	}
	return agent.CloseAbnormal, "", true
}
