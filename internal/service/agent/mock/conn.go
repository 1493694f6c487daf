package mock

import (
	"context"
	"sync"
	"time"

	"voice-companion-client/internal/models"
	"voice-companion-client/internal/service/agent"
)

// Config controls the pacing of the scripted agent.
type Config struct {
	// FramesPerTurn is the number of audio frames received before a turn plays.
	FramesPerTurn int
	// MessageDelay separates consecutive scripted messages.
	MessageDelay time.Duration
	Turns        []Turn
}

// DefaultConfig plays a turn every 12 frames (about two seconds of 48 kHz
// capture) with 40ms between messages.
func DefaultConfig() Config {
	return Config{
		FramesPerTurn: 12,
		MessageDelay:  40 * time.Millisecond,
		Turns:         DefaultTurns,
	}
}

// Conn implements agent.Conn with an in-process scripted agent.
type Conn struct {
	cfg Config

	mu       sync.Mutex
	state    agent.ConnState
	used     bool
	cb       agent.Callback
	frames   int
	turn     int
	playing  bool
	stop     chan struct{}
	received []models.OutboundAudio
	wg       sync.WaitGroup

	// deliverMu keeps callback invocations serialized in send order.
	deliverMu sync.Mutex
}

// New creates an unopened mock connection.
func New(cfg Config) *Conn {
	if cfg.FramesPerTurn <= 0 {
		cfg.FramesPerTurn = DefaultConfig().FramesPerTurn
	}
	if len(cfg.Turns) == 0 {
		cfg.Turns = DefaultTurns
	}
	return &Conn{cfg: cfg, stop: make(chan struct{})}
}

// NewDialer returns an agent.Dialer producing mock connections.
func NewDialer(cfg Config) agent.Dialer {
	return func(string) agent.Conn {
		return New(cfg)
	}
}

// Open marks the connection open.
func (c *Conn) Open(ctx context.Context, cb agent.Callback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used {
		return agent.ErrAlreadyOpened
	}
	c.used = true
	c.cb = cb
	c.state = agent.ConnOpen
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

// SendAudio records the frame and starts the next turn once enough frames
// have arrived.
func (c *Conn) SendAudio(_ context.Context, msg models.OutboundAudio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != agent.ConnOpen {
		return agent.ErrNotOpen
	}
	c.received = append(c.received, msg)
	c.frames++

	if c.playing || c.frames%c.cfg.FramesPerTurn != 0 {
		return nil
	}
	turn := c.cfg.Turns[c.turn%len(c.cfg.Turns)]
	c.turn++
	c.playing = true
	c.wg.Add(1)
	go c.play(turn.Messages())
	return nil
}

// Received returns the audio frames sent by the client.
func (c *Conn) Received() []models.OutboundAudio {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.OutboundAudio{}, c.received...)
}

// Inject delivers msg to the callback as if the agent had sent it.
func (c *Conn) Inject(msg models.Inbound) {
	c.deliver(func(cb agent.Callback) { cb.OnMessage(msg) })
}

// Fail simulates a socket error followed by an abnormal closure.
func (c *Conn) Fail(err error) {
	cb := c.finish()
	if cb == nil {
		return
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	cb.OnError(err)
	cb.OnClose(agent.CloseAbnormal, "")
}

// Drop simulates the agent closing the connection with code.
func (c *Conn) Drop(code int, reason string) {
	cb := c.finish()
	if cb == nil {
		return
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	cb.OnClose(code, reason)
}

// BeginClosing moves an open connection to closing without finishing it, as
// seen between a local close request and the peer's acknowledgement.
func (c *Conn) BeginClosing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == agent.ConnOpen {
		c.state = agent.ConnClosing
	}
}

// Close stops any scripted turn and reports the closure.
func (c *Conn) Close(code int, reason string) error {
	cb := c.finish()
	if cb == nil {
		return nil
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	cb.OnClose(code, reason)
	return nil
}

// finish closes the connection and waits for the script to stop. It returns
// the callback to notify, or nil if the connection was already closed.
func (c *Conn) finish() agent.Callback {
	c.mu.Lock()
	if c.state == agent.ConnClosed || c.cb == nil {
		c.state = agent.ConnClosed
		c.mu.Unlock()
		return nil
	}
	c.state = agent.ConnClosing
	cb := c.cb
	c.cb = nil
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.mu.Lock()
	c.state = agent.ConnClosed
	c.mu.Unlock()
	return cb
}

func (c *Conn) play(msgs []models.Inbound) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.playing = false
		c.mu.Unlock()
	}()

	for _, msg := range msgs {
		if c.cfg.MessageDelay > 0 {
			select {
			case <-c.stop:
				return
			case <-time.After(c.cfg.MessageDelay):
			}
		}
		select {
		case <-c.stop:
			return
		default:
		}
		c.Inject(msg)
	}
}

func (c *Conn) deliver(f func(agent.Callback)) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.mu.Lock()
	cb, open := c.cb, c.state == agent.ConnOpen || c.state == agent.ConnClosing
	c.mu.Unlock()
	if cb == nil || !open {
		return
	}
	f(cb)
}
