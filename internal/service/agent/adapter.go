// Package agent defines the connection to the remote voice agent.
package agent

import (
	"context"
	"errors"

	"voice-companion-client/internal/models"
)

// Close codes and reasons used on the agent connection.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006

	ReasonUserDisconnected = "User disconnected"
)

var (
	// ErrNotOpen is returned when sending on a connection that is not open.
	ErrNotOpen = errors.New("agent connection is not open")
	// ErrAlreadyOpened is returned by Open on a connection that was already used.
	ErrAlreadyOpened = errors.New("agent connection already opened")
	// ErrClosedWhileOpening is returned by Open when Close ran before the
	// handshake completed.
	ErrClosedWhileOpening = errors.New("agent connection closed while opening")
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	ConnClosed ConnState = iota
	ConnOpening
	ConnOpen
	ConnClosing
)

func (s ConnState) String() string {
	switch s {
	case ConnOpening:
		return "opening"
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	default:
		return "closed"
	}
}

// IsNormalClose reports whether code is an expected closure.
func IsNormalClose(code int) bool {
	return code == CloseNormal || code == CloseGoingAway
}

// Callback receives events from the agent connection. Calls come from the
// connection's read goroutine, in arrival order.
type Callback interface {
	// OnMessage is called for each decoded inbound message.
	OnMessage(msg models.Inbound)

	// OnError is called when the connection fails without a close handshake.
	OnError(err error)

	// OnClose is called exactly once when the connection ends.
	OnClose(code int, reason string)
}

// Conn is a single-use connection to the agent.
type Conn interface {
	// Open connects and starts delivering events to cb. It blocks until the
	// connection is open or has failed.
	Open(ctx context.Context, cb Callback) error

	// State returns the current lifecycle state.
	State() ConnState

	// IsOpen reports whether audio can be sent.
	IsOpen() bool

	// SendAudio sends one captured audio frame.
	SendAudio(ctx context.Context, msg models.OutboundAudio) error

	// Close sends a close frame with code and reason and releases the
	// connection. Safe to call in any state, more than once.
	Close(code int, reason string) error
}

// Dialer creates an unopened connection to url.
type Dialer func(url string) Conn
