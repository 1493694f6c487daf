package backend

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Offline is an in-process stand-in for the backend, used with the mock agent.
// It issues random session IDs and accepts every close.
type Offline struct {
	MaxDuration   int
	EstimatedCost float64

	mu     sync.Mutex
	open   map[string]string
	closed int
}

// NewOffline creates an offline backend.
func NewOffline() *Offline {
	return &Offline{
		MaxDuration:   600,
		EstimatedCost: 0,
		open:          make(map[string]string),
	}
}

// CreateSession issues a new session ID.
func (o *Offline) CreateSession(ctx context.Context, req SessionRequest) (*SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	o.mu.Lock()
	o.open[id] = req.WalletAddress
	o.mu.Unlock()
	return &SessionInfo{
		SessionID:     id,
		Message:       "Offline voice session",
		WSURL:         "/api/voice/ws/" + id,
		MaxDuration:   o.MaxDuration,
		EstimatedCost: o.EstimatedCost,
	}, nil
}

// CloseSession forgets the session.
func (o *Offline) CloseSession(_ context.Context, sessionID, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.open[sessionID]; ok {
		delete(o.open, sessionID)
		o.closed++
	}
	return nil
}

// AgentURL returns path unchanged; mock connections ignore the URL.
func (o *Offline) AgentURL(path string) (string, error) {
	return path, nil
}

// Open returns the number of sessions not yet closed.
func (o *Offline) Open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.open)
}

// Closed returns the number of sessions closed.
func (o *Offline) Closed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
