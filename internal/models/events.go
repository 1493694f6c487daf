package models

// Lifecycle event types published about voice sessions.
const (
	EventSessionStarted = "voice.session.started"
	EventSessionFailed  = "voice.session.failed"
	EventSessionClosed  = "voice.session.closed"
	EventStateChanged   = "voice.session.state_changed"
)

// SessionLifecycle is published when a session starts, fails or closes.
type SessionLifecycle struct {
	EventType     string  `json:"eventType"`
	ClientID      string  `json:"clientId"`
	SessionID     string  `json:"sessionId,omitempty"`
	Voice         string  `json:"voice,omitempty"`
	Model         string  `json:"model,omitempty"`
	MaxDuration   float64 `json:"maxDuration,omitempty"`
	EstimatedCost float64 `json:"estimatedCost,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	ErrorKind     string  `json:"errorKind,omitempty"`
	DurationMs    int64   `json:"durationMs,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// StateChanged is published on every session state transition.
type StateChanged struct {
	EventType  string `json:"eventType"`
	ClientID   string `json:"clientId"`
	SessionID  string `json:"sessionId,omitempty"`
	From       string `json:"from"`
	To         string `json:"to"`
	Generation uint64 `json:"generation"`
	Timestamp  int64  `json:"timestamp"`
}
