// Package apperr classifies session errors into the categories surfaced to users.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the error category.
type Kind int

const (
	// KindUnknown - unclassified error.
	KindUnknown Kind = iota
	// KindCapability - caller lacks something required (wallet, balance).
	KindCapability
	// KindAvailability - backend or agent service not reachable or not configured.
	KindAvailability
	// KindPermission - audio device access denied or unavailable.
	KindPermission
	// KindTransport - abnormal close or socket error on the agent connection.
	KindTransport
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCapability:
		return "capability"
	case KindAvailability:
		return "availability"
	case KindPermission:
		return "permission"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error carries a Kind and a user-facing message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap returns err wrapped with a kind and message. Returns nil for a nil err.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
