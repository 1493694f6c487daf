// Package schema validates inbound agent messages before they are routed.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"voice-companion-client/internal/models"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
)

type Validator struct {
	known map[string]struct{}
}

func New() *Validator {
	known := make(map[string]struct{}, len(models.InboundTypes))
	for _, t := range models.InboundTypes {
		known[t] = struct{}{}
	}
	return &Validator{known: known}
}

// Validate checks the type tag and the payload field the type requires.
func (v *Validator) Validate(msg models.Inbound) error {
	if _, ok := v.known[msg.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	switch msg.Type {
	case models.TypeAudio:
		if msg.Data == "" {
			return fmt.Errorf("%w: data (type=%s)", ErrMissingField, msg.Type)
		}
	case models.TypeTranscript, models.TypeUserTranscript:
		if msg.Text == "" {
			return fmt.Errorf("%w: text (type=%s)", ErrMissingField, msg.Type)
		}
	}

	log.Trace().Str("type", msg.Type).Msg("Inbound message validated")
	return nil
}
