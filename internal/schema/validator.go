// Package schema validates outbound client messages before they are queued.
package schema

import (
	"errors"
	"fmt"

	"speech-relay-service/internal/models"
)

var (
	ErrUnknownType     = errors.New("unknown message type")
	ErrMissingFinal    = errors.New("transcript message without is_final")
	ErrEnhancedInterim = errors.New("enhanced message must be final")
	ErrEmptyError      = errors.New("error message without text")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks that msg matches one of the three outbound shapes.
func (v *Validator) Validate(msg models.OutboundMessage) error {
	switch msg.Type {
	case models.TypeTranscription:
		if msg.IsFinal == nil {
			return ErrMissingFinal
		}
		if msg.Message != "" {
			return fmt.Errorf("transcription carries error text: %w", ErrUnknownType)
		}
	case models.TypeEnhanced:
		if !msg.Final() {
			return ErrEnhancedInterim
		}
	case models.TypeError:
		if msg.Message == "" {
			return ErrEmptyError
		}
		if msg.Text != "" || msg.IsFinal != nil {
			return fmt.Errorf("error carries transcript fields: %w", ErrUnknownType)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return nil
}
