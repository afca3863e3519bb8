package domain

import (
	"errors"
	"fmt"
)

// Domain sentinel errors
var (
	ErrNotFound         = errors.New("resource not found")
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrTemplateNotFound = fmt.Errorf("template %w", ErrNotFound)
	ErrChannelNotFound  = fmt.Errorf("channel %w", ErrNotFound)
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrConflict         = errors.New("idempotency conflict without matching record")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidStatus    = errors.New("invalid status transition")
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}
