package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups that match no record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned when a user is created with an email already on file.
	ErrDuplicateEmail = errors.New("user with this email already exists")

	// ErrInvalidTransition is returned when a status update targets a non-terminal status.
	ErrInvalidTransition = errors.New("invalid notification status transition")
)

// ValidationError describes malformed input rejected before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
