package engine

import (
	"errors"
	"fmt"

	"github.com/lalithlochan/herald/internal/db"
)

var (
	// ErrTransientStore wraps any storage failure the caller may retry.
	ErrTransientStore = errors.New("notification store unavailable")

	// ErrMissingRecipient marks a notification FAILED because the user or the
	// contact attribute its channel needs does not exist.
	ErrMissingRecipient = errors.New("recipient missing for channel")

	// ErrDelivery is matched by every DeliveryError.
	ErrDelivery = errors.New("delivery failed")

	// ErrUserNotFound is returned by bulk notify for an unknown user.
	ErrUserNotFound = errors.New("user not found")

	// ErrValidation is returned for malformed input before anything is written.
	ErrValidation = errors.New("validation failed")
)

// DeliveryError is the terminal failure of a sender call, including timeouts
// and rejections by an open circuit breaker.
type DeliveryError struct {
	Channel db.Channel
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
