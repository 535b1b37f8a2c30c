package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	ErrInvalidRequest      = errors.New("invalid delivery request")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrPrecedenceViolation = errors.New("dropoff has no matching pickup in context")
	ErrSessionNotFound     = errors.New("tracking session not found")
	ErrCourierNotFound     = errors.New("courier not found")
	ErrCapacityExceeded    = errors.New("courier capacity exceeded")
	ErrCourierUnavailable  = errors.New("courier unavailable")
)

// ValidationError reports malformed caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
