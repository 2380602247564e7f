package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDependencyUnavailable marks failures of the queue or the store.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrPermanent marks task failures that must not be retried.
	ErrPermanent = errors.New("permanent failure")

	// ErrReferenceGone is returned when a deferred task refers to an author
	// that no longer exists.
	ErrReferenceGone = fmt.Errorf("%w: reference gone", ErrPermanent)
)

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
