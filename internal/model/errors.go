package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the boundary layers. Handlers map these onto HTTP
// status codes; nothing in this taxonomy is process-fatal.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
)

// ValidationError rejects missing or malformed required input. Field names
// the offending input so clients can point the user at it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UpstreamError wraps a failed storage, CRM, or messaging call. It is
// logged and scoped to one record; the operation is retried on the next
// sweep rather than inline. Timeouts are classified the same way.
type UpstreamError struct {
	System string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.System, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError wraps err as a recoverable upstream failure.
func NewUpstreamError(system string, err error) error {
	return &UpstreamError{System: system, Err: err}
}

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
