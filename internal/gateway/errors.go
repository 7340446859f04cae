package gateway

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every concrete error below reports itself as one of these
// through errors.Is, so callers can branch on the kind without type switches.
var (
	ErrValidation = errors.New("validation failed")
	ErrNetwork    = errors.New("network error")
	ErrServer     = errors.New("server error")
	ErrNotFound   = errors.New("not found")
)

// ValidationError reports bad local input. It is raised before any request is
// made.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NetworkError means no HTTP response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ServerError is any non-2xx answer other than 404, or a 2xx answer whose body
// could not be understood.
type ServerError struct {
	Op   string
	Code int
	Body string
	Err  error
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("%s: server error (status %d)", e.Op, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServerError) Unwrap() error { return e.Err }

func (e *ServerError) Is(target error) bool { return target == ErrServer }

// NotFoundError is a 404 from the service.
type NotFoundError struct {
	Op   string
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found", e.Op, e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsTransient reports whether err is worth retrying by a caller that has a
// retry budget (the progress poller). Validation and not-found errors never
// are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return false
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrServer)
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return 404
	}
	return 0
}
