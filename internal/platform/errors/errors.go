// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bhardin04/livedemo/internal/domain"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	TypeValidation  ErrorType = "validation"
	TypeNotFound    ErrorType = "not_found"
	TypeConflict    ErrorType = "conflict"
	TypeRateLimited ErrorType = "rate_limited"
	TypeCapacity    ErrorType = "capacity_exceeded"
	TypeInternal    ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
// Status overrides the status derived from Type when set.
type Error struct {
	Type       ErrorType
	Status     int
	Message    string
	Cause      error
	RetryAfter time.Duration
	Context    map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeCapacity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, as the Retry-After header requires.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

// ConflictError creates a new conflict error (HTTP 409).
func ConflictError(message string) *Error {
	return newError(TypeConflict, message, nil)
}

// RateLimitedError creates a new rate-limit rejection (HTTP 429).
func RateLimitedError(message string, retryAfter time.Duration) *Error {
	e := newError(TypeRateLimited, message, nil)
	e.RetryAfter = retryAfter
	return e
}

// CapacityError creates a new capacity rejection (HTTP 503).
func CapacityError(message string, cause error) *Error {
	return newError(TypeCapacity, message, cause)
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// WithField adds a context field to the error (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error      string         `json:"error"`
	Type       ErrorType      `json:"error_type"`
	RetryAfter int            `json:"retry_after,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:      e.Message,
		Type:       e.Type,
		RetryAfter: e.RetryAfterSeconds(),
		Context:    e.Context,
	}
}

// FromDomain maps domain sentinel errors onto structured HTTP errors.
// Unrecognised errors return nil.
func FromDomain(err error) *Error {
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl):
		return RateLimitedError("rate limit exceeded", rl.RetryAfter).WithField("route_class", rl.RouteClass)
	case errors.Is(err, domain.ErrRateLimited):
		return RateLimitedError("rate limit exceeded", 0)
	case errors.Is(err, domain.ErrPerSessionCapacityExceeded):
		return CapacityError("session connection limit reached", err).WithField("limit", "per_session")
	case errors.Is(err, domain.ErrGlobalCapacityExceeded):
		return CapacityError("server connection limit reached", err).WithField("limit", "global")
	case errors.Is(err, domain.ErrCapacityExceeded):
		return CapacityError("server is at capacity", err)
	case errors.Is(err, domain.ErrSessionNotFound):
		return NotFoundError("session not found")
	case errors.Is(err, domain.ErrConnectionNotFound):
		return NotFoundError("connection not found")
	case errors.Is(err, domain.ErrUnknownDemoType):
		return ValidationError("unknown demo type")
	case errors.Is(err, domain.ErrDemoTypeMismatch):
		return ValidationError("demo type does not match session")
	case errors.Is(err, domain.ErrInvalidInput):
		return ValidationError(err.Error())
	case errors.Is(err, domain.ErrSimulationComplete):
		return ConflictError("simulation already complete")
	default:
		return nil
	}
}

// AsStructuredError converts any error into a structured Error.
// *Error values pass through, domain errors are mapped, anything else becomes internal.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	if mapped := FromDomain(err); mapped != nil {
		return mapped
	}

	return InternalError("internal server error", err)
}
