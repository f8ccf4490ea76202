package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited                = errors.New("rate limited")
	ErrCapacityExceeded           = errors.New("capacity exceeded")
	ErrPerSessionCapacityExceeded = fmt.Errorf("per-session connection %w", ErrCapacityExceeded)
	ErrGlobalCapacityExceeded     = fmt.Errorf("global connection %w", ErrCapacityExceeded)
	ErrSessionNotFound            = errors.New("session not found")
	ErrConnectionNotFound         = errors.New("connection not found")
	ErrUnknownDemoType            = errors.New("unknown demo type")
	ErrDemoTypeMismatch           = errors.New("demo type does not match session")
	ErrInvalidInput               = errors.New("invalid input")
	ErrSimulationComplete         = errors.New("simulation complete")
)

// RateLimitError carries the retry hint of a denied admission.
// It matches ErrRateLimited with errors.Is.
type RateLimitError struct {
	RouteClass string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.RouteClass, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// SimulationTickError wraps a failed payload generation. Logged and skipped, never sent to clients.
type SimulationTickError struct {
	SessionID string
	Tick      int64
	Err       error
}

func (e *SimulationTickError) Error() string {
	return fmt.Sprintf("simulation tick %d for session %s: %v", e.Tick, e.SessionID, e.Err)
}

func (e *SimulationTickError) Unwrap() error { return e.Err }
