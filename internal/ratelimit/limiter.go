package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownClass = errors.New("unknown route class")

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Store keeps the counters behind a key. Admit must be atomic across all
// quotas: either every quota is charged or none is.
type Store interface {
	Admit(ctx context.Context, key string, quotas []Quota) (Decision, error)
}

// DenialRecorder receives denied admissions (metrics).
type DenialRecorder interface {
	RecordDenied(class string)
}

type Limiter struct {
	quotas   Quotas
	store    Store
	recorder DenialRecorder
}

func New(quotas Quotas, store Store, recorder DenialRecorder) (*Limiter, error) {
	if err := quotas.validate(); err != nil {
		return nil, err
	}
	return &Limiter{quotas: quotas, store: store, recorder: recorder}, nil
}

// TryAdmit checks and, when allowed, charges every quota of class for identity.
func (l *Limiter) TryAdmit(ctx context.Context, identity string, class Class) (Decision, error) {
	quotas, ok := l.quotas[class]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	decision, err := l.store.Admit(ctx, key(identity, class), quotas)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}

	if !decision.Allowed && l.recorder != nil {
		l.recorder.RecordDenied(string(class))
	}
	return decision, nil
}

// Quotas returns the quotas configured for class.
func (l *Limiter) Quotas(class Class) []Quota {
	return l.quotas[class]
}

func key(identity string, class Class) string {
	return string(class) + ":" + identity
}
