package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// BreakerObserver is notified about breaker transitions (metrics).
type BreakerObserver interface {
	BreakerStateChanged(component string, state string)
}

// FallbackStore sends admissions to primary while it is healthy and to
// fallback when it errors or its breaker is open.
type FallbackStore struct {
	primary  Store
	fallback Store
	cb       circuitbreaker.CircuitBreaker[any]
}

type BreakerSettings struct {
	FailureThreshold uint
	Delay            time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, Delay: 30 * time.Second}
}

func NewFallbackStore(primary, fallback Store, settings BreakerSettings, observer BreakerObserver) *FallbackStore {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(settings.FailureThreshold).
		WithDelay(settings.Delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "ratelimit_store",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if observer != nil {
				observer.BreakerStateChanged("ratelimit_store", e.NewState.String())
			}
		}).
		Build()

	return &FallbackStore{primary: primary, fallback: fallback, cb: cb}
}

func (s *FallbackStore) Admit(ctx context.Context, key string, quotas []Quota) (Decision, error) {
	if !s.cb.TryAcquirePermit() {
		return s.fallback.Admit(ctx, key, quotas)
	}

	decision, err := s.primary.Admit(ctx, key, quotas)
	if err != nil {
		s.cb.RecordError(err)
		slog.WarnContext(ctx, "Shared rate limit store failed, using local buckets", "error", err)
		return s.fallback.Admit(ctx, key, quotas)
	}
	s.cb.RecordSuccess()
	return decision, nil
}

// State reports the breaker state.
func (s *FallbackStore) State() circuitbreaker.State {
	return s.cb.State()
}
