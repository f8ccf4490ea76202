package metrics

import "github.com/prometheus/client_golang/prometheus"

// RateLimitMetrics tracks admission denials and the shared-store circuit breaker.
type RateLimitMetrics struct {
	Denied             *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
}

func NewRateLimitMetrics(reg prometheus.Registerer) *RateLimitMetrics {
	m := &RateLimitMetrics{
		Denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Requests denied by the rate limiter, by route class.",
		}, []string{"class"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"component"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker state transitions, by component and new state.",
		}, []string{"component", "state"}),
	}

	reg.MustRegister(m.Denied, m.BreakerState, m.BreakerTransitions)
	return m
}

func (m *RateLimitMetrics) RecordDenied(class string) {
	m.Denied.WithLabelValues(class).Inc()
}

func (m *RateLimitMetrics) BreakerStateChanged(component, state string) {
	m.BreakerTransitions.WithLabelValues(component, state).Inc()
	m.BreakerState.WithLabelValues(component).Set(stateValue(state))
}

func stateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
