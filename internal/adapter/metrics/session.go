package metrics

import "github.com/prometheus/client_golang/prometheus"

// SessionMetrics tracks the live session registry.
type SessionMetrics struct {
	Active     prometheus.Gauge
	Created    *prometheus.CounterVec
	Ended      *prometheus.CounterVec
	Rejections *prometheus.CounterVec
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of live demo sessions.",
		}),
		Created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Sessions created, by demo type.",
		}, []string{"demo_type"}),
		Ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "ended_total",
			Help:      "Sessions ended, by reason.",
		}, []string{"reason"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "rejections_total",
			Help:      "Session creations refused, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.Active, m.Created, m.Ended, m.Rejections)
	return m
}

func (m *SessionMetrics) SessionCreated(demoType string) {
	m.Active.Inc()
	m.Created.WithLabelValues(demoType).Inc()
}

func (m *SessionMetrics) SessionEnded(reason string) {
	m.Active.Dec()
	m.Ended.WithLabelValues(reason).Inc()
}

func (m *SessionMetrics) SessionRejected(reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}
