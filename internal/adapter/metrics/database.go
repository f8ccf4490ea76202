package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBMetrics tracks Postgres query latency and failures by SQL verb.
type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

func NewDBMetrics(reg prometheus.Registerer) *DBMetrics {
	m := &DBMetrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Failed database queries.",
		}, []string{"operation"}),
	}

	reg.MustRegister(m.QueryDuration, m.QueryErrors)
	return m
}

func (m *DBMetrics) QueryDone(operation string, seconds float64, err error) {
	m.QueryDuration.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		m.QueryErrors.WithLabelValues(operation).Inc()
	}
}
