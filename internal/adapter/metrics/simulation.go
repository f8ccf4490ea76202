package metrics

import "github.com/prometheus/client_golang/prometheus"

// SimulationMetrics tracks simulation ticks and broadcast fan-out.
type SimulationMetrics struct {
	Ticks          *prometheus.CounterVec
	TickErrors     *prometheus.CounterVec
	RecordsEmitted *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
	FanOutDuration prometheus.Histogram
}

func NewSimulationMetrics(reg prometheus.Registerer) *SimulationMetrics {
	m := &SimulationMetrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "ticks_total",
			Help:      "Simulation ticks that produced an event, by demo type.",
		}, []string{"demo_type"}),
		TickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "tick_errors_total",
			Help:      "Simulation ticks skipped because the generator failed, by demo type.",
		}, []string{"demo_type"}),
		RecordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "records_emitted_total",
			Help:      "Simulated records emitted, by demo type.",
		}, []string{"demo_type"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Per-connection broadcast deliveries, by result.",
		}, []string{"result"}),
		FanOutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of one session broadcast in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
	}

	reg.MustRegister(m.Ticks, m.TickErrors, m.RecordsEmitted, m.Deliveries, m.FanOutDuration)
	return m
}

func (m *SimulationMetrics) TickEmitted(demoType string, records int) {
	m.Ticks.WithLabelValues(demoType).Inc()
	m.RecordsEmitted.WithLabelValues(demoType).Add(float64(records))
}

func (m *SimulationMetrics) TickFailed(demoType string) {
	m.TickErrors.WithLabelValues(demoType).Inc()
}

func (m *SimulationMetrics) BroadcastDone(delivered, failed int, seconds float64) {
	m.Deliveries.WithLabelValues("delivered").Add(float64(delivered))
	m.Deliveries.WithLabelValues("failed").Add(float64(failed))
	m.FanOutDuration.Observe(seconds)
}
