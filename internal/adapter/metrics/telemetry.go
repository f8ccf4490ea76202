package metrics

import "github.com/prometheus/client_golang/prometheus"

// TelemetryMetrics counts analytics events, error reports and contact submissions received.
type TelemetryMetrics struct {
	Ingested *prometheus.CounterVec
}

func NewTelemetryMetrics(reg prometheus.Registerer) *TelemetryMetrics {
	m := &TelemetryMetrics{
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "ingested_total",
			Help:      "Telemetry submissions, by kind and result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(m.Ingested)
	return m
}

func (m *TelemetryMetrics) Ingest(kind string, err error) {
	result := "stored"
	if err != nil {
		result = "error"
	}
	m.Ingested.WithLabelValues(kind, result).Inc()
}
