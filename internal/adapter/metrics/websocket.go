package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConnectionMetrics tracks the WebSocket connection registry.
type ConnectionMetrics struct {
	ActiveConnections prometheus.Gauge
	Rejections        *prometheus.CounterVec
	Closes            *prometheus.CounterVec
	MessagesSent      prometheus.Counter
}

func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of admitted WebSocket connections, including those still upgrading.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejections_total",
			Help:      "Connection admissions refused, by reason.",
		}, []string{"reason"}),
		Closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "closes_total",
			Help:      "Connections closed, by reason.",
		}, []string{"reason"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of frames written to WebSocket clients.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.Rejections, m.Closes, m.MessagesSent)
	return m
}

func (m *ConnectionMetrics) ConnectionAdmitted() { m.ActiveConnections.Inc() }
func (m *ConnectionMetrics) ConnectionRejected(reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}
func (m *ConnectionMetrics) MessageSent() { m.MessagesSent.Inc() }

func (m *ConnectionMetrics) ConnectionClosed(reason string) {
	m.ActiveConnections.Dec()
	m.Closes.WithLabelValues(reason).Inc()
}
