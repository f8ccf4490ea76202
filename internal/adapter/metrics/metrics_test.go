package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionMetrics_GaugeFollowsLifecycle(t *testing.T) {
	m := NewConnectionMetrics(prometheus.NewRegistry())

	m.ConnectionAdmitted()
	m.ConnectionAdmitted()
	m.ConnectionClosed("heartbeat_timeout")
	m.ConnectionRejected("per_session")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Closes.WithLabelValues("heartbeat_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("per_session")))
}

func TestSessionMetrics(t *testing.T) {
	m := NewSessionMetrics(prometheus.NewRegistry())

	m.SessionCreated("payment")
	m.SessionCreated("sales")
	m.SessionEnded("session_expired")
	m.SessionRejected("capacity")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Active))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Created.WithLabelValues("payment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ended.WithLabelValues("session_expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("capacity")))
}

func TestSimulationMetrics(t *testing.T) {
	m := NewSimulationMetrics(prometheus.NewRegistry())

	m.TickEmitted("logistics", 7)
	m.TickEmitted("logistics", 3)
	m.TickFailed("logistics")
	m.BroadcastDone(4, 1, 0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks.WithLabelValues("logistics")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.RecordsEmitted.WithLabelValues("logistics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TickErrors.WithLabelValues("logistics")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("failed")))
}

func TestRateLimitMetrics_BreakerState(t *testing.T) {
	m := NewRateLimitMetrics(prometheus.NewRegistry())

	m.RecordDenied("contact-form")
	m.BreakerStateChanged("ratelimit_store", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Denied.WithLabelValues("contact-form")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("ratelimit_store")))

	m.BreakerStateChanged("ratelimit_store", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("ratelimit_store")))
}

func TestTelemetryMetrics(t *testing.T) {
	m := NewTelemetryMetrics(prometheus.NewRegistry())

	m.Ingest("analytics", nil)
	m.Ingest("analytics", errors.New("db down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues("analytics", "stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues("analytics", "error")))
}

func TestDBMetrics(t *testing.T) {
	m := NewDBMetrics(prometheus.NewRegistry())

	m.QueryDone("INSERT", 0.002, nil)
	m.QueryDone("INSERT", 0.004, errors.New("duplicate key"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.QueryDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues("INSERT")))
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/stats", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, path := range []string{"/api/stats", "/api/stats", "/health/live"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/stats", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightGauge))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal), "health probes are not recorded")
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := NewRegistry()
	NewSessionMetrics(reg).SessionCreated("payment")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "livedemo_sessions_active 1"))
}
