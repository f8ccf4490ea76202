package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bhardin04/livedemo/internal/app"
	"github.com/bhardin04/livedemo/internal/connection"
	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/platform/config"
	"github.com/bhardin04/livedemo/internal/ratelimit"
)

// --- Mock implementations ---

type mockAppService struct {
	createSessionFn   func(ctx context.Context, demoType, identity string) (domain.Session, error)
	getSessionFn      func(id string) (domain.Session, error)
	closeSessionFn    func(id string) error
	admitConnectionFn func(ctx context.Context, demoType, sessionID string) (*connection.Connection, error)
	previewFn         func(ctx context.Context, demoType string, seed int64) (domain.UpdateMessage, error)
	ingestFn          func(ctx context.Context, ev domain.AnalyticsEvent) error
	reportErrorFn     func(ctx context.Context, r domain.ErrorReport) error
	submitContactFn   func(ctx context.Context, sub domain.ContactSubmission) error
	stats             app.Stats
	connections       int
}

func (m *mockAppService) CreateSession(ctx context.Context, demoType, identity string) (domain.Session, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, demoType, identity)
	}
	return domain.Session{}, domain.ErrCapacityExceeded
}

func (m *mockAppService) GetSession(id string) (domain.Session, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(id)
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (m *mockAppService) CloseSession(id string) error {
	if m.closeSessionFn != nil {
		return m.closeSessionFn(id)
	}
	return domain.ErrSessionNotFound
}

func (m *mockAppService) CountConnections(string) int { return m.connections }

func (m *mockAppService) AdmitConnection(ctx context.Context, demoType, sessionID string) (*connection.Connection, error) {
	if m.admitConnectionFn != nil {
		return m.admitConnectionFn(ctx, demoType, sessionID)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockAppService) ActivateConnection(context.Context, *connection.Connection, connection.Transport) error {
	return nil
}

func (m *mockAppService) ReleaseConnection(*connection.Connection, domain.CloseReason) {}

func (m *mockAppService) HandleClientMessage(context.Context, *connection.Connection, []byte) {}

func (m *mockAppService) Preview(ctx context.Context, demoType string, seed int64) (domain.UpdateMessage, error) {
	if m.previewFn != nil {
		return m.previewFn(ctx, demoType, seed)
	}
	return domain.UpdateMessage{}, domain.ErrUnknownDemoType
}

func (m *mockAppService) IngestAnalytics(ctx context.Context, ev domain.AnalyticsEvent) error {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, ev)
	}
	return nil
}

func (m *mockAppService) ReportError(ctx context.Context, r domain.ErrorReport) error {
	if m.reportErrorFn != nil {
		return m.reportErrorFn(ctx, r)
	}
	return nil
}

func (m *mockAppService) SubmitContact(ctx context.Context, sub domain.ContactSubmission) error {
	if m.submitContactFn != nil {
		return m.submitContactFn(ctx, sub)
	}
	return nil
}

func (m *mockAppService) Stats() app.Stats { return m.stats }

type mockLimiter struct {
	mu       sync.Mutex
	decision ratelimit.Decision
	err      error
	calls    []ratelimit.Class
}

func (m *mockLimiter) TryAdmit(_ context.Context, _ string, class ratelimit.Class) (ratelimit.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, class)
	return m.decision, m.err
}

type recordingTelemetry struct {
	mu      sync.Mutex
	results map[string][]error
}

func (r *recordingTelemetry) Ingest(kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string][]error)
	}
	r.results[kind] = append(r.results[kind], err)
}

// --- Test server helpers ---

type testServerOption func(*Options)

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(o *Options) { o.HealthChecks = checks }
}

func withMetricsHandler(h http.Handler) testServerOption {
	return func(o *Options) { o.MetricsHandler = h }
}

func withLimiter(l RateLimiter) testServerOption {
	return func(o *Options) { o.Limiter = l }
}

func withClock(c clockwork.Clock) testServerOption {
	return func(o *Options) { o.Clock = c }
}

func withTelemetry(t TelemetryObserver) testServerOption {
	return func(o *Options) { o.Telemetry = t }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv: "test",
		Port:   "0",
		AppURL: "http://localhost:8080",
	}
}

func newTestServer(t *testing.T, app appService, opts ...testServerOption) *Server {
	t.Helper()
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return NewServer(testConfig(), app, o)
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func testSession(id string, demo domain.DemoType, now time.Time) domain.Session {
	return domain.Session{
		ID:             id,
		DemoType:       demo,
		ClientIdentity: "192.0.2.1",
		CreatedAt:      now,
		LastActivityAt: now,
		TTL:            time.Hour,
		State:          domain.SessionActive,
	}
}
