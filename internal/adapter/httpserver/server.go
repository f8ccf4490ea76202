package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/bhardin04/livedemo/internal/adapter/websocket"
	"github.com/bhardin04/livedemo/internal/app"
	"github.com/bhardin04/livedemo/internal/connection"
	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/platform/config"
)

type appService interface {
	CreateSession(ctx context.Context, demoType, identity string) (domain.Session, error)
	GetSession(id string) (domain.Session, error)
	CloseSession(id string) error
	CountConnections(sessionID string) int

	AdmitConnection(ctx context.Context, demoType, sessionID string) (*connection.Connection, error)
	ActivateConnection(ctx context.Context, conn *connection.Connection, transport connection.Transport) error
	ReleaseConnection(conn *connection.Connection, reason domain.CloseReason)
	HandleClientMessage(ctx context.Context, conn *connection.Connection, data []byte)

	Preview(ctx context.Context, demoType string, seed int64) (domain.UpdateMessage, error)
	IngestAnalytics(ctx context.Context, ev domain.AnalyticsEvent) error
	ReportError(ctx context.Context, report domain.ErrorReport) error
	SubmitContact(ctx context.Context, sub domain.ContactSubmission) error
	Stats() app.Stats
}

// TelemetryObserver counts ingestion outcomes per kind.
type TelemetryObserver interface {
	Ingest(kind string, err error)
}

// Options carries the optional collaborators of the server.
type Options struct {
	Limiter        RateLimiter
	MetricsHandler http.Handler
	HTTPMetrics    echo.MiddlewareFunc
	Telemetry      TelemetryObserver
	HealthChecks   []HealthCheck
	Clock          clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app       appService
	limiter   RateLimiter
	upgrader  *gws.Upgrader
	telemetry TelemetryObserver

	metricsHandler http.Handler
	httpMetrics    echo.MiddlewareFunc
	healthChecks   []HealthCheck
	clock          clockwork.Clock
	startTime      time.Time
}

func NewServer(cfg *config.Config, app appService, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:           e,
		config:         cfg,
		app:            app,
		limiter:        opts.Limiter,
		upgrader:       websocket.NewUpgrader(websocket.NewCheckOrigin(cfg.AppURL, cfg.AppEnv != "production")),
		telemetry:      opts.Telemetry,
		metricsHandler: opts.MetricsHandler,
		httpMetrics:    opts.HTTPMetrics,
		healthChecks:   opts.HealthChecks,
		clock:          clock,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) getBaseURL(c echo.Context) string {
	scheme := "http"
	if c.Request().TLS != nil {
		scheme = "https"
	}
	if fwdProto := c.Request().Header.Get("X-Forwarded-Proto"); fwdProto == "http" || fwdProto == "https" {
		scheme = fwdProto
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request().Host)
}

// websocketURL builds the ws(s):// URL a client dials for a session.
func (s *Server) websocketURL(c echo.Context, sess domain.Session) string {
	base := s.getBaseURL(c)
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	default:
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/ws/%s/%s", base, sess.DemoType, sess.ID)
}
