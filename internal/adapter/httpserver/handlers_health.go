package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bhardin04/livedemo/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second

	registryCheckName = "connection_registry"
)

var errRegistryUnresponsive = errors.New("connection registry did not answer")

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// capacityUsage reports how much of a hard cap is taken.
type capacityUsage struct {
	InUse       int     `json:"in_use"`
	Max         int     `json:"max"`
	Utilization float64 `json:"utilization"`
}

func usage(inUse, limit int) capacityUsage {
	u := capacityUsage{InUse: inUse, Max: limit}
	if limit > 0 {
		u.Utilization = float64(inUse) / float64(limit)
	}
	return u
}

type readinessResponse struct {
	Status      string        `json:"status"`
	Sessions    capacityUsage `json:"sessions"`
	Connections capacityUsage `json:"connections"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}
}

// handleStartup only waits for the external dependencies; the in-process
// registries exist as soon as the server does.
func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	if name, err := s.runHealthChecks(ctx); err != nil {
		return writeUnhealthy(c, name, err)
	}
	if err := c.JSON(http.StatusOK, map[string]string{"status": "ready"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": s.clock.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}

	return nil
}

// handleReadiness fails when the connection registry stops answering or an
// external dependency is down. A full server stays ready; saturation is
// reported so a balancer can prefer emptier instances.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	stats := s.app.Stats()
	if stats.Connections < 0 {
		return writeUnhealthy(c, registryCheckName, errRegistryUnresponsive)
	}
	if name, err := s.runHealthChecks(ctx); err != nil {
		return writeUnhealthy(c, name, err)
	}

	response := readinessResponse{
		Status:      "ready",
		Sessions:    usage(stats.Sessions, stats.MaxSessions),
		Connections: usage(stats.Connections, stats.MaxConnections),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// runHealthChecks returns the name and error of the first failing check.
func (s *Server) runHealthChecks(ctx context.Context) (string, error) {
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			return hc.Name, err
		}
	}
	return "", nil
}

func writeUnhealthy(c echo.Context, name string, cause error) error {
	response := map[string]any{
		"status":       "unhealthy",
		"failed_check": name,
		"error":        cause.Error(),
	}
	if err := c.JSON(http.StatusServiceUnavailable, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
