package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bhardin04/livedemo/internal/domain"
	apperrors "github.com/bhardin04/livedemo/internal/platform/errors"
	"github.com/bhardin04/livedemo/internal/ratelimit"
)

func (s *Server) registerTelemetryRoutes() {
	s.echo.POST("/api/analytics", s.handleAnalytics, rateLimit(s.limiter, ratelimit.ClassAnalytics))
	s.echo.POST("/api/errors", s.handleErrorReport, rateLimit(s.limiter, ratelimit.ClassErrorReport))
	s.echo.POST("/api/contact", s.handleContact, rateLimit(s.limiter, ratelimit.ClassContactForm))
}

type analyticsRequest struct {
	Name       string         `json:"name"`
	Path       string         `json:"path"`
	SessionID  string         `json:"sessionId"`
	Properties map[string]any `json:"properties"`
}

type errorReportRequest struct {
	Message   string `json:"message"`
	Stack     string `json:"stack"`
	URL       string `json:"url"`
	UserAgent string `json:"userAgent"`
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (s *Server) handleAnalytics(c echo.Context) error {
	var req analyticsRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	err := s.app.IngestAnalytics(c.Request().Context(), domain.AnalyticsEvent{
		Name:       req.Name,
		Path:       req.Path,
		SessionID:  req.SessionID,
		Properties: req.Properties,
		ClientIP:   c.RealIP(),
	})
	return s.accepted(c, "analytics", err)
}

func (s *Server) handleErrorReport(c echo.Context) error {
	var req errorReportRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request().UserAgent()
	}

	err := s.app.ReportError(c.Request().Context(), domain.ErrorReport{
		Message:   req.Message,
		Stack:     req.Stack,
		URL:       req.URL,
		UserAgent: req.UserAgent,
		ClientIP:  c.RealIP(),
	})
	return s.accepted(c, "error_report", err)
}

func (s *Server) handleContact(c echo.Context) error {
	var req contactRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	err := s.app.SubmitContact(c.Request().Context(), domain.ContactSubmission{
		Name:     req.Name,
		Email:    req.Email,
		Message:  req.Message,
		ClientIP: c.RealIP(),
	})
	return s.accepted(c, "contact", err)
}

// accepted records the outcome and answers 202 on success.
func (s *Server) accepted(c echo.Context, kind string, err error) error {
	if s.telemetry != nil {
		s.telemetry.Ingest(kind, err)
	}
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
