package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apperrors "github.com/bhardin04/livedemo/internal/platform/errors"
	"github.com/bhardin04/livedemo/internal/ratelimit"
)

func (s *Server) registerDemoRoutes() {
	s.echo.GET("/api/demos/:demoType/preview", s.handlePreview, rateLimit(s.limiter, ratelimit.ClassDemoDataFetch))
	s.echo.GET("/api/stats", s.handleStats)
}

func (s *Server) handlePreview(c echo.Context) error {
	var seed int64
	if raw := c.QueryParam("seed"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperrors.ValidationError("seed must be an integer").WithField("seed", raw)
		}
		seed = v
	}

	msg, err := s.app.Preview(c.Request().Context(), c.Param("demoType"), seed)
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, msg); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStats(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.app.Stats()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
