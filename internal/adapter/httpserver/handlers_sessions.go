package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/bhardin04/livedemo/internal/platform/errors"
)

func (s *Server) registerSessionRoutes() {
	s.echo.POST("/api/sessions", s.handleCreateSession)
	s.echo.GET("/api/sessions/:id", s.handleGetSession)
	s.echo.DELETE("/api/sessions/:id", s.handleCloseSession)
}

type createSessionRequest struct {
	DemoType string `json:"demoType"`
}

type createSessionResponse struct {
	SessionID    string `json:"sessionId"`
	DemoType     string `json:"demoType"`
	TTLSeconds   int    `json:"ttlSeconds"`
	WebsocketURL string `json:"websocketUrl"`
}

type sessionResponse struct {
	SessionID      string    `json:"sessionId"`
	DemoType       string    `json:"demoType"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	TTLSeconds     int       `json:"ttlSeconds"`
	Connections    int       `json:"connections"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.DemoType == "" {
		return apperrors.ValidationError("demoType is required")
	}

	sess, err := s.app.CreateSession(c.Request().Context(), req.DemoType, c.RealIP())
	if err != nil {
		return err
	}

	resp := createSessionResponse{
		SessionID:    sess.ID,
		DemoType:     string(sess.DemoType),
		TTLSeconds:   int(sess.TTL.Seconds()),
		WebsocketURL: s.websocketURL(c, sess),
	}
	if err := c.JSON(http.StatusCreated, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.app.GetSession(c.Param("id"))
	if err != nil {
		return err
	}

	resp := sessionResponse{
		SessionID:      sess.ID,
		DemoType:       string(sess.DemoType),
		State:          string(sess.State),
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
		ExpiresAt:      sess.LastActivityAt.Add(sess.TTL),
		TTLSeconds:     int(sess.TTL.Seconds()),
		Connections:    s.app.CountConnections(sess.ID),
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCloseSession(c echo.Context) error {
	if err := s.app.CloseSession(c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
