package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/bhardin04/livedemo/internal/adapter/websocket"
	"github.com/bhardin04/livedemo/internal/connection"
	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/platform/correlation"
)

// handleWebSocket admits, upgrades and serves one live connection. Admission
// errors are answered as plain HTTP errors before the upgrade.
func (s *Server) handleWebSocket(c echo.Context) error {
	ctx := correlation.WithSessionID(c.Request().Context(), c.Param("sessionId"))

	conn, err := s.app.AdmitConnection(ctx, c.Param("demoType"), c.Param("sessionId"))
	if err != nil {
		return err
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.app.ReleaseConnection(conn, domain.ReasonRejected)
		slog.WarnContext(ctx, "WebSocket upgrade failed", "connection_id", conn.ID(), "error", err)
		return nil
	}

	transport := websocket.NewTransport(ws)
	if err := s.app.ActivateConnection(ctx, conn, transport); err != nil {
		s.app.ReleaseConnection(conn, domain.ReasonRejected)
		_ = transport.Close()
		slog.WarnContext(ctx, "WebSocket activation failed", "connection_id", conn.ID(), "error", err)
		return nil
	}
	slog.InfoContext(ctx, "WebSocket connected", "connection_id", conn.ID(), "remote_ip", c.RealIP())

	err = websocket.ReadPump(ctx, ws,
		func(data []byte) {
			msgCtx := correlation.WithID(ctx, correlation.NewID())
			s.app.HandleClientMessage(msgCtx, conn, data)
		},
		conn.RecordPong,
	)
	if err != nil && conn.State() == connection.StateOpen {
		slog.DebugContext(ctx, "WebSocket read ended", "connection_id", conn.ID(), "error", err)
	}

	s.app.ReleaseConnection(conn, domain.ReasonClientClose)
	slog.InfoContext(ctx, "WebSocket disconnected", "connection_id", conn.ID())
	return nil
}
