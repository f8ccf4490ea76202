package httpserver

import (
	"github.com/labstack/echo/v4/middleware"

	"github.com/bhardin04/livedemo/internal/ratelimit"
)

const maxBodySize = "64K"

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(requestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics)
	}
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))
	s.echo.Use(middleware.BodyLimit(maxBodySize))

	s.registerHealthRoutes()
	s.registerSessionRoutes()
	s.registerDemoRoutes()
	s.registerTelemetryRoutes()

	s.echo.GET("/ws/:demoType/:sessionId", s.handleWebSocket, rateLimit(s.limiter, ratelimit.ClassConnectionOpen))
}
