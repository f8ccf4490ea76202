package httpserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	apperrors "github.com/bhardin04/livedemo/internal/platform/errors"
	"github.com/bhardin04/livedemo/internal/ratelimit"
)

const (
	// minRetryAfter keeps the Retry-After header from rounding down to zero.
	minRetryAfter = time.Second
	// failOpenLogInterval bounds the warning rate while the store is down.
	failOpenLogInterval = 10 * time.Second
)

// RateLimiter is the admission check the per-route middleware consults.
type RateLimiter interface {
	TryAdmit(ctx context.Context, identity string, class ratelimit.Class) (ratelimit.Decision, error)
}

// rateLimit admits requests of one route class per client IP. A failing
// limiter lets the request through.
func rateLimit(limiter RateLimiter, class ratelimit.Class) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if limiter == nil {
			return next
		}
		warn := &rate.Sometimes{First: 1, Interval: failOpenLogInterval}
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			decision, err := limiter.TryAdmit(ctx, c.RealIP(), class)
			if err != nil {
				warn.Do(func() {
					slog.WarnContext(ctx, "Rate limiter unavailable, admitting request", "route_class", class, "error", err)
				})
				return next(c)
			}
			if !decision.Allowed {
				return apperrors.RateLimitedError("rate limit exceeded", max(decision.RetryAfter, minRetryAfter)).
					WithField("route_class", string(class))
			}
			return next(c)
		}
	}
}
