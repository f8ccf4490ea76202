package httpserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bhardin04/livedemo/internal/platform/errors"
	"github.com/bhardin04/livedemo/internal/ratelimit"
)

const testRemoteAddr = "1.2.3.4:1234"

func joinClasses(l *mockLimiter) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, len(l.calls))
	for i, c := range l.calls {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

func runLimited(t *testing.T, limiter RateLimiter) (*httptest.ResponseRecorder, error, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := rateLimit(limiter, ratelimit.ClassAnalytics)(func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	})
	return rec, handler(c), called
}

func TestRateLimitAllowsAdmittedRequests(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}

	rec, err, called := runLimited(t, limiter)

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analytics-ingest", joinClasses(limiter))
}

func TestRateLimitRejectsDeniedRequests(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 42 * time.Second}}

	_, err, called := runLimited(t, limiter)

	assert.False(t, called)
	var apiErr *apperrors.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apperrors.TypeRateLimited, apiErr.Type)
	assert.Equal(t, 42, apiErr.RetryAfterSeconds())
}

func TestRateLimitRetryAfterIsAtLeastOneSecond(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 10 * time.Millisecond}}

	_, err, _ := runLimited(t, limiter)

	var apiErr *apperrors.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1, apiErr.RetryAfterSeconds())
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &mockLimiter{err: errors.New("redis unavailable")}

	rec, err, called := runLimited(t, limiter)

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitWithoutLimiter(t *testing.T) {
	rec, err, called := runLimited(t, nil)

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitWithRealLimiter(t *testing.T) {
	store := ratelimit.NewMemoryStore(clockwork.NewFakeClock())
	limiter, err := ratelimit.New(ratelimit.Quotas{
		ratelimit.ClassAnalytics: {ratelimit.PerMinute(2)},
	}, store, nil)
	require.NoError(t, err)

	for range 2 {
		rec, err, _ := runLimited(t, limiter)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	_, err, called := runLimited(t, limiter)
	assert.False(t, called)
	assert.Error(t, err)
}
