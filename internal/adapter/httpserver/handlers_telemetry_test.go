package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhardin04/livedemo/internal/domain"
)

func TestAnalytics(t *testing.T) {
	var got domain.AnalyticsEvent
	mock := &mockAppService{ingestFn: func(_ context.Context, ev domain.AnalyticsEvent) error {
		got = ev
		return nil
	}}
	telemetry := &recordingTelemetry{}
	srv := newTestServer(t, mock, withTelemetry(telemetry))

	rec := serve(srv, jsonRequest(http.MethodPost, "/api/analytics",
		`{"name":"demo_started","path":"/demos/payment","properties":{"variant":"b"}}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "demo_started", got.Name)
	assert.Equal(t, "/demos/payment", got.Path)
	assert.Equal(t, "b", got.Properties["variant"])
	assert.Equal(t, "1.2.3.4", got.ClientIP)
	assert.Equal(t, []error{nil}, telemetry.results["analytics"])
}

func TestErrorReport_DefaultsUserAgent(t *testing.T) {
	var got domain.ErrorReport
	mock := &mockAppService{reportErrorFn: func(_ context.Context, r domain.ErrorReport) error {
		got = r
		return nil
	}}
	srv := newTestServer(t, mock)

	req := jsonRequest(http.MethodPost, "/api/errors", `{"message":"boom","stack":"at x"}`)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := serve(srv, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, "Mozilla/5.0", got.UserAgent)
}

func TestContact(t *testing.T) {
	telemetry := &recordingTelemetry{}
	mock := &mockAppService{submitContactFn: func(_ context.Context, sub domain.ContactSubmission) error {
		if sub.Email == "bad" {
			return fmt.Errorf("email is not a valid address: %w", domain.ErrInvalidInput)
		}
		return nil
	}}
	srv := newTestServer(t, mock, withTelemetry(telemetry))

	rec := serve(srv, jsonRequest(http.MethodPost, "/api/contact",
		`{"name":"Ada","email":"ada@example.com","message":"Please call me back."}`))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(srv, jsonRequest(http.MethodPost, "/api/contact", `{"name":"Ada","email":"bad","message":"hello there"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "email is not a valid address")

	require.Len(t, telemetry.results["contact"], 2)
	assert.NoError(t, telemetry.results["contact"][0])
	assert.ErrorIs(t, telemetry.results["contact"][1], domain.ErrInvalidInput)
}

func TestTelemetry_StoreFailureIsInternal(t *testing.T) {
	mock := &mockAppService{ingestFn: func(context.Context, domain.AnalyticsEvent) error {
		return errors.New("save analytics event: connection reset")
	}}
	srv := newTestServer(t, mock)

	rec := serve(srv, jsonRequest(http.MethodPost, "/api/analytics", `{"name":"x"}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestTelemetry_RouteClasses(t *testing.T) {
	limiter := &mockLimiter{}
	limiter.decision.Allowed = true
	srv := newTestServer(t, &mockAppService{}, withLimiter(limiter))

	serve(srv, jsonRequest(http.MethodPost, "/api/analytics", `{"name":"x"}`))
	serve(srv, jsonRequest(http.MethodPost, "/api/errors", `{"message":"x"}`))
	serve(srv, jsonRequest(http.MethodPost, "/api/contact", `{}`))

	assert.Equal(t, "analytics-ingest,error-report,contact-form", joinClasses(limiter))
}
