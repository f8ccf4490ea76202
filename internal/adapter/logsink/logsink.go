// Package logsink provides telemetry and contact collaborators that only write
// structured log records. They are used when no database or mailer is configured.
package logsink

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bhardin04/livedemo/internal/domain"
)

const maxLoggedStack = 500

type TelemetryStore struct {
	logger *slog.Logger
}

var _ domain.TelemetryStore = (*TelemetryStore)(nil)

// NewTelemetryStore logs through logger, or slog.Default when nil.
func NewTelemetryStore(logger *slog.Logger) *TelemetryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryStore{logger: logger.With("component", "telemetry")}
}

func (s *TelemetryStore) SaveAnalyticsEvent(ctx context.Context, ev domain.AnalyticsEvent) error {
	s.logger.InfoContext(ctx, "Analytics event",
		"name", ev.Name,
		"path", ev.Path,
		"session_id", ev.SessionID,
		"properties", ev.Properties,
		"client_ip", ev.ClientIP,
		"received_at", ev.ReceivedAt,
	)
	return nil
}

func (s *TelemetryStore) SaveErrorReport(ctx context.Context, r domain.ErrorReport) error {
	s.logger.WarnContext(ctx, "Client error report",
		"message", r.Message,
		"stack", truncate(r.Stack, maxLoggedStack),
		"url", r.URL,
		"user_agent", r.UserAgent,
		"client_ip", r.ClientIP,
		"received_at", r.ReceivedAt,
	)
	return nil
}

// ContactSink logs contact submissions without the message body or the full address.
type ContactSink struct {
	logger *slog.Logger
}

var _ domain.ContactSink = (*ContactSink)(nil)

func NewContactSink(logger *slog.Logger) *ContactSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContactSink{logger: logger.With("component", "contact")}
}

func (s *ContactSink) SubmitContact(ctx context.Context, sub domain.ContactSubmission) error {
	s.logger.InfoContext(ctx, "Contact submission received",
		"name", sub.Name,
		"email_domain", emailDomain(sub.Email),
		"message_length", utf8.RuneCountInString(sub.Message),
		"client_ip", sub.ClientIP,
	)
	return nil
}

func emailDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return strings.TrimSuffix(addr[i+1:], ">")
	}
	return ""
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}
