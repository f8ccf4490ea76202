package domain

import (
	"context"
	"time"
)

// AnalyticsEvent is a page/interaction event sent by the website.
type AnalyticsEvent struct {
	Name       string
	Path       string
	SessionID  string
	Properties map[string]any
	ClientIP   string
	ReceivedAt time.Time
}

// ErrorReport is a client-side error captured by the browser.
type ErrorReport struct {
	Message    string
	Stack      string
	URL        string
	UserAgent  string
	ClientIP   string
	ReceivedAt time.Time
}

// TelemetryStore persists analytics events and client error reports.
type TelemetryStore interface {
	SaveAnalyticsEvent(ctx context.Context, event AnalyticsEvent) error
	SaveErrorReport(ctx context.Context, report ErrorReport) error
}

// ContactSubmission is a validated contact-form message.
type ContactSubmission struct {
	Name       string
	Email      string
	Message    string
	ClientIP   string
	ReceivedAt time.Time
}

// ContactSink hands contact submissions to whatever owns them (mailer, CRM).
type ContactSink interface {
	SubmitContact(ctx context.Context, submission ContactSubmission) error
}
