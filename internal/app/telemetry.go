package app

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/bhardin04/livedemo/internal/domain"
)

const (
	maxEventNameLen    = 100
	maxPathLen         = 2048
	maxProperties      = 32
	maxErrorMessageLen = 2000
	maxStackLen        = 10000
	maxNameLen         = 200
	minContactMsgLen   = 10
	maxContactMsgLen   = 5000
)

func invalid(field, reason string) error {
	return fmt.Errorf("%s %s: %w", field, reason, domain.ErrInvalidInput)
}

func checkLen(field, value string, required bool, limit int) error {
	if required && strings.TrimSpace(value) == "" {
		return invalid(field, "is required")
	}
	if utf8.RuneCountInString(value) > limit {
		return invalid(field, fmt.Sprintf("exceeds %d characters", limit))
	}
	return nil
}

// IngestAnalytics validates and stores one analytics event.
func (s *Service) IngestAnalytics(ctx context.Context, ev domain.AnalyticsEvent) error {
	if err := checkLen("name", ev.Name, true, maxEventNameLen); err != nil {
		return err
	}
	if err := checkLen("path", ev.Path, false, maxPathLen); err != nil {
		return err
	}
	if len(ev.Properties) > maxProperties {
		return invalid("properties", fmt.Sprintf("exceeds %d entries", maxProperties))
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.clock.Now()
	}

	if err := s.telemetry.SaveAnalyticsEvent(ctx, ev); err != nil {
		return fmt.Errorf("save analytics event: %w", err)
	}
	return nil
}

// ReportError validates and stores one client error report.
func (s *Service) ReportError(ctx context.Context, report domain.ErrorReport) error {
	if err := checkLen("message", report.Message, true, maxErrorMessageLen); err != nil {
		return err
	}
	if err := checkLen("stack", report.Stack, false, maxStackLen); err != nil {
		return err
	}
	if err := checkLen("url", report.URL, false, maxPathLen); err != nil {
		return err
	}
	if err := checkLen("userAgent", report.UserAgent, false, maxPathLen); err != nil {
		return err
	}
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = s.clock.Now()
	}

	if err := s.telemetry.SaveErrorReport(ctx, report); err != nil {
		return fmt.Errorf("save error report: %w", err)
	}
	return nil
}

// SubmitContact validates a contact-form message and hands it to the sink.
func (s *Service) SubmitContact(ctx context.Context, sub domain.ContactSubmission) error {
	if err := checkLen("name", sub.Name, true, maxNameLen); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(sub.Email); err != nil {
		return invalid("email", "is not a valid address")
	}
	if utf8.RuneCountInString(strings.TrimSpace(sub.Message)) < minContactMsgLen {
		return invalid("message", fmt.Sprintf("needs at least %d characters", minContactMsgLen))
	}
	if err := checkLen("message", sub.Message, true, maxContactMsgLen); err != nil {
		return err
	}
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = s.clock.Now()
	}

	if err := s.contacts.SubmitContact(ctx, sub); err != nil {
		return fmt.Errorf("submit contact: %w", err)
	}
	return nil
}
