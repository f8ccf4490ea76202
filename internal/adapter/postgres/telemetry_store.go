package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bhardin04/livedemo/internal/domain"
)

// TelemetryStore writes analytics events and error reports.
type TelemetryStore struct {
	pool *pgxpool.Pool
}

var _ domain.TelemetryStore = (*TelemetryStore)(nil)

func NewTelemetryStore(pool *pgxpool.Pool) *TelemetryStore {
	return &TelemetryStore{pool: pool}
}

const insertAnalyticsEvent = `
INSERT INTO analytics_events (name, path, session_id, properties, client_ip, received_at)
VALUES ($1, $2, $3, $4, $5, $6)`

func (s *TelemetryStore) SaveAnalyticsEvent(ctx context.Context, ev domain.AnalyticsEvent) error {
	props := ev.Properties
	if props == nil {
		props = map[string]any{}
	}
	if _, err := s.pool.Exec(ctx, insertAnalyticsEvent,
		ev.Name, ev.Path, ev.SessionID, props, ev.ClientIP, ev.ReceivedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

const insertErrorReport = `
INSERT INTO error_reports (message, stack, url, user_agent, client_ip, received_at)
VALUES ($1, $2, $3, $4, $5, $6)`

func (s *TelemetryStore) SaveErrorReport(ctx context.Context, r domain.ErrorReport) error {
	if _, err := s.pool.Exec(ctx, insertErrorReport,
		r.Message, r.Stack, r.URL, r.UserAgent, r.ClientIP, r.ReceivedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert error report: %w", err)
	}
	return nil
}

// PurgeBefore deletes telemetry received before cutoff and returns the number of rows removed.
func (s *TelemetryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, table := range []string{"analytics_events", "error_reports"} {
		tag, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE received_at < $1", cutoff.UTC())
		if err != nil {
			return 0, fmt.Errorf("purge %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return total, nil
}

// Ping reports whether the database is reachable; used by readiness probes.
func (s *TelemetryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
