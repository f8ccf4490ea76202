package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// QueryObserver receives the outcome of every traced query.
type QueryObserver interface {
	QueryDone(operation string, seconds float64, err error)
}

// MetricsTracer implements pgx.QueryTracer and reports query timings grouped
// by SQL verb, which keeps label cardinality low.
type MetricsTracer struct {
	observer QueryObserver
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(observer QueryObserver) *MetricsTracer {
	return &MetricsTracer{observer: observer}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	operation string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		operation: operationOf(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok || t.observer == nil {
		return
	}
	t.observer.QueryDone(qctx.operation, time.Since(qctx.startTime).Seconds(), data.Err)
}

// operationOf returns the leading SQL verb, upper-cased.
func operationOf(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	verb := strings.ToUpper(fields[0])
	if len(verb) > 20 {
		verb = verb[:20]
	}
	return verb
}
