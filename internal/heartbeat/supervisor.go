package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultInterval = 30 * time.Second

// Target is a connection under supervision.
type Target interface {
	ID() string
	Ping() error
	LastPongAt() time.Time
	Done() <-chan struct{}
}

// DeadFunc is called once for a target that missed a pong.
type DeadFunc func(connectionID string)

type Supervisor struct {
	clock    clockwork.Clock
	interval time.Duration
	onDead   DeadFunc
}

func NewSupervisor(clock clockwork.Clock, interval time.Duration, onDead DeadFunc) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Supervisor{clock: clock, interval: interval, onDead: onDead}
}

func (s *Supervisor) Interval() time.Duration { return s.interval }

// Watch runs the ping cycle for t until ctx is cancelled, t is done, or t is
// declared dead. It blocks; run it in its own goroutine.
func (s *Supervisor) Watch(ctx context.Context, t Target) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		pingSentAt time.Time
		awaiting   bool
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Done():
			return
		case <-ticker.Chan():
			if awaiting && t.LastPongAt().Before(pingSentAt) {
				slog.WarnContext(ctx, "Heartbeat missed, closing connection",
					"connection_id", t.ID(), "ping_sent_at", pingSentAt, "last_pong_at", t.LastPongAt())
				if s.onDead != nil {
					s.onDead(t.ID())
				}
				return
			}

			pingSentAt = s.clock.Now()
			if err := t.Ping(); err != nil {
				slog.DebugContext(ctx, "Ping not queued, stopping heartbeat", "connection_id", t.ID(), "error", err)
				return
			}
			awaiting = true
		}
	}
}
