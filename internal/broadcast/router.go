package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/bhardin04/livedemo/internal/connection"
	"github.com/bhardin04/livedemo/internal/domain"
)

const (
	DefaultSendTimeout = 2 * time.Second
	DefaultConcurrency = 16
)

// Connections is the part of the connection registry the router needs.
type Connections interface {
	ConnectionsFor(sessionID string) []*connection.Connection
	Close(connectionID string, reason domain.CloseReason)
}

// Toucher refreshes a session's activity timestamp.
type Toucher interface {
	Touch(id string) error
}

type Observer interface {
	BroadcastDone(delivered, failed int, seconds float64)
}

type Config struct {
	SendTimeout      time.Duration
	Concurrency      int
	TouchOnBroadcast bool
}

func DefaultConfig() Config {
	return Config{SendTimeout: DefaultSendTimeout, Concurrency: DefaultConcurrency, TouchOnBroadcast: true}
}

// Result counts the per-connection outcome of one broadcast.
type Result struct {
	Delivered int
	Failed    int
}

type Router struct {
	conns    Connections
	sessions Toucher
	clock    clockwork.Clock
	cfg      Config
	observer Observer

	mu     sync.RWMutex
	sinks  map[uint64]chan domain.Event
	nextID uint64
}

// NewRouter creates a router. sessions and observer may be nil.
func NewRouter(conns Connections, sessions Toucher, clock clockwork.Clock, cfg Config, observer Observer) *Router {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Router{
		conns:    conns,
		sessions: sessions,
		clock:    clock,
		cfg:      cfg,
		observer: observer,
		sinks:    make(map[uint64]chan domain.Event),
	}
}

// Broadcast delivers ev to every Open connection of sessionID and to all
// subscribers. At least one successful delivery touches the session when
// TouchOnBroadcast is set.
func (r *Router) Broadcast(ctx context.Context, sessionID string, ev domain.Event) Result {
	start := r.clock.Now()
	r.publishToSinks(ev)

	data, err := json.Marshal(ev.Payload)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal broadcast event", "session_id", sessionID, "type", ev.Type, "error", err)
		return Result{}
	}

	res := r.deliver(ctx, sessionID, data)

	if res.Delivered > 0 && r.cfg.TouchOnBroadcast && r.sessions != nil {
		if err := r.sessions.Touch(sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			slog.WarnContext(ctx, "Session touch after broadcast failed", "session_id", sessionID, "error", err)
		}
	}

	if r.observer != nil {
		r.observer.BroadcastDone(res.Delivered, res.Failed, r.clock.Since(start).Seconds())
	}
	if res.Failed > 0 {
		slog.InfoContext(ctx, "Broadcast partially failed", "session_id", sessionID,
			"delivered", res.Delivered, "failed", res.Failed)
	}
	return res
}

// Notify sends a server notification (system or error) to every Open
// connection of a session. It never touches the session or the subscribers.
func (r *Router) Notify(ctx context.Context, sessionID string, msg any) Result {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal notification", "session_id", sessionID, "error", err)
		return Result{}
	}
	return r.deliver(ctx, sessionID, data)
}

// Unicast sends msg to one connection. A failed send closes it.
func (r *Router) Unicast(ctx context.Context, conn *connection.Connection, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.send(ctx, conn, data)
}

func (r *Router) deliver(ctx context.Context, sessionID string, data []byte) Result {
	conns := r.conns.ConnectionsFor(sessionID)
	if len(conns) == 0 {
		return Result{}
	}

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for _, conn := range conns {
		g.Go(func() error {
			if err := r.send(ctx, conn, data); err != nil {
				failed.Add(1)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return Result{Delivered: int(delivered.Load()), Failed: int(failed.Load())}
}

func (r *Router) send(ctx context.Context, conn *connection.Connection, data []byte) error {
	sendCtx, cancel := clockwork.WithTimeout(ctx, r.clock, r.cfg.SendTimeout)
	defer cancel()

	err := conn.Send(sendCtx, data)
	if err == nil {
		return nil
	}
	if !errors.Is(err, connection.ErrClosed) {
		slog.WarnContext(ctx, "Send failed, closing connection",
			"session_id", conn.SessionID(), "connection_id", conn.ID(), "error", err)
		r.conns.Close(conn.ID(), domain.ReasonSendFailure)
	}
	return err
}

// Subscribe registers an event sink. Delivery never blocks the router: when
// the buffer is full the event is dropped for that subscriber. The returned
// function unsubscribes and closes the channel.
func (r *Router) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan domain.Event, buffer)
	id := r.nextID
	r.nextID++
	r.sinks[id] = ch

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.sinks[id]; ok {
			delete(r.sinks, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (r *Router) publishToSinks(ev domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.sinks {
		select {
		case ch <- ev:
		default:
		}
	}
}
