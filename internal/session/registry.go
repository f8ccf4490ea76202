// Package session owns the lifecycle of live demo sessions: admission under a
// global cap, activity tracking and the periodic expiry sweep.
package session

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/platform/correlation"
	"github.com/bhardin04/livedemo/internal/ratelimit"
)

type Config struct {
	MaxSessions   int
	TTL           time.Duration
	SweepInterval time.Duration
}

// Admitter is the slice of the rate limiter the registry needs.
type Admitter interface {
	TryAdmit(ctx context.Context, identity string, class ratelimit.Class) (ratelimit.Decision, error)
}

type Observer interface {
	SessionCreated(demoType string)
	SessionEnded(reason string)
	SessionRejected(reason string)
}

// EndFunc is called once per session after it left the registry.
// It runs outside the registry lock.
type EndFunc func(s domain.Session, reason domain.CloseReason)

type entry struct {
	session domain.Session
	ctx     context.Context
	cancel  context.CancelFunc
}

type Registry struct {
	cfg      Config
	clock    clockwork.Clock
	limiter  Admitter
	observer Observer

	mu       sync.Mutex
	sessions map[string]*entry
	onEnd    EndFunc
}

// NewRegistry creates an empty registry. limiter and observer may be nil.
func NewRegistry(cfg Config, clock clockwork.Clock, limiter Admitter, observer Observer) *Registry {
	return &Registry{
		cfg:      cfg,
		clock:    clock,
		limiter:  limiter,
		observer: observer,
		sessions: make(map[string]*entry),
	}
}

// OnEnd installs the end listener. Call before the registry is used.
func (r *Registry) OnEnd(fn EndFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnd = fn
}

// Create admits a new Active session for identity.
func (r *Registry) Create(ctx context.Context, demoType domain.DemoType, identity string) (domain.Session, error) {
	if _, err := domain.ParseDemoType(string(demoType)); err != nil {
		return domain.Session{}, fmt.Errorf("create session %q: %w", demoType, err)
	}

	if r.limiter != nil {
		decision, err := r.limiter.TryAdmit(ctx, identity, ratelimit.ClassSessionCreate)
		if err != nil {
			return domain.Session{}, fmt.Errorf("create session: %w", err)
		}
		if !decision.Allowed {
			r.rejected("rate_limited")
			return domain.Session{}, fmt.Errorf("create session: %w", &domain.RateLimitError{
				RouteClass: string(ratelimit.ClassSessionCreate),
				RetryAfter: decision.RetryAfter,
			})
		}
	}

	now := r.clock.Now()
	s := domain.Session{
		ID:             uuid.NewString(),
		DemoType:       demoType,
		ClientIdentity: identity,
		CreatedAt:      now,
		LastActivityAt: now,
		TTL:            r.cfg.TTL,
		State:          domain.SessionActive,
	}

	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		r.rejected("capacity")
		return domain.Session{}, fmt.Errorf("create session: %w", domain.ErrCapacityExceeded)
	}
	sessionCtx, cancel := context.WithCancel(correlation.WithSessionID(context.Background(), s.ID))
	r.sessions[s.ID] = &entry{session: s, ctx: sessionCtx, cancel: cancel}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.SessionCreated(string(demoType))
	}
	slog.InfoContext(sessionCtx, "Session created", "demo_type", demoType, "client", identity)
	return s, nil
}

// Get returns a snapshot of a live session. Sessions past their TTL are
// reported as missing even before the sweep removes them.
func (r *Registry) Get(id string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(id)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return e.session, nil
}

// Touch refreshes LastActivityAt.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	e.session.LastActivityAt = r.clock.Now()
	return nil
}

// Context returns a context that is cancelled when the session ends.
func (r *Registry) Context(id string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return e.ctx, nil
}

// Close ends a session immediately.
func (r *Registry) Close(id string, reason domain.CloseReason) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	e.session.State = domain.SessionClosed
	onEnd := r.onEnd
	r.mu.Unlock()

	r.finish(e, reason, onEnd)
	return nil
}

// SweepExpired removes every session idle for longer than its TTL and returns how many ended.
func (r *Registry) SweepExpired() int {
	now := r.clock.Now()

	r.mu.Lock()
	var expired []*entry
	for id, e := range r.sessions {
		if e.session.ExpiredAt(now) {
			e.session.State = domain.SessionExpired
			expired = append(expired, e)
			delete(r.sessions, id)
		}
	}
	onEnd := r.onEnd
	r.mu.Unlock()

	for _, e := range expired {
		r.finish(e, domain.ReasonSessionExpired, onEnd)
	}
	return len(expired)
}

// Run sweeps expired sessions every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			tickCtx := correlation.WithID(ctx, correlation.NewID())
			if n := r.SweepExpired(); n > 0 {
				slog.InfoContext(tickCtx, "Expired sessions swept", "count", n, "remaining", r.Count())
			}
		}
	}
}

// Shutdown ends every session with reason shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.sessions))
	for id, e := range r.sessions {
		e.session.State = domain.SessionClosed
		all = append(all, e)
		delete(r.sessions, id)
	}
	onEnd := r.onEnd
	r.mu.Unlock()

	for _, e := range all {
		r.finish(e, domain.ReasonShutdown, onEnd)
	}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns snapshots of all held sessions, oldest first.
func (r *Registry) List() []domain.Session {
	r.mu.Lock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.Session) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	return out
}

func (r *Registry) MaxSessions() int   { return r.cfg.MaxSessions }
func (r *Registry) TTL() time.Duration { return r.cfg.TTL }

// live must be called with mu held.
func (r *Registry) live(id string) (*entry, bool) {
	e, ok := r.sessions[id]
	if !ok || e.session.ExpiredAt(r.clock.Now()) {
		return nil, false
	}
	return e, true
}

func (r *Registry) finish(e *entry, reason domain.CloseReason, onEnd EndFunc) {
	e.cancel()
	if r.observer != nil {
		r.observer.SessionEnded(string(reason))
	}
	slog.InfoContext(e.ctx, "Session ended", "reason", reason, "state", e.session.State,
		"lifetime", r.clock.Since(e.session.CreatedAt))
	if onEnd != nil {
		onEnd(e.session, reason)
	}
}

func (r *Registry) rejected(reason string) {
	if r.observer != nil {
		r.observer.SessionRejected(reason)
	}
}
