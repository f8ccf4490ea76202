package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/bhardin04/livedemo/internal/broadcast"
	"github.com/bhardin04/livedemo/internal/connection"
	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/heartbeat"
	"github.com/bhardin04/livedemo/internal/session"
	"github.com/bhardin04/livedemo/internal/simulation"
)

const notifyTimeout = 2 * time.Second

type Config struct {
	Session                      session.Config
	Connections                  connection.Limits
	Simulation                   simulation.Config
	Broadcast                    broadcast.Config
	HeartbeatInterval            time.Duration
	CloseSessionOnLastDisconnect bool
	TouchOnInbound               bool
}

// Observers are the optional metric sinks of each component.
type Observers struct {
	Sessions    session.Observer
	Connections connection.Observer
	Simulation  simulation.Observer
	Broadcast   broadcast.Observer
}

// Service is the application layer: the only component that references every
// registry. It orchestrates all use cases.
type Service struct {
	cfg       Config
	clock     clockwork.Clock
	sessions  *session.Registry
	conns     *connection.Registry
	router    *broadcast.Router
	heartbeat *heartbeat.Supervisor
	telemetry domain.TelemetryStore
	contacts  domain.ContactSink
	simObs    simulation.Observer

	mu      sync.Mutex
	drivers map[string]*simulation.Driver

	previewGroup singleflight.Group
	tasks        sync.WaitGroup
	stopOnce     sync.Once
}

// NewService wires the registries. limiter gates session creation and may be
// nil; telemetry and contacts must not be nil.
func NewService(cfg Config, limiter session.Admitter, telemetry domain.TelemetryStore, contacts domain.ContactSink,
	clock clockwork.Clock, obs Observers) *Service {
	s := &Service{
		cfg:       cfg,
		clock:     clock,
		telemetry: telemetry,
		contacts:  contacts,
		simObs:    obs.Simulation,
		drivers:   make(map[string]*simulation.Driver),
	}

	s.sessions = session.NewRegistry(cfg.Session, clock, limiter, obs.Sessions)
	s.conns = connection.NewRegistry(cfg.Connections, s.sessions, clock, obs.Connections)
	s.router = broadcast.NewRouter(s.conns, s.sessions, clock, cfg.Broadcast, obs.Broadcast)
	s.heartbeat = heartbeat.NewSupervisor(clock, cfg.HeartbeatInterval, func(connectionID string) {
		s.conns.Close(connectionID, domain.ReasonHeartbeatTimeout)
	})

	s.sessions.OnEnd(s.onSessionEnd)
	if cfg.CloseSessionOnLastDisconnect {
		s.conns.OnLastDisconnect(func(sessionID string) {
			if err := s.sessions.Close(sessionID, domain.ReasonClientClose); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
				slog.Warn("Close session after last disconnect failed", "session_id", sessionID, "error", err)
			}
		})
	}
	return s
}

// Run drives the expiry sweep until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.sessions.Run(ctx)
}

// Shutdown ends every session with reason shutdown and stops the registries.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		s.sessions.Shutdown()
		s.conns.Stop()
		s.tasks.Wait()
		slog.Info("Application service stopped")
	})
}

// Router exposes the broadcast router so a rendering layer can subscribe.
func (s *Service) Router() *broadcast.Router { return s.router }

// --- Sessions ---

func (s *Service) CreateSession(ctx context.Context, demoType, identity string) (domain.Session, error) {
	d, err := domain.ParseDemoType(demoType)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session %q: %w", demoType, err)
	}
	return s.sessions.Create(ctx, d, identity)
}

func (s *Service) GetSession(id string) (domain.Session, error) {
	return s.sessions.Get(id)
}

func (s *Service) CloseSession(id string) error {
	return s.sessions.Close(id, domain.ReasonSessionClosed)
}

// SweepExpired runs one expiry sweep immediately.
func (s *Service) SweepExpired() int {
	return s.sessions.SweepExpired()
}

// onSessionEnd runs after a session left the registry: its simulation stops,
// an expiry notice is sent best effort and its connections are closed.
func (s *Service) onSessionEnd(sess domain.Session, reason domain.CloseReason) {
	s.mu.Lock()
	driver := s.drivers[sess.ID]
	delete(s.drivers, sess.ID)
	s.mu.Unlock()

	if driver != nil {
		driver.Stop()
	}

	if reason == domain.ReasonSessionExpired {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		s.router.Notify(ctx, sess.ID, domain.NewSystemNotification(
			"session_expired",
			"Session expired",
			"This demo session ended after a period of inactivity. Start a new one to continue.",
		))
		cancel()
	}

	n := s.conns.CloseAllFor(sess.ID, reason)
	slog.Debug("Session teardown complete", "session_id", sess.ID, "reason", reason, "connections_closed", n)
}

// --- Connections ---

// AdmitConnection reserves capacity for a new connection before the
// transport upgrade.
func (s *Service) AdmitConnection(ctx context.Context, demoType, sessionID string) (*connection.Connection, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("admit connection: %w", err)
	}
	if string(sess.DemoType) != demoType {
		return nil, fmt.Errorf("admit connection: %w", domain.ErrDemoTypeMismatch)
	}
	return s.conns.Reserve(ctx, sessionID)
}

// ActivateConnection attaches the upgraded transport, greets the client and
// starts heartbeat supervision scoped to the session.
func (s *Service) ActivateConnection(ctx context.Context, conn *connection.Connection, transport connection.Transport) error {
	sessionCtx, err := s.sessions.Context(conn.SessionID())
	if err != nil {
		s.conns.Close(conn.ID(), domain.ReasonRejected)
		return fmt.Errorf("activate connection: %w", err)
	}
	if err := s.conns.Activate(ctx, conn, transport); err != nil {
		return fmt.Errorf("activate connection: %w", err)
	}

	sess, err := s.sessions.Get(conn.SessionID())
	if err != nil {
		s.conns.Close(conn.ID(), domain.ReasonSessionClosed)
		return fmt.Errorf("activate connection: %w", err)
	}

	if err := s.router.Unicast(ctx, conn, domain.ConnectionEstablishedMessage{
		Type:         domain.MsgConnectionEstablished,
		SessionID:    sess.ID,
		ConnectionID: conn.ID(),
		DemoType:     string(sess.DemoType),
	}); err != nil {
		return fmt.Errorf("greet connection: %w", err)
	}

	s.tasks.Go(func() { s.heartbeat.Watch(sessionCtx, conn) })
	return nil
}

// ReleaseConnection closes a connection; used when the transport ends or the
// upgrade failed.
func (s *Service) ReleaseConnection(conn *connection.Connection, reason domain.CloseReason) {
	s.conns.Close(conn.ID(), reason)
}

// HandleClientMessage dispatches one inbound text frame. Invalid messages are
// answered with an error notification and never close the connection.
func (s *Service) HandleClientMessage(ctx context.Context, conn *connection.Connection, data []byte) {
	sessionID := conn.SessionID()
	if s.cfg.TouchOnInbound {
		if err := s.sessions.Touch(sessionID); err != nil {
			slog.DebugContext(ctx, "Touch on inbound message failed", "session_id", sessionID, "error", err)
		}
	}

	msg, err := domain.ParseClientMessage(data)
	if err != nil {
		s.reply(ctx, conn, domain.NewErrorNotification("invalid_message", err.Error()))
		return
	}

	switch msg.Type {
	case domain.MsgPing:
		s.reply(ctx, conn, domain.NewPong())

	case domain.MsgStartSimulation:
		driver, err := s.driverFor(sessionID)
		if err != nil {
			s.reply(ctx, conn, domain.NewErrorNotification("session_not_found", "session is no longer active"))
			return
		}
		sessionCtx, err := s.sessions.Context(sessionID)
		if err != nil {
			s.reply(ctx, conn, domain.NewErrorNotification("session_not_found", "session is no longer active"))
			return
		}
		opts := simulation.Options{
			Interval: time.Duration(msg.IntervalMs) * time.Millisecond,
			Seed:     msg.Seed,
		}
		if err := driver.Start(sessionCtx, opts); err != nil {
			if errors.Is(err, domain.ErrSimulationComplete) {
				s.reply(ctx, conn, domain.NewErrorNotification("simulation_complete", "the simulation has emitted all of its records"))
				return
			}
			slog.WarnContext(ctx, "Start simulation failed", "session_id", sessionID, "error", err)
		}

	case domain.MsgStopSimulation:
		s.mu.Lock()
		driver := s.drivers[sessionID]
		s.mu.Unlock()
		if driver != nil {
			driver.Stop()
		}
	}
}

func (s *Service) reply(ctx context.Context, conn *connection.Connection, msg any) {
	if err := s.router.Unicast(ctx, conn, msg); err != nil {
		slog.DebugContext(ctx, "Reply not delivered", "connection_id", conn.ID(), "error", err)
	}
}

// driverFor returns the session's simulation driver, creating it on first use.
func (s *Service) driverFor(sessionID string) (*simulation.Driver, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.drivers[sessionID]; ok {
		return d, nil
	}
	// A session that ended since the lookup has already run onSessionEnd or
	// will block on s.mu; either way it must not get a driver.
	if _, err := s.sessions.Context(sessionID); err != nil {
		return nil, err
	}
	gen, err := simulation.GeneratorFor(sess.DemoType)
	if err != nil {
		return nil, err
	}
	d := simulation.NewDriver(sessionID, sess.DemoType, gen, s.cfg.Simulation, s.clock, s.publish, s.simObs)
	s.drivers[sessionID] = d
	return d, nil
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	s.router.Broadcast(ctx, ev.SessionID, ev)
}

// SimulationState reports the driver state of a session, if one was started.
func (s *Service) SimulationState(sessionID string) (simulation.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[sessionID]
	if !ok {
		return simulation.State{}, false
	}
	return d.State(), true
}

// --- Introspection ---

type Stats struct {
	Sessions              int `json:"sessions"`
	MaxSessions           int `json:"maxSessions"`
	Connections           int `json:"connections"`
	MaxConnections        int `json:"maxConnections"`
	MaxConnectionsPerSess int `json:"maxConnectionsPerSession"`
	SessionTTLSeconds     int `json:"sessionTtlSeconds"`
}

func (s *Service) Stats() Stats {
	limits := s.conns.Limits()
	return Stats{
		Sessions:              s.sessions.Count(),
		MaxSessions:           s.sessions.MaxSessions(),
		Connections:           s.conns.Count(),
		MaxConnections:        limits.MaxConnections,
		MaxConnectionsPerSess: limits.MaxPerSession,
		SessionTTLSeconds:     int(s.sessions.TTL().Seconds()),
	}
}

// CountConnections returns the admitted connections of one session.
func (s *Service) CountConnections(sessionID string) int {
	return s.conns.CountFor(sessionID)
}
