package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/bhardin04/livedemo/internal/domain"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	cmdBufferSize  = 256
)

var ErrStopped = errors.New("connection registry stopped")

type Limits struct {
	MaxConnections int
	MaxPerSession  int
}

// SessionLookup reports whether a session is live.
type SessionLookup interface {
	Get(id string) (domain.Session, error)
}

type Observer interface {
	ConnectionAdmitted()
	ConnectionRejected(reason string)
	ConnectionClosed(reason string)
	MessageSent()
}

type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type reserveResult struct {
	conn *Connection
	err  error
}

type reserveCmd struct {
	baseRegistryCmd
	sessionID    string
	replyChannel chan reserveResult
}

type activateCmd struct {
	baseRegistryCmd
	conn         *Connection
	transport    Transport
	replyChannel chan error
}

type closeCmd struct {
	baseRegistryCmd
	connectionID string
	reason       domain.CloseReason
	replyChannel chan bool
}

type closeAllCmd struct {
	baseRegistryCmd
	sessionID    string
	reason       domain.CloseReason
	replyChannel chan int
}

type listCmd struct {
	baseRegistryCmd
	sessionID    string
	replyChannel chan []*Connection
}

type countCmd struct {
	baseRegistryCmd
	sessionID    string
	replyChannel chan int
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry admits, tracks and closes connections under the global and
// per-session caps. Connecting connections count against both caps.
type Registry struct {
	cmdCh    chan registryCmd
	clock    clockwork.Clock
	limits   Limits
	sessions SessionLookup
	observer Observer

	connections map[string]*Connection
	bySession   map[string]map[string]*Connection

	onLastDisconnect func(sessionID string)

	done     chan struct{}
	stopOnce sync.Once
	closers  sync.WaitGroup
}

// NewRegistry starts the registry goroutine. observer may be nil.
func NewRegistry(limits Limits, sessions SessionLookup, clock clockwork.Clock, observer Observer) *Registry {
	r := &Registry{
		cmdCh:       make(chan registryCmd, cmdBufferSize),
		clock:       clock,
		limits:      limits,
		sessions:    sessions,
		observer:    observer,
		connections: make(map[string]*Connection),
		bySession:   make(map[string]map[string]*Connection),
		done:        make(chan struct{}),
	}
	go r.run()
	return r
}

// OnLastDisconnect installs a callback fired when a client-initiated close
// removes the last connection of a session. Call before the registry is used.
func (r *Registry) OnLastDisconnect(fn func(sessionID string)) {
	r.onLastDisconnect = fn
}

// Reserve admits a Connecting connection for sessionID. Checks run in order:
// session exists, per-session cap, global cap.
func (r *Registry) Reserve(ctx context.Context, sessionID string) (*Connection, error) {
	res, err := request(ctx, r, func(reply chan reserveResult) registryCmd {
		return reserveCmd{sessionID: sessionID, replyChannel: reply}
	})
	if err != nil {
		return nil, err
	}
	return res.conn, res.err
}

// Activate attaches transport to a reserved connection and starts its writer.
// If the reservation was closed meanwhile, ErrConnectionNotFound is returned
// and the caller still owns the transport.
func (r *Registry) Activate(ctx context.Context, conn *Connection, transport Transport) error {
	res, err := request(ctx, r, func(reply chan error) registryCmd {
		return activateCmd{conn: conn, transport: transport, replyChannel: reply}
	})
	if err != nil {
		return err
	}
	return res
}

// Open is Reserve followed by Activate.
func (r *Registry) Open(ctx context.Context, sessionID string, transport Transport) (*Connection, error) {
	conn, err := r.Reserve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := r.Activate(ctx, conn, transport); err != nil {
		r.Close(conn.ID(), domain.ReasonRejected)
		return nil, err
	}
	return conn, nil
}

// Close removes a connection and releases its transport. Closing an unknown
// or already closed connection is a no-op.
func (r *Registry) Close(connectionID string, reason domain.CloseReason) {
	_, err := request(context.Background(), r, func(reply chan bool) registryCmd {
		return closeCmd{connectionID: connectionID, reason: reason, replyChannel: reply}
	})
	if err != nil && !errors.Is(err, ErrStopped) {
		slog.Warn("Close connection command failed", "connection_id", connectionID, "error", err)
	}
}

// CloseAllFor closes every connection of a session and returns how many were closed.
func (r *Registry) CloseAllFor(sessionID string, reason domain.CloseReason) int {
	n, err := request(context.Background(), r, func(reply chan int) registryCmd {
		return closeAllCmd{sessionID: sessionID, reason: reason, replyChannel: reply}
	})
	if err != nil {
		if !errors.Is(err, ErrStopped) {
			slog.Warn("Close session connections command failed", "session_id", sessionID, "error", err)
		}
		return 0
	}
	return n
}

// ConnectionsFor returns the Open connections of a session.
func (r *Registry) ConnectionsFor(sessionID string) []*Connection {
	conns, err := request(context.Background(), r, func(reply chan []*Connection) registryCmd {
		return listCmd{sessionID: sessionID, replyChannel: reply}
	})
	if err != nil {
		slog.Warn("List connections command failed", "session_id", sessionID, "error", err)
		return nil
	}
	return conns
}

// Count returns all admitted connections, Connecting included. -1 on timeout.
func (r *Registry) Count() int {
	return r.count("")
}

// CountFor returns the admitted connections of one session. -1 on timeout.
func (r *Registry) CountFor(sessionID string) int {
	return r.count(sessionID)
}

func (r *Registry) Limits() Limits { return r.limits }

func (r *Registry) count(sessionID string) int {
	n, err := request(context.Background(), r, func(reply chan int) registryCmd {
		return countCmd{sessionID: sessionID, replyChannel: reply}
	})
	if err != nil {
		slog.Warn("Count connections command failed", "error", err)
		return -1
	}
	return n
}

// Stop closes every connection with reason shutdown and stops the registry.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		select {
		case r.cmdCh <- stopCmd{}:
		case <-r.done:
		}

		timeout := r.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-r.done:
			r.closers.Wait()
			slog.Info("Connection registry stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Connection registry stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

// request sends a command and waits for its reply, both bounded by commandTimeout.
func request[T any](ctx context.Context, r *Registry, build func(reply chan T) registryCmd) (T, error) {
	var zero T
	reply := make(chan T, 1)

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case r.cmdCh <- build(reply):
	case <-r.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("command timed out after %v", commandTimeout)
	}

	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("command timed out after %v", commandTimeout)
	}
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Connection registry panic recovered", "panic", p)
			r.closeEverything(domain.ReasonShutdown)
		}
	}()

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case reserveCmd:
			c.replyChannel <- r.handleReserve(c.sessionID)
		case activateCmd:
			c.replyChannel <- r.handleActivate(c)
		case closeCmd:
			c.replyChannel <- r.handleClose(c.connectionID, c.reason)
		case closeAllCmd:
			c.replyChannel <- r.handleCloseAll(c.sessionID, c.reason)
		case listCmd:
			c.replyChannel <- r.openConnections(c.sessionID)
		case countCmd:
			if c.sessionID == "" {
				c.replyChannel <- len(r.connections)
			} else {
				c.replyChannel <- len(r.bySession[c.sessionID])
			}
		case stopCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Connection registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleReserve(sessionID string) reserveResult {
	if _, err := r.sessions.Get(sessionID); err != nil {
		r.rejected("session_not_found")
		return reserveResult{err: fmt.Errorf("reserve connection: %w", domain.ErrSessionNotFound)}
	}
	if len(r.bySession[sessionID]) >= r.limits.MaxPerSession {
		r.rejected("per_session")
		return reserveResult{err: fmt.Errorf("reserve connection: %w", domain.ErrPerSessionCapacityExceeded)}
	}
	if len(r.connections) >= r.limits.MaxConnections {
		r.rejected("global")
		return reserveResult{err: fmt.Errorf("reserve connection: %w", domain.ErrGlobalCapacityExceeded)}
	}

	conn := newConnection(uuid.NewString(), sessionID, r.clock)
	r.connections[conn.id] = conn
	peers, ok := r.bySession[sessionID]
	if !ok {
		peers = make(map[string]*Connection)
		r.bySession[sessionID] = peers
	}
	peers[conn.id] = conn

	if r.observer != nil {
		r.observer.ConnectionAdmitted()
	}
	slog.Debug("Connection reserved", "session_id", sessionID, "connection_id", conn.id,
		"session_connections", len(peers), "total_connections", len(r.connections))
	return reserveResult{conn: conn}
}

func (r *Registry) handleActivate(c activateCmd) error {
	current, ok := r.connections[c.conn.id]
	if !ok || current != c.conn || c.conn.State() != StateConnecting {
		return fmt.Errorf("activate connection %s: %w", c.conn.id, domain.ErrConnectionNotFound)
	}

	id := c.conn.id
	var onSent func()
	if r.observer != nil {
		onSent = r.observer.MessageSent
	}
	c.conn.activate(c.transport, func(err error) {
		slog.Warn("Connection write failed", "connection_id", id, "error", err)
		r.Close(id, domain.ReasonSendFailure)
	}, onSent)

	slog.Info("Connection opened", "session_id", c.conn.sessionID, "connection_id", id)
	return nil
}

func (r *Registry) handleClose(connectionID string, reason domain.CloseReason) bool {
	conn, ok := r.connections[connectionID]
	if !ok {
		return false
	}
	r.remove(conn, reason)

	if reason == domain.ReasonClientClose && len(r.bySession[conn.sessionID]) == 0 && r.onLastDisconnect != nil {
		go r.onLastDisconnect(conn.sessionID)
	}
	return true
}

func (r *Registry) handleCloseAll(sessionID string, reason domain.CloseReason) int {
	peers := r.bySession[sessionID]
	n := len(peers)
	for _, conn := range peers {
		r.remove(conn, reason)
	}
	if n > 0 {
		slog.Info("Session connections closed", "session_id", sessionID, "count", n, "reason", reason)
	}
	return n
}

func (r *Registry) openConnections(sessionID string) []*Connection {
	peers := r.bySession[sessionID]
	out := make([]*Connection, 0, len(peers))
	for _, conn := range peers {
		if conn.State() == StateOpen {
			out = append(out, conn)
		}
	}
	return out
}

// remove drops conn from both indexes and closes it off the actor goroutine
// so a slow peer cannot stall other commands.
func (r *Registry) remove(conn *Connection, reason domain.CloseReason) {
	delete(r.connections, conn.id)
	if peers, ok := r.bySession[conn.sessionID]; ok {
		delete(peers, conn.id)
		if len(peers) == 0 {
			delete(r.bySession, conn.sessionID)
		}
	}

	if r.observer != nil {
		r.observer.ConnectionClosed(string(reason))
	}
	slog.Debug("Connection closed", "session_id", conn.sessionID, "connection_id", conn.id, "reason", reason)

	r.closers.Go(func() { conn.shutdown(reason) })
}

func (r *Registry) handleStop() {
	slog.Info("Connection registry shutting down", "sessions", len(r.bySession), "total_connections", len(r.connections))
	r.closeEverything(domain.ReasonShutdown)
}

func (r *Registry) closeEverything(reason domain.CloseReason) {
	for _, conn := range r.connections {
		r.remove(conn, reason)
	}
}

func (r *Registry) rejected(reason string) {
	if r.observer != nil {
		r.observer.ConnectionRejected(reason)
	}
}
