package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/platform/retry"
)

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongType  = []byte(`"pong"`)
)

// Manager owns one logical connection to a live demo session. A single run
// goroutine dials, serves and reconnects; Disconnect cancels it.
type Manager struct {
	cfg       Config
	dialer    Dialer
	clock     clockwork.Clock
	onState   func(StateChange)
	onMessage func([]byte)

	mu      sync.Mutex
	state   State
	conn    Conn
	queue   [][]byte
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
}

// NewManager creates an idle manager. onState and onMessage may be nil; both
// are called from the run goroutine and must not block for long.
func NewManager(cfg Config, dialer Dialer, clock clockwork.Clock, onState func(StateChange), onMessage func([]byte)) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		dialer:    dialer,
		clock:     clock,
		onState:   onState,
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
}

// Connect starts the run loop. It returns immediately; progress is reported
// through the state listener.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.setState(StateChange{To: StateConnecting})
	go m.run(runCtx)
	return nil
}

// Disconnect closes the connection with code 1000 and never reconnects. It
// waits for the run loop to exit and is safe to call more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.started {
		m.started = true
		m.mu.Unlock()
		m.setState(StateChange{To: StateClosed})
		close(m.done)
		return
	}
	cancel := m.cancel
	m.mu.Unlock()

	// Already closed without ever connecting.
	if cancel == nil {
		<-m.done
		return
	}
	cancel()
	<-m.done
}

// Done is closed when the manager reached Closed or Failed.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes data when Open. Otherwise it queues data if an offline queue is
// configured, or fails with ErrNotOpen.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	if m.state == StateOpen && m.conn != nil {
		conn := m.conn
		m.mu.Unlock()
		return m.write(conn, data)
	}
	defer m.mu.Unlock()

	if m.cfg.OfflineQueueSize <= 0 || m.state.Terminal() {
		return ErrNotOpen
	}
	if len(m.queue) >= m.cfg.OfflineQueueSize {
		return ErrQueueFull
	}
	m.queue = append(m.queue, bytes.Clone(data))
	return nil
}

// SendJSON marshals v and sends it.
func (m *Manager) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return m.Send(data)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	attempt := 0
	conn, err := m.dial(ctx)
	for {
		if err == nil {
			attempt = 0
			err = m.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			if IsNormalClosure(err) {
				m.setState(StateChange{To: StateClosed, Err: err})
				return
			}
		} else if ctx.Err() != nil {
			m.closed()
			return
		}

		if errors.Is(err, domain.ErrSessionNotFound) {
			m.setState(StateChange{To: StateFailed, Attempt: attempt, Err: err})
			return
		}
		if attempt >= m.cfg.MaxReconnectAttempts {
			m.setState(StateChange{
				To:      StateFailed,
				Attempt: attempt,
				Err:     fmt.Errorf("%w after %d attempts: %w", ErrReconnectsFailed, attempt, err),
			})
			return
		}

		delay := retry.Backoff(m.cfg.BaseDelay, attempt, m.cfg.MaxDelay)
		var rl *domain.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		m.setState(StateChange{To: StateReconnecting, Attempt: attempt + 1, Delay: delay, Err: err})

		timer := m.clock.NewTimer(delay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			m.closed()
			return
		}

		attempt++
		conn, err = m.dial(ctx)
	}
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(dialCtx, m.cfg.URL)
	if err != nil {
		slog.DebugContext(ctx, "Dial failed", "url", m.cfg.URL, "error", err)
		return nil, err
	}
	return conn, nil
}

// serve runs one Open connection until it ends. On ctx cancellation it
// performs the deliberate close itself.
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	if err := m.open(conn); err != nil {
		_ = conn.Close()
		return err
	}
	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	readErr := make(chan error, 1)
	pongs := make(chan struct{}, 1)
	go m.readLoop(conn, pongs, readErr)

	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	awaiting, pongSeen := false, false
	for {
		select {
		case <-ctx.Done():
			m.setState(StateChange{To: StateClosing})
			m.writeMu.Lock()
			if err := conn.WriteClose(CloseNormal); err != nil {
				slog.Debug("Close frame not delivered", "error", err)
			}
			m.writeMu.Unlock()
			_ = conn.Close()
			<-readErr
			m.setState(StateChange{To: StateClosed})
			return ctx.Err()

		case err := <-readErr:
			_ = conn.Close()
			return err

		case <-pongs:
			pongSeen = true

		case <-ticker.Chan():
			select {
			case <-pongs:
				pongSeen = true
			default:
			}
			if awaiting && !pongSeen {
				_ = conn.Close()
				<-readErr
				return ErrHeartbeatMissed
			}
			if err := m.write(conn, pingFrame); err != nil {
				_ = conn.Close()
				<-readErr
				return fmt.Errorf("send ping: %w", err)
			}
			awaiting, pongSeen = true, false
		}
	}
}

// open flushes the offline queue and moves to Open. Sends racing with the
// flush are queued behind it because the state is still not Open.
func (m *Manager) open(conn Conn) error {
	m.mu.Lock()
	queued := m.queue
	m.queue = nil
	for i, data := range queued {
		if err := m.write(conn, data); err != nil {
			m.queue = queued[i:]
			m.mu.Unlock()
			return fmt.Errorf("flush offline queue: %w", err)
		}
	}
	m.conn = conn
	from := m.state
	m.state = StateOpen
	m.mu.Unlock()

	m.notify(StateChange{From: from, To: StateOpen})
	return nil
}

func (m *Manager) readLoop(conn Conn, pongs chan<- struct{}, readErr chan<- error) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if isPong(data) {
			select {
			case pongs <- struct{}{}:
			default:
			}
			continue
		}
		if m.onMessage != nil {
			m.onMessage(data)
		}
	}
}

func (m *Manager) write(conn Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(data)
}

func (m *Manager) closed() {
	m.setState(StateChange{To: StateClosing})
	m.setState(StateChange{To: StateClosed})
}

func (m *Manager) setState(change StateChange) {
	m.mu.Lock()
	change.From = m.state
	m.state = change.To
	m.mu.Unlock()
	m.notify(change)
}

func (m *Manager) notify(change StateChange) {
	attrs := []any{"from", change.From.String(), "to", change.To.String()}
	if change.Attempt > 0 {
		attrs = append(attrs, "attempt", change.Attempt)
	}
	if change.Delay > 0 {
		attrs = append(attrs, "delay", change.Delay)
	}
	if change.Err != nil {
		attrs = append(attrs, "error", change.Err)
	}
	if change.To == StateFailed {
		slog.Warn("Client connection failed", attrs...)
	} else {
		slog.Debug("Client state changed", attrs...)
	}

	if m.onState != nil {
		m.onState(change)
	}
}

func isPong(data []byte) bool {
	if !bytes.Contains(data, pongType) {
		return false
	}
	var msg struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &msg) == nil && msg.Type == domain.MsgPong
}
