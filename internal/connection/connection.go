package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bhardin04/livedemo/internal/domain"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 16
)

var (
	ErrClosed      = errors.New("connection closed")
	ErrSendTimeout = errors.New("send timed out")
)

// Transport is the wire end of a connection. Only the connection's writer
// goroutine writes to it.
type Transport interface {
	WriteText(data []byte, deadline time.Time) error
	WritePing(deadline time.Time) error
	WriteClose(code int, reason string, deadline time.Time) error
	Close() error
}

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one admitted client connection.
type Connection struct {
	id          string
	sessionID   string
	connectedAt time.Time
	clock       clockwork.Clock

	state    atomic.Int32
	lastPong atomic.Int64

	transport Transport
	sendCh    chan []byte
	pingCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	onWriteFailure func(error)
	onSent         func()
}

func newConnection(id, sessionID string, clock clockwork.Clock) *Connection {
	c := &Connection{
		id:          id,
		sessionID:   sessionID,
		connectedAt: clock.Now(),
		clock:       clock,
		sendCh:      make(chan []byte, messageBufferSize),
		pingCh:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) SessionID() string      { return c.sessionID }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }
func (c *Connection) State() State           { return State(c.state.Load()) }

// Done is closed once the connection starts closing.
func (c *Connection) Done() <-chan struct{} { return c.done }

// LastPongAt is the time of the most recent pong, zero if none arrived yet.
func (c *Connection) LastPongAt() time.Time {
	n := c.lastPong.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// RecordPong notes a pong frame from the peer.
func (c *Connection) RecordPong() {
	c.lastPong.Store(c.clock.Now().UnixNano())
}

// Send queues data for the writer. It waits for queue space until ctx is
// done; an expired deadline is reported as ErrSendTimeout.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.State() != StateOpen {
		return ErrClosed
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrSendTimeout
		}
		return ctx.Err()
	}
}

// Ping asks the writer to emit a ping frame. A ping already pending is not duplicated.
func (c *Connection) Ping() error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	select {
	case c.pingCh <- struct{}{}:
	default:
	}
	return nil
}

func (c *Connection) activate(t Transport, onWriteFailure func(error), onSent func()) {
	c.transport = t
	c.onWriteFailure = onWriteFailure
	c.onSent = onSent
	c.state.Store(int32(StateOpen))
	c.wg.Add(1)
	go c.run()
}

func (c *Connection) run() {
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.sendCh:
			if err := c.transport.WriteText(msg, c.clock.Now().Add(writeDeadline)); err != nil {
				c.writeFailed(err)
				return
			}
			if c.onSent != nil {
				c.onSent()
			}
		case <-c.pingCh:
			if err := c.transport.WritePing(c.clock.Now().Add(writeDeadline)); err != nil {
				c.writeFailed(err)
				return
			}
		case <-c.done:
			c.drain()
			return
		}
	}
}

// drain flushes frames queued before the close started, so a final
// notification precedes the close frame. It stops at the first write error.
func (c *Connection) drain() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.transport.WriteText(msg, c.clock.Now().Add(writeDeadline)); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) writeFailed(err error) {
	if c.onWriteFailure != nil {
		go c.onWriteFailure(err)
	}
}

// shutdown stops the writer, sends a close frame for reason and releases the
// transport. Safe to call more than once.
func (c *Connection) shutdown(reason domain.CloseReason) {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		c.wg.Wait()

		if c.transport != nil {
			deadline := c.clock.Now().Add(writeDeadline)
			if err := c.transport.WriteClose(reason.CloseCode(), string(reason), deadline); err != nil {
				slog.Debug("Close frame not delivered", "connection_id", c.id, "error", err)
			}
			_ = c.transport.Close()
		}
		c.state.Store(int32(StateClosed))
	})
}
