package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotOpen          = errors.New("connection not open")
	ErrQueueFull        = errors.New("offline queue full")
	ErrHeartbeatMissed  = errors.New("heartbeat pong missed")
	ErrAlreadyStarted   = errors.New("manager already started")
	ErrReconnectsFailed = errors.New("reconnect attempts exhausted")
)

const (
	CloseNormal = 1000

	DefaultBaseDelay            = time.Second
	DefaultMaxDelay             = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultDialTimeout          = 10 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// StateChange is reported to the state listener on every transition. Err
// carries the cause of Reconnecting and Failed; Attempt is the reconnect
// attempt about to be made.
type StateChange struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
}

// Conn is one established transport.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	WriteClose(code int) error
	Close() error
}

// Dialer opens transports. Implementations must honour ctx for the whole handshake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError is returned by Conn.ReadMessage when the peer sent a close frame.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed by peer: %d %s", e.Code, e.Text)
}

// IsNormalClosure reports whether err is a close frame with code 1000.
func IsNormalClosure(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == CloseNormal
}

// Config tunes a Manager. Zero values take the defaults.
type Config struct {
	URL                  string
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	DialTimeout          time.Duration
	OfflineQueueSize     int
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}
