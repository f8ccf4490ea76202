package domain

import "time"

// SessionState is the lifecycle state of a live demo session.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionExpired SessionState = "expired"
	SessionClosed  SessionState = "closed"
)

// Session is a time-bounded grouping of live connections sharing one simulated demo instance.
// Values handed out by the registry are snapshots.
type Session struct {
	ID             string
	DemoType       DemoType
	ClientIdentity string
	CreatedAt      time.Time
	LastActivityAt time.Time
	TTL            time.Duration
	State          SessionState
}

// ExpiredAt reports whether the session is past its TTL at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return now.Sub(s.LastActivityAt) > s.TTL
}

// CloseReason explains why a session or connection ended.
type CloseReason string

const (
	ReasonClientClose      CloseReason = "client_close"
	ReasonSessionClosed    CloseReason = "session_closed"
	ReasonSessionExpired   CloseReason = "session_expired"
	ReasonHeartbeatTimeout CloseReason = "heartbeat_timeout"
	ReasonSendFailure      CloseReason = "send_failure"
	ReasonShutdown         CloseReason = "shutdown"
	ReasonRejected         CloseReason = "rejected"
)

// WebSocket close codes used on the wire.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	ClosePolicy        = 1008
	CloseInternalError = 1011
)

// CloseCode maps a reason to the close code sent to the peer. Only a deliberate
// session end uses 1000; everything else tells the peer to reconnect.
func (r CloseReason) CloseCode() int {
	switch r {
	case ReasonClientClose, ReasonSessionClosed, ReasonSessionExpired:
		return CloseNormal
	case ReasonShutdown:
		return CloseGoingAway
	case ReasonHeartbeatTimeout, ReasonRejected:
		return ClosePolicy
	default:
		return CloseInternalError
	}
}
