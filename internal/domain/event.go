package domain

import "time"

// Event is one logical message fanned out to every live connection of a session.
type Event struct {
	SessionID string
	Type      string
	Payload   any
	CreatedAt time.Time
}

// Generator produces the next simulated payload for a demo type.
// Implementations must be deterministic for a given seed and tick.
type Generator interface {
	Next(tick int64, seed int64) (Batch, error)
}

// Batch is one generated tick of simulated business data.
type Batch struct {
	UpdateType string
	Records    []map[string]any
	Summary    map[string]any
}
