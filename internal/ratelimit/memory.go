package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultCleanupInterval = time.Minute

// MemoryStore holds one fixed-window counter per quota per key, with the same
// semantics as the Redis script: a window opens on its first admitted request
// and the counter resets once the window has elapsed. Entries are created
// lazily and dropped once idle for longer than the longest window they track.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	buckets map[string]*bucketEntry
}

type windowCounter struct {
	limit   int
	window  time.Duration
	count   int
	resetAt time.Time
}

type bucketEntry struct {
	counters []*windowCounter
	lastSeen time.Time
	idleTTL  time.Duration
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   clock,
		buckets: make(map[string]*bucketEntry),
	}
}

func (s *MemoryStore) Admit(_ context.Context, key string, quotas []Quota) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	entry, ok := s.buckets[key]
	if !ok {
		entry = newBucketEntry(quotas)
		s.buckets[key] = entry
	}
	entry.lastSeen = now

	var wait time.Duration
	for _, c := range entry.counters {
		if !now.Before(c.resetAt) {
			c.count = 0
		}
		if c.count >= c.limit {
			wait = max(wait, c.resetAt.Sub(now))
		}
	}
	if wait > 0 {
		return Decision{Allowed: false, RetryAfter: wait}, nil
	}

	for _, c := range entry.counters {
		if c.count == 0 {
			c.resetAt = now.Add(c.window)
		}
		c.count++
	}
	return Decision{Allowed: true}, nil
}

func newBucketEntry(quotas []Quota) *bucketEntry {
	counters := make([]*windowCounter, len(quotas))
	for i, q := range quotas {
		counters[i] = &windowCounter{limit: q.Limit, window: q.Window}
	}
	return &bucketEntry{counters: counters, idleTTL: longestWindow(quotas)}
}

// Cleanup drops buckets idle past their longest window and returns how many were removed.
func (s *MemoryStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.buckets {
		if now.Sub(entry.lastSeen) > entry.idleTTL {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Run calls Cleanup every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			if removed := s.Cleanup(now); removed > 0 {
				slog.DebugContext(ctx, "Rate limit buckets cleaned up", "removed", removed)
			}
		}
	}
}
