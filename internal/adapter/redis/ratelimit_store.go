package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bhardin04/livedemo/internal/ratelimit"
)

// admitScript checks every fixed-window counter first and only increments
// them when all have room, so a denial charges nothing.
// KEYS: one counter per quota. ARGV: limit_1, window_ms_1, limit_2, window_ms_2, ...
// Returns {allowed, retry_after_ms}.
var admitScript = goredis.NewScript(`
local wait = 0
for i = 1, #KEYS do
  local limit = tonumber(ARGV[(i - 1) * 2 + 1])
  local count = tonumber(redis.call('GET', KEYS[i]) or '0')
  if count >= limit then
    local ttl = redis.call('PTTL', KEYS[i])
    if ttl < 0 then ttl = tonumber(ARGV[(i - 1) * 2 + 2]) end
    if ttl > wait then wait = ttl end
  end
end
if wait > 0 then
  return {0, wait}
end
for i = 1, #KEYS do
  local c = redis.call('INCR', KEYS[i])
  if c == 1 then
    redis.call('PEXPIRE', KEYS[i], ARGV[(i - 1) * 2 + 2])
  end
end
return {1, 0}
`)

// RateLimitStore shares fixed-window counters between instances.
type RateLimitStore struct {
	rdb *goredis.Client
}

func NewRateLimitStore(rdb *goredis.Client) *RateLimitStore {
	return &RateLimitStore{rdb: rdb}
}

var _ ratelimit.Store = (*RateLimitStore)(nil)

func (s *RateLimitStore) Admit(ctx context.Context, key string, quotas []ratelimit.Quota) (ratelimit.Decision, error) {
	keys := make([]string, len(quotas))
	args := make([]any, 0, len(quotas)*2)
	for i, q := range quotas {
		windowMs := q.Window.Milliseconds()
		keys[i] = rateLimitKey(key, windowMs)
		args = append(args, strconv.Itoa(q.Limit), strconv.FormatInt(windowMs, 10))
	}

	result, err := admitScript.Run(ctx, s.rdb, keys, args...).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(result) != 2 {
		return ratelimit.Decision{}, fmt.Errorf("rate limit script returned %d values", len(result))
	}

	if result[0] == 1 {
		return ratelimit.Decision{Allowed: true}, nil
	}
	return ratelimit.Decision{Allowed: false, RetryAfter: time.Duration(result[1]) * time.Millisecond}, nil
}

func rateLimitKey(key string, windowMs int64) string {
	return "ratelimit:" + key + ":" + strconv.FormatInt(windowMs, 10)
}
