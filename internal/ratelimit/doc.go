// Package ratelimit admits or denies requests per (client identity, route class).
//
// A route class carries one or more quotas. A request is admitted only when
// every quota of its class has capacity, and a denied request consumes nothing.
// Stores hold the counters: MemoryStore keeps token buckets in process,
// the Redis store in internal/adapter/redis shares fixed windows between
// instances, and FallbackStore puts a circuit breaker in front of a shared
// store so admission keeps working when it is unreachable.
package ratelimit
