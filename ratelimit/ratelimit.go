// Package ratelimit provides fixed-window request limits. A Limiter without a
// store allows everything, and store errors fail open.
package ratelimit

import (
	"context"
	"time"
)

// Store is the counter backend. In production this is redis; in single
// process deployments and tests it is MemoryStore.
type Store interface {
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live on a key, zero or negative if none.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type Limiter struct {
	store Store
}

func New(store Store) *Limiter {
	return &Limiter{store: store}
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Allow counts one hit against key and reports whether it is within limit
// hits per window.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Result {
	res := Result{Allowed: true, Limit: limit, Remaining: limit}
	if l == nil || l.store == nil {
		return res
	}

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return res
	}
	if count == 1 {
		_ = l.store.Expire(ctx, key, window)
	}

	res.Remaining = limit - int(count)
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if count > int64(limit) {
		res.Allowed = false
		ttl, _ := l.store.TTL(ctx, key)
		if ttl <= 0 {
			ttl = window
		}
		res.RetryAfter = ttl
	}
	return res
}
