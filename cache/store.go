package cache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("cache: miss")

// Store is a byte-oriented key/value backend with per-entry TTLs.
// Get returns ErrMiss for absent or expired keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching a glob where * matches any run
	// of characters.
	DeletePattern(ctx context.Context, pattern string) error
}
