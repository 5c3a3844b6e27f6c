package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	n       int64
	expires time.Time
}

type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*counter), now: time.Now}
}

func (s *MemoryStore) live(key string) *counter {
	c, ok := s.counters[key]
	if ok && !c.expires.IsZero() && !s.now().Before(c.expires) {
		delete(s.counters, key)
		return nil
	}
	return c
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.live(key)
	if c == nil {
		c = &counter{}
		s.counters[key] = c
	}
	c.n++
	return c.n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.live(key); c != nil {
		c.expires = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.live(key)
	if c == nil || c.expires.IsZero() {
		return -1, nil
	}
	return c.expires.Sub(s.now()), nil
}
