// Package cache is the layered TTL cache in front of sessions, catalogs and
// media segments. A Tier built without a Store is a pass-through: every
// lookup misses and every write is dropped.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/metrics"
	"github.com/sirupsen/logrus"
)

type Options struct {
	SessionTTL    time.Duration
	CatalogTTL    time.Duration
	SegmentFresh  time.Duration
	SegmentRetain time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionTTL <= 0 {
		o.SessionTTL = 5 * time.Minute
	}
	if o.CatalogTTL <= 0 {
		o.CatalogTTL = time.Hour
	}
	if o.SegmentFresh <= 0 {
		o.SegmentFresh = 3 * time.Second
	}
	if o.SegmentRetain < o.SegmentFresh {
		o.SegmentRetain = 30 * time.Second
	}
	return o
}

type Tier struct {
	store Store
	log   *logrus.Entry

	Sessions *Class
	Catalogs *Class
	Segments *SegmentCache
}

// NewTier wires the cache classes over store, which may be nil.
func NewTier(store Store, opts Options) *Tier {
	opts = opts.withDefaults()
	t := &Tier{store: store, log: common.Log("cache")}
	t.Sessions = &Class{tier: t, name: "session", ttl: opts.SessionTTL}
	t.Catalogs = &Class{tier: t, name: "catalog", ttl: opts.CatalogTTL}
	t.Segments = &SegmentCache{
		class:  &Class{tier: t, name: "segment", ttl: opts.SegmentRetain},
		fresh:  opts.SegmentFresh,
		claims: common.NewClaims(),
		now:    time.Now,
	}
	return t
}

func (t *Tier) Enabled() bool {
	return t != nil && t.store != nil
}

func (t *Tier) get(ctx context.Context, key string) ([]byte, bool) {
	if !t.Enabled() {
		return nil, false
	}
	b, err := t.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			t.degrade("get", key, err)
		}
		return nil, false
	}
	return b, true
}

func (t *Tier) set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !t.Enabled() {
		return
	}
	if err := t.store.Set(ctx, key, value, ttl); err != nil {
		t.degrade("set", key, err)
	}
}

func (t *Tier) delete(ctx context.Context, key string) {
	if !t.Enabled() {
		return
	}
	if err := t.store.Delete(ctx, key); err != nil {
		t.degrade("delete", key, err)
	}
}

func (t *Tier) deletePattern(ctx context.Context, pattern string) {
	if !t.Enabled() {
		return
	}
	if err := t.store.DeletePattern(ctx, pattern); err != nil {
		t.degrade("delete_pattern", pattern, err)
	}
}

func (t *Tier) degrade(op, key string, err error) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	t.log.WithError(err).WithFields(logrus.Fields{"op": op, "key": key}).Warn("cache store failed, continuing without cache")
}

// Class is one namespace of the tier with its own TTL. Keys are stored as
// "{name}:{key}" and values as JSON.
type Class struct {
	tier *Tier
	name string
	ttl  time.Duration
}

func (c *Class) TTL() time.Duration {
	return c.ttl
}

func (c *Class) key(key string) string {
	return c.name + ":" + key
}

// Get decodes the cached value into dst and reports whether there was one.
func (c *Class) Get(ctx context.Context, key string, dst interface{}) bool {
	b, ok := c.tier.get(ctx, c.key(key))
	if ok {
		if err := json.Unmarshal(b, dst); err != nil {
			c.tier.degrade("decode", c.key(key), err)
			ok = false
		}
	}
	c.count(ok)
	return ok
}

func (c *Class) Set(ctx context.Context, key string, value interface{}) {
	c.SetTTL(ctx, key, value, c.ttl)
}

// SetTTL stores value with a custom TTL capped by the class TTL.
func (c *Class) SetTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !c.tier.Enabled() {
		return
	}
	if ttl <= 0 {
		return
	}
	if ttl > c.ttl {
		ttl = c.ttl
	}
	b, err := json.Marshal(value)
	if err != nil {
		c.tier.degrade("encode", c.key(key), err)
		return
	}
	c.tier.set(ctx, c.key(key), b, ttl)
}

func (c *Class) Delete(ctx context.Context, key string) {
	c.tier.delete(ctx, c.key(key))
}

func (c *Class) DeletePattern(ctx context.Context, pattern string) {
	c.tier.deletePattern(ctx, c.key(pattern))
}

func (c *Class) count(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.CacheResults.WithLabelValues(c.name, result).Inc()
}
