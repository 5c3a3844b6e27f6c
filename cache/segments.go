package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/metrics"
)

const refreshTimeout = 30 * time.Second

// Segment is a cached upstream body. URL is the final upstream location it
// was read from, so relative references in manifests resolve correctly.
type Segment struct {
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
}

// Refresher fetches a fresh copy of a segment. It runs detached from the
// request that triggered it.
type Refresher func(ctx context.Context) (*Segment, error)

type SegmentCache struct {
	class  *Class
	fresh  time.Duration
	claims common.Claims
	now    func() time.Time
}

func segmentKey(target string) string {
	sum := sha256.Sum256([]byte(target))
	return hex.EncodeToString(sum[:16])
}

func (c *SegmentCache) Enabled() bool {
	return c != nil && c.class.tier.Enabled()
}

// Fresh is how long a stored segment is served without revalidation.
func (c *SegmentCache) Fresh() time.Duration {
	return c.fresh
}

// Get looks up target. A stale hit is still returned, and at most one
// background refresh per key is started with refresh.
func (c *SegmentCache) Get(ctx context.Context, target string, refresh Refresher) (seg *Segment, stale bool, ok bool) {
	if !c.Enabled() {
		return nil, false, false
	}
	key := segmentKey(target)
	var s Segment
	b, found := c.class.tier.get(ctx, c.class.key(key))
	if found {
		if err := json.Unmarshal(b, &s); err != nil {
			c.class.tier.degrade("decode", c.class.key(key), err)
			found = false
		}
	}
	if !found {
		metrics.CacheResults.WithLabelValues(c.class.name, "miss").Inc()
		return nil, false, false
	}

	if c.Age(&s) < c.fresh {
		metrics.CacheResults.WithLabelValues(c.class.name, "hit").Inc()
		return &s, false, true
	}

	metrics.CacheResults.WithLabelValues(c.class.name, "stale").Inc()
	if refresh != nil && c.claims.TryClaim(key) {
		go c.revalidate(key, target, refresh)
	}
	return &s, true, true
}

func (c *SegmentCache) revalidate(key, target string, refresh Refresher) {
	defer c.claims.Release(key)

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	seg, err := refresh(ctx)
	if err != nil {
		c.class.tier.log.WithError(err).Debug("segment refresh failed, keeping stale copy")
		return
	}
	c.Put(ctx, target, seg)
}

func (c *SegmentCache) Put(ctx context.Context, target string, seg *Segment) {
	if !c.Enabled() || seg == nil {
		return
	}
	if seg.StoredAt.IsZero() {
		seg.StoredAt = c.now()
	}
	c.class.SetTTL(ctx, segmentKey(target), seg, c.class.ttl)
}

func (c *SegmentCache) Age(seg *Segment) time.Duration {
	return c.now().Sub(seg.StoredAt)
}
