package handler

import (
	"net/url"
	"time"

	"github.com/RoyXiang/streamgate/catalog"
)

type ctxKeyType struct {
	name string
}

var (
	sessionCtxKey  = ctxKeyType{"session"}
	upstreamCtxKey = ctxKeyType{"upstream"}
)

// upstreamJob carries one stream request through the reverse proxy.
type upstreamJob struct {
	catalogID int64
	// target is the upstream URL as referenced by the client, before egress
	// substitution. It keys the segment cache.
	target    string
	upstream  *url.URL
	origin    string
	egress    string
	base      string
	cacheable bool
	head      bool
	started   time.Time
}

// canonical maps a URL on the selected egress host back to the origin host so
// that rewritten references are balanced again on every request.
func (j *upstreamJob) canonical(u *url.URL) *url.URL {
	c := *u
	if j.egress != "" && c.Host == j.egress {
		c.Host = j.origin
	}
	return &c
}

func (j *upstreamJob) egressLabel() string {
	if j.egress == "" {
		return "origin"
	}
	return j.egress
}

type validateKeyRequest struct {
	Key string `json:"key"`
}

type validateKeyResponse struct {
	Valid            bool       `json:"valid"`
	CatalogID        int64      `json:"catalogId"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	SessionExpiresAt time.Time  `json:"sessionExpiresAt"`
}

type sessionResponse struct {
	Authenticated bool      `json:"authenticated"`
	CatalogID     int64     `json:"catalogId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type channelsResponse struct {
	Channels []catalog.Entry `json:"channels"`
	Stats    *catalog.Stats  `json:"stats,omitempty"`
}

type favoriteResponse struct {
	ID       string `json:"id"`
	Favorite bool   `json:"favorite"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
