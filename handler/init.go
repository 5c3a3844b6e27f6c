package handler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/RoyXiang/streamgate/balancer"
	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/catalog"
	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/keys"
	"github.com/RoyXiang/streamgate/ratelimit"
	"github.com/RoyXiang/streamgate/store"
	"github.com/RoyXiang/streamgate/vault"
	"github.com/sirupsen/logrus"
)

type Config struct {
	PublicBaseURL    string
	UpstreamTimeout  time.Duration
	RateLimit        int
	RateWindow       time.Duration
	AdminToken       string
	MaxSegmentBytes  int64
	MaxManifestBytes int64
	TrustedProxies   []*net.IPNet
}

// Deps are the collaborators a Gateway serves requests with.
type Deps struct {
	Keys      *keys.Registry
	Sessions  *keys.Binder
	Catalogs  store.CatalogRepository
	Favorites store.FavoriteRepository
	Ingestor  *catalog.Ingestor
	Vault     *vault.Vault
	Selector  *balancer.Selector
	Cache     *cache.Tier
	Limiter   *ratelimit.Limiter
}

type Gateway struct {
	cfg       Config
	keys      *keys.Registry
	sessions  *keys.Binder
	catalogs  store.CatalogRepository
	favorites store.FavoriteRepository
	ingestor  *catalog.Ingestor
	vault     *vault.Vault
	selector  *balancer.Selector
	cache     *cache.Tier
	limiter   *ratelimit.Limiter
	ingests   common.Claims

	transport http.RoundTripper
	client    *http.Client
	proxy     *httputil.ReverseProxy
	log       *logrus.Entry
}

func New(cfg Config, d Deps) *Gateway {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = defaultMaxSegment
	}
	if cfg.MaxManifestBytes <= 0 {
		cfg.MaxManifestBytes = defaultMaxManifest
	}
	if d.Selector == nil {
		d.Selector = balancer.NewSelector(nil)
	}
	if d.Cache == nil {
		d.Cache = cache.NewTier(nil, cache.Options{})
	}

	gw := &Gateway{
		cfg:       cfg,
		keys:      d.Keys,
		sessions:  d.Sessions,
		catalogs:  d.Catalogs,
		favorites: d.Favorites,
		ingestor:  d.Ingestor,
		vault:     d.Vault,
		selector:  d.Selector,
		cache:     d.Cache,
		limiter:   d.Limiter,
		ingests:   common.NewClaims(),
		log:       common.Log("gateway"),
	}
	gw.transport = &redirectTransport{next: newTransport(cfg.UpstreamTimeout), max: maxRedirects}
	gw.client = &http.Client{
		Transport: gw.transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	gw.proxy = gw.newUpstreamProxy()
	return gw
}

func recordKey(id int64) string {
	return fmt.Sprintf("%d:record", id)
}

// catalogRecord loads a catalog record through the catalog cache. A missing or
// inactive catalog is a not found error.
func (gw *Gateway) catalogRecord(ctx context.Context, id int64) (*store.Catalog, error) {
	var record store.Catalog
	if gw.cache.Catalogs.Get(ctx, recordKey(id), &record) {
		return &record, nil
	}
	found, err := gw.catalogs.GetCatalog(ctx, id)
	if err != nil {
		return nil, common.NewError(common.KindInternal, "load catalog", err)
	}
	if found == nil || !found.Active {
		return nil, errCatalogNotFound
	}
	gw.cache.Catalogs.Set(ctx, recordKey(id), found)
	return found, nil
}

// invalidateCatalog drops everything cached for a catalog, its record included.
func (gw *Gateway) invalidateCatalog(ctx context.Context, id int64) {
	gw.ingestor.Invalidate(ctx, id)
	gw.cache.Catalogs.Delete(ctx, recordKey(id))
}

// reingest refreshes a catalog in the background. Concurrent refreshes of the
// same catalog collapse into one.
func (gw *Gateway) reingest(id int64) bool {
	claim := fmt.Sprintf("ingest:%d", id)
	if !gw.ingests.TryClaim(claim) {
		return false
	}
	go func() {
		defer gw.ingests.Release(claim)
		ctx := context.Background()
		record, err := gw.catalogRecord(ctx, id)
		if err != nil {
			gw.log.WithError(err).WithField("catalog", id).Warn("skipping catalog refresh")
			return
		}
		if _, _, err = gw.ingestor.Ingest(ctx, record); err != nil {
			gw.log.WithError(err).WithField("catalog", id).Warn("catalog refresh failed")
		}
	}()
	return true
}
