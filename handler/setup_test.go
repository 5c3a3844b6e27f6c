package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/catalog"
	"github.com/RoyXiang/streamgate/keys"
	"github.com/RoyXiang/streamgate/ratelimit"
	"github.com/RoyXiang/streamgate/store"
	"github.com/RoyXiang/streamgate/telemetry"
	"github.com/RoyXiang/streamgate/vault"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

const (
	testKey       = "TESTKEY23"
	testCatalogID = int64(1)
	testBaseURL   = "http://gw.test"
	testAdmin     = "admin-token"
	manifestBody  = "#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.0,\nseg1.ts\n\n#EXTINF:2.0,\n/abs/seg2.ts\n"
)

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (c *hitCounter) add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[path]++
}

func (c *hitCounter) get(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

type testEnv struct {
	gw       *Gateway
	router   http.Handler
	vault    *vault.Vault
	repo     *store.Memory
	tier     *cache.Tier
	binder   *keys.Binder
	upstream *httptest.Server
	hits     *hitCounter
}

// newUpstream serves a playlist catalog, one live manifest and its segments.
func newUpstream(t *testing.T, hits *hitCounter) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	routes := http.NewServeMux()
	routes.HandleFunc("/playlist.m3u", func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		fmt.Fprintf(w, "#EXTM3U\n"+
			"#EXTINF:-1 tvg-id=\"k1\" tvg-logo=\"http://logo.test/1.png\" group-title=\"Spor\",Kanal 1\n"+
			"%s/live/index.m3u8\n"+
			"#EXTINF:-1 group-title=\"Filmler\",Film 1\n"+
			"%s/movie/film1.mp4\n", srv.URL, srv.URL)
	})
	routes.HandleFunc("/live/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Set-Cookie", "upstream=secret")
		_, _ = w.Write([]byte(manifestBody))
	})
	routes.HandleFunc("/plain.m3u8", func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(manifestBody))
	})
	routes.HandleFunc("/redirect.m3u8", func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		http.Redirect(w, r, "/live/index.m3u8", http.StatusFound)
	})
	routes.HandleFunc("/live/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		w.Header().Set("Content-Type", "video/mp2t")
		if r.Header.Get("Range") != "" {
			w.Header().Set("Content-Range", "bytes 0-3/11")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("segm"))
			return
		}
		_, _ = w.Write([]byte("segment-one"))
	})
	routes.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	routes.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		select {
		case <-r.Context().Done():
			hits.add(r.URL.Path + ":canceled")
		case <-time.After(2 * time.Second):
		}
	})
	srv = httptest.NewServer(routes)
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T, tweak func(*Config, *Deps)) *testEnv {
	t.Helper()
	hits := &hitCounter{hits: map[string]int{}}
	upstream := newUpstream(t, hits)

	v, err := vault.New(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatal(err)
	}
	location, iv, err := v.Encrypt(upstream.URL + "/playlist.m3u")
	if err != nil {
		t.Fatal(err)
	}

	repo := store.NewMemory()
	repo.PutCatalog(store.Catalog{
		ID:                testCatalogID,
		Name:              "test",
		EncryptedLocation: location,
		IV:                iv,
		Type:              store.CatalogPlaylist,
		Active:            true,
	})
	repo.PutKey(store.AccessKey{Code: testKey, CatalogID: testCatalogID, Active: true, CreatedAt: time.Now()})

	tier := cache.NewTier(cache.NewMemoryStore(), cache.Options{})
	binder := keys.NewBinder([]byte("0123456789abcdef0123456789abcdef"), time.Hour, tier.Sessions)
	cfg := Config{
		PublicBaseURL:   testBaseURL,
		UpstreamTimeout: 2 * time.Second,
		RateLimit:       2,
		RateWindow:      time.Minute,
		AdminToken:      testAdmin,
	}
	deps := Deps{
		Keys:      keys.NewRegistry(repo),
		Sessions:  binder,
		Catalogs:  repo,
		Favorites: repo,
		Ingestor:  catalog.NewIngestor(catalog.NewFetcher(2*time.Second), v, repo, tier.Catalogs, catalog.Options{}),
		Vault:     v,
		Cache:     tier,
		Limiter:   ratelimit.New(ratelimit.NewMemoryStore()),
	}
	if tweak != nil {
		tweak(&cfg, &deps)
	}
	gw := New(cfg, deps)
	return &testEnv{
		gw:       gw,
		router:   testRouter(gw),
		vault:    v,
		repo:     repo,
		tier:     deps.Cache,
		binder:   binder,
		upstream: upstream,
		hits:     hits,
	}
}

func testRouter(gw *Gateway) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(gw.RealIPMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(telemetry.Recoverer)

	r.HandleFunc("/healthz", gw.HealthHandler).Methods(http.MethodGet)
	validate := r.Methods(http.MethodPost).Subrouter()
	validate.Use(gw.RateLimitMiddleware)
	validate.Path("/api/validate-key").HandlerFunc(gw.ValidateKeyHandler)
	r.HandleFunc("/api/logout", gw.LogoutHandler).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(gw.SessionMiddleware)
	api.HandleFunc("/session", gw.SessionHandler).Methods(http.MethodGet)
	api.HandleFunc("/channels", gw.ChannelsHandler).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}/favorite", gw.FavoriteHandler).Methods(http.MethodPost)
	api.HandleFunc("/servers", gw.ServersHandler).Methods(http.MethodGet)

	stream := r.PathPrefix("/stream").Subrouter()
	stream.Use(CORSMiddleware)
	stream.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	stream.Path("").HandlerFunc(gw.MissingRefHandler)
	stream.Path("/").HandlerFunc(gw.MissingRefHandler)
	stream.Handle("/{ref}", gw.SessionMiddleware(http.HandlerFunc(gw.StreamHandler))).
		Methods(http.MethodGet, http.MethodHead)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(gw.AdminMiddleware)
	internal.HandleFunc("/catalogs/{id}/ingest", gw.IngestHandler).Methods(http.MethodPost)
	internal.HandleFunc("/catalogs/{id}/cache", gw.InvalidateHandler).Methods(http.MethodDelete)
	return r
}

func (e *testEnv) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	sess, err := e.binder.CreateSession(testKey, testCatalogID)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Cookie{Name: cookieSession, Value: sess.Token}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// stream requests target through the gateway with a valid session.
func (e *testEnv) stream(t *testing.T, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	ref, err := e.vault.SealRef(testCatalogID, target)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, testBaseURL+streamPathPrefix+ref, nil)
	for name, values := range header {
		req.Header[name] = values
	}
	req.AddCookie(e.sessionCookie(t))
	return e.do(req)
}

// openStreamURL recovers the upstream target behind a gateway stream URL.
func (e *testEnv) openStreamURL(t *testing.T, streamURL string) string {
	t.Helper()
	if !strings.HasPrefix(streamURL, testBaseURL+streamPathPrefix) {
		t.Fatalf("not a gateway stream url: %q", streamURL)
	}
	target, err := e.vault.OpenRef(testCatalogID, strings.TrimPrefix(streamURL, testBaseURL+streamPathPrefix))
	if err != nil {
		t.Fatalf("OpenRef(%q): %v", streamURL, err)
	}
	return target
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
