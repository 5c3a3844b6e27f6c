package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RoyXiang/streamgate/balancer"
	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/catalog"
	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/handler"
	"github.com/RoyXiang/streamgate/keys"
	"github.com/RoyXiang/streamgate/metrics"
	"github.com/RoyXiang/streamgate/ratelimit"
	"github.com/RoyXiang/streamgate/store"
	"github.com/RoyXiang/streamgate/telemetry"
	"github.com/RoyXiang/streamgate/vault"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

func newRouter(gw *handler.Gateway) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(gw.RealIPMiddleware)
	r.Use(handler.LoggingMiddleware)
	r.Use(telemetry.Recoverer)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", gw.HealthHandler).Methods(http.MethodGet)

	validateRouter := r.Methods(http.MethodPost).Subrouter()
	validateRouter.Use(gw.RateLimitMiddleware)
	validateRouter.Path("/api/validate-key").HandlerFunc(gw.ValidateKeyHandler)

	r.HandleFunc("/api/logout", gw.LogoutHandler).Methods(http.MethodPost)

	sessionRouter := r.PathPrefix("/api").Subrouter()
	sessionRouter.Use(gw.SessionMiddleware)
	sessionRouter.HandleFunc("/session", gw.SessionHandler).Methods(http.MethodGet)
	sessionRouter.HandleFunc("/channels", gw.ChannelsHandler).Methods(http.MethodGet)
	sessionRouter.HandleFunc("/channels/{id}/favorite", gw.FavoriteHandler).Methods(http.MethodPost)
	sessionRouter.HandleFunc("/servers", gw.ServersHandler).Methods(http.MethodGet)

	streamRouter := r.PathPrefix("/stream").Subrouter()
	streamRouter.Use(handler.CORSMiddleware)
	streamRouter.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	streamRouter.Path("").HandlerFunc(gw.MissingRefHandler)
	streamRouter.Path("/").HandlerFunc(gw.MissingRefHandler)
	streamRouter.Handle("/{ref}", gw.SessionMiddleware(http.HandlerFunc(gw.StreamHandler))).
		Methods(http.MethodGet, http.MethodHead)

	internalRouter := r.PathPrefix("/internal").Subrouter()
	internalRouter.Use(gw.AdminMiddleware)
	internalRouter.HandleFunc("/catalogs/{id}/ingest", gw.IngestHandler).Methods(http.MethodPost)
	internalRouter.HandleFunc("/catalogs/{id}/cache", gw.InvalidateHandler).Methods(http.MethodDelete)

	return r
}

func openRepository(cfg *common.Config) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		common.Log("store").Warn("DATABASE_URL is empty, using the in-memory store")
		return store.NewMemory(), nil
	}
	return store.Open(cfg.DatabaseURL)
}

func openCache(cfg *common.Config) (cache.Store, ratelimit.Store, error) {
	if cfg.RedisURL == "" {
		common.Log("cache").Warn("REDIS_URL is empty, using the in-process cache")
		return cache.NewMemoryStore(), ratelimit.NewMemoryStore(), nil
	}
	client, err := cache.DialRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedisStore(client, "streamgate:"), ratelimit.NewRedisStore(client), nil
}

func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	count := fs.Int("n", 1, "number of key codes")
	length := fs.Int("length", 12, "characters per key code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for i := 0; i < *count; i++ {
		code, err := vault.GenerateKeyCode(*length)
		if err != nil {
			return err
		}
		fmt.Println(code)
	}
	return nil
}

func main() {
	logger := common.GetLogger()
	if len(os.Args) > 1 && os.Args[1] == "keygen" {
		if err := keygen(os.Args[2:]); err != nil {
			logger.Fatal(err)
		}
		return
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Fatal(err)
	}
	if err = telemetry.InitSentry(cfg.SentryDSN, cfg.Release); err != nil {
		logger.WithError(err).Warn("error reporting disabled")
	}
	defer telemetry.Flush()

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal(err)
	}
	repo, err := openRepository(cfg)
	if err != nil {
		logger.Fatal(err)
	}
	defer repo.Close()
	cacheStore, rateStore, err := openCache(cfg)
	if err != nil {
		logger.Fatal(err)
	}
	servers, err := balancer.ParseServers(cfg.EgressServers)
	if err != nil {
		logger.Fatal(err)
	}
	trusted, err := handler.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal(err)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = v.SigningKey()
	}
	tier := cache.NewTier(cacheStore, cache.Options{})
	ingestor := catalog.NewIngestor(catalog.NewFetcher(cfg.CatalogTimeout), v, repo, tier.Catalogs, catalog.Options{
		MaxEntries: cfg.CatalogMaxEntries,
		Timeout:    cfg.CatalogTimeout,
	})

	gw := handler.New(handler.Config{
		PublicBaseURL:   cfg.PublicBaseURL,
		UpstreamTimeout: cfg.UpstreamTimeout,
		RateLimit:       cfg.RateLimit,
		RateWindow:      cfg.RateWindow,
		AdminToken:      cfg.AdminToken,
		TrustedProxies:  trusted,
	}, handler.Deps{
		Keys:      keys.NewRegistry(repo),
		Sessions:  keys.NewBinder(secret, cfg.SessionTTL, tier.Sessions),
		Catalogs:  repo,
		Favorites: repo,
		Ingestor:  ingestor,
		Vault:     v,
		Selector:  balancer.NewSelector(servers),
		Cache:     tier,
		Limiter:   ratelimit.New(rateStore),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(gw),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          common.StdLogger("http"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go gw.ListenToCatalogEvents(ctx, cfg.AdminEventsURL, cfg.AdminToken)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err)
			stop()
		}
	}()
	logger.Printf("Server started on %s", cfg.ListenAddr)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	logger.Println("Shutting down...")
}
