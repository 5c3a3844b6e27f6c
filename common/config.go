package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr        string
	DatabaseURL       string
	RedisURL          string
	EncryptionKey     string
	SessionSecret     string
	SessionTTL        time.Duration
	PublicBaseURL     string
	EgressServers     string
	CatalogMaxEntries int
	CatalogTimeout    time.Duration
	UpstreamTimeout   time.Duration
	AdminEventsURL    string
	AdminToken        string
	SentryDSN         string
	RateLimit         int
	RateWindow        time.Duration
	TrustedProxies    []string
	Release           string
}

func LoadConfig() (*Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (*Config, error) {
	var err error
	cfg := &Config{
		ListenAddr:     stringOr(getenv("LISTEN_ADDR"), "0.0.0.0:5000"),
		DatabaseURL:    getenv("DATABASE_URL"),
		RedisURL:       getenv("REDIS_URL"),
		EncryptionKey:  strings.TrimSpace(getenv("ENCRYPTION_KEY")),
		SessionSecret:  getenv("SESSION_SECRET"),
		PublicBaseURL:  strings.TrimSuffix(getenv("PUBLIC_BASE_URL"), "/"),
		EgressServers:  getenv("EGRESS_SERVERS"),
		AdminEventsURL: getenv("ADMIN_EVENTS_URL"),
		AdminToken:     getenv("ADMIN_TOKEN"),
		SentryDSN:      getenv("SENTRY_DSN"),
		Release:        stringOr(getenv("RELEASE"), "dev"),
		RateWindow:     time.Minute,
	}
	if raw := getenv("TRUSTED_PROXIES"); raw != "" {
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, item)
			}
		}
	}
	if cfg.EncryptionKey == "" {
		return nil, errors.New("ENCRYPTION_KEY is required")
	}

	if cfg.SessionTTL, err = durationOr(getenv, "SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CatalogTimeout, err = durationOr(getenv, "CATALOG_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout, err = durationOr(getenv, "UPSTREAM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CatalogMaxEntries, err = intOr(getenv, "CATALOG_MAX_ENTRIES", 5000); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = intOr(getenv, "RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	return cfg, nil
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func durationOr(getenv func(string) string, name string, fallback time.Duration) (time.Duration, error) {
	raw := getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", name, raw)
	}
	return d, nil
}

func intOr(getenv func(string) string, name string, fallback int) (int, error) {
	raw := getenv(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: invalid number %q", name, raw)
	}
	return n, nil
}
