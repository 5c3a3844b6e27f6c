package common

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func envOf(values map[string]string) func(string) string {
	return func(name string) string {
		return values[name]
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(envOf(map[string]string{"ENCRYPTION_KEY": "00ff"}))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:5000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.CatalogMaxEntries != 5000 {
		t.Errorf("CatalogMaxEntries = %d", cfg.CatalogMaxEntries)
	}
	if cfg.RateLimit != 10 || cfg.RateWindow != time.Minute {
		t.Errorf("rate limit = %d/%v", cfg.RateLimit, cfg.RateWindow)
	}
	if cfg.TrustedProxies != nil {
		t.Errorf("TrustedProxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadConfigTrustedProxies(t *testing.T) {
	cfg, err := loadConfig(envOf(map[string]string{
		"ENCRYPTION_KEY":  "00",
		"TRUSTED_PROXIES": "10.0.0.0/8, ,192.0.2.7",
	}))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "192.0.2.7" {
		t.Errorf("TrustedProxies = %q", cfg.TrustedProxies)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing key", map[string]string{}},
		{"bad ttl", map[string]string{"ENCRYPTION_KEY": "00", "SESSION_TTL": "soon"}},
		{"negative timeout", map[string]string{"ENCRYPTION_KEY": "00", "UPSTREAM_TIMEOUT": "-1s"}},
		{"bad cap", map[string]string{"ENCRYPTION_KEY": "00", "CATALOG_MAX_ENTRIES": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(envOf(tt.env)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadConfigTrimsBaseURL(t *testing.T) {
	cfg, err := loadConfig(envOf(map[string]string{
		"ENCRYPTION_KEY":  "00",
		"PUBLIC_BASE_URL": "https://tv.example.com/",
		"SESSION_TTL":     "2h",
	}))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.PublicBaseURL != "https://tv.example.com" {
		t.Errorf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
}

func TestKindOf(t *testing.T) {
	base := NewError(KindTimeout, "upstream timed out", errors.New("deadline"))
	wrapped := fmt.Errorf("stream: %w", base)

	if got := KindOf(wrapped); got != KindTimeout {
		t.Errorf("KindOf = %v, want timeout", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %v, want internal", got)
	}
	if !errors.Is(wrapped, &Error{Kind: KindTimeout}) {
		t.Error("errors.Is should match kind marker")
	}
	if errors.Is(wrapped, &Error{Kind: KindFetch}) {
		t.Error("errors.Is matched the wrong kind")
	}
	if base.Error() != "upstream timed out: deadline" {
		t.Errorf("Error() = %q", base.Error())
	}
}

func TestClaims(t *testing.T) {
	c := NewClaims()
	if !c.TryClaim("a") {
		t.Fatal("first claim should succeed")
	}
	if c.TryClaim("a") {
		t.Fatal("second claim should fail while held")
	}
	if !c.Held("a") {
		t.Fatal("Held should report the claim")
	}
	c.Release("a")
	if c.Held("a") || !c.TryClaim("a") {
		t.Fatal("claim should be available after release")
	}
}

func TestClaimsSingleWinner(t *testing.T) {
	c := NewClaims()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryClaim("segment") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}
