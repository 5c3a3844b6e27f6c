package keys

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/common"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newBinder(now *time.Time) (*Binder, *cache.MemoryStore) {
	store := cache.NewMemoryStore()
	tier := cache.NewTier(store, cache.Options{})
	b := NewBinder(testSecret, 0, tier.Sessions)
	b.now = func() time.Time { return *now }
	return b, store
}

func TestSessionRoundTrip(t *testing.T) {
	now := time.Now()
	b, store := newBinder(&now)

	s, err := b.CreateSession("ABC", 9)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Expiry.Sub(s.IssuedAt) != DefaultSessionTTL {
		t.Errorf("ttl = %v", s.Expiry.Sub(s.IssuedAt))
	}
	if strings.Count(s.Token, ".") != 2 {
		t.Fatalf("token %q is not a JWT", s.Token)
	}

	got, err := b.ResolveSession(context.Background(), s.Token)
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if got.KeyCode != "ABC" || got.CatalogID != 9 || !got.Expiry.Equal(s.Expiry) {
		t.Errorf("resolved = %+v", got)
	}
	if store.Len() != 1 {
		t.Errorf("session cache entries = %d", store.Len())
	}

	again, err := b.ResolveSession(context.Background(), s.Token)
	if err != nil || again.Token != s.Token || again.CatalogID != 9 {
		t.Errorf("cached resolve = %+v, %v", again, err)
	}

	b.Forget(context.Background(), s.Token)
	if store.Len() != 0 {
		t.Error("Forget left the cache entry")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	b, _ := newBinder(&now)
	s, _ := b.CreateSession("ABC", 1)
	if _, err := b.ResolveSession(context.Background(), s.Token); err != nil {
		t.Fatal(err)
	}

	now = now.Add(DefaultSessionTTL + time.Second)
	if _, err := b.ResolveSession(context.Background(), s.Token); common.KindOf(err) != common.KindAuth {
		t.Fatalf("expired err = %v", err)
	}
}

func TestSessionRejectsForgeries(t *testing.T) {
	now := time.Now()
	b, _ := newBinder(&now)
	s, _ := b.CreateSession("ABC", 1)

	other := NewBinder([]byte("another-secret-another-secret-xx"), 0, nil)
	foreign, _ := other.CreateSession("ABC", 1)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, sessionClaims{
		KeyCode:          "ABC",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{KeyCode: "ABC"}).SignedString(testSecret)

	for name, token := range map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"tampered":  tamper(s.Token),
		"foreign":   foreign.Token,
		"alg none":  unsigned,
		"no expiry": noExpiry,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := b.ResolveSession(context.Background(), token); common.KindOf(err) != common.KindAuth {
				t.Fatalf("err = %v, want auth error", err)
			}
		})
	}
}

func tamper(token string) string {
	i := len(token) - 10
	c := "A"
	if token[i] == 'A' {
		c = "B"
	}
	return token[:i] + c + token[i+1:]
}
