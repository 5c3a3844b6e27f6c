package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultSessionTTL = 24 * time.Hour

var (
	ErrNoSession      = common.NewError(common.KindAuth, "no session", nil)
	ErrSessionInvalid = common.NewError(common.KindAuth, "session invalid or expired", nil)
)

type Session struct {
	Token     string    `json:"-"`
	KeyCode   string    `json:"keyCode"`
	CatalogID int64     `json:"catalogId"`
	IssuedAt  time.Time `json:"issuedAt"`
	Expiry    time.Time `json:"expiry"`
}

type sessionClaims struct {
	KeyCode   string `json:"keyCode"`
	CatalogID int64  `json:"catalogId"`
	jwt.RegisteredClaims
}

// Binder issues and resolves session tokens. Resolution checks signature and
// expiry only; key state is the Registry's concern.
type Binder struct {
	secret []byte
	ttl    time.Duration
	cache  *cache.Class
	now    func() time.Time
}

func NewBinder(secret []byte, ttl time.Duration, sessions *cache.Class) *Binder {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Binder{secret: secret, ttl: ttl, cache: sessions, now: time.Now}
}

func (b *Binder) TTL() time.Duration {
	return b.ttl
}

func (b *Binder) CreateSession(keyCode string, catalogID int64) (*Session, error) {
	now := b.now().Truncate(time.Second)
	expiry := now.Add(b.ttl)
	claims := sessionClaims{
		KeyCode:   keyCode,
		CatalogID: catalogID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, KeyCode: keyCode, CatalogID: catalogID, IssuedAt: now, Expiry: expiry}, nil
}

func (b *Binder) ResolveSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	key := tokenKey(token)
	now := b.now()

	var cached Session
	if b.cache != nil && b.cache.Get(ctx, key, &cached) && now.Before(cached.Expiry) {
		cached.Token = token
		return &cached, nil
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return b.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.NewError(common.KindAuth, "session expired", err)
		}
		return nil, ErrSessionInvalid
	}
	if claims.KeyCode == "" || claims.ExpiresAt == nil {
		return nil, ErrSessionInvalid
	}

	s := &Session{
		Token:     token,
		KeyCode:   claims.KeyCode,
		CatalogID: claims.CatalogID,
		Expiry:    claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if b.cache != nil {
		b.cache.SetTTL(ctx, key, s, s.Expiry.Sub(now))
	}
	return s, nil
}

// Forget drops a resolved session from the cache.
func (b *Binder) Forget(ctx context.Context, token string) {
	if b.cache != nil && token != "" {
		b.cache.Delete(ctx, tokenKey(token))
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}
