// Package store holds the persisted records the gateway reads: access keys,
// catalogs and per-key favorites. Lookups return nil, nil when a row is absent.
package store

import (
	"context"
	"time"
)

type CatalogType string

const (
	CatalogPlaylist CatalogType = "playlist"
	CatalogAccount  CatalogType = "account"
)

type AccessKey struct {
	Code           string     `json:"code"`
	CatalogID      int64      `json:"catalogId"`
	Active         bool       `json:"active"`
	Banned         bool       `json:"banned"`
	MaxConnections int        `json:"maxConnections"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type Counts struct {
	Live   int `json:"live"`
	Movies int `json:"movies"`
	Series int `json:"series"`
}

type Catalog struct {
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	EncryptedLocation string      `json:"encryptedLocation"`
	IV                string      `json:"iv"`
	Type              CatalogType `json:"type"`
	Active            bool        `json:"active"`
	Counts            *Counts     `json:"counts,omitempty"`
}

type KeyRepository interface {
	GetKey(ctx context.Context, code string) (*AccessKey, error)
	TouchKey(ctx context.Context, code string, at time.Time) error
}

type CatalogRepository interface {
	GetCatalog(ctx context.Context, id int64) (*Catalog, error)
	UpdateCounts(ctx context.Context, id int64, counts Counts) error
}

type FavoriteRepository interface {
	ListFavorites(ctx context.Context, keyCode string) ([]string, error)
	// ToggleFavorite flips the mark and reports whether the entry is now a favorite.
	ToggleFavorite(ctx context.Context, keyCode, entryID string) (bool, error)
}

// Repository is everything the gateway needs from persistence.
type Repository interface {
	KeyRepository
	CatalogRepository
	FavoriteRepository
	Close() error
}
