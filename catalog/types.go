// Package catalog ingests upstream catalogs, either a playlist document or a
// provider account API, into classified entries.
package catalog

import (
	"context"
	"strings"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/store"
	"github.com/google/uuid"
)

type Type string

const (
	Live   Type = "live"
	Movie  Type = "movie"
	Series Type = "series"
)

func ParseType(raw string) (Type, bool) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case Live, Movie, Series:
		return t, true
	}
	return "", false
}

type Entry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LogoURL     string `json:"logoUrl,omitempty"`
	GroupName   string `json:"groupName,omitempty"`
	PlayableURL string `json:"playableUrl"`
	Type        Type   `json:"type"`
	EpgID       string `json:"epgId,omitempty"`
	Favorite    bool   `json:"favorite"`
}

// Result is what a Source produced before analysis.
type Result struct {
	Entries   []Entry
	Reported  int
	Truncated int
}

// Source is one catalog shape. Implementations are PlaylistSource and
// AccountSource.
type Source interface {
	Kind() store.CatalogType
	Fetch(ctx context.Context, f *Fetcher, limit int) (*Result, error)
}

// SourceFor builds the source for a catalog record from its decrypted location.
func SourceFor(record *store.Catalog, location string) (Source, error) {
	switch record.Type {
	case store.CatalogAccount:
		return ParseAccountLocation(location)
	case store.CatalogPlaylist, "":
		if !isHTTPURL(location) {
			return nil, common.NewError(common.KindFormat, "playlist location is not an http(s) URL", nil)
		}
		return PlaylistSource{URL: location}, nil
	default:
		return nil, common.NewError(common.KindFormat, "unknown catalog type "+string(record.Type), nil)
	}
}

var entryNamespace = uuid.MustParse("6f1c2d8e-3f0b-4e55-9a3c-5be2b7f0c4a1")

// entryID is stable across re-ingestion of the same content.
func entryID(parts ...string) string {
	return uuid.NewSHA1(entryNamespace, []byte(strings.Join(parts, "\x00"))).String()
}
