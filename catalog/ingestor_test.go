package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/store"
	"github.com/RoyXiang/streamgate/vault"
)

var (
	recordPlaylist = store.Catalog{ID: 1, Name: "main", Type: store.CatalogPlaylist}
	recordAccount  = store.Catalog{ID: 2, Name: "panel", Type: store.CatalogAccount}
)

type ingestFixture struct {
	ingestor *Ingestor
	repo     *store.Memory
	record   *store.Catalog
	hits     *int32
}

func newIngestFixture(t *testing.T, status int, body string) *ingestFixture {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	v, err := vault.New("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatal(err)
	}
	ct, iv, err := v.Encrypt(srv.URL + "/list.m3u")
	if err != nil {
		t.Fatal(err)
	}
	record := recordPlaylist
	record.EncryptedLocation, record.IV = ct, iv

	repo := store.NewMemory()
	repo.PutCatalog(record)
	tier := cache.NewTier(cache.NewMemoryStore(), cache.Options{})
	in := NewIngestor(NewFetcher(5*time.Second), v, repo, tier.Catalogs, Options{MaxEntries: 3})
	return &ingestFixture{ingestor: in, repo: repo, record: &record, hits: &hits}
}

func TestIngestCachesAndPersists(t *testing.T) {
	ctx := context.Background()
	fx := newIngestFixture(t, http.StatusOK, samplePlaylist)

	entries, stats, err := fx.ingestor.Ingest(ctx, fx.record)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(entries) != 3 || stats.Truncated != 1 || stats.Reported != 4 {
		t.Fatalf("entries = %d, truncated = %d, reported = %d", len(entries), stats.Truncated, stats.Reported)
	}
	if stats.TotalChannels != 3 || stats.LiveChannels != 1 || stats.Movies != 1 || stats.Series != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	saved, _ := fx.repo.GetCatalog(ctx, fx.record.ID)
	if saved.Counts == nil || *saved.Counts != (store.Counts{Live: 1, Movies: 1, Series: 1}) {
		t.Fatalf("persisted counts = %+v", saved.Counts)
	}

	cached, err := fx.ingestor.Entries(ctx, fx.record)
	if err != nil || len(cached) != 3 {
		t.Fatalf("Entries = %d, %v", len(cached), err)
	}
	if n := atomic.LoadInt32(fx.hits); n != 1 {
		t.Fatalf("upstream hits = %d, want 1", n)
	}
	if got, ok := fx.ingestor.Stats(ctx, fx.record.ID); !ok || got.TotalChannels != 3 {
		t.Fatalf("Stats = %+v, %v", got, ok)
	}

	fx.ingestor.Invalidate(ctx, fx.record.ID)
	if _, ok := fx.ingestor.Stats(ctx, fx.record.ID); ok {
		t.Fatal("stats survived invalidation")
	}
	if _, err := fx.ingestor.Entries(ctx, fx.record); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(fx.hits); n != 2 {
		t.Fatalf("upstream hits after invalidate = %d, want 2", n)
	}
}

func TestIngestErrorsAreRecoverable(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		status int
		body   string
		kind   common.Kind
	}{
		{"upstream down", http.StatusBadGateway, "", common.KindFetch},
		{"not a playlist", http.StatusOK, "<html>login</html>", common.KindFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newIngestFixture(t, tt.status, tt.body)
			_, _, err := fx.ingestor.Ingest(ctx, fx.record)
			if common.KindOf(err) != tt.kind {
				t.Fatalf("err = %v, want %v", err, tt.kind)
			}
			saved, _ := fx.repo.GetCatalog(ctx, fx.record.ID)
			if saved == nil || saved.Counts != nil {
				t.Fatalf("record changed after failed ingest: %+v", saved)
			}
		})
	}
}

func TestIngestDecryptionFailure(t *testing.T) {
	fx := newIngestFixture(t, http.StatusOK, samplePlaylist)
	broken := *fx.record
	broken.IV = "00"
	_, _, err := fx.ingestor.Ingest(context.Background(), &broken)
	if common.KindOf(err) != common.KindDecryption {
		t.Fatalf("err = %v", err)
	}
}

func TestAnalyze(t *testing.T) {
	entries := []Entry{
		{Type: Live, GroupName: "Spor"},
		{Type: Live, GroupName: "Haber"},
		{Type: Movie, GroupName: "Spor"},
		{Type: Series},
	}
	stats := Analyze(entries, 4, 0)
	if stats.TotalChannels != 4 || stats.LiveChannels != 2 || stats.Movies != 1 || stats.Series != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.Groups) != 2 || stats.Groups[0] != "Haber" || stats.Groups[1] != "Spor" {
		t.Fatalf("groups = %v", stats.Groups)
	}
	if empty := Analyze(nil, 0, 0); empty.TotalChannels != 0 || empty.Groups == nil {
		t.Fatalf("empty = %+v", empty)
	}
}

func TestAnalyzeReportedTotal(t *testing.T) {
	entries := []Entry{{Type: Live}, {Type: Live}, {Type: Movie}}
	tests := []struct {
		name      string
		reported  int
		truncated int
	}{
		{"agrees", 3, 0},
		{"agrees after cap", 5, 2},
		{"source overstates", 99, 0},
		{"source understates", 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := Analyze(entries, tt.reported, tt.truncated)
			if stats.TotalChannels != 3 {
				t.Fatalf("total = %d, want calculated 3", stats.TotalChannels)
			}
			if stats.Reported != tt.reported || stats.Truncated != tt.truncated {
				t.Fatalf("stats = %+v", stats)
			}
		})
	}
}
