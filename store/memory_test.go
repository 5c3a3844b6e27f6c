package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	got, err := m.GetKey(ctx, "MISSING")
	if err != nil || got != nil {
		t.Fatalf("missing key = %v, %v", got, err)
	}

	m.PutKey(AccessKey{Code: "ABC", CatalogID: 1, Active: true})
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := m.TouchKey(ctx, "ABC", at); err != nil {
		t.Fatal(err)
	}
	got, _ = m.GetKey(ctx, "ABC")
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
		t.Fatalf("LastUsedAt = %v", got.LastUsedAt)
	}

	got.Active = false
	again, _ := m.GetKey(ctx, "ABC")
	if !again.Active {
		t.Fatal("GetKey must return a copy")
	}
}

func TestMemoryCatalogs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutCatalog(Catalog{ID: 3, Name: "main", Type: CatalogPlaylist})
	m.PutKey(AccessKey{Code: "K", CatalogID: 3})

	if err := m.UpdateCounts(ctx, 3, Counts{Live: 2, Movies: 1}); err != nil {
		t.Fatal(err)
	}
	c, _ := m.GetCatalog(ctx, 3)
	if c.Counts == nil || c.Counts.Live != 2 || c.Counts.Movies != 1 {
		t.Fatalf("counts = %+v", c.Counts)
	}

	m.DeleteCatalog(3)
	if c, _ := m.GetCatalog(ctx, 3); c != nil {
		t.Fatal("catalog still present")
	}
	if k, _ := m.GetKey(ctx, "K"); k != nil {
		t.Fatal("keys of a deleted catalog should be removed")
	}
}

func TestMemoryFavorites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	on, _ := m.ToggleFavorite(ctx, "K", "a")
	if !on {
		t.Fatal("first toggle should mark")
	}
	_, _ = m.ToggleFavorite(ctx, "K", "b")
	on, _ = m.ToggleFavorite(ctx, "K", "a")
	if on {
		t.Fatal("second toggle should unmark")
	}
	list, _ := m.ListFavorites(ctx, "K")
	if len(list) != 1 || list[0] != "b" {
		t.Fatalf("favorites = %v", list)
	}
}
