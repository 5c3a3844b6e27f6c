package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Repository for development and tests.
type Memory struct {
	mu        sync.RWMutex
	keys      map[string]AccessKey
	catalogs  map[int64]Catalog
	favorites map[string][]string
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		keys:      make(map[string]AccessKey),
		catalogs:  make(map[int64]Catalog),
		favorites: make(map[string][]string),
	}
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) PutKey(k AccessKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.Code] = k
}

func (m *Memory) PutCatalog(c Catalog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogs[c.ID] = c
}

func (m *Memory) DeleteCatalog(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.catalogs, id)
	for code, k := range m.keys {
		if k.CatalogID == id {
			delete(m.keys, code)
			delete(m.favorites, code)
		}
	}
}

func (m *Memory) GetKey(_ context.Context, code string) (*AccessKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[code]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (m *Memory) TouchKey(_ context.Context, code string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[code]
	if !ok {
		return nil
	}
	at = at.UTC()
	k.LastUsedAt = &at
	m.keys[code] = k
	return nil
}

func (m *Memory) GetCatalog(_ context.Context, id int64) (*Catalog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.catalogs[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) UpdateCounts(_ context.Context, id int64, counts Counts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.catalogs[id]
	if !ok {
		return nil
	}
	c.Counts = &counts
	m.catalogs[id] = c
	return nil
}

func (m *Memory) ListFavorites(_ context.Context, keyCode string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.favorites[keyCode]...), nil
}

func (m *Memory) ToggleFavorite(_ context.Context, keyCode, entryID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.favorites[keyCode]
	for i, id := range list {
		if id == entryID {
			m.favorites[keyCode] = append(list[:i:i], list[i+1:]...)
			return false, nil
		}
	}
	m.favorites[keyCode] = append(list, entryID)
	return true, nil
}
