package geo

import (
	"context"
	"sync"
)

// CoordCache stores resolved coordinates keyed by patient id.
type CoordCache interface {
	Get(ctx context.Context, key string) (Coord, bool)
	Set(ctx context.Context, key string, c Coord) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is a process-local CoordCache.
type MemoryCache struct {
	mu     sync.RWMutex
	coords map[string]Coord
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{coords: make(map[string]Coord)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (Coord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coords[key]
	return c, ok
}

func (m *MemoryCache) Set(_ context.Context, key string, c Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coords[key] = c
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coords, key)
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.coords)
}
