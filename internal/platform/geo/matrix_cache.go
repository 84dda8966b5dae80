package geo

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultMatrixEntries is how many chains a CachedMatrix remembers.
const DefaultMatrixEntries = 512

// CachedMatrix memoises DistanceMatrix results by the exact location chain,
// keeping at most limit chains and evicting the oldest first. While a fetch
// for a chain is outstanding, identical requests wait for it instead of
// issuing their own.
type CachedMatrix struct {
	next  DistanceMatrix
	group singleflight.Group
	limit int

	mu      sync.RWMutex
	results map[string][]RouteLeg
	order   []string
	fetches int
}

// NewCachedMatrix wraps next with DefaultMatrixEntries capacity.
func NewCachedMatrix(next DistanceMatrix) *CachedMatrix {
	return NewCachedMatrixSize(next, DefaultMatrixEntries)
}

// NewCachedMatrixSize wraps next, remembering at most limit chains.
func NewCachedMatrixSize(next DistanceMatrix, limit int) *CachedMatrix {
	return &CachedMatrix{next: next, limit: max(limit, 1), results: make(map[string][]RouteLeg)}
}

// ChainKey identifies an origin plus ordered stops.
func ChainKey(origin Coord, stops []Stop) string {
	var b strings.Builder
	b.WriteString(origin.Key())
	for _, s := range stops {
		b.WriteByte('|')
		b.WriteString(s.ID)
		b.WriteByte('@')
		b.WriteString(s.Coord.Key())
	}
	return b.String()
}

func (c *CachedMatrix) Distances(ctx context.Context, origin Coord, stops []Stop) ([]RouteLeg, error) {
	key := ChainKey(origin, stops)

	c.mu.RLock()
	legs, ok := c.results[key]
	c.mu.RUnlock()
	if ok {
		return legs, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		if legs, ok := c.results[key]; ok {
			c.mu.Unlock()
			return legs, nil
		}
		c.fetches++
		c.mu.Unlock()

		legs, err := c.next.Distances(ctx, origin, stops)
		if err != nil {
			return nil, err
		}
		c.store(key, legs)
		return legs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]RouteLeg), nil
}

func (c *CachedMatrix) store(key string, legs []RouteLeg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.results[key]; !ok {
		c.order = append(c.order, key)
	}
	c.results[key] = legs
	for len(c.order) > c.limit {
		delete(c.results, c.order[0])
		c.order = c.order[1:]
	}
}

// Len is the number of chains held.
func (c *CachedMatrix) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Fetches is the number of calls made to the wrapped service.
func (c *CachedMatrix) Fetches() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetches
}
