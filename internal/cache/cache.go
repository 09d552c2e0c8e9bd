package cache

import (
	"strconv"
	"sync"

	"github.com/23skdu/longbow-bowyer/internal/embedding"
)

// NeighborCache defines a generic interface for caching neighbor lookups.
type NeighborCache interface {
	// Get retrieves a neighbor list from the cache.
	Get(key string) ([]embedding.Neighbor, bool)
	// Put stores a neighbor list in the cache.
	Put(key string, ns []embedding.Neighbor)
	// Size returns the number of items in the cache.
	Size() int
}

// Key builds the cache key for a (word, k) neighbor query.
func Key(word string, k int) string {
	return strconv.Itoa(k) + ":" + word
}

// MapCache is a simple in-memory implementation of NeighborCache.
type MapCache struct {
	data map[string][]embedding.Neighbor
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[string][]embedding.Neighbor),
	}
}

func (c *MapCache) Get(key string) ([]embedding.Neighbor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if v, ok := c.data[key]; ok {
		dst := make([]embedding.Neighbor, len(v))
		copy(dst, v)
		return dst, true
	}
	return nil, false
}

func (c *MapCache) Put(key string, ns []embedding.Neighbor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy
	dst := make([]embedding.Neighbor, len(ns))
	copy(dst, ns)
	c.data[key] = dst
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
