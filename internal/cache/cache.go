package cache

import (
	"sync"
)

// Cache defines a generic interface for caching reusable objects such as
// transform plans keyed by their size.
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache.
	Get(key K) (V, bool)
	// Put stores a value in the cache.
	Put(key K, v V)
	// GetOrCreate returns the value for key, storing create() on a miss.
	GetOrCreate(key K, create func() V) V
	// Size returns the number of items in the cache.
	Size() int
}

var _ Cache[int, string] = (*MapCache[int, string])(nil)

// MapCache is a simple in-memory implementation of Cache.
// Values are shared between callers, so they must be safe for concurrent use
// or treated as read-only.
type MapCache[K comparable, V any] struct {
	data  map[K]V
	limit int
	mu    sync.RWMutex
}

// NewMapCache creates a cache holding at most limit entries; limit <= 0 means unbounded.
// When full, Put evicts an arbitrary entry.
func NewMapCache[K comparable, V any](limit int) *MapCache[K, V] {
	return &MapCache[K, V]{
		data:  make(map[K]V),
		limit: limit,
	}
}

func (c *MapCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *MapCache[K, V]) Put(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, v)
}

func (c *MapCache[K, V]) put(key K, v V) {
	if _, exists := c.data[key]; !exists && c.limit > 0 && len(c.data) >= c.limit {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}
	c.data[key] = v
}

// GetOrCreate returns the cached value for key, calling create on a miss.
// create runs under the write lock, so concurrent misses build the value once.
func (c *MapCache[K, V]) GetOrCreate(key K, create func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v
	}
	v := create()
	c.put(key, v)
	return v
}

func (c *MapCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
