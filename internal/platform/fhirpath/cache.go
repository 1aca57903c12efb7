package fhirpath

import (
	"container/list"
	"fmt"
	"sync"
)

// LRUCache is a fixed-capacity least-recently-used cache with O(1) get and
// set. Gets promote entries to most-recent; a full cache evicts exactly the
// least-recent entry before inserting. Hit statistics survive Clear and are
// reset only by ResetStats.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List // front = most recent, back = least recent
	entries map[string]*list.Element
	gets    int64
	hits    int64
}

type lruEntry struct {
	key   string
	value interface{}
}

// NewLRUCache creates a cache with the given capacity. maxSize must be at
// least 1.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("lru cache size must be at least 1, got %d", maxSize)
	}
	return &LRUCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}, nil
}

// Get returns the cached value for key. A hit promotes the entry to
// most-recent.
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gets++
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

// Set inserts or updates a key, promoting it to most-recent. When the cache
// is full, the single least-recent entry is evicted first.
func (c *LRUCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, value: value})
}

// Len returns the current number of entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// MaxSize returns the capacity.
func (c *LRUCache) MaxSize() int { return c.maxSize }

// Clear removes all entries. Statistics are retained.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Keys returns the keys in least-recently-used-first order.
func (c *LRUCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Back(); el != nil; el = el.Prev() {
		keys = append(keys, el.Value.(*lruEntry).key)
	}
	return keys
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Gets    int64
	Hits    int64
	HitRate float64
	Size    int
	MaxSize int
}

// Stats returns the current statistics. HitRate is 0 when no gets have
// happened yet.
func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{
		Gets:    c.gets,
		Hits:    c.hits,
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
	}
	if c.gets > 0 {
		s.HitRate = float64(c.hits) / float64(c.gets)
	}
	return s
}

// ResetStats zeroes the hit statistics without touching the entries.
func (c *LRUCache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets = 0
	c.hits = 0
}
