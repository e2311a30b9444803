package cache

import (
	"container/list"
	"sync"
)

// Stats contains cache statistics.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Size       int
	TotalBytes int64
	MaxBytes   int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// LRU is a thread-safe least-recently-used cache bounded by the total size
// of its values.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	maxBytes  int64
	sizeFunc  func(V) int64
	entries   map[K]*list.Element
	evictList *list.List
	total     int64
	stats     Stats
}

// NewLRU returns a cache holding at most maxBytes as measured by sizeFunc.
// maxBytes <= 0 disables the cache: Put stores nothing.
func NewLRU[K comparable, V any](maxBytes int64, sizeFunc func(V) int64) *LRU[K, V] {
	return &LRU[K, V]{
		maxBytes:  maxBytes,
		sizeFunc:  sizeFunc,
		entries:   make(map[K]*list.Element),
		evictList: list.New(),
	}
}

// NewBytesLRU is an LRU of byte slices sized by their length.
func NewBytesLRU[K comparable](maxBytes int64) *LRU[K, []byte] {
	return NewLRU[K](maxBytes, func(b []byte) int64 { return int64(len(b)) })
}

// Get retrieves a value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.evictList.MoveToFront(ent)
	c.stats.Hits++
	return ent.Value.(*entry[K, V]).value, true
}

// Put stores a value, evicting least recently used entries until it fits.
// A value larger than the whole cache is not stored.
func (c *LRU[K, V]) Put(key K, value V) {
	size := c.sizeFunc(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		c.removeElement(ent)
	}
	if size > c.maxBytes {
		return
	}
	for c.total+size > c.maxBytes {
		c.removeOldest()
	}

	c.entries[key] = c.evictList.PushFront(&entry[K, V]{key: key, value: value, size: size})
	c.total += size
}

// Remove removes a value from the cache.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		c.removeElement(ent)
	}
}

// Clear removes all entries.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*list.Element)
	c.evictList.Init()
	c.total = 0
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.evictList.Len()
	s.TotalBytes = c.total
	s.MaxBytes = c.maxBytes
	return s
}

func (c *LRU[K, V]) removeOldest() {
	if ent := c.evictList.Back(); ent != nil {
		c.removeElement(ent)
		c.stats.Evictions++
	}
}

func (c *LRU[K, V]) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[K, V])
	delete(c.entries, e.key)
	c.total -= e.size
}
