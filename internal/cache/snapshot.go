// Package cache holds in-memory service state: expiring snapshots and
// size-bounded LRU caches.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Snapshot caches one value produced by a loader for a fixed TTL. The whole
// value expires at once; concurrent loads after expiry are coalesced into a
// single call.
type Snapshot[V any] struct {
	mu        sync.RWMutex
	value     V
	timestamp time.Time
	ttl       time.Duration
	now       func() time.Time
	group     singleflight.Group
}

// NewSnapshot creates an empty (expired) snapshot. A ttl <= 0 disables
// caching: every Get calls the loader.
func NewSnapshot[V any](ttl time.Duration) *Snapshot[V] {
	return &Snapshot[V]{ttl: ttl, now: time.Now}
}

// Get returns the cached value, calling load when it has expired. A failed
// load leaves the previous state untouched.
func (s *Snapshot[V]) Get(load func() (V, error)) (V, error) {
	s.mu.RLock()
	if !s.expiredLocked() {
		v := s.value
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.group.Do("load", func() (any, error) {
		v, err := load()
		if err != nil {
			return v, err
		}
		s.mu.Lock()
		s.value = v
		s.timestamp = s.now()
		s.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Peek returns the cached value without loading.
func (s *Snapshot[V]) Peek() (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked() {
		var zero V
		return zero, false
	}
	return s.value, true
}

// IsExpired reports whether the next Get will call the loader.
func (s *Snapshot[V]) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiredLocked()
}

// expiredLocked MUST be called with at least a read lock held.
func (s *Snapshot[V]) expiredLocked() bool {
	return s.ttl <= 0 || s.timestamp.IsZero() || s.now().Sub(s.timestamp) >= s.ttl
}

// Invalidate drops the cached value.
func (s *Snapshot[V]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero V
	s.value = zero
	s.timestamp = time.Time{}
}
