// Package cache provides an in-process TTL key-value store used to
// memoize dictionary similarity lookups.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	createdAt time.Time
}

// Cache is a generic TTL store. Entries are overwritten on same-key
// writes and evicted lazily when a read finds them expired; there is no
// background sweep.
type Cache[T any] struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry[T]
	now     func() time.Time
}

// New creates a Cache whose entries expire ttl after they were written.
func New[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		entries: make(map[string]entry[T]),
		now:     time.Now,
	}
}

// Get returns the value for key if present and not expired. An expired
// entry is removed on the spot.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if c.now().Sub(e.createdAt) >= c.ttl {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, overwriting any previous entry.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{value: value, createdAt: c.now()}
}

// Delete removes key if present.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key derives a deterministic cache key from an organization and the
// submitted text. Whitespace is collapsed before hashing so trivially
// reformatted resubmissions still hit.
func Key(orgID, text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(orgID + ":" + normalized))
	return hex.EncodeToString(sum[:])
}
