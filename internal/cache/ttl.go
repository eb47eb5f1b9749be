// Package cache provides the in-memory lookup cache.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a lookup stays fresh.
const DefaultTTL = 10 * time.Minute

// Entry is a cached value and its insertion time.
type Entry[V any] struct {
	Value      V
	InsertedAt time.Time
}

// TTLCache is a namespaced cache with lazy eviction: expiry is checked on
// Get only. It lives for the life of the process.
type TTLCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]Entry[V]
}

func New[V any](ttl time.Duration) *TTLCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTLCache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry[V]),
	}
}

// WithClock replaces the time source; used by tests.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Key builds namespace + ":" + the lowercased, trimmed token.
func Key(namespace, token string) string {
	return namespace + ":" + strings.ToLower(strings.TrimSpace(token))
}

// Get returns the value for key unless it is older than the TTL, in which
// case the entry is evicted.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.InsertedAt) > c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.Value, true
}

// Set overwrites key unconditionally.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[V]{Value: value, InsertedAt: c.now()}
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[V])
}

// Len counts stored entries, expired ones included.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
