// Package cache is the in-process cache collaborator. Best-effort: entries
// may vanish early under pressure, never outlive their TTL.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultSize = 1024

type entry struct {
	value    string
	deadline time.Time
}

// LRU is a size-bounded cache with per-entry TTLs.
type LRU struct {
	inner *lru.Cache[string, entry]
	now   func() time.Time
}

// NewLRU builds a cache holding up to size entries. A non-positive size
// falls back to a sane default.
func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = defaultSize
	}
	inner, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &LRU{inner: inner, now: time.Now}, nil
}

// Get returns the cached value when present and not expired.
func (c *LRU) Get(key string) (string, bool) {
	cached, ok := c.inner.Get(key)
	if !ok {
		return "", false
	}
	if c.now().After(cached.deadline) {
		c.inner.Remove(key)
		return "", false
	}
	return cached.value, true
}

// Store caches value under key for ttl.
func (c *LRU) Store(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.inner.Add(key, entry{value: value, deadline: c.now().Add(ttl)})
}
