// Package kv provides the key-value cache used for template lookups,
// inbound dedup markers, and intent classification caching.
//
// Two implementations exist: a Redis-backed cache for deployments that
// share state across restarts, and an in-process cache for development
// and tests. Both honor TTLs.
package kv

import (
	"context"
	"sync"
	"time"
)

// Cache is a minimal TTL'd key-value store.
type Cache interface {
	// Get returns the value for key. The boolean reports whether the key
	// exists and has not expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given TTL. A zero TTL means
	// no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if the key is absent. Returns true when the
	// value was stored, false when the key already existed. Used for
	// dedup markers.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// MemCache is an in-process Cache backed by a map. Safe for concurrent use.
type MemCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewMemCache creates an empty in-process cache.
func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string]memEntry), now: time.Now}
}

// Get implements Cache.
func (c *MemCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expires.IsZero() && c.now().After(entry.expires) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set implements Cache.
func (c *MemCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.entry(value, ttl)
	return nil
}

// SetNX implements Cache.
func (c *MemCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		if entry.expires.IsZero() || c.now().Before(entry.expires) {
			return false, nil
		}
	}
	c.entries[key] = c.entry(value, ttl)
	return true, nil
}

func (c *MemCache) entry(value string, ttl time.Duration) memEntry {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	return e
}
