package analytics

import (
	"context"
	"sync"
	"time"
)

// KeyCache remembers API key lookups for a short TTL so the combined-data
// endpoint does not hit the database on every request.
type KeyCache struct {
	mu      sync.RWMutex
	entries map[string]keyEntry
	ttl     time.Duration
	store   *Store
}

type keyEntry struct {
	valid   bool
	fetched time.Time
}

// NewKeyCache creates a KeyCache backed by the given Store.
func NewKeyCache(s *Store, ttl time.Duration) *KeyCache {
	return &KeyCache{store: s, ttl: ttl, entries: make(map[string]keyEntry)}
}

// Invalidate drops every cached lookup. Call it after revoking a key.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]keyEntry)
	c.mu.Unlock()
}

// Valid reports whether plain is an active API key.
// It tries a read lock first; only takes a write lock on a miss.
func (c *KeyCache) Valid(ctx context.Context, plain string) (bool, error) {
	hash := hashKey(plain)

	c.mu.RLock()
	e, ok := c.entries[hash]
	c.mu.RUnlock()
	if ok && time.Since(e.fetched) < c.ttl {
		return e.valid, nil
	}

	valid, err := c.store.ValidAPIKey(ctx, plain)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.entries[hash] = keyEntry{valid: valid, fetched: time.Now()}
	c.mu.Unlock()
	return valid, nil
}
