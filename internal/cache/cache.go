// Package cache holds rendered block markup in a bounded LRU with optional TTL.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// RenderCache is a mutex-guarded LRU of rendered HTML keyed by Key.
// Capacity and TTL are fixed at construction; a zero TTL disables expiry.
type RenderCache struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[string, entry]
	ttl       time.Duration
	evictions uint64
	now       func() time.Time
}

// New returns a cache bounded to capacity entries.
func New(capacity int, ttl time.Duration) (*RenderCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if ttl < 0 {
		ttl = 0
	}
	l, err := simplelru.NewLRU[string, entry](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &RenderCache{lru: l, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached value and marks it most recently used.
// An expired entry is removed and reported absent.
func (c *RenderCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		return "", false
	}
	c.lru.Get(key)
	return e.value, true
}

// Set stores value under key at the most recently used position, evicting at
// most one least recently used entry when over capacity.
func (c *RenderCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: value}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	// Remove first so a replaced key is reinserted at the MRU position with a
	// fresh expiry rather than updated in place.
	c.lru.Remove(key)
	if c.lru.Add(key, e) {
		c.evictions++
	}
}

// Clear drops every entry. The eviction counter is left untouched.
func (c *RenderCache) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Size reports the number of stored entries, including expired ones not yet read.
func (c *RenderCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Evictions reports how many entries were dropped for capacity.
func (c *RenderCache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Key derives the cache key for a block and its (validated) props:
// block + ":" + hex(sha256(canonical JSON)). encoding/json writes map keys in
// sorted order at every depth, so equivalent objects produce the same bytes.
func Key(block string, props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("canonical props: %w", err)
	}
	sum := sha256.Sum256(b)
	return block + ":" + hex.EncodeToString(sum[:]), nil
}
