package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	data     []byte
	deadline time.Time
}

// MemoryCache implements Cache with a bounded in-process LRU. Intended for
// single-instance deployments and tests; invalidations are only visible to
// the local process.
type MemoryCache struct {
	lru *expirable.LRU[string, memoryEntry]
}

// NewMemoryCache creates an in-memory cache holding at most maxEntries
// values. maxTTL is the upper bound across callers; per-entry TTLs shorter
// than maxTTL are enforced on read.
func NewMemoryCache(maxEntries int, maxTTL time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, maxTTL),
	}
}

// Get decodes the value stored under key into dst. Returns false on miss.
func (c *MemoryCache) Get(_ context.Context, key string, dst any) (bool, error) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return false, nil
	}
	if time.Now().After(entry.deadline) {
		c.lru.Remove(key)
		return false, nil
	}

	if err := json.Unmarshal(entry.data, dst); err != nil {
		c.lru.Remove(key)
		return false, nil
	}

	return true, nil
}

// Put stores value under key with the given TTL
func (c *MemoryCache) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	c.lru.Add(key, memoryEntry{data: data, deadline: time.Now().Add(ttl)})
	return nil
}

// Forget removes the given keys
func (c *MemoryCache) Forget(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.lru.Remove(key)
	}
	return nil
}
