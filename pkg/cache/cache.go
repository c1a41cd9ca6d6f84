// Package cache provides the shared context cache used by the tenant and
// identity resolvers. Values are JSON-encoded so the redis and in-memory
// backends are interchangeable.
package cache

import (
	"context"
	"time"
)

// Cache is the context cache contract. Get decodes the cached value into
// dst and reports a hit; a miss is not an error. Implementations treat the
// cache as best effort: a failed Put never fails the request.
type Cache interface {
	// Get decodes the value stored under key into dst. Returns false on miss.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Put stores value under key with the given TTL.
	Put(ctx context.Context, key string, value any, ttl time.Duration) error

	// Forget removes the given keys. Missing keys are not an error.
	Forget(ctx context.Context, keys ...string) error
}
