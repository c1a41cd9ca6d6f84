// Package session stores the per-session "last chosen tenant" slot that
// tenant resolution consults between the home-tenant shortcut and the
// first-membership fallback.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store holds the chosen tenant id per session. The value is advisory:
// resolution validates access on every read, so a stale or tampered slot can
// never grant access.
type Store interface {
	// TenantID returns the chosen tenant for the session. Returns ok=false
	// when no choice is recorded.
	TenantID(ctx context.Context, sessionID string) (int64, bool, error)

	// SetTenantID records the chosen tenant for the session.
	SetTenantID(ctx context.Context, sessionID string, tenantID int64) error

	// Clear removes the recorded choice.
	Clear(ctx context.Context, sessionID string) error
}

func key(sessionID string) string {
	return fmt.Sprintf("session_tenant:%s", sessionID)
}

// RedisStore implements Store backed by Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed session store. The TTL refreshes on
// every write.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) TenantID(ctx context.Context, sessionID string) (int64, bool, error) {
	val, err := s.client.Get(ctx, key(sessionID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read session tenant: %w", err)
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Treat a corrupt slot as absent and drop it.
		s.client.Del(ctx, key(sessionID))
		return 0, false, nil
	}

	return id, true, nil
}

func (s *RedisStore) SetTenantID(ctx context.Context, sessionID string, tenantID int64) error {
	if err := s.client.Set(ctx, key(sessionID), strconv.FormatInt(tenantID, 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session tenant: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session tenant: %w", err)
	}
	return nil
}

type memorySlot struct {
	tenantID int64
	deadline time.Time
}

// MemoryStore implements Store with an in-process map. Single-instance
// deployments and tests only.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]memorySlot
	ttl   time.Duration
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		slots: make(map[string]memorySlot),
		ttl:   ttl,
	}
}

func (s *MemoryStore) TenantID(_ context.Context, sessionID string) (int64, bool, error) {
	s.mu.RLock()
	slot, ok := s.slots[sessionID]
	s.mu.RUnlock()

	if !ok {
		return 0, false, nil
	}
	if time.Now().After(slot.deadline) {
		s.mu.Lock()
		delete(s.slots, sessionID)
		s.mu.Unlock()
		return 0, false, nil
	}

	return slot.tenantID, true, nil
}

func (s *MemoryStore) SetTenantID(_ context.Context, sessionID string, tenantID int64) error {
	s.mu.Lock()
	s.slots[sessionID] = memorySlot{tenantID: tenantID, deadline: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.slots, sessionID)
	s.mu.Unlock()
	return nil
}
