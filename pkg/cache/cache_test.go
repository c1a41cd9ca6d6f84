package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablero/tablero/pkg/observability"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	c, err := NewRedisCache(context.Background(), RedisOptions{URL: mr.Addr()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c, mr
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func runCacheContract(t *testing.T, c Cache) {
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		var dst payload
		hit, err := c.Get(ctx, "absent", &dst)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "k1", payload{Name: "a", Count: 3}, time.Minute))

		var dst payload
		hit, err := c.Get(ctx, "k1", &dst)
		require.NoError(t, err)
		require.True(t, hit)
		assert.Equal(t, payload{Name: "a", Count: 3}, dst)
	})

	t.Run("forget", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "k2", payload{Name: "b"}, time.Minute))
		require.NoError(t, c.Forget(ctx, "k2", "never-existed"))

		var dst payload
		hit, err := c.Get(ctx, "k2", &dst)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("forget nothing", func(t *testing.T) {
		assert.NoError(t, c.Forget(ctx))
	})
}

func TestMemoryCache(t *testing.T) {
	runCacheContract(t, NewMemoryCache(128, time.Hour))
}

func TestRedisCache(t *testing.T) {
	c, _ := setupRedisCache(t)
	runCacheContract(t, c)
}

func TestRedisCacheTTL(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "expiring", payload{Name: "x"}, time.Minute))

	mr.FastForward(2 * time.Minute)

	var dst payload
	hit, err := c.Get(ctx, "expiring", &dst)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(128, time.Hour)
	ctx := context.Background()

	// Entry TTL shorter than the cache-wide bound is enforced on read.
	require.NoError(t, c.Put(ctx, "expiring", payload{Name: "x"}, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	var dst payload
	hit, err := c.Get(ctx, "expiring", &dst)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("corrupt", "not json"))

	var dst payload
	hit, err := c.Get(ctx, "corrupt", &dst)
	require.NoError(t, err)
	assert.False(t, hit)

	// The entry is dropped so the next write starts clean.
	assert.False(t, mr.Exists("corrupt"))
}

func TestKeyShapes(t *testing.T) {
	assert.Equal(t, "tenant:7", TenantKey(7))
	assert.Equal(t, "principal:42", PrincipalKey(42))
	assert.Equal(t, "roles_perms:42:7", RolePermsKey(42, 7))
}
