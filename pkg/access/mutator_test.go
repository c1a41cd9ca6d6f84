package access_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/access/accesstest"
	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/observability"
)

func newMutatorFixture(t *testing.T) (*access.Mutator, *accesstest.Store, cache.Cache) {
	t.Helper()

	store := accesstest.NewStore()
	c := cache.NewMemoryCache(128, time.Hour)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return access.NewMutator(store, c, logger, time.Hour), store, c
}

func TestMutatorUpdateTenantSettingsMerges(t *testing.T) {
	mut, store, c := newMutatorFixture(t)
	ctx := context.Background()

	store.Tenants[7] = &access.Tenant{
		ID:       7,
		Name:     "La Trattoria",
		Settings: access.Settings{"accepts_orders": true, "theme": "light"},
	}
	tenant, err := store.GetTenant(ctx, 7)
	require.NoError(t, err)

	merged, err := mut.UpdateTenantSettings(ctx, tenant, access.Settings{"theme": "dark"})
	require.NoError(t, err)

	// Patch wins, other keys survive.
	assert.Equal(t, "dark", merged["theme"])
	assert.Equal(t, true, merged["accepts_orders"])

	// Persisted and cache refreshed with the merged document.
	persisted, err := store.GetTenant(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "dark", persisted.Settings["theme"])

	var cached access.Tenant
	hit, err := c.Get(ctx, cache.TenantKey(7), &cached)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "dark", cached.Settings["theme"])
	assert.Equal(t, true, cached.Settings["accepts_orders"])
}

func TestMutatorUpdatePrincipalPreferencesMerges(t *testing.T) {
	mut, store, c := newMutatorFixture(t)
	ctx := context.Background()

	store.Principals[42] = &access.Principal{
		ID:          42,
		Name:        "maria",
		Preferences: access.Settings{"language": "es", "notifications": true},
	}
	principal, err := store.GetPrincipal(ctx, 42)
	require.NoError(t, err)

	merged, err := mut.UpdatePrincipalPreferences(ctx, principal, access.Settings{"notifications": false})
	require.NoError(t, err)

	assert.Equal(t, false, merged["notifications"])
	assert.Equal(t, "es", merged["language"])

	var cached access.Principal
	hit, err := c.Get(ctx, cache.PrincipalKey(42), &cached)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, false, cached.Preferences["notifications"])
}

func TestMutatorGrantRoleInvalidatesAggregation(t *testing.T) {
	mut, _, c := newMutatorFixture(t)
	ctx := context.Background()

	// Seed a stale aggregation for the pair.
	require.NoError(t, c.Put(ctx, cache.RolePermsKey(42, 7), map[string]any{"roles": []string{}}, time.Hour))

	grant := &access.RoleGrant{PrincipalID: 42, RoleID: 1, TenantID: 7}
	require.NoError(t, mut.GrantRole(ctx, grant))
	assert.NotZero(t, grant.ID)
	assert.False(t, grant.AssignedAt.IsZero())

	var dst map[string]any
	hit, err := c.Get(ctx, cache.RolePermsKey(42, 7), &dst)
	require.NoError(t, err)
	assert.False(t, hit, "aggregation must be dropped after a grant")
}

func TestMutatorRevokeRoleInvalidatesAggregation(t *testing.T) {
	mut, store, c := newMutatorFixture(t)
	ctx := context.Background()

	grant := &access.RoleGrant{PrincipalID: 42, RoleID: 1, TenantID: 7}
	require.NoError(t, mut.GrantRole(ctx, grant))
	require.NoError(t, c.Put(ctx, cache.RolePermsKey(42, 7), map[string]any{"roles": []string{"manager"}}, time.Hour))

	require.NoError(t, mut.RevokeRole(ctx, 42, 1, 7))

	var dst map[string]any
	hit, err := c.Get(ctx, cache.RolePermsKey(42, 7), &dst)
	require.NoError(t, err)
	assert.False(t, hit)

	roles, err := store.ListEffectiveGrants(ctx, 42, 7, time.Now())
	require.NoError(t, err)
	assert.Empty(t, roles)
}
