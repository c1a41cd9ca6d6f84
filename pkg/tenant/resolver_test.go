package tenant

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/access/accesstest"
	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/observability"
	"github.com/tablero/tablero/pkg/session"
)

type fixture struct {
	store    *accesstest.Store
	cache    cache.Cache
	sessions session.Store
	mutator  *access.Mutator
	logger   *observability.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := accesstest.NewStore()
	c := cache.NewMemoryCache(128, time.Hour)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return &fixture{
		store:    store,
		cache:    c,
		sessions: session.NewMemoryStore(time.Hour),
		mutator:  access.NewMutator(store, c, logger, time.Hour),
		logger:   logger,
	}
}

// seedCompanies sets up the canonical two-company arrangement: principal 42
// belongs to company 7 (older membership) and company 9 (newer).
func (f *fixture) seedCompanies() {
	f.store.Principals[42] = &access.Principal{ID: 42, Name: "maria", IsActive: true}
	f.store.Tenants[7] = &access.Tenant{ID: 7, Name: "Company A", Slug: "company-a", Settings: access.Settings{"theme": "light"}}
	f.store.Tenants[9] = &access.Tenant{ID: 9, Name: "Company B", Slug: "company-b"}
	f.store.Memberships = []access.Membership{
		{ID: 1, PrincipalID: 42, TenantID: 7, CreatedAt: time.Now().Add(-48 * time.Hour)},
		{ID: 2, PrincipalID: 42, TenantID: 9, CreatedAt: time.Now().Add(-1 * time.Hour)},
	}
}

func (f *fixture) resolver(sessionID string) *Resolver {
	principal := func(ctx context.Context) (*access.Principal, error) {
		p, err := f.store.GetPrincipal(ctx, 42)
		if errors.Is(err, access.ErrNotFound) {
			return nil, nil
		}
		return p, err
	}
	return f.resolverFor(principal, sessionID)
}

func (f *fixture) resolverFor(principal PrincipalFunc, sessionID string) *Resolver {
	return New(Deps{
		Principal: principal,
		SessionID: sessionID,
		Store:     f.store,
		Cache:     f.cache,
		Sessions:  f.sessions,
		Mutator:   f.mutator,
		Logger:    f.logger,
		EntityTTL: time.Hour,
	})
}

func TestResolveAnonymous(t *testing.T) {
	f := newFixture(t)
	r := f.resolverFor(func(context.Context) (*access.Principal, error) { return nil, nil }, "sess")

	tenant, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tenant)
	assert.False(t, r.Exists(context.Background()))
}

func TestResolveHomeTenantWins(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	home := int64(9)
	f.store.Principals[42].HomeTenantID = &home

	// A conflicting session choice must lose to the home tenant.
	require.NoError(t, f.sessions.SetTenantID(context.Background(), "sess", 7))

	r := f.resolver("sess")
	tenant, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, int64(9), tenant.ID)
}

func TestResolveSessionChoice(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	require.NoError(t, f.sessions.SetTenantID(context.Background(), "sess", 9))

	r := f.resolver("sess")
	tenant, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, int64(9), tenant.ID)
}

func TestResolveStaleSessionChoiceFallsBack(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	// Choice points at a company the principal cannot access anymore.
	require.NoError(t, f.sessions.SetTenantID(context.Background(), "sess", 99))

	r := f.resolver("sess")
	tenant, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tenant)

	// First membership wins and the fallback is recorded for next time.
	assert.Equal(t, int64(7), tenant.ID)
	id, ok, err := f.sessions.TenantID(context.Background(), "sess")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestResolveFirstMembershipByAge(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()

	r := f.resolver("sess")
	tenant, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tenant)

	// Membership id 2 is newer despite the higher tenant id; the older one
	// wins.
	assert.Equal(t, int64(7), tenant.ID)
}

func TestResolveNoRelationships(t *testing.T) {
	f := newFixture(t)
	f.store.Principals[42] = &access.Principal{ID: 42, Name: "maria", IsActive: true}

	r := f.resolver("sess")
	tenant, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tenant)

	_, ok := r.ID(context.Background())
	assert.False(t, ok)
	assert.Nil(t, r.Settings(context.Background()))
	assert.Equal(t, "def", r.Setting(context.Background(), "theme", "def"))
}

func TestResolveMemoized(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()

	r := f.resolver("sess")
	ctx := context.Background()

	first, err := r.Resolve(ctx)
	require.NoError(t, err)
	second, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// One membership walk, one tenant load.
	assert.Equal(t, 1, f.store.CallCount("list_memberships"))
	assert.Equal(t, 1, f.store.CallCount("get_tenant"))
}

func TestResolveUsesCachedEntity(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	ctx := context.Background()

	cached := access.Tenant{ID: 7, Name: "Cached A", Slug: "company-a"}
	require.NoError(t, f.cache.Put(ctx, cache.TenantKey(7), cached, time.Hour))

	r := f.resolver("sess")
	tenant, err := r.Resolve(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Cached A", tenant.Name)
	assert.Equal(t, 0, f.store.CallCount("get_tenant"))
}

func TestResolveStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()

	r := f.resolver("sess")
	f.store.Err = errors.New("connection refused")

	_, err := r.Resolve(context.Background())
	require.Error(t, err)

	// Accessors fail closed.
	_, ok := r.ID(context.Background())
	assert.False(t, ok)
	assert.False(t, r.Exists(context.Background()))
}

func TestSwitchTo(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	ctx := context.Background()

	r := f.resolver("sess")
	tenant, err := r.Resolve(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), tenant.ID)

	ok, err := r.SwitchTo(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)

	// The switch is visible immediately on this resolver.
	id, hasID := r.ID(ctx)
	require.True(t, hasID)
	assert.Equal(t, int64(9), id)

	// And on the next request through the session slot.
	next := f.resolver("sess")
	tenant, err = next.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), tenant.ID)
}

func TestSwitchToDenied(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	f.store.Tenants[11] = &access.Tenant{ID: 11, Name: "Someone Else's", Slug: "other"}
	ctx := context.Background()

	r := f.resolver("sess")
	_, err := r.Resolve(ctx)
	require.NoError(t, err)

	ok, err := r.SwitchTo(ctx, 11)
	require.NoError(t, err)
	assert.False(t, ok)

	// Active context unchanged.
	id, hasID := r.ID(ctx)
	require.True(t, hasID)
	assert.Equal(t, int64(7), id)
}

func TestSwitchToNonexistent(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	ctx := context.Background()

	r := f.resolver("sess")
	_, err := r.Resolve(ctx)
	require.NoError(t, err)

	ok, err := r.SwitchTo(ctx, 9999999)
	require.NoError(t, err)
	assert.False(t, ok)

	id, hasID := r.ID(ctx)
	require.True(t, hasID)
	assert.Equal(t, int64(7), id)
}

func TestSwitchToDanglingMembership(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	// Membership survives but the company row is gone.
	f.store.Memberships = append(f.store.Memberships, access.Membership{
		ID: 3, PrincipalID: 42, TenantID: 999, CreatedAt: time.Now(),
	})
	ctx := context.Background()

	r := f.resolver("sess")
	ok, err := r.SwitchTo(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSwitchToAnonymous(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	r := f.resolverFor(func(context.Context) (*access.Principal, error) { return nil, nil }, "sess")

	ok, err := r.SwitchTo(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateSettingsMerges(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	ctx := context.Background()

	r := f.resolver("sess")
	ok, err := r.UpdateSettings(ctx, access.Settings{"tax_rate": 0.21})
	require.NoError(t, err)
	require.True(t, ok)

	settings := r.Settings(ctx)
	assert.Equal(t, 0.21, settings["tax_rate"])
	assert.Equal(t, "light", settings["theme"])

	// The merged document is what later requests see.
	next := f.resolver("sess")
	assert.Equal(t, "light", next.Setting(ctx, "theme", ""))
	assert.Equal(t, 0.21, next.Setting(ctx, "tax_rate", 0.0))
}

func TestUpdateSettingsWithoutTenant(t *testing.T) {
	f := newFixture(t)
	f.store.Principals[42] = &access.Principal{ID: 42, Name: "maria", IsActive: true}

	r := f.resolver("sess")
	ok, err := r.UpdateSettings(context.Background(), access.Settings{"theme": "dark"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListAccessibleIncludesHome(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	f.store.Tenants[3] = &access.Tenant{ID: 3, Name: "Home Co", Slug: "home-co"}
	home := int64(3)
	f.store.Principals[42].HomeTenantID = &home

	r := f.resolver("sess")
	tenants, err := r.ListAccessible(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 3)

	// Home first, then memberships by age.
	assert.Equal(t, int64(3), tenants[0].ID)
	assert.Equal(t, int64(7), tenants[1].ID)
	assert.Equal(t, int64(9), tenants[2].ID)
}

func TestInvalidateRefetches(t *testing.T) {
	f := newFixture(t)
	f.seedCompanies()
	ctx := context.Background()

	r := f.resolver("sess")
	_, err := r.Resolve(ctx)
	require.NoError(t, err)

	f.store.Tenants[7].Name = "Renamed"
	require.NoError(t, r.Invalidate(ctx))

	tenant, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", tenant.Name)
}
