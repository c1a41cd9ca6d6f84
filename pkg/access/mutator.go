package access

import (
	"context"
	"time"

	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/observability"
)

// Mutator is the single write path for settings, preferences and role
// grants. Every mutation persists first, then refreshes or drops the
// affected cache keys, so readers see either the old or the new state but
// never a stale entry past the write.
type Mutator struct {
	store     Store
	cache     cache.Cache
	logger    *observability.Logger
	entityTTL time.Duration
}

// NewMutator creates a write-through mutator over the store and cache.
func NewMutator(store Store, c cache.Cache, logger *observability.Logger, entityTTL time.Duration) *Mutator {
	return &Mutator{
		store:     store,
		cache:     c,
		logger:    logger.WithField("component", "access_mutator"),
		entityTTL: entityTTL,
	}
}

// Store returns the underlying store for read paths.
func (m *Mutator) Store() Store {
	return m.store
}

// UpdateTenantSettings merges patch over the tenant's current settings,
// persists the merged document and refreshes the cached tenant entity.
// Returns the merged settings.
func (m *Mutator) UpdateTenantSettings(ctx context.Context, tenant *Tenant, patch Settings) (Settings, error) {
	merged := tenant.Settings.Merge(patch)

	if err := m.store.UpdateTenantSettings(ctx, tenant.ID, merged); err != nil {
		return nil, err
	}

	tenant.Settings = merged
	tenant.UpdatedAt = time.Now()
	if err := m.cache.Put(ctx, cache.TenantKey(tenant.ID), tenant, m.entityTTL); err != nil {
		// The database holds the truth; fall back to dropping the entry.
		m.logger.WithError(err).WithField("tenant_id", tenant.ID).Warn("Failed to refresh tenant cache, dropping entry")
		_ = m.cache.Forget(ctx, cache.TenantKey(tenant.ID))
	}

	return merged, nil
}

// UpdatePrincipalPreferences merges patch over the principal's current
// preferences, persists the merged document and refreshes the cached
// principal entity. Returns the merged preferences.
func (m *Mutator) UpdatePrincipalPreferences(ctx context.Context, principal *Principal, patch Settings) (Settings, error) {
	merged := principal.Preferences.Merge(patch)

	if err := m.store.UpdatePrincipalPreferences(ctx, principal.ID, merged); err != nil {
		return nil, err
	}

	principal.Preferences = merged
	principal.UpdatedAt = time.Now()
	if err := m.cache.Put(ctx, cache.PrincipalKey(principal.ID), principal, m.entityTTL); err != nil {
		m.logger.WithError(err).WithField("principal_id", principal.ID).Warn("Failed to refresh principal cache, dropping entry")
		_ = m.cache.Forget(ctx, cache.PrincipalKey(principal.ID))
	}

	return merged, nil
}

// GrantRole creates or reactivates a role grant and drops the cached
// role/permission aggregation for the affected pair.
func (m *Mutator) GrantRole(ctx context.Context, grant *RoleGrant) error {
	if grant.AssignedAt.IsZero() {
		grant.AssignedAt = time.Now()
	}
	if err := m.store.UpsertGrant(ctx, grant); err != nil {
		return err
	}

	if err := m.cache.Forget(ctx, cache.RolePermsKey(grant.PrincipalID, grant.TenantID)); err != nil {
		m.logger.WithError(err).Warn("Failed to invalidate role aggregation after grant")
	}
	return nil
}

// RevokeRole deactivates a role grant and drops the cached role/permission
// aggregation for the affected pair.
func (m *Mutator) RevokeRole(ctx context.Context, principalID, roleID, tenantID int64) error {
	if err := m.store.RevokeGrant(ctx, principalID, roleID, tenantID); err != nil {
		return err
	}

	if err := m.cache.Forget(ctx, cache.RolePermsKey(principalID, tenantID)); err != nil {
		m.logger.WithError(err).Warn("Failed to invalidate role aggregation after revoke")
	}
	return nil
}
