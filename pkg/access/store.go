package access

import (
	"context"
	"time"
)

// Store is the persistence boundary for identity and tenancy data. The
// postgres implementation is authoritative; resolvers layer caching on top
// and never bypass it for writes.
type Store interface {
	// GetPrincipal returns a principal by id. ErrNotFound when absent.
	GetPrincipal(ctx context.Context, id int64) (*Principal, error)

	// GetTenant returns a tenant by id. ErrNotFound when absent.
	GetTenant(ctx context.Context, id int64) (*Tenant, error)

	// GetTenantBySlug returns a tenant by slug. ErrNotFound when absent.
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)

	// ListMemberships returns the principal's memberships ordered by
	// creation time, then id. The first entry is the fallback tenant when
	// neither a home tenant nor a session choice applies.
	ListMemberships(ctx context.Context, principalID int64) ([]Membership, error)

	// HasMembership reports whether the principal is a member of the tenant.
	HasMembership(ctx context.Context, principalID, tenantID int64) (bool, error)

	// ListTenantsFor returns the tenants a principal can access through
	// memberships, ordered by membership creation time.
	ListTenantsFor(ctx context.Context, principalID int64) ([]Tenant, error)

	// ListEffectiveGrants returns the roles granted to the principal within
	// the tenant that are effective at the given time (active and not
	// expired), with permissions populated.
	ListEffectiveGrants(ctx context.Context, principalID, tenantID int64, now time.Time) ([]Role, error)

	// GetRoleByName returns a role by name within a tenant scope. A nil
	// tenantID looks up global roles only.
	GetRoleByName(ctx context.Context, name string, tenantID *int64) (*Role, error)

	// UpdateTenantSettings replaces the tenant's settings document.
	UpdateTenantSettings(ctx context.Context, tenantID int64, settings Settings) error

	// UpdatePrincipalPreferences replaces the principal's preferences
	// document.
	UpdatePrincipalPreferences(ctx context.Context, principalID int64, prefs Settings) error

	// UpsertGrant creates or reactivates the grant for the grant's
	// (principal, role, tenant) tuple and fills in the generated id.
	UpsertGrant(ctx context.Context, grant *RoleGrant) error

	// RevokeGrant deactivates the grant for the tuple. ErrNotFound when no
	// such grant exists.
	RevokeGrant(ctx context.Context, principalID, roleID, tenantID int64) error

	// DeactivateExpiredGrants flips is_active off for every active grant
	// whose expiry has passed and returns the affected (principal, tenant)
	// pairs so callers can invalidate cached aggregations.
	DeactivateExpiredGrants(ctx context.Context, now time.Time) ([]GrantKey, error)

	// Ping verifies connectivity to the underlying database.
	Ping(ctx context.Context) error
}
