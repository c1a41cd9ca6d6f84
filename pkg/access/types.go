package access

import (
	"strings"
	"time"
)

// Settings is an open key/value bag stored as a JSON column. Tenant settings,
// principal preferences and grant settings all use this shape.
type Settings map[string]any

// Merge returns a new map with patch applied over s. Patch keys win on
// conflict, keys absent from the patch are preserved. Neither input is
// modified.
func (s Settings) Merge(patch Settings) Settings {
	merged := make(Settings, len(s)+len(patch))
	for k, v := range s {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Get looks up a value by dotted path (e.g. "notifications.email"),
// descending into nested maps. Returns def when the path is absent.
func (s Settings) Get(path string, def any) any {
	if path == "" {
		return def
	}

	var current any = map[string]any(s)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			if sm, ok := current.(Settings); ok {
				m = map[string]any(sm)
			} else {
				return def
			}
		}
		current, ok = m[part]
		if !ok {
			return def
		}
	}
	return current
}

// Principal is an authenticated actor. A principal may belong to several
// tenants through memberships; HomeTenantID is the legacy single-tenant
// shortcut that wins over any membership during tenant resolution.
type Principal struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name,omitempty"`
	Email        string     `json:"email"`
	HomeTenantID *int64     `json:"company_id,omitempty"`
	Language     string     `json:"preferred_language,omitempty"`
	Timezone     string     `json:"timezone,omitempty"`
	Currency     string     `json:"preferred_currency,omitempty"`
	IsActive     bool       `json:"is_active"`
	Preferences  Settings   `json:"preferences,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Tenant is an isolated organization ("company"). All menu data is owned by
// exactly one tenant.
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   *int64    `json:"owner_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	Timezone  string    `json:"timezone,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Language  string    `json:"language,omitempty"`
	Settings  Settings  `json:"settings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership relates a principal to a tenant. Its existence is the sole
// authorization to access that tenant's data, independent of any role.
type Membership struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"company_id"`
	PrincipalID int64     `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is a named bundle of permissions, scoped to one tenant or global
// (TenantID nil). Role names are unique within their scope.
type Role struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name,omitempty"`
	Description  string       `json:"description,omitempty"`
	TenantID     *int64       `json:"company_id,omitempty"`
	IsSystemRole bool         `json:"is_system_role"`
	IsActive     bool         `json:"is_active"`
	Permissions  []Permission `json:"permissions,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsGlobal reports whether the role is scoped system-wide rather than to a
// single tenant. A global role still requires an effective grant within the
// active tenant to count toward authorization.
func (r *Role) IsGlobal() bool {
	return r.TenantID == nil
}

// Permission is an atomic capability. Names follow "<module>.<action>" or a
// legacy flat form ("manage_users"); Module/Action carry grouping metadata.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Module      string `json:"module,omitempty"`
	Action      string `json:"action,omitempty"`
}

// RoleGrant assigns a role to a principal within a tenant. At most one grant
// exists per (principal, role, tenant) tuple.
type RoleGrant struct {
	ID          int64      `json:"id"`
	PrincipalID int64      `json:"user_id"`
	RoleID      int64      `json:"role_id"`
	TenantID    int64      `json:"company_id"`
	AssignedAt  time.Time  `json:"assigned_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AssignedBy  *int64     `json:"assigned_by,omitempty"`
	IsActive    bool       `json:"is_active"`
	Settings    Settings   `json:"settings,omitempty"`
}

// Expired reports whether the grant's expiry has passed at the given time.
// Grants without an expiry never expire.
func (g *RoleGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Effective reports whether the grant counts toward authorization: it must
// be active and not expired.
func (g *RoleGrant) Effective(now time.Time) bool {
	return g.IsActive && !g.Expired(now)
}

// GrantKey identifies the (principal, tenant) pair whose cached
// role/permission aggregation a grant mutation invalidates.
type GrantKey struct {
	PrincipalID int64
	TenantID    int64
}
