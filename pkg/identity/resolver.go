package identity

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/observability"
	"github.com/tablero/tablero/pkg/tenant"
)

// Defaults are the fallback locale values used when a principal has not set
// their own.
type Defaults struct {
	Timezone string
	Language string
	Currency string
}

// Deps wires a Resolver's collaborators.
type Deps struct {
	PrincipalID    int64
	Authenticated  bool
	Store          access.Store
	Cache          cache.Cache
	Mutator        *access.Mutator
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	EntityTTL      time.Duration
	AggregationTTL time.Duration
	Defaults       Defaults
}

// aggregation is the cached role/permission view for a (principal, tenant)
// pair. Both slices are deduplicated and sorted.
type aggregation struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Resolver resolves and memoizes the authenticated principal and their
// tenant-relative roles and permissions for one request. Like the tenant
// resolver it is request-scoped and not safe for concurrent use.
type Resolver struct {
	deps    Deps
	tenants *tenant.Resolver

	loaded    bool
	loadErr   error
	principal *access.Principal

	aggLoaded bool
	aggErr    error
	agg       aggregation
}

// New creates a request-scoped identity resolver. BindTenants must be
// called before any role or permission accessor.
func New(deps Deps) *Resolver {
	if deps.EntityTTL <= 0 {
		deps.EntityTTL = time.Hour
	}
	if deps.AggregationTTL <= 0 {
		deps.AggregationTTL = 30 * time.Minute
	}
	if deps.Defaults.Timezone == "" {
		deps.Defaults.Timezone = "UTC"
	}
	if deps.Defaults.Language == "" {
		deps.Defaults.Language = "en"
	}
	if deps.Defaults.Currency == "" {
		deps.Defaults.Currency = "USD"
	}
	return &Resolver{deps: deps}
}

// BindTenants attaches the tenant resolver that scopes role and permission
// queries. The two resolvers are mutually referential per request: the
// tenant resolver consumes Resolve, and role queries consume the tenant id.
func (r *Resolver) BindTenants(tr *tenant.Resolver) {
	r.tenants = tr
}

// Resolve loads the principal entity, at most once per resolver. Returns
// nil with no error for anonymous requests and for principal ids that no
// longer exist.
func (r *Resolver) Resolve(ctx context.Context) (*access.Principal, error) {
	if r.loaded {
		return r.principal, r.loadErr
	}
	r.loaded = true

	if !r.deps.Authenticated {
		return nil, nil
	}

	key := cache.PrincipalKey(r.deps.PrincipalID)

	var cached access.Principal
	hit, err := r.deps.Cache.Get(ctx, key, &cached)
	if err != nil {
		r.deps.Logger.WithError(err).Warn("Principal cache read failed")
	}
	if r.deps.Metrics != nil {
		if hit {
			r.deps.Metrics.CacheHitsTotal.WithLabelValues("principal").Inc()
		} else {
			r.deps.Metrics.CacheMissesTotal.WithLabelValues("principal").Inc()
		}
	}
	if hit {
		r.principal = &cached
		return r.principal, nil
	}

	p, err := r.deps.Store.GetPrincipal(ctx, r.deps.PrincipalID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return nil, nil
		}
		r.loadErr = err
		return nil, err
	}

	if err := r.deps.Cache.Put(ctx, key, p, r.deps.EntityTTL); err != nil {
		r.deps.Logger.WithError(err).Warn("Principal cache write failed")
	}

	r.principal = p
	return p, nil
}

// ID returns the principal id. ok is false for anonymous requests.
func (r *Resolver) ID(ctx context.Context) (int64, bool) {
	p, err := r.Resolve(ctx)
	if err != nil || p == nil {
		return 0, false
	}
	return p.ID, true
}

// Exists reports whether an authenticated principal is resolved.
func (r *Resolver) Exists(ctx context.Context) bool {
	p, err := r.Resolve(ctx)
	return err == nil && p != nil
}

// Check is Exists under its legacy name.
func (r *Resolver) Check(ctx context.Context) bool {
	return r.Exists(ctx)
}

// Name returns the principal's display name, falling back to the account
// name. Empty for anonymous requests.
func (r *Resolver) Name(ctx context.Context) string {
	p, err := r.Resolve(ctx)
	if err != nil || p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// Email returns the principal's email, or empty for anonymous requests.
func (r *Resolver) Email(ctx context.Context) string {
	p, err := r.Resolve(ctx)
	if err != nil || p == nil {
		return ""
	}
	return p.Email
}

// Timezone returns the principal's timezone or the configured default.
func (r *Resolver) Timezone(ctx context.Context) string {
	if p, err := r.Resolve(ctx); err == nil && p != nil && p.Timezone != "" {
		return p.Timezone
	}
	return r.deps.Defaults.Timezone
}

// Language returns the principal's preferred language or the default.
func (r *Resolver) Language(ctx context.Context) string {
	if p, err := r.Resolve(ctx); err == nil && p != nil && p.Language != "" {
		return p.Language
	}
	return r.deps.Defaults.Language
}

// Currency returns the principal's preferred currency or the default.
func (r *Resolver) Currency(ctx context.Context) string {
	if p, err := r.Resolve(ctx); err == nil && p != nil && p.Currency != "" {
		return p.Currency
	}
	return r.deps.Defaults.Currency
}

// IsActive reports whether the principal account is active.
func (r *Resolver) IsActive(ctx context.Context) bool {
	p, err := r.Resolve(ctx)
	return err == nil && p != nil && p.IsActive
}

// Preferences returns the principal's preference document, or nil for
// anonymous requests.
func (r *Resolver) Preferences(ctx context.Context) access.Settings {
	p, err := r.Resolve(ctx)
	if err != nil || p == nil {
		return nil
	}
	return p.Preferences
}

// Preference returns one preference value by dotted path, or def when
// absent.
func (r *Resolver) Preference(ctx context.Context, path string, def any) any {
	p, err := r.Resolve(ctx)
	if err != nil || p == nil {
		return def
	}
	return p.Preferences.Get(path, def)
}

// UpdatePreferences merges patch over the principal's preferences and
// persists the result through the write path. Returns false for anonymous
// requests.
func (r *Resolver) UpdatePreferences(ctx context.Context, patch access.Settings) (bool, error) {
	p, err := r.Resolve(ctx)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	if _, err := r.deps.Mutator.UpdatePrincipalPreferences(ctx, p, patch); err != nil {
		return false, err
	}
	return true, nil
}

// Companies returns the tenants the principal can access.
func (r *Resolver) Companies(ctx context.Context) ([]access.Tenant, error) {
	return r.tenants.ListAccessible(ctx)
}

// loadAggregation computes the tenant-relative role and permission sets, at
// most once per resolver. Without a principal or tenant context both sets
// are empty.
func (r *Resolver) loadAggregation(ctx context.Context) (aggregation, error) {
	if r.aggLoaded {
		return r.agg, r.aggErr
	}
	r.aggLoaded = true

	p, err := r.Resolve(ctx)
	if err != nil {
		r.aggErr = err
		return r.agg, err
	}
	if p == nil {
		return r.agg, nil
	}

	tenantID, ok := r.tenants.ID(ctx)
	if !ok {
		return r.agg, nil
	}

	key := cache.RolePermsKey(p.ID, tenantID)

	var cached aggregation
	hit, err := r.deps.Cache.Get(ctx, key, &cached)
	if err != nil {
		r.deps.Logger.WithError(err).Warn("Role aggregation cache read failed")
	}
	if r.deps.Metrics != nil {
		if hit {
			r.deps.Metrics.CacheHitsTotal.WithLabelValues("roles_perms").Inc()
		} else {
			r.deps.Metrics.CacheMissesTotal.WithLabelValues("roles_perms").Inc()
		}
	}
	if hit {
		r.agg = cached
		return r.agg, nil
	}

	roles, err := r.deps.Store.ListEffectiveGrants(ctx, p.ID, tenantID, time.Now())
	if err != nil {
		r.aggErr = err
		return r.agg, err
	}

	r.agg = aggregate(roles)
	if err := r.deps.Cache.Put(ctx, key, r.agg, r.deps.AggregationTTL); err != nil {
		r.deps.Logger.WithError(err).Warn("Role aggregation cache write failed")
	}
	return r.agg, nil
}

// aggregate unions role and permission names across effective grants,
// deduplicated and sorted for deterministic output.
func aggregate(roles []access.Role) aggregation {
	roleSet := make(map[string]struct{})
	permSet := make(map[string]struct{})
	for _, role := range roles {
		roleSet[role.Name] = struct{}{}
		for _, perm := range role.Permissions {
			permSet[perm.Name] = struct{}{}
		}
	}

	agg := aggregation{
		Roles:       make([]string, 0, len(roleSet)),
		Permissions: make([]string, 0, len(permSet)),
	}
	for name := range roleSet {
		agg.Roles = append(agg.Roles, name)
	}
	for name := range permSet {
		agg.Permissions = append(agg.Permissions, name)
	}
	sort.Strings(agg.Roles)
	sort.Strings(agg.Permissions)
	return agg
}

// Roles returns the principal's role names within the active tenant.
func (r *Resolver) Roles(ctx context.Context) ([]string, error) {
	agg, err := r.loadAggregation(ctx)
	return agg.Roles, err
}

// Permissions returns the principal's permission names within the active
// tenant.
func (r *Resolver) Permissions(ctx context.Context) ([]string, error) {
	agg, err := r.loadAggregation(ctx)
	return agg.Permissions, err
}

// HasRole reports whether the principal holds the role within the active
// tenant. False on any resolution failure.
func (r *Resolver) HasRole(ctx context.Context, role string) bool {
	agg, err := r.loadAggregation(ctx)
	if err != nil {
		return false
	}
	return contains(agg.Roles, role)
}

// HasAnyRole reports whether the principal holds at least one of the roles.
func (r *Resolver) HasAnyRole(ctx context.Context, roles ...string) bool {
	agg, err := r.loadAggregation(ctx)
	if err != nil {
		return false
	}
	for _, role := range roles {
		if contains(agg.Roles, role) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the principal holds every one of the roles.
func (r *Resolver) HasAllRoles(ctx context.Context, roles ...string) bool {
	agg, err := r.loadAggregation(ctx)
	if err != nil {
		return false
	}
	for _, role := range roles {
		if !contains(agg.Roles, role) {
			return false
		}
	}
	return true
}

// HasPermission reports whether the principal holds the permission within
// the active tenant. False on any resolution failure.
func (r *Resolver) HasPermission(ctx context.Context, permission string) bool {
	agg, err := r.loadAggregation(ctx)
	if err != nil {
		return false
	}
	return contains(agg.Permissions, permission)
}

// HasAnyPermission reports whether the principal holds at least one of the
// permissions.
func (r *Resolver) HasAnyPermission(ctx context.Context, permissions ...string) bool {
	agg, err := r.loadAggregation(ctx)
	if err != nil {
		return false
	}
	for _, permission := range permissions {
		if contains(agg.Permissions, permission) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the principal holds every one of the
// permissions.
func (r *Resolver) HasAllPermissions(ctx context.Context, permissions ...string) bool {
	agg, err := r.loadAggregation(ctx)
	if err != nil {
		return false
	}
	for _, permission := range permissions {
		if !contains(agg.Permissions, permission) {
			return false
		}
	}
	return true
}

// IsAdmin reports whether the principal holds the admin role in the active
// tenant.
func (r *Resolver) IsAdmin(ctx context.Context) bool {
	return r.HasRole(ctx, "admin")
}

// IsManager reports whether the principal holds the manager role in the
// active tenant.
func (r *Resolver) IsManager(ctx context.Context) bool {
	return r.HasRole(ctx, "manager")
}

// CanManageUsers reports whether the principal may manage tenant users.
// Admins can always manage users.
func (r *Resolver) CanManageUsers(ctx context.Context) bool {
	return r.HasPermission(ctx, "manage_users") || r.IsAdmin(ctx)
}

// CanManageMenu reports whether the principal may change the menu: any of
// the menu mutation permissions, or the admin or manager role.
func (r *Resolver) CanManageMenu(ctx context.Context) bool {
	return r.HasAnyPermission(ctx, "create_menu", "edit_menu", "delete_menu") ||
		r.HasAnyRole(ctx, "admin", "manager")
}

// Invalidate drops the cached principal entity and aggregation and resets
// the memoized state so the next accessor re-resolves.
func (r *Resolver) Invalidate(ctx context.Context) error {
	if r.deps.Authenticated {
		keys := []string{cache.PrincipalKey(r.deps.PrincipalID)}
		if tenantID, ok := r.tenants.ID(ctx); ok {
			keys = append(keys, cache.RolePermsKey(r.deps.PrincipalID, tenantID))
		}
		if err := r.deps.Cache.Forget(ctx, keys...); err != nil {
			return err
		}
	}

	r.loaded = false
	r.loadErr = nil
	r.principal = nil
	r.aggLoaded = false
	r.aggErr = nil
	r.agg = aggregation{}
	return nil
}

// Refresh invalidates and immediately re-resolves the principal.
func (r *Resolver) Refresh(ctx context.Context) (*access.Principal, error) {
	if err := r.Invalidate(ctx); err != nil {
		return nil, err
	}
	return r.Resolve(ctx)
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
