package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/observability"
	"github.com/tablero/tablero/pkg/session"
)

// PrincipalFunc supplies the authenticated principal, or nil when the
// request is anonymous. The identity resolver's Resolve method satisfies it.
type PrincipalFunc func(ctx context.Context) (*access.Principal, error)

// Deps wires a Resolver's collaborators.
type Deps struct {
	Principal PrincipalFunc
	SessionID string
	Store     access.Store
	Cache     cache.Cache
	Sessions  session.Store
	Mutator   *access.Mutator
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	EntityTTL time.Duration
}

// Resolver resolves and memoizes the active tenant for one request. It is
// request-scoped and not safe for use from multiple goroutines; construct
// one per request and discard it afterwards.
type Resolver struct {
	deps Deps

	resolved bool
	loadErr  error
	tenant   *access.Tenant
	tenantID int64
	hasID    bool
}

// New creates a request-scoped tenant resolver.
func New(deps Deps) *Resolver {
	if deps.EntityTTL <= 0 {
		deps.EntityTTL = time.Hour
	}
	return &Resolver{deps: deps}
}

// Resolve determines the active tenant, at most once per resolver. The
// priority order is home tenant, then a validated session choice, then the
// principal's first membership. Returns nil with no error when no tenant
// context exists. A store failure is returned as an error and leaves the
// resolver in the "no tenant" state.
func (r *Resolver) Resolve(ctx context.Context) (*access.Tenant, error) {
	if r.resolved {
		return r.tenant, r.loadErr
	}
	r.resolved = true

	id, source, err := r.pickTenantID(ctx)
	if err != nil {
		r.loadErr = err
		return nil, err
	}
	if !r.hasIDSet(id, source) {
		return nil, nil
	}

	t, err := r.loadTenant(ctx, id)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			// A dangling reference (deleted tenant) resolves to no context.
			r.hasID = false
			return nil, nil
		}
		r.loadErr = err
		return nil, err
	}

	r.tenant = t
	if r.deps.Metrics != nil {
		r.deps.Metrics.TenantResolutionsTotal.WithLabelValues(source).Inc()
	}
	return t, nil
}

func (r *Resolver) hasIDSet(id int64, source string) bool {
	if source == "" {
		if r.deps.Metrics != nil {
			r.deps.Metrics.TenantResolutionsTotal.WithLabelValues("none").Inc()
		}
		return false
	}
	r.tenantID = id
	r.hasID = true
	return true
}

// pickTenantID walks the priority chain and returns the chosen tenant id
// with its source ("home", "session" or "membership"). An empty source
// means no tenant context.
func (r *Resolver) pickTenantID(ctx context.Context) (int64, string, error) {
	principal, err := r.deps.Principal(ctx)
	if err != nil {
		return 0, "", err
	}
	if principal == nil {
		return 0, "", nil
	}

	if principal.HomeTenantID != nil {
		return *principal.HomeTenantID, "home", nil
	}

	if r.deps.SessionID != "" {
		chosen, ok, err := r.deps.Sessions.TenantID(ctx, r.deps.SessionID)
		if err != nil {
			// The session slot is advisory; losing it must not fail the
			// request. Fall through to the membership fallback.
			r.deps.Logger.WithError(err).Warn("Failed to read session tenant slot")
		} else if ok {
			allowed, err := r.hasAccess(ctx, principal, chosen)
			if err != nil {
				return 0, "", err
			}
			if allowed {
				return chosen, "session", nil
			}
			// Stale or revoked choice: discard and keep walking the chain.
		}
	}

	memberships, err := r.deps.Store.ListMemberships(ctx, principal.ID)
	if err != nil {
		return 0, "", fmt.Errorf("failed to resolve tenant for principal %d: %w", principal.ID, err)
	}
	if len(memberships) == 0 {
		return 0, "", nil
	}

	first := memberships[0].TenantID
	if r.deps.SessionID != "" {
		if err := r.deps.Sessions.SetTenantID(ctx, r.deps.SessionID, first); err != nil {
			r.deps.Logger.WithError(err).Warn("Failed to persist fallback tenant choice")
		}
	}
	return first, "membership", nil
}

// hasAccess reports whether the principal may act within the tenant: either
// it is their home tenant or a membership exists.
func (r *Resolver) hasAccess(ctx context.Context, principal *access.Principal, tenantID int64) (bool, error) {
	if principal.HomeTenantID != nil && *principal.HomeTenantID == tenantID {
		return true, nil
	}
	return r.deps.Store.HasMembership(ctx, principal.ID, tenantID)
}

// loadTenant reads the tenant entity through the cache.
func (r *Resolver) loadTenant(ctx context.Context, id int64) (*access.Tenant, error) {
	key := cache.TenantKey(id)

	var cached access.Tenant
	hit, err := r.deps.Cache.Get(ctx, key, &cached)
	if err != nil {
		r.deps.Logger.WithError(err).Warn("Tenant cache read failed")
	}
	if r.deps.Metrics != nil {
		if hit {
			r.deps.Metrics.CacheHitsTotal.WithLabelValues("tenant").Inc()
		} else {
			r.deps.Metrics.CacheMissesTotal.WithLabelValues("tenant").Inc()
		}
	}
	if hit {
		return &cached, nil
	}

	t, err := r.deps.Store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.deps.Cache.Put(ctx, key, t, r.deps.EntityTTL); err != nil {
		r.deps.Logger.WithError(err).Warn("Tenant cache write failed")
	}
	return t, nil
}

// ID returns the active tenant id. ok is false when no tenant context
// exists or resolution failed.
func (r *Resolver) ID(ctx context.Context) (int64, bool) {
	t, err := r.Resolve(ctx)
	if err != nil || t == nil {
		return 0, false
	}
	return t.ID, true
}

// Exists reports whether a tenant context is established.
func (r *Resolver) Exists(ctx context.Context) bool {
	t, err := r.Resolve(ctx)
	return err == nil && t != nil
}

// Settings returns the active tenant's settings, or nil without tenant
// context.
func (r *Resolver) Settings(ctx context.Context) access.Settings {
	t, err := r.Resolve(ctx)
	if err != nil || t == nil {
		return nil
	}
	return t.Settings
}

// Setting returns one settings value by dotted path, or def when absent or
// without tenant context.
func (r *Resolver) Setting(ctx context.Context, path string, def any) any {
	t, err := r.Resolve(ctx)
	if err != nil || t == nil {
		return def
	}
	return t.Settings.Get(path, def)
}

// SwitchTo moves the session to another tenant. It validates that the
// principal can access the target (home tenant or membership), invalidates
// the cached state for the previous context, records the choice in the
// session and re-resolves against the target. Returns false when the target
// is inaccessible or does not exist; the active context is unchanged in
// that case.
func (r *Resolver) SwitchTo(ctx context.Context, tenantID int64) (bool, error) {
	principal, err := r.deps.Principal(ctx)
	if err != nil {
		return false, err
	}
	if principal == nil {
		return false, nil
	}

	allowed, err := r.hasAccess(ctx, principal, tenantID)
	if err != nil {
		r.switchResult("error")
		return false, err
	}
	if !allowed {
		r.switchResult("denied")
		return false, nil
	}

	target, err := r.deps.Store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			r.switchResult("denied")
			return false, nil
		}
		r.switchResult("error")
		return false, err
	}

	// Drop cached state tied to the outgoing context before the switch
	// becomes visible.
	stale := []string{cache.RolePermsKey(principal.ID, tenantID)}
	if r.hasID && r.tenantID != tenantID {
		stale = append(stale,
			cache.TenantKey(r.tenantID),
			cache.RolePermsKey(principal.ID, r.tenantID),
		)
	}
	if err := r.deps.Cache.Forget(ctx, stale...); err != nil {
		r.deps.Logger.WithError(err).Warn("Failed to invalidate cache during tenant switch")
	}

	if r.deps.SessionID != "" {
		if err := r.deps.Sessions.SetTenantID(ctx, r.deps.SessionID, tenantID); err != nil {
			r.switchResult("error")
			return false, fmt.Errorf("failed to record tenant choice: %w", err)
		}
	}

	r.resolved = true
	r.loadErr = nil
	r.tenant = target
	r.tenantID = tenantID
	r.hasID = true

	if err := r.deps.Cache.Put(ctx, cache.TenantKey(tenantID), target, r.deps.EntityTTL); err != nil {
		r.deps.Logger.WithError(err).Warn("Tenant cache write failed")
	}

	r.switchResult("switched")
	r.deps.Logger.WithFields(map[string]any{
		"principal_id": principal.ID,
		"tenant_id":    tenantID,
	}).Info("Switched active tenant")
	return true, nil
}

func (r *Resolver) switchResult(result string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.TenantSwitchesTotal.WithLabelValues(result).Inc()
	}
}

// UpdateSettings merges patch over the active tenant's settings and
// persists the result through the write path. Returns false without tenant
// context.
func (r *Resolver) UpdateSettings(ctx context.Context, patch access.Settings) (bool, error) {
	t, err := r.Resolve(ctx)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}

	if _, err := r.deps.Mutator.UpdateTenantSettings(ctx, t, patch); err != nil {
		return false, err
	}
	return true, nil
}

// ListAccessible returns the tenants the principal can act in, ordered by
// membership age. The home tenant is included even without a membership row.
func (r *Resolver) ListAccessible(ctx context.Context) ([]access.Tenant, error) {
	principal, err := r.deps.Principal(ctx)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		return nil, nil
	}

	tenants, err := r.deps.Store.ListTenantsFor(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	if principal.HomeTenantID != nil {
		found := false
		for _, t := range tenants {
			if t.ID == *principal.HomeTenantID {
				found = true
				break
			}
		}
		if !found {
			home, err := r.deps.Store.GetTenant(ctx, *principal.HomeTenantID)
			if err != nil && !errors.Is(err, access.ErrNotFound) {
				return nil, err
			}
			if home != nil {
				tenants = append([]access.Tenant{*home}, tenants...)
			}
		}
	}

	return tenants, nil
}

// Invalidate drops the cached entity for the active tenant and resets the
// memoized state so the next accessor re-resolves.
func (r *Resolver) Invalidate(ctx context.Context) error {
	if r.hasID {
		if err := r.deps.Cache.Forget(ctx, cache.TenantKey(r.tenantID)); err != nil {
			return err
		}
	}
	r.resolved = false
	r.loadErr = nil
	r.tenant = nil
	r.hasID = false
	return nil
}
