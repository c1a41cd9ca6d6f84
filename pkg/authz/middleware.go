package authz

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/contextkeys"
	"github.com/tablero/tablero/pkg/httputil"
	"github.com/tablero/tablero/pkg/identity"
	"github.com/tablero/tablero/pkg/observability"
	"github.com/tablero/tablero/pkg/session"
	"github.com/tablero/tablero/pkg/tenant"
)

// MiddlewareDeps holds the shared collaborators the context middleware
// injects into every request's resolvers.
type MiddlewareDeps struct {
	Store          access.Store
	Cache          cache.Cache
	Sessions       session.Store
	Mutator        *access.Mutator
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	EntityTTL      time.Duration
	AggregationTTL time.Duration
	Defaults       identity.Defaults
}

// ContextMiddleware constructs the request-scoped identity and tenant
// resolvers, binds them together and resolves both eagerly so later checks
// are memoized lookups. It never rejects a request itself: anonymous
// requests pass through with empty context, and the gate wrappers decide.
func ContextMiddleware(deps MiddlewareDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			principalID, authenticated := ctx.Value(contextkeys.PrincipalIDKey).(int64)
			sessionID, _ := ctx.Value(contextkeys.SessionIDKey).(string)

			id := identity.New(identity.Deps{
				PrincipalID:    principalID,
				Authenticated:  authenticated,
				Store:          deps.Store,
				Cache:          deps.Cache,
				Mutator:        deps.Mutator,
				Logger:         deps.Logger,
				Metrics:        deps.Metrics,
				EntityTTL:      deps.EntityTTL,
				AggregationTTL: deps.AggregationTTL,
				Defaults:       deps.Defaults,
			})

			tn := tenant.New(tenant.Deps{
				Principal: id.Resolve,
				SessionID: sessionID,
				Store:     deps.Store,
				Cache:     deps.Cache,
				Sessions:  deps.Sessions,
				Mutator:   deps.Mutator,
				Logger:    deps.Logger,
				Metrics:   deps.Metrics,
				EntityTTL: deps.EntityTTL,
			})
			id.BindTenants(tn)

			// Resolve up front. A store outage surfaces here as 503 instead
			// of masquerading as a denial downstream.
			if _, err := id.Resolve(ctx); err != nil {
				deps.Logger.WithError(err).Error("Identity resolution failed")
				httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "identity service unavailable")
				return
			}
			if _, err := tn.Resolve(ctx); err != nil {
				deps.Logger.WithError(err).Error("Tenant resolution failed")
				httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "identity service unavailable")
				return
			}

			ctx = context.WithValue(ctx, contextkeys.IdentityKey, id)
			ctx = context.WithValue(ctx, contextkeys.TenantKey, tn)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the request's identity resolver, or nil when
// the context middleware did not run.
func IdentityFromContext(ctx context.Context) *identity.Resolver {
	id, _ := ctx.Value(contextkeys.IdentityKey).(*identity.Resolver)
	return id
}

// TenantFromContext returns the request's tenant resolver, or nil when the
// context middleware did not run.
func TenantFromContext(ctx context.Context) *tenant.Resolver {
	tn, _ := ctx.Value(contextkeys.TenantKey).(*tenant.Resolver)
	return tn
}

// WriteDenial maps a gate denial to its HTTP response.
func WriteDenial(w http.ResponseWriter, err error) {
	var denied *Denied
	if errors.As(err, &denied) {
		switch denied.Reason {
		case ReasonUnauthenticated:
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, denied.Error())
		default:
			httputil.WriteErrorMessage(w, http.StatusForbidden, denied.Error())
		}
		return
	}
	httputil.WriteInternalError(w, err)
}

// requireFunc adapts a gate check into HTTP middleware.
func requireFunc(check func(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := IdentityFromContext(ctx)
			tn := TenantFromContext(ctx)
			if id == nil || tn == nil {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if err := check(ctx, id, tn); err != nil {
				WriteDenial(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects requests whose principal lacks the permission.
func RequirePermission(gate *Gate, permission string) func(http.Handler) http.Handler {
	return requireFunc(func(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver) error {
		return gate.RequirePermission(ctx, id, tn, permission)
	})
}

// RequireAnyPermission rejects requests whose principal holds none of the
// permissions.
func RequireAnyPermission(gate *Gate, permissions ...string) func(http.Handler) http.Handler {
	return requireFunc(func(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver) error {
		return gate.RequireAnyPermission(ctx, id, tn, permissions...)
	})
}

// RequireAnyRole rejects requests whose principal holds none of the roles.
func RequireAnyRole(gate *Gate, roles ...string) func(http.Handler) http.Handler {
	return requireFunc(func(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver) error {
		return gate.RequireAnyRole(ctx, id, tn, roles...)
	})
}

// RequireAuthenticated rejects anonymous requests without imposing any role
// or permission requirement.
func RequireAuthenticated() func(http.Handler) http.Handler {
	return requireFunc(func(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver) error {
		if !id.Exists(ctx) {
			return &Denied{Reason: ReasonUnauthenticated}
		}
		return nil
	})
}
