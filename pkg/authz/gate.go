// Package authz enforces access decisions over the request-scoped identity
// and tenant resolvers. The gate itself performs no I/O: by the time it
// runs, resolution has happened and its checks are memoized lookups.
package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/tablero/tablero/pkg/identity"
	"github.com/tablero/tablero/pkg/observability"
	"github.com/tablero/tablero/pkg/tenant"
)

// DenialReason classifies why access was denied.
type DenialReason string

const (
	// ReasonUnauthenticated means no principal was resolved.
	ReasonUnauthenticated DenialReason = "unauthenticated"
	// ReasonNoTenant means a principal exists but no tenant context does.
	ReasonNoTenant DenialReason = "no_tenant_context"
	// ReasonForbidden means the principal lacks the required roles or
	// permissions within the active tenant.
	ReasonForbidden DenialReason = "forbidden"
)

// Denied is the typed denial returned by gate checks. Required names what
// was missing for forbidden denials.
type Denied struct {
	Reason   DenialReason
	Required []string
}

func (d *Denied) Error() string {
	switch d.Reason {
	case ReasonUnauthenticated:
		return "authentication required"
	case ReasonNoTenant:
		return "no company context"
	default:
		return fmt.Sprintf("missing required access: %s", strings.Join(d.Required, ", "))
	}
}

// Gate checks authorization requirements against resolved request context.
type Gate struct {
	metrics *observability.Metrics
}

// NewGate creates a gate. metrics may be nil.
func NewGate(metrics *observability.Metrics) *Gate {
	return &Gate{metrics: metrics}
}

func (g *Gate) deny(reason DenialReason, required []string) error {
	if g.metrics != nil {
		g.metrics.AuthzDenialsTotal.WithLabelValues(string(reason)).Inc()
	}
	return &Denied{Reason: reason, Required: required}
}

// precheck runs the shared ladder: authenticated principal first, tenant
// context second. Denials carry the first missing rung, never a later one.
func (g *Gate) precheck(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver, required []string) error {
	if !id.Exists(ctx) {
		return g.deny(ReasonUnauthenticated, required)
	}
	if !tn.Exists(ctx) {
		return g.deny(ReasonNoTenant, required)
	}
	return nil
}

// RequirePermission denies unless the principal holds the permission within
// the active tenant.
func (g *Gate) RequirePermission(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver, permission string) error {
	required := []string{permission}
	if err := g.precheck(ctx, id, tn, required); err != nil {
		return err
	}
	if !id.HasPermission(ctx, permission) {
		return g.deny(ReasonForbidden, required)
	}
	return nil
}

// RequireAnyPermission denies unless the principal holds at least one of
// the permissions.
func (g *Gate) RequireAnyPermission(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver, permissions ...string) error {
	if err := g.precheck(ctx, id, tn, permissions); err != nil {
		return err
	}
	if !id.HasAnyPermission(ctx, permissions...) {
		return g.deny(ReasonForbidden, permissions)
	}
	return nil
}

// RequireAnyRole denies unless the principal holds at least one of the
// roles within the active tenant.
func (g *Gate) RequireAnyRole(ctx context.Context, id *identity.Resolver, tn *tenant.Resolver, roles ...string) error {
	if err := g.precheck(ctx, id, tn, roles); err != nil {
		return err
	}
	if !id.HasAnyRole(ctx, roles...) {
		return g.deny(ReasonForbidden, roles)
	}
	return nil
}
