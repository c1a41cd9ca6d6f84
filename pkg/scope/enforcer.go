// Package scope constrains queries over tenant-owned data to the active
// tenant. Repositories ask the enforcer for a WHERE clause instead of
// filtering by hand, so a request without tenant context matches nothing
// rather than everything.
package scope

import (
	"context"
	"fmt"
)

// ParentRelation describes how an entity without its own tenant column
// reaches its tenant through a parent table.
type ParentRelation struct {
	// Table is the parent table carrying the tenant column.
	Table string
	// ForeignKey is the child column referencing the parent's id.
	ForeignKey string
	// TenantColumn is the tenant column on the parent table.
	TenantColumn string
}

// Entity declares how one tenant-owned table is scoped. Exactly one of
// TenantColumn or Parent is set.
type Entity struct {
	Table        string
	TenantColumn string
	Parent       *ParentRelation
}

// Manifest maps entity names to their scoping declarations. Entities absent
// from the manifest are not tenant-owned and must never be passed to the
// enforcer; tenants themselves are the canonical example.
type Manifest map[string]Entity

// TenantFunc supplies the active tenant id for a request. ok is false when
// no tenant context exists.
type TenantFunc func(ctx context.Context) (int64, bool)

// Enforcer builds tenant-scoping SQL fragments from the manifest.
type Enforcer struct {
	tenantID TenantFunc
	manifest Manifest
}

// NewEnforcer creates a scope enforcer.
func NewEnforcer(tenantID TenantFunc, manifest Manifest) *Enforcer {
	return &Enforcer{tenantID: tenantID, manifest: manifest}
}

// Where returns a WHERE fragment restricting the entity to the active
// tenant, with placeholders starting at argOffset+1. Without tenant context
// it returns a contradiction ("1 = 0") so the query matches no rows. An
// unknown entity is a programming error and returns an error.
func (e *Enforcer) Where(ctx context.Context, entity string, argOffset int) (string, []any, error) {
	decl, ok := e.manifest[entity]
	if !ok {
		return "", nil, fmt.Errorf("entity %q is not in the scope manifest", entity)
	}

	tenantID, ok := e.tenantID(ctx)
	if !ok {
		return "1 = 0", nil, nil
	}

	if decl.Parent != nil {
		clause := fmt.Sprintf("%s IN (SELECT id FROM %s WHERE %s = $%d)",
			decl.Parent.ForeignKey, decl.Parent.Table, decl.Parent.TenantColumn, argOffset+1)
		return clause, []any{tenantID}, nil
	}

	return fmt.Sprintf("%s = $%d", decl.TenantColumn, argOffset+1), []any{tenantID}, nil
}

// TenantIDForCreate returns the tenant id new rows of the entity must carry.
// Entities scoped through a parent inherit their tenant from the parent row
// and get ok=false with no error. Without tenant context creation is
// refused.
func (e *Enforcer) TenantIDForCreate(ctx context.Context, entity string) (int64, bool, error) {
	decl, ok := e.manifest[entity]
	if !ok {
		return 0, false, fmt.Errorf("entity %q is not in the scope manifest", entity)
	}
	if decl.Parent != nil {
		return 0, false, nil
	}

	tenantID, ok := e.tenantID(ctx)
	if !ok {
		return 0, false, fmt.Errorf("cannot create %s without tenant context", entity)
	}
	return tenantID, true, nil
}

// ParentWhere returns the fragment that verifies a parent row belongs to
// the active tenant, for use before attaching a child row to it.
func (e *Enforcer) ParentWhere(ctx context.Context, entity string, argOffset int) (string, []any, error) {
	decl, ok := e.manifest[entity]
	if !ok || decl.Parent == nil {
		return "", nil, fmt.Errorf("entity %q has no parent relation", entity)
	}

	tenantID, ok := e.tenantID(ctx)
	if !ok {
		return "1 = 0", nil, nil
	}
	return fmt.Sprintf("%s = $%d", decl.Parent.TenantColumn, argOffset+1), []any{tenantID}, nil
}
