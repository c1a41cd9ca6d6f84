package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest() Manifest {
	return Manifest{
		"menu_category": {
			Table:        "menu_categories",
			TenantColumn: "company_id",
		},
		"menu_item": {
			Table: "menu_items",
			Parent: &ParentRelation{
				Table:        "menu_categories",
				ForeignKey:   "category_id",
				TenantColumn: "company_id",
			},
		},
	}
}

func withTenant(id int64) TenantFunc {
	return func(context.Context) (int64, bool) { return id, true }
}

func withoutTenant() TenantFunc {
	return func(context.Context) (int64, bool) { return 0, false }
}

func TestWhereDirectColumn(t *testing.T) {
	e := NewEnforcer(withTenant(7), testManifest())

	clause, args, err := e.Where(context.Background(), "menu_category", 0)
	require.NoError(t, err)
	assert.Equal(t, "company_id = $1", clause)
	assert.Equal(t, []any{int64(7)}, args)
}

func TestWhereArgOffset(t *testing.T) {
	e := NewEnforcer(withTenant(7), testManifest())

	clause, args, err := e.Where(context.Background(), "menu_category", 2)
	require.NoError(t, err)
	assert.Equal(t, "company_id = $3", clause)
	assert.Equal(t, []any{int64(7)}, args)
}

func TestWhereParentRelation(t *testing.T) {
	e := NewEnforcer(withTenant(7), testManifest())

	clause, args, err := e.Where(context.Background(), "menu_item", 1)
	require.NoError(t, err)
	assert.Equal(t, "category_id IN (SELECT id FROM menu_categories WHERE company_id = $2)", clause)
	assert.Equal(t, []any{int64(7)}, args)
}

func TestWhereFailsClosed(t *testing.T) {
	e := NewEnforcer(withoutTenant(), testManifest())

	for _, entity := range []string{"menu_category", "menu_item"} {
		clause, args, err := e.Where(context.Background(), entity, 0)
		require.NoError(t, err)
		assert.Equal(t, "1 = 0", clause, "entity %s must match nothing without tenant context", entity)
		assert.Empty(t, args)
	}
}

func TestWhereUnknownEntity(t *testing.T) {
	e := NewEnforcer(withTenant(7), testManifest())

	// Tenants themselves are never scoped; asking is a caller bug.
	_, _, err := e.Where(context.Background(), "company", 0)
	assert.Error(t, err)
}

func TestTenantIDForCreate(t *testing.T) {
	e := NewEnforcer(withTenant(7), testManifest())

	id, ok, err := e.TenantIDForCreate(context.Background(), "menu_category")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestTenantIDForCreateParentOwned(t *testing.T) {
	e := NewEnforcer(withTenant(7), testManifest())

	// Items inherit the tenant through their category.
	_, ok, err := e.TenantIDForCreate(context.Background(), "menu_item")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTenantIDForCreateWithoutTenant(t *testing.T) {
	e := NewEnforcer(withoutTenant(), testManifest())

	_, _, err := e.TenantIDForCreate(context.Background(), "menu_category")
	assert.Error(t, err)
}

func TestParentWhere(t *testing.T) {
	e := NewEnforcer(withTenant(7), testManifest())

	clause, args, err := e.ParentWhere(context.Background(), "menu_item", 1)
	require.NoError(t, err)
	assert.Equal(t, "company_id = $2", clause)
	assert.Equal(t, []any{int64(7)}, args)
}

func TestParentWhereFailsClosed(t *testing.T) {
	e := NewEnforcer(withoutTenant(), testManifest())

	clause, args, err := e.ParentWhere(context.Background(), "menu_item", 0)
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", clause)
	assert.Empty(t, args)
}

func TestParentWhereOnDirectEntity(t *testing.T) {
	e := NewEnforcer(withTenant(7), testManifest())

	_, _, err := e.ParentWhere(context.Background(), "menu_category", 0)
	assert.Error(t, err)
}
