package menu

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tablero/tablero/pkg/observability"
	"github.com/tablero/tablero/pkg/scope"
)

// Scope entity names registered in the manifest.
const (
	EntityCategory = "menu_category"
	EntityItem     = "menu_item"
)

// ErrNotFound is returned when a row does not exist within the active
// tenant. Rows of other tenants are indistinguishable from absent ones.
var ErrNotFound = errors.New("not found")

// ScopeManifest declares how menu entities are tenant-scoped: categories
// own a company column, items inherit the tenant through their category.
func ScopeManifest() scope.Manifest {
	return scope.Manifest{
		EntityCategory: {
			Table:        "menu_categories",
			TenantColumn: "company_id",
		},
		EntityItem: {
			Table: "menu_items",
			Parent: &scope.ParentRelation{
				Table:        "menu_categories",
				ForeignKey:   "category_id",
				TenantColumn: "company_id",
			},
		},
	}
}

// Repository is the tenant-scoped data access for menu categories and items.
type Repository struct {
	db       *sql.DB
	enforcer *scope.Enforcer
	logger   *observability.Logger
}

// NewRepository creates a scoped menu repository.
func NewRepository(db *sql.DB, enforcer *scope.Enforcer, logger *observability.Logger) *Repository {
	return &Repository{
		db:       db,
		enforcer: enforcer,
		logger:   logger.WithField("component", "menu_repository"),
	}
}

// ListCategories returns the active tenant's categories ordered for display.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	where, args, err := r.enforcer.Where(ctx, EntityCategory, 0)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, company_id, name, description, sort_order, is_active, created_at, updated_at
		FROM menu_categories
		WHERE %s
		ORDER BY sort_order ASC, id ASC`, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *c)
	}

	return categories, rows.Err()
}

// GetCategory returns one category within the active tenant.
func (r *Repository) GetCategory(ctx context.Context, id int64) (*Category, error) {
	where, args, err := r.enforcer.Where(ctx, EntityCategory, 1)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, company_id, name, description, sort_order, is_active, created_at, updated_at
		FROM menu_categories
		WHERE id = $1 AND %s`, where)

	row := r.db.QueryRowContext(ctx, query, append([]any{id}, args...)...)
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category %d: %w", id, err)
	}
	return c, nil
}

// CreateCategory inserts a category owned by the active tenant. The tenant
// id is stamped by the enforcer, never taken from the caller.
func (r *Repository) CreateCategory(ctx context.Context, c *Category) error {
	tenantID, _, err := r.enforcer.TenantIDForCreate(ctx, EntityCategory)
	if err != nil {
		return err
	}
	c.CompanyID = tenantID

	query := `
		INSERT INTO menu_categories (company_id, name, description, sort_order, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		c.CompanyID, c.Name, c.Description, c.SortOrder, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

// UpdateCategory updates a category within the active tenant.
func (r *Repository) UpdateCategory(ctx context.Context, c *Category) error {
	where, args, err := r.enforcer.Where(ctx, EntityCategory, 5)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE menu_categories
		SET name = $1, description = $2, sort_order = $3, is_active = $4, updated_at = NOW()
		WHERE id = $5 AND %s`, where)

	result, err := r.db.ExecContext(ctx, query,
		append([]any{c.Name, c.Description, c.SortOrder, c.IsActive, c.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update category %d: %w", c.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCategory removes a category within the active tenant. Items cascade.
func (r *Repository) DeleteCategory(ctx context.Context, id int64) error {
	where, args, err := r.enforcer.Where(ctx, EntityCategory, 1)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM menu_categories WHERE id = $1 AND %s`, where)

	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to delete category %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListItems returns the active tenant's items, optionally restricted to one
// category.
func (r *Repository) ListItems(ctx context.Context, categoryID *int64) ([]Item, error) {
	offset := 0
	var prefix []any
	extra := ""
	if categoryID != nil {
		extra = "category_id = $1 AND "
		prefix = []any{*categoryID}
		offset = 1
	}

	where, args, err := r.enforcer.Where(ctx, EntityItem, offset)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, category_id, name, description, price, is_available, sort_order, created_at, updated_at
		FROM menu_items
		WHERE %s%s
		ORDER BY sort_order ASC, id ASC`, extra, where)

	rows, err := r.db.QueryContext(ctx, query, append(prefix, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}

	return items, rows.Err()
}

// GetItem returns one item within the active tenant.
func (r *Repository) GetItem(ctx context.Context, id int64) (*Item, error) {
	where, args, err := r.enforcer.Where(ctx, EntityItem, 1)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, category_id, name, description, price, is_available, sort_order, created_at, updated_at
		FROM menu_items
		WHERE id = $1 AND %s`, where)

	row := r.db.QueryRowContext(ctx, query, append([]any{id}, args...)...)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return it, nil
}

// CreateItem inserts an item after verifying its category belongs to the
// active tenant. Attaching to another tenant's category reads as a missing
// category.
func (r *Repository) CreateItem(ctx context.Context, it *Item) error {
	parentWhere, args, err := r.enforcer.ParentWhere(ctx, EntityItem, 1)
	if err != nil {
		return err
	}

	checkQuery := fmt.Sprintf(`
		SELECT EXISTS (SELECT 1 FROM menu_categories WHERE id = $1 AND %s)`, parentWhere)

	var ok bool
	if err := r.db.QueryRowContext(ctx, checkQuery, append([]any{it.CategoryID}, args...)...).Scan(&ok); err != nil {
		return fmt.Errorf("failed to verify category %d: %w", it.CategoryID, err)
	}
	if !ok {
		return ErrNotFound
	}

	query := `
		INSERT INTO menu_items (category_id, name, description, price, is_available, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		it.CategoryID, it.Name, it.Description, it.Price, it.IsAvailable, it.SortOrder,
	).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// UpdateItem updates an item within the active tenant.
func (r *Repository) UpdateItem(ctx context.Context, it *Item) error {
	where, args, err := r.enforcer.Where(ctx, EntityItem, 6)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE menu_items
		SET name = $1, description = $2, price = $3, is_available = $4, sort_order = $5, updated_at = NOW()
		WHERE id = $6 AND %s`, where)

	result, err := r.db.ExecContext(ctx, query,
		append([]any{it.Name, it.Description, it.Price, it.IsAvailable, it.SortOrder, it.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", it.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteItem removes an item within the active tenant.
func (r *Repository) DeleteItem(ctx context.Context, id int64) error {
	where, args, err := r.enforcer.Where(ctx, EntityItem, 1)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM menu_items WHERE id = $1 AND %s`, where)

	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to delete item %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*Category, error) {
	var (
		c           Category
		description sql.NullString
	)
	if err := row.Scan(
		&c.ID, &c.CompanyID, &c.Name, &description, &c.SortOrder,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Description = description.String
	return &c, nil
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it          Item
		description sql.NullString
	)
	if err := row.Scan(
		&it.ID, &it.CategoryID, &it.Name, &description, &it.Price,
		&it.IsAvailable, &it.SortOrder, &it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return nil, err
	}
	it.Description = description.String
	return &it, nil
}
