package access

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order at startup. Each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		owner_id BIGINT,
		is_active BOOLEAN NOT NULL DEFAULT true,
		timezone VARCHAR(64),
		currency VARCHAR(8),
		language VARCHAR(8),
		settings JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		display_name VARCHAR(255),
		email VARCHAR(255) NOT NULL UNIQUE,
		company_id BIGINT REFERENCES companies(id) ON DELETE SET NULL,
		preferred_language VARCHAR(8),
		timezone VARCHAR(64),
		preferred_currency VARCHAR(8),
		is_active BOOLEAN NOT NULL DEFAULT true,
		preferences JSONB NOT NULL DEFAULT '{}',
		last_login_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS company_users (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE (company_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_company_users_user ON company_users(user_id, created_at, id)`,

	`CREATE TABLE IF NOT EXISTS roles (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		display_name VARCHAR(255),
		description TEXT,
		company_id BIGINT REFERENCES companies(id) ON DELETE CASCADE,
		is_system_role BOOLEAN NOT NULL DEFAULT false,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_name_scope
		ON roles(name, COALESCE(company_id, 0))`,

	`CREATE TABLE IF NOT EXISTS permissions (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(128) NOT NULL UNIQUE,
		display_name VARCHAR(255),
		module VARCHAR(64),
		action VARCHAR(64)
	)`,

	`CREATE TABLE IF NOT EXISTS role_permissions (
		role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		PRIMARY KEY (role_id, permission_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_roles (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		company_id BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
		assigned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP WITH TIME ZONE,
		assigned_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		settings JSONB NOT NULL DEFAULT '{}',
		UNIQUE (user_id, role_id, company_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_roles_lookup
		ON user_roles(user_id, company_id) WHERE is_active = true`,
	`CREATE INDEX IF NOT EXISTS idx_user_roles_expiry
		ON user_roles(expires_at) WHERE is_active = true AND expires_at IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS menu_categories (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		sort_order INT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_menu_categories_company ON menu_categories(company_id)`,

	`CREATE TABLE IF NOT EXISTS menu_items (
		id BIGSERIAL PRIMARY KEY,
		category_id BIGINT NOT NULL REFERENCES menu_categories(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		price NUMERIC(10,2) NOT NULL DEFAULT 0,
		is_available BOOLEAN NOT NULL DEFAULT true,
		sort_order INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_menu_items_category ON menu_items(category_id)`,
}

// Migrate applies the schema migrations
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
