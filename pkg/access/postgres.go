package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tablero/tablero/pkg/observability"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPostgresStore creates a postgres-backed access store. metrics may be nil.
func NewPostgresStore(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *PostgresStore {
	return &PostgresStore{
		db:      db,
		logger:  logger.WithField("component", "access_store"),
		metrics: metrics,
	}
}

// observe records operation metrics when a metrics registry is wired.
func (s *PostgresStore) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(op).Inc()
	s.metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && err != sql.ErrNoRows {
		s.metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

// GetPrincipal returns a principal by id
func (s *PostgresStore) GetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	start := time.Now()

	query := `
		SELECT id, name, display_name, email, company_id, preferred_language,
		       timezone, preferred_currency, is_active, preferences,
		       last_login_at, created_at, updated_at
		FROM users
		WHERE id = $1`

	var (
		p           Principal
		displayName sql.NullString
		homeTenant  sql.NullInt64
		language    sql.NullString
		timezone    sql.NullString
		currency    sql.NullString
		prefsJSON   []byte
		lastLogin   sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &displayName, &p.Email, &homeTenant, &language,
		&timezone, &currency, &p.IsActive, &prefsJSON,
		&lastLogin, &p.CreatedAt, &p.UpdatedAt,
	)
	s.observe("get_principal", start, err)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal %d: %w", id, err)
	}

	p.DisplayName = displayName.String
	if homeTenant.Valid {
		p.HomeTenantID = &homeTenant.Int64
	}
	p.Language = language.String
	p.Timezone = timezone.String
	p.Currency = currency.String
	if lastLogin.Valid {
		p.LastLoginAt = &lastLogin.Time
	}
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &p.Preferences); err != nil {
			return nil, fmt.Errorf("failed to decode preferences for principal %d: %w", id, err)
		}
	}

	return &p, nil
}

// GetTenant returns a tenant by id
func (s *PostgresStore) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	query := `
		SELECT id, name, slug, owner_id, is_active, timezone, currency,
		       language, settings, created_at, updated_at
		FROM companies
		WHERE id = $1`

	return s.scanTenant(ctx, "get_tenant", query, id)
}

// GetTenantBySlug returns a tenant by slug
func (s *PostgresStore) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	query := `
		SELECT id, name, slug, owner_id, is_active, timezone, currency,
		       language, settings, created_at, updated_at
		FROM companies
		WHERE slug = $1`

	return s.scanTenant(ctx, "get_tenant_by_slug", query, slug)
}

func (s *PostgresStore) scanTenant(ctx context.Context, op, query string, arg any) (*Tenant, error) {
	start := time.Now()

	var (
		t            Tenant
		ownerID      sql.NullInt64
		timezone     sql.NullString
		currency     sql.NullString
		language     sql.NullString
		settingsJSON []byte
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.Name, &t.Slug, &ownerID, &t.IsActive, &timezone,
		&currency, &language, &settingsJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	s.observe(op, start, err)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if ownerID.Valid {
		t.OwnerID = &ownerID.Int64
	}
	t.Timezone = timezone.String
	t.Currency = currency.String
	t.Language = language.String
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &t.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings for tenant %d: %w", t.ID, err)
		}
	}

	return &t, nil
}

// ListMemberships returns memberships ordered by creation time, then id.
// The ordering makes the "first membership" fallback deterministic.
func (s *PostgresStore) ListMemberships(ctx context.Context, principalID int64) ([]Membership, error) {
	start := time.Now()

	query := `
		SELECT id, company_id, user_id, created_at
		FROM company_users
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, principalID)
	s.observe("list_memberships", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships for principal %d: %w", principalID, err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.TenantID, &m.PrincipalID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// HasMembership reports whether the principal belongs to the tenant
func (s *PostgresStore) HasMembership(ctx context.Context, principalID, tenantID int64) (bool, error) {
	start := time.Now()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM company_users
			WHERE user_id = $1 AND company_id = $2
		)`

	var exists bool
	err := s.db.QueryRowContext(ctx, query, principalID, tenantID).Scan(&exists)
	s.observe("has_membership", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return exists, nil
}

// ListTenantsFor returns the tenants the principal is a member of
func (s *PostgresStore) ListTenantsFor(ctx context.Context, principalID int64) ([]Tenant, error) {
	start := time.Now()

	query := `
		SELECT c.id, c.name, c.slug, c.owner_id, c.is_active, c.timezone,
		       c.currency, c.language, c.settings, c.created_at, c.updated_at
		FROM companies c
		JOIN company_users cu ON cu.company_id = c.id
		WHERE cu.user_id = $1
		ORDER BY cu.created_at ASC, cu.id ASC`

	rows, err := s.db.QueryContext(ctx, query, principalID)
	s.observe("list_tenants_for", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants for principal %d: %w", principalID, err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var (
			t            Tenant
			ownerID      sql.NullInt64
			timezone     sql.NullString
			currency     sql.NullString
			language     sql.NullString
			settingsJSON []byte
		)
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Slug, &ownerID, &t.IsActive, &timezone,
			&currency, &language, &settingsJSON, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if ownerID.Valid {
			t.OwnerID = &ownerID.Int64
		}
		t.Timezone = timezone.String
		t.Currency = currency.String
		t.Language = language.String
		if len(settingsJSON) > 0 {
			if err := json.Unmarshal(settingsJSON, &t.Settings); err != nil {
				return nil, fmt.Errorf("failed to decode settings for tenant %d: %w", t.ID, err)
			}
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

// ListEffectiveGrants returns roles effective for the principal within the
// tenant at the given time, permissions included. Grants that are inactive
// or expired contribute nothing.
func (s *PostgresStore) ListEffectiveGrants(ctx context.Context, principalID, tenantID int64, now time.Time) ([]Role, error) {
	start := time.Now()

	query := `
		SELECT r.id, r.name, r.display_name, r.description, r.company_id,
		       r.is_system_role, r.is_active, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		  AND ur.company_id = $2
		  AND ur.is_active = true
		  AND (ur.expires_at IS NULL OR ur.expires_at > $3)
		  AND r.is_active = true
		ORDER BY r.id ASC`

	rows, err := s.db.QueryContext(ctx, query, principalID, tenantID, now)
	s.observe("list_effective_grants", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list effective grants: %w", err)
	}
	defer rows.Close()

	var roles []Role
	roleIDs := make([]int64, 0, 4)
	for rows.Next() {
		var (
			r           Role
			displayName sql.NullString
			description sql.NullString
			roleTenant  sql.NullInt64
		)
		if err := rows.Scan(
			&r.ID, &r.Name, &displayName, &description, &roleTenant,
			&r.IsSystemRole, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		r.DisplayName = displayName.String
		r.Description = description.String
		if roleTenant.Valid {
			r.TenantID = &roleTenant.Int64
		}
		roles = append(roles, r)
		roleIDs = append(roleIDs, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return roles, nil
	}

	perms, err := s.listRolePermissions(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = perms[roles[i].ID]
	}

	return roles, nil
}

// listRolePermissions loads permissions for a set of roles in one query
func (s *PostgresStore) listRolePermissions(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error) {
	start := time.Now()

	query := `
		SELECT rp.role_id, p.id, p.name, p.display_name, p.module, p.action
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ANY($1)
		ORDER BY p.name ASC`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(roleIDs))
	s.observe("list_role_permissions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	perms := make(map[int64][]Permission)
	for rows.Next() {
		var (
			roleID      int64
			p           Permission
			displayName sql.NullString
			module      sql.NullString
			action      sql.NullString
		)
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &displayName, &module, &action); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.DisplayName = displayName.String
		p.Module = module.String
		p.Action = action.String
		perms[roleID] = append(perms[roleID], p)
	}

	return perms, rows.Err()
}

// GetRoleByName returns a role by name within a tenant scope, permissions
// included. A nil tenantID matches global roles only.
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string, tenantID *int64) (*Role, error) {
	start := time.Now()

	query := `
		SELECT id, name, display_name, description, company_id,
		       is_system_role, is_active, created_at, updated_at
		FROM roles
		WHERE name = $1 AND company_id IS NOT DISTINCT FROM $2`

	var (
		r           Role
		displayName sql.NullString
		description sql.NullString
		roleTenant  sql.NullInt64
		arg         sql.NullInt64
	)
	if tenantID != nil {
		arg = sql.NullInt64{Int64: *tenantID, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query, name, arg).Scan(
		&r.ID, &r.Name, &displayName, &description, &roleTenant,
		&r.IsSystemRole, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
	s.observe("get_role_by_name", start, err)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %q: %w", name, err)
	}

	r.DisplayName = displayName.String
	r.Description = description.String
	if roleTenant.Valid {
		r.TenantID = &roleTenant.Int64
	}

	perms, err := s.listRolePermissions(ctx, []int64{r.ID})
	if err != nil {
		return nil, err
	}
	r.Permissions = perms[r.ID]

	return &r, nil
}

// UpdateTenantSettings replaces the tenant's settings document
func (s *PostgresStore) UpdateTenantSettings(ctx context.Context, tenantID int64, settings Settings) error {
	start := time.Now()

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	query := `
		UPDATE companies
		SET settings = $1, updated_at = NOW()
		WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, data, tenantID)
	s.observe("update_tenant_settings", start, err)
	if err != nil {
		return fmt.Errorf("failed to update settings for tenant %d: %w", tenantID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdatePrincipalPreferences replaces the principal's preferences document
func (s *PostgresStore) UpdatePrincipalPreferences(ctx context.Context, principalID int64, prefs Settings) error {
	start := time.Now()

	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	query := `
		UPDATE users
		SET preferences = $1, updated_at = NOW()
		WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, data, principalID)
	s.observe("update_principal_preferences", start, err)
	if err != nil {
		return fmt.Errorf("failed to update preferences for principal %d: %w", principalID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// UpsertGrant creates or reactivates the grant for the tuple
func (s *PostgresStore) UpsertGrant(ctx context.Context, grant *RoleGrant) error {
	start := time.Now()

	settingsJSON, err := json.Marshal(grant.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode grant settings: %w", err)
	}

	var expiresAt sql.NullTime
	if grant.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *grant.ExpiresAt, Valid: true}
	}
	var assignedBy sql.NullInt64
	if grant.AssignedBy != nil {
		assignedBy = sql.NullInt64{Int64: *grant.AssignedBy, Valid: true}
	}

	query := `
		INSERT INTO user_roles (user_id, role_id, company_id, assigned_at, expires_at, assigned_by, is_active, settings)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		ON CONFLICT (user_id, role_id, company_id)
		DO UPDATE SET assigned_at = EXCLUDED.assigned_at,
		              expires_at = EXCLUDED.expires_at,
		              assigned_by = EXCLUDED.assigned_by,
		              is_active = true,
		              settings = EXCLUDED.settings
		RETURNING id`

	err = s.db.QueryRowContext(ctx, query,
		grant.PrincipalID, grant.RoleID, grant.TenantID,
		grant.AssignedAt, expiresAt, assignedBy, settingsJSON,
	).Scan(&grant.ID)
	s.observe("upsert_grant", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}

	grant.IsActive = true
	return nil
}

// RevokeGrant deactivates the grant for the tuple
func (s *PostgresStore) RevokeGrant(ctx context.Context, principalID, roleID, tenantID int64) error {
	start := time.Now()

	query := `
		UPDATE user_roles
		SET is_active = false
		WHERE user_id = $1 AND role_id = $2 AND company_id = $3`

	result, err := s.db.ExecContext(ctx, query, principalID, roleID, tenantID)
	s.observe("revoke_grant", start, err)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeactivateExpiredGrants flips is_active off for expired grants and returns
// the affected (principal, tenant) pairs
func (s *PostgresStore) DeactivateExpiredGrants(ctx context.Context, now time.Time) ([]GrantKey, error) {
	start := time.Now()

	query := `
		UPDATE user_roles
		SET is_active = false
		WHERE is_active = true
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		RETURNING user_id, company_id`

	rows, err := s.db.QueryContext(ctx, query, now)
	s.observe("deactivate_expired_grants", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate expired grants: %w", err)
	}
	defer rows.Close()

	var keys []GrantKey
	for rows.Next() {
		var k GrantKey
		if err := rows.Scan(&k.PrincipalID, &k.TenantID); err != nil {
			return nil, fmt.Errorf("failed to scan expired grant: %w", err)
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// Ping verifies database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
