// Package accesstest provides an in-memory access.Store for tests. It
// mirrors the postgres store's semantics closely enough to exercise the
// resolvers: membership ordering, effective-grant filtering and merge-based
// settings writes all behave like the real thing.
package accesstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tablero/tablero/pkg/access"
)

// Grant pairs a role with the grant that assigns it, so tests can express
// expired and inactive grants directly.
type Grant struct {
	Role  access.Role
	Grant access.RoleGrant
}

// Store is a configurable in-memory access.Store.
type Store struct {
	mu sync.Mutex

	Principals  map[int64]*access.Principal
	Tenants     map[int64]*access.Tenant
	Memberships []access.Membership
	Grants      []Grant

	// Err, when set, is returned by every operation.
	Err error

	// Calls counts operations by name.
	Calls map[string]int
}

// NewStore creates an empty fake store.
func NewStore() *Store {
	return &Store{
		Principals: make(map[int64]*access.Principal),
		Tenants:    make(map[int64]*access.Tenant),
		Calls:      make(map[string]int),
	}
}

func (s *Store) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls[op]++
	return s.Err
}

// CallCount returns how many times the operation ran.
func (s *Store) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[op]
}

func (s *Store) GetPrincipal(_ context.Context, id int64) (*access.Principal, error) {
	if err := s.record("get_principal"); err != nil {
		return nil, err
	}
	p, ok := s.Principals[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *Store) GetTenant(_ context.Context, id int64) (*access.Tenant, error) {
	if err := s.record("get_tenant"); err != nil {
		return nil, err
	}
	t, ok := s.Tenants[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *Store) GetTenantBySlug(_ context.Context, slug string) (*access.Tenant, error) {
	if err := s.record("get_tenant_by_slug"); err != nil {
		return nil, err
	}
	for _, t := range s.Tenants {
		if t.Slug == slug {
			copied := *t
			return &copied, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *Store) ListMemberships(_ context.Context, principalID int64) ([]access.Membership, error) {
	if err := s.record("list_memberships"); err != nil {
		return nil, err
	}
	var memberships []access.Membership
	for _, m := range s.Memberships {
		if m.PrincipalID == principalID {
			memberships = append(memberships, m)
		}
	}
	sort.Slice(memberships, func(i, j int) bool {
		if !memberships[i].CreatedAt.Equal(memberships[j].CreatedAt) {
			return memberships[i].CreatedAt.Before(memberships[j].CreatedAt)
		}
		return memberships[i].ID < memberships[j].ID
	})
	return memberships, nil
}

func (s *Store) HasMembership(_ context.Context, principalID, tenantID int64) (bool, error) {
	if err := s.record("has_membership"); err != nil {
		return false, err
	}
	for _, m := range s.Memberships {
		if m.PrincipalID == principalID && m.TenantID == tenantID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListTenantsFor(ctx context.Context, principalID int64) ([]access.Tenant, error) {
	if err := s.record("list_tenants_for"); err != nil {
		return nil, err
	}
	memberships, err := s.ListMemberships(ctx, principalID)
	if err != nil {
		return nil, err
	}
	var tenants []access.Tenant
	for _, m := range memberships {
		if t, ok := s.Tenants[m.TenantID]; ok {
			tenants = append(tenants, *t)
		}
	}
	return tenants, nil
}

func (s *Store) ListEffectiveGrants(_ context.Context, principalID, tenantID int64, now time.Time) ([]access.Role, error) {
	if err := s.record("list_effective_grants"); err != nil {
		return nil, err
	}
	var roles []access.Role
	for _, g := range s.Grants {
		if g.Grant.PrincipalID != principalID || g.Grant.TenantID != tenantID {
			continue
		}
		if !g.Grant.Effective(now) || !g.Role.IsActive {
			continue
		}
		roles = append(roles, g.Role)
	}
	return roles, nil
}

func (s *Store) GetRoleByName(_ context.Context, name string, tenantID *int64) (*access.Role, error) {
	if err := s.record("get_role_by_name"); err != nil {
		return nil, err
	}
	for _, g := range s.Grants {
		if g.Role.Name != name {
			continue
		}
		if (g.Role.TenantID == nil) != (tenantID == nil) {
			continue
		}
		if tenantID != nil && *g.Role.TenantID != *tenantID {
			continue
		}
		role := g.Role
		return &role, nil
	}
	return nil, access.ErrNotFound
}

func (s *Store) UpdateTenantSettings(_ context.Context, tenantID int64, settings access.Settings) error {
	if err := s.record("update_tenant_settings"); err != nil {
		return err
	}
	t, ok := s.Tenants[tenantID]
	if !ok {
		return access.ErrNotFound
	}
	t.Settings = settings
	return nil
}

func (s *Store) UpdatePrincipalPreferences(_ context.Context, principalID int64, prefs access.Settings) error {
	if err := s.record("update_principal_preferences"); err != nil {
		return err
	}
	p, ok := s.Principals[principalID]
	if !ok {
		return access.ErrNotFound
	}
	p.Preferences = prefs
	return nil
}

func (s *Store) UpsertGrant(_ context.Context, grant *access.RoleGrant) error {
	if err := s.record("upsert_grant"); err != nil {
		return err
	}
	grant.IsActive = true
	for i := range s.Grants {
		existing := &s.Grants[i].Grant
		if existing.PrincipalID == grant.PrincipalID &&
			existing.RoleID == grant.RoleID &&
			existing.TenantID == grant.TenantID {
			grant.ID = existing.ID
			*existing = *grant
			return nil
		}
	}
	grant.ID = int64(len(s.Grants) + 1)
	s.Grants = append(s.Grants, Grant{Grant: *grant})
	return nil
}

func (s *Store) RevokeGrant(_ context.Context, principalID, roleID, tenantID int64) error {
	if err := s.record("revoke_grant"); err != nil {
		return err
	}
	for i := range s.Grants {
		g := &s.Grants[i].Grant
		if g.PrincipalID == principalID && g.RoleID == roleID && g.TenantID == tenantID {
			g.IsActive = false
			return nil
		}
	}
	return access.ErrNotFound
}

func (s *Store) DeactivateExpiredGrants(_ context.Context, now time.Time) ([]access.GrantKey, error) {
	if err := s.record("deactivate_expired_grants"); err != nil {
		return nil, err
	}
	var keys []access.GrantKey
	for i := range s.Grants {
		g := &s.Grants[i].Grant
		if g.IsActive && g.Expired(now) {
			g.IsActive = false
			keys = append(keys, access.GrantKey{PrincipalID: g.PrincipalID, TenantID: g.TenantID})
		}
	}
	return keys, nil
}

func (s *Store) Ping(_ context.Context) error {
	return s.record("ping")
}
