package cache

import "fmt"

// Key builders for the context cache. Every cached value in the subsystem
// lives under one of these key shapes, so invalidation paths and cache
// writers always agree.

// TenantKey is the cache key for a tenant entity and its settings.
func TenantKey(tenantID int64) string {
	return fmt.Sprintf("tenant:%d", tenantID)
}

// PrincipalKey is the cache key for a principal entity and its preferences.
func PrincipalKey(principalID int64) string {
	return fmt.Sprintf("principal:%d", principalID)
}

// RolePermsKey is the cache key for the aggregated role and permission sets
// of a principal within a tenant.
func RolePermsKey(principalID, tenantID int64) string {
	return fmt.Sprintf("roles_perms:%d:%d", principalID, tenantID)
}
