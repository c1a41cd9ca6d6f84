// Package identity resolves the authenticated principal ("user") for a
// request, together with the roles and permissions they hold inside the
// active tenant.
//
// Roles and permissions are always tenant-relative: the same principal may
// be an admin in one company and a read-only viewer in another. The
// aggregation is the union over the principal's effective role grants in
// the active tenant, where a grant counts only while it is active and not
// expired. Aggregations are cached per (principal, tenant) pair with a
// shorter TTL than entities, and every grant mutation drops the affected
// key.
package identity
