// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalIDKey contains the authenticated principal id (int64)
	// Set by: authn.Middleware after token validation
	// Required by: authz.ContextMiddleware, identity.Resolver
	PrincipalIDKey Key = "principal_id"

	// SessionIDKey contains the opaque session id string
	// Set by: authn.Middleware (from the token's session claim)
	// Used by: tenant.Resolver to persist the chosen tenant across requests
	SessionIDKey Key = "session_id"

	// IdentityKey contains *identity.Resolver for the current request
	// Set by: authz.ContextMiddleware
	// Required by: protected handlers, authz gate wrappers
	IdentityKey Key = "identity_resolver"

	// TenantKey contains *tenant.Resolver for the current request
	// Set by: authz.ContextMiddleware
	// Required by: scope-aware repositories, tenant handlers
	TenantKey Key = "tenant_resolver"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware
	// Used by: logger, tracing
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	// Used by: handlers that need structured logging with request context
	LoggerKey Key = "logger"
)
