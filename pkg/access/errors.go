package access

import "errors"

var (
	// ErrNotFound is returned when a principal, tenant, role or grant does
	// not exist. Resolvers treat it as absence, not as a failure.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable wraps store connectivity failures. Anything wrapping it
	// is an infrastructure fault, not an authorization decision.
	ErrUnavailable = errors.New("access store unavailable")
)
