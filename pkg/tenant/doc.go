// Package tenant resolves the active tenant ("company") for a request.
//
// Resolution walks a fixed priority chain: the principal's home tenant, a
// validated per-session choice, then the principal's oldest membership. The
// result is memoized for the lifetime of the request-scoped Resolver, so
// every consumer of a request observes the same tenant. Anonymous requests
// and principals without any tenant relationship resolve to no context, and
// all downstream data access fails closed in that state.
package tenant
