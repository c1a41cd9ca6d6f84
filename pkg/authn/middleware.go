package authn

import (
	"context"
	"net/http"
	"strings"

	"github.com/tablero/tablero/pkg/contextkeys"
	"github.com/tablero/tablero/pkg/observability"
)

// Middleware extracts and validates the bearer token, storing the principal
// and session ids in the request context. Requests without a token pass
// through anonymously; requests with a bad token are rejected outright so a
// broken client sees 401 instead of silently losing its identity.
func Middleware(verifier *Verifier, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, "malformed authorization header", http.StatusUnauthorized)
				return
			}

			principalID, sessionID, err := verifier.Verify(tokenString)
			if err != nil {
				logger.WithError(err).Debug("Rejected bearer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.PrincipalIDKey, principalID)
			if sessionID != "" {
				ctx = context.WithValue(ctx, contextkeys.SessionIDKey, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
