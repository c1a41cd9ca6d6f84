package observability

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDMiddleware assigns every request a UUID (or adopts the caller's
// X-Request-ID) and makes it available through the context and the response
// headers.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs one line per request with method, path, status and
// duration, and stores the request-tagged logger in the context for
// handlers.
func LoggingMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			requestLogger := logger
			if requestID := GetRequestID(r.Context()); requestID != "" {
				requestLogger = logger.WithField("request_id", requestID)
			}
			ctx := WithLogger(r.Context(), requestLogger)

			next.ServeHTTP(rec, r.WithContext(ctx))

			requestLogger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
