package middleware

import (
	"context"
	"net/http"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"

	"github.com/cadencectl/cadence/internal/observability"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds caller-supplied IDs; longer ones are replaced.
const maxRequestIDLen = 64

type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
)

// RequestID keeps the caller's X-Request-ID or assigns a UUID, echoes it,
// and stores a server logger tagged with it for the handlers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		if base := observability.ServerLogger; base != nil {
			ctx = context.WithValue(ctx, loggerKey, base.WithFields(map[string]any{
				"request_id": id,
				"method":     r.Method,
				"path":       r.URL.Path,
			}))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID is empty outside a request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Logger returns the request's tagged logger. It is nil when the server
// logger was never initialized.
func Logger(ctx context.Context) *logging.Logger {
	if l, ok := ctx.Value(loggerKey).(*logging.Logger); ok {
		return l
	}
	return observability.ServerLogger
}
