package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/observability"
)

// unmatchedRoute labels requests no route claimed, so probes for random
// paths cannot grow label cardinality.
const unmatchedRoute = "unmatched"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// RouteLabel is the chi pattern the request matched. Query strings never
// reach it, so /events?category=quota and /events share one series.
func RouteLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// statusClass maps a status to the error_type label, or "" below 400.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "server_error"
	case code >= 400:
		return "client_error"
	}
	return ""
}

// RequestMetrics counts and times each request by method, route pattern
// and status, then logs it with the request's tagged logger.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		// The pattern is only complete once routing has run.
		route := RouteLabel(r)
		status := strconv.Itoa(rec.status)

		if sys := observability.TelemetrySystem; sys != nil {
			labels := map[string]string{"method": r.Method, "endpoint": route, "status": status}
			_ = sys.Counter("http_requests_total", 1, labels)
			_ = sys.Histogram("http_request_duration_ms", elapsed, labels)
			_ = sys.Gauge("http_response_size_bytes", float64(rec.bytes),
				map[string]string{"method": r.Method, "endpoint": route})
			if class := statusClass(rec.status); class != "" {
				_ = sys.Counter("http_errors_total", 1, map[string]string{
					"method":     r.Method,
					"endpoint":   route,
					"status":     status,
					"error_type": class,
				})
			}
		}

		if logger := Logger(r.Context()); logger != nil {
			logger.Debug("HTTP request completed",
				zap.String("endpoint", route),
				zap.String("query", r.URL.RawQuery),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
				zap.Int64("response_size", rec.bytes))
		}
	})
}
