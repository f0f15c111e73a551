package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/cadencectl/cadence/internal/metrics"
	"github.com/cadencectl/cadence/internal/server/httperr"
)

// Check results.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// DegradedError marks a check as degraded rather than unhealthy.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

// HealthManager runs registered checks for the aggregate endpoint and the
// liveness, readiness and startup probes.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = StatusTimeout
			continue
		}
		started := time.Now()
		err := checkers[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(started))
		var degraded *DegradedError
		switch {
		case err == nil:
			checks[name] = StatusHealthy
		case errors.As(err, &degraded):
			checks[name] = StatusDegraded
		default:
			checks[name] = StatusUnhealthy
		}
	}
	return checks
}

func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if status == StatusDegraded || status == StatusTimeout {
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.determineOverallStatus(checks)
	if status == StatusUnhealthy {
		envelope := httperr.NewServiceUnavailableError("aggregate health check failed")
		respondWithError(w, r, enrichHealthEnvelope(envelope, "", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// ProbeHandler returns a handler for a named probe (live, ready, startup)
// that runs every check within timeout.
func (hm *HealthManager) ProbeHandler(probe string, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		checks := hm.runHealthChecks(checkCtx)
		status := hm.determineOverallStatus(checks)
		if status == StatusUnhealthy {
			envelope := httperr.NewServiceUnavailableError(probe + " probe failed")
			respondWithError(w, r, enrichHealthEnvelope(envelope, probe, status, checks))
			return
		}

		writeJSON(w, http.StatusOK, ProbeResponse{
			Status:    status,
			Timestamp: time.Now().UTC(),
		})
	}
}

func enrichHealthEnvelope(envelope *gferrors.ErrorEnvelope, probe, status string, checks map[string]string) *gferrors.ErrorEnvelope {
	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	var unhealthy []string
	for name, result := range checks {
		if result != StatusHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"unhealthy_checks": unhealthy,
		})
	}
	return envelope
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

// CheckHealth calls f.
func (f CheckFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}
