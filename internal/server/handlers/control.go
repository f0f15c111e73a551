package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/engine"
	"github.com/cadencectl/cadence/internal/output"
	"github.com/cadencectl/cadence/internal/server/httperr"
	"github.com/cadencectl/cadence/internal/server/middleware"
)

// ControlView is the read-only view of the control plane the status
// endpoints expose.
type ControlView interface {
	Status(ctx context.Context) (*output.StatusReport, error)
	Window(now time.Time) output.WindowReport
	RiskExport() engine.RiskExport
	Events(ctx context.Context, category string, since time.Time, limit int) ([]core.ControlRecord, error)
}

// maxEventLimit caps /events page size.
const maxEventLimit = 500

// ControlHandlers serves the control plane endpoints. NoEventLog is the
// error View.Events returns when the backend keeps no history; it maps to
// 404 rather than 500.
type ControlHandlers struct {
	View       ControlView
	NoEventLog error
}

// StatusHandler returns quota, session, window and health.
func (h *ControlHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.View.Status(r.Context())
	if err != nil {
		logFailure(r, "status", err)
		respondWithError(w, r, httperr.Wrap(r.Context(), httperr.CodeDatabase, err, "status unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// WindowHandler returns the activity window state now.
func (h *ControlHandlers) WindowHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.View.Window(time.Now()))
}

// RiskHandler dumps the risk monitor.
func (h *ControlHandlers) RiskHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.View.RiskExport())
}

// EventsHandler lists control records. Query parameters: category,
// since (RFC3339), limit.
func (h *ControlHandlers) EventsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 50
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, r, httperr.Wrap(r.Context(), httperr.CodeInvalidInput, err, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxEventLimit)
	}

	var since time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, r, httperr.Wrap(r.Context(), httperr.CodeInvalidInput, err, "since must be RFC3339"))
			return
		}
		since = parsed
	}

	category := query.Get("category")
	records, err := h.View.Events(r.Context(), category, since, limit)
	if err != nil {
		logFailure(r, "events", err, zap.String("category", category))
		if h.NoEventLog != nil && errors.Is(err, h.NoEventLog) {
			respondWithError(w, r, httperr.Wrap(r.Context(), httperr.CodeNotFound, err, "event log not available"))
			return
		}
		respondWithError(w, r, httperr.Wrap(r.Context(), httperr.CodeDatabase, err, "events unavailable"))
		return
	}
	if records == nil {
		records = []core.ControlRecord{}
	}
	if logger := middleware.Logger(r.Context()); logger != nil {
		logger.Debug("events listed",
			zap.String("category", category),
			zap.Time("since", since),
			zap.Int("limit", limit),
			zap.Int("returned", len(records)))
	}
	writeJSON(w, http.StatusOK, records)
}

// logFailure logs a backend failure with the request's ID so it can be
// matched to the error body the caller received.
func logFailure(r *http.Request, view string, err error, fields ...zap.Field) {
	logger := middleware.Logger(r.Context())
	if logger == nil {
		return
	}
	logger.Warn("control view failed", append([]zap.Field{zap.String("view", view), zap.Error(err)}, fields...)...)
}

// RiskChecker reports the risk monitor as a health check: critical is
// unhealthy, warning is degraded.
type RiskChecker struct {
	View ControlView
}

// CheckHealth maps the health level.
func (c RiskChecker) CheckHealth(context.Context) error {
	health := c.View.RiskExport().Health
	switch health.Status {
	case core.HealthCritical:
		return errors.New("risk health critical")
	case core.HealthWarning:
		return &DegradedError{Reason: "risk health warning"}
	}
	return nil
}
