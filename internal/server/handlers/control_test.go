package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/engine"
	"github.com/cadencectl/cadence/internal/output"
	"github.com/cadencectl/cadence/internal/server/httperr"
	"github.com/cadencectl/cadence/internal/server/middleware"
)

var errNoLog = errors.New("no event log")

type fakeView struct {
	statusErr error
	eventsErr error
	health    core.HealthLevel

	gotCategory string
	gotSince    time.Time
	gotLimit    int
}

func (f *fakeView) Status(context.Context) (*output.StatusReport, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &output.StatusReport{
		Quota:   core.QuotaProgress{Date: "2025-01-06", Count: 3, EffectiveLimit: 50},
		Session: core.SessionState{SessionID: "sess-1"},
	}, nil
}

func (f *fakeView) Window(now time.Time) output.WindowReport {
	return output.WindowReport{Now: now, Active: true, Timezone: "UTC"}
}

func (f *fakeView) RiskExport() engine.RiskExport {
	return engine.RiskExport{Health: core.HealthStatus{Score: 70, Status: f.health}}
}

func (f *fakeView) Events(_ context.Context, category string, since time.Time, limit int) ([]core.ControlRecord, error) {
	f.gotCategory, f.gotSince, f.gotLimit = category, since, limit
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return nil, nil
}

func serve(t *testing.T, handler http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStatusHandler(t *testing.T) {
	h := &ControlHandlers{View: &fakeView{}}
	rec := serve(t, h.StatusHandler, "/status")

	require.Equal(t, http.StatusOK, rec.Code)
	var report output.StatusReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 3, report.Quota.Count)
	assert.Equal(t, "sess-1", report.Session.SessionID)

	h = &ControlHandlers{View: &fakeView{statusErr: errors.New("locked")}}
	rec = serve(t, h.StatusHandler, "/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEventsHandlerQuery(t *testing.T) {
	view := &fakeView{}
	h := &ControlHandlers{View: view, NoEventLog: errNoLog}

	rec := serve(t, h.EventsHandler, "/events?category=skip&since=2025-01-06T00:00:00Z&limit=9999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
	assert.Equal(t, "skip", view.gotCategory)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), view.gotSince.UTC())
	assert.Equal(t, maxEventLimit, view.gotLimit)

	rec = serve(t, h.EventsHandler, "/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, view.gotLimit)
}

func TestEventsHandlerErrors(t *testing.T) {
	h := &ControlHandlers{View: &fakeView{}, NoEventLog: errNoLog}
	assert.Equal(t, http.StatusBadRequest, serve(t, h.EventsHandler, "/events?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h.EventsHandler, "/events?since=yesterday").Code)

	h = &ControlHandlers{View: &fakeView{eventsErr: errNoLog}, NoEventLog: errNoLog}
	assert.Equal(t, http.StatusNotFound, serve(t, h.EventsHandler, "/events").Code)
}

func TestControlFailureCarriesRequestID(t *testing.T) {
	h := &ControlHandlers{View: &fakeView{statusErr: errors.New("database is locked")}}
	handler := middleware.RequestID(http.HandlerFunc(h.StatusHandler))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(middleware.RequestIDHeader, "dash-9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "dash-9", rec.Header().Get(middleware.RequestIDHeader))
	var body httperr.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "dash-9", body.Error.RequestID)
}

func TestRiskAndWindowHandlers(t *testing.T) {
	h := &ControlHandlers{View: &fakeView{health: core.HealthWarning}}

	rec := serve(t, h.RiskHandler, "/risk")
	require.Equal(t, http.StatusOK, rec.Code)
	var export engine.RiskExport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&export))
	assert.Equal(t, 70, export.Health.Score)

	rec = serve(t, h.WindowHandler, "/window")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":true`)
}

func TestRiskChecker(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, RiskChecker{View: &fakeView{health: core.HealthHealthy}}.CheckHealth(ctx))

	var degraded *DegradedError
	assert.ErrorAs(t, RiskChecker{View: &fakeView{health: core.HealthWarning}}.CheckHealth(ctx), &degraded)
	assert.Error(t, RiskChecker{View: &fakeView{health: core.HealthCritical}}.CheckHealth(ctx))
}
