package server

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

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/engine"
	"github.com/cadencectl/cadence/internal/output"
	"github.com/cadencectl/cadence/internal/server/handlers"
	"github.com/cadencectl/cadence/internal/server/httperr"
)

var errNoLog = errors.New("no event log")

type stubView struct{}

func (stubView) Status(context.Context) (*output.StatusReport, error) {
	return &output.StatusReport{Quota: core.QuotaProgress{Count: 3, EffectiveLimit: 40}}, nil
}

func (stubView) Window(now time.Time) output.WindowReport {
	return output.WindowReport{Now: now, Timezone: "UTC", Active: true}
}

func (stubView) RiskExport() engine.RiskExport {
	return engine.RiskExport{Health: core.HealthStatus{Status: core.HealthHealthy, Score: 100}}
}

func (stubView) Events(context.Context, string, time.Time, int) ([]core.ControlRecord, error) {
	return nil, errNoLog
}

func newTestServer(view handlers.ControlView) *Server {
	return New(config.ServerConfig{Host: "127.0.0.1"}, Options{View: view, NoEventLog: errNoLog})
}

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(nil)

	rec := serve(t, srv, http.MethodGet, "/does-not-exist")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body httperr.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, httperr.CodeNotFound, body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv := newTestServer(stubView{})

	rec := serve(t, srv, http.MethodPost, "/status")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body httperr.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, httperr.CodeMethodNotAllowed, body.Error.Code)
}

func TestServerMountsControlRoutes(t *testing.T) {
	srv := newTestServer(stubView{})

	rec := serve(t, srv, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var report output.StatusReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 3, report.Quota.Count)

	assert.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/window").Code)
	assert.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/risk").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, srv, http.MethodGet, "/events").Code)
}

func TestServerWithoutViewSkipsControlRoutes(t *testing.T) {
	srv := newTestServer(nil)

	assert.Equal(t, http.StatusNotFound, serve(t, srv, http.MethodGet, "/status").Code)
	assert.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/health/live").Code)
	assert.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/version").Code)
}

func TestServerReadinessReflectsCheckers(t *testing.T) {
	hm := handlers.NewHealthManager("test")
	hm.RegisterChecker("store", handlers.CheckFunc(func(context.Context) error {
		return errors.New("locked")
	}))
	srv := New(config.ServerConfig{}, Options{Health: hm})

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, srv, http.MethodGet, "/health/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, srv, http.MethodGet, "/health").Code)
}

func TestServerRecoversFromPanics(t *testing.T) {
	srv := newTestServer(nil)
	srv.router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := serve(t, srv, http.MethodGet, "/boom")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := newTestServer(nil)
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.Zero(t, srv.Uptime())
}

func TestAdminSignalEndpointNeedsToken(t *testing.T) {
	rec := serve(t, newTestServer(nil), http.MethodPost, "/admin/signal")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv := New(config.ServerConfig{AdminToken: "secret"}, Options{})
	rec = serve(t, srv, http.MethodPost, "/admin/signal")
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
	assert.NotEqual(t, http.StatusOK, rec.Code, "unauthenticated requests are rejected")
}
