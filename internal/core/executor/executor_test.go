package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/core"
)

func TestNewSelectsExecutor(t *testing.T) {
	exec, sub, err := New(config.ExecutorConfig{Kind: config.ExecutorDryRun}, nil)
	require.NoError(t, err)
	assert.IsType(t, DryRun{}, exec)
	assert.IsType(t, DryRun{}, sub)

	exec, _, err = New(config.ExecutorConfig{Kind: config.ExecutorWebhook, URL: "http://127.0.0.1:1/act", Timeout: time.Second}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Webhook{}, exec)

	_, _, err = New(config.ExecutorConfig{Kind: config.ExecutorWebhook}, nil)
	require.Error(t, err)

	_, _, err = New(config.ExecutorConfig{Kind: "carrier-pigeon"}, nil)
	require.Error(t, err)
}

func TestDryRun(t *testing.T) {
	outcome, err := DryRun{}.Perform(context.Background(), core.Target{ID: "job-1"})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	require.NoError(t, DryRun{}.Substitute(context.Background(), core.Target{ID: "job-1"}))
}

func TestWebhookSuccess(t *testing.T) {
	var got Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hook := &Webhook{URL: server.URL, Client: server.Client(), Headers: map[string]string{"X-Token": "secret"}}
	outcome, err := hook.Perform(context.Background(), core.Target{ID: "job-1", URL: "https://jobs.test/1"})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, ActionPerform, got.Action)
	assert.Equal(t, "job-1", got.Target.ID)
}

func TestWebhookOutcomeBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "error_kind": "form_rejected", "detail": "missing field"}`))
	}))
	defer server.Close()

	hook := &Webhook{URL: server.URL, Client: server.Client()}
	outcome, err := hook.Perform(context.Background(), core.Target{ID: "job-1"})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, "form_rejected", outcome.ErrorKind)
	assert.Equal(t, "missing field", outcome.Detail)
}

func TestWebhookRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	hook := &Webhook{URL: server.URL, Client: server.Client()}
	outcome, err := hook.Perform(context.Background(), core.Target{ID: "job-1"})
	require.NoError(t, err)
	assert.True(t, outcome.RateLimited)
	assert.False(t, outcome.Success)
	assert.Equal(t, 2*time.Minute, outcome.RetryAfter)
}

func TestWebhookServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	hook := &Webhook{URL: server.URL, Client: server.Client()}
	outcome, err := hook.Perform(context.Background(), core.Target{ID: "job-1"})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, "http_502", outcome.ErrorKind)
}

func TestWebhookNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	hook := &Webhook{URL: url, Client: &http.Client{Timeout: time.Second}}
	outcome, err := hook.Perform(context.Background(), core.Target{ID: "job-1"})
	require.Error(t, err)
	assert.Equal(t, "network", outcome.ErrorKind)
}

func TestWebhookSubstitute(t *testing.T) {
	var action string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		action = p.Action
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	hook := &Webhook{URL: server.URL, SubstituteURL: server.URL + "/save", Client: server.Client()}
	require.NoError(t, hook.Substitute(context.Background(), core.Target{ID: "job-1"}))
	assert.Equal(t, ActionSubstitute, action)

	require.NoError(t, (&Webhook{}).Substitute(context.Background(), core.Target{ID: "job-1"}))
}

func TestRetryAfterHeader(t *testing.T) {
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	resp := &http.Response{Header: http.Header{}}

	wait, raw := retryAfterHeader(resp, now)
	assert.Zero(t, wait)
	assert.Empty(t, raw)

	resp.Header.Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
	wait, _ = retryAfterHeader(resp, now)
	assert.Equal(t, 90*time.Second, wait)

	resp.Header.Set("Retry-After", "soon")
	wait, raw = retryAfterHeader(resp, now)
	assert.Zero(t, wait)
	assert.Equal(t, "soon", raw)
}
