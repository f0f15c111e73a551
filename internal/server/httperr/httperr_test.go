package httperr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/server/middleware"
)

func TestStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:       http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		CodeExternalService:    http.StatusBadGateway,
		"SOMETHING_ELSE":       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusFromCode(code), code)
	}
}

func TestRespondUsesRequestID(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Respond(w, r, NewNotFoundError("no such thing"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Equal(t, "req-42", body.Error.RequestID)
}

func TestRespondWrapsPlainErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	Respond(rec, req, errors.New("disk on fire"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.Equal(t, "disk on fire", body.Error.Details["wrapped_error"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestWrap(t *testing.T) {
	env := Wrap(context.Background(), CodeDatabase, errors.New("locked"), "query failed")
	assert.Equal(t, CodeDatabase, env.Code)
	assert.Equal(t, "locked", env.Context["wrapped_error"])
	assert.NotEmpty(t, env.CorrelationID)
}
