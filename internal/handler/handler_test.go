package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirlabs/runner/internal/interp"
	"github.com/mimirlabs/runner/internal/interp/interptest"
	"github.com/mimirlabs/runner/internal/session"
	"github.com/mimirlabs/runner/internal/supervisor"
	"github.com/mimirlabs/runner/internal/types"
)

func newTestHandler(t *testing.T, scripts ...interptest.Script) (*Handler, *interptest.Fake) {
	t.Helper()

	fake := interptest.NewFake(scripts...)
	loader := interptest.NewLoader(fake)

	registry := interp.NewRegistry()
	registry.Register(loader)

	sup := supervisor.New(30*time.Second, 5*time.Minute, nil)
	newSession := func() *session.Session {
		return session.New(loader, 0)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewHandler(registry, newSession, sup, nil, false, logger), fake
}

func TestGetVersion(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.GetVersion(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Mimir Runner")
}

func TestGetRuntimes(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runtimes", nil)
	w := httptest.NewRecorder()
	h.GetRuntimes(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var runtimes []types.RuntimeInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runtimes))
	require.Len(t, runtimes, 1)
	assert.Equal(t, "python", runtimes[0].Language)
	assert.Equal(t, "3.12.0", runtimes[0].Version)
	assert.Equal(t, "fake", runtimes[0].Engine)
}

func TestExecuteCode(t *testing.T) {
	h, fake := newTestHandler(t, interptest.Script{Stdout: "hi\n"})

	body := `{"code": "print('hi')"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ExecuteCode(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp types.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, types.ResponseSuccess, resp.Type)
	assert.Equal(t, "hi\n", resp.Output)
	assert.Greater(t, resp.ExecutionTime, 0.0)

	// One-shot sessions do not outlive their request.
	require.Eventually(t, fake.Closed, time.Second, 10*time.Millisecond)
}

func TestExecuteCodeGuestError(t *testing.T) {
	h, _ := newTestHandler(t, interptest.Script{
		Stdout: "before\n",
		Err:    errors.New("NameError: name 'x' is not defined"),
	})

	body := `{"code": "print('before'); x"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ExecuteCode(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp types.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, types.ResponseError, resp.Type)
	assert.Contains(t, resp.Output, "before")
	assert.Contains(t, resp.Error, "NameError")
}

func TestExecuteCodeRejectsInvalidJSON(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ExecuteCode(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteCodeRejectsMissingCode(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ExecuteCode(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "code is required")
}

func TestExecuteCodeRejectsBadTimeout(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute",
		strings.NewReader(`{"code": "x", "timeout": -1}`))
	w := httptest.NewRecorder()
	h.ExecuteCode(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "positive")
}

func TestExecuteCodeRejectsOversizedBody(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"code": "` + strings.Repeat("a", 64) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(body))
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 16)
	w := httptest.NewRecorder()
	h.ExecuteCode(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestExecuteCodeInitFailure(t *testing.T) {
	fake := interptest.NewFake()
	loader := interptest.NewLoader(fake)
	loader.FailWith(errors.New("pyodide bundle missing"))

	registry := interp.NewRegistry()
	registry.Register(loader)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := NewHandler(registry, func() *session.Session {
		return session.New(loader, 0)
	}, supervisor.New(30*time.Second, 0, nil), nil, false, logger)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(`{"code": "x"}`))
	w := httptest.NewRecorder()
	h.ExecuteCode(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to initialize interpreter")
}
