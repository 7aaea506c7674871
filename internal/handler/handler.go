package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/mimirlabs/runner/internal/interp"
	"github.com/mimirlabs/runner/internal/observability"
	"github.com/mimirlabs/runner/internal/session"
	"github.com/mimirlabs/runner/internal/supervisor"
	"github.com/mimirlabs/runner/internal/types"
)

// Handler contains the dependencies for HTTP handlers
type Handler struct {
	registry   *interp.Registry
	newSession func() *session.Session
	sup        *supervisor.Supervisor
	metrics    *observability.Metrics
	eagerInit  bool
	logger     *logrus.Logger
}

// NewHandler creates a new handler instance. newSession is the factory for
// per-connection and one-shot sessions.
func NewHandler(registry *interp.Registry, newSession func() *session.Session,
	sup *supervisor.Supervisor, metrics *observability.Metrics,
	eagerInit bool, logger *logrus.Logger) *Handler {

	return &Handler{
		registry:   registry,
		newSession: newSession,
		sup:        sup,
		metrics:    metrics,
		eagerInit:  eagerInit,
		logger:     logger,
	}
}

// GetVersion returns the API version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"message": "Mimir Runner v1.0.0",
	}

	h.sendJSON(w, response, http.StatusOK)
}

// GetRuntimes returns the available interpreter engines
func (h *Handler) GetRuntimes(w http.ResponseWriter, r *http.Request) {
	loaders := h.registry.Loaders()

	response := make([]types.RuntimeInfo, len(loaders))
	for i, l := range loaders {
		info := l.Info()
		version := "unknown"
		if info.Version != nil {
			version = info.Version.String()
		}
		response[i] = types.RuntimeInfo{
			Language: info.Language,
			Version:  version,
			Engine:   info.Engine,
		}
	}

	h.sendJSON(w, response, http.StatusOK)
}

// ExecuteCode executes one submission on a fresh session and returns the
// single result. Callers that need session reuse or interrupts hold a
// WebSocket instead.
func (h *Handler) ExecuteCode(w http.ResponseWriter, r *http.Request) {
	var request types.ExecuteRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&request); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.sendError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.sendError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}

	if request.Code == "" {
		h.sendError(w, "code is required as a string", http.StatusBadRequest)
		return
	}

	timeout, err := h.sup.ResolveTimeout(request.Timeout)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := h.newSession()
	h.metrics.SessionStarted()
	defer func() {
		// One-shot sessions are discarded whatever the outcome.
		sess.Terminate()
		h.metrics.SessionClosed()
	}()

	if _, err := sess.Init(r.Context()); err != nil {
		h.logger.WithError(err).Error("Interpreter environment failed to load")
		h.sendError(w, fmt.Sprintf("failed to initialize interpreter: %v", err), http.StatusInternalServerError)
		return
	}

	if err := sess.BeginRun(); err != nil {
		h.sendError(w, err.Error(), http.StatusConflict)
		return
	}

	result := h.sup.Run(sess, request.Code, timeout)
	h.sendJSON(w, result.Response(), http.StatusOK)
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, message string, statusCode int) {
	response := types.ErrorResponse{
		Message: message,
		Code:    statusCode,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// sendJSON sends a JSON response
func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
