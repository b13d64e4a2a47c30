// Package handler provides HTTP request handlers for the items API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/model"
)

// Version is the application version.
const Version = "1.0.0"

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status string `json:"status"`
}

// Publisher receives an event after every successful store mutation.
type Publisher interface {
	Publish(event model.ItemEvent)
}

// ProbeHandler serves liveness and readiness probes.
type ProbeHandler struct {
	ready  func() bool
	logger *zap.Logger
}

// NewProbeHandler creates a ProbeHandler. A nil ready func reports ready.
func NewProbeHandler(ready func() bool, logger *zap.Logger) *ProbeHandler {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &ProbeHandler{
		ready:  ready,
		logger: logger,
	}
}

// RegisterRoutes registers the probe routes with the router.
func (h *ProbeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.ReadyCheck).Methods(http.MethodGet)
}

// HealthCheck handles GET /health requests.
func (h *ProbeHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
	}, h.logger)
}

// ReadyCheck handles GET /ready requests.
func (h *ProbeHandler) ReadyCheck(w http.ResponseWriter, _ *http.Request) {
	if !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready"}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready"}, h.logger)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string, logger *zap.Logger) {
	writeJSON(w, status, model.ErrorResponse{
		Code:    status,
		Message: message,
	}, logger)
}

// NotFound returns a handler that answers unmatched routes with a JSON 404.
func NotFound(logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", logger)
	})
}

// MethodNotAllowed returns a handler that answers known routes requested
// with an unsupported method.
func MethodNotAllowed(logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", logger)
	})
}
