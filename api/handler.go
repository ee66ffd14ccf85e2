// Package api exposes the engine's registries, executions, and health
// over a small JSON HTTP surface intended for operators.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/orchestrator"
	"github.com/GoCodeAlone/orchestrator/module"
)

// Handler serves the admin endpoints for one engine.
type Handler struct {
	engine *orchestrator.Engine
	logger *slog.Logger
}

// NewHandler creates a Handler for the given engine.
func NewHandler(engine *orchestrator.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// serviceView is the wire shape for one registered service.
type serviceView struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
	Healthy      bool     `json:"healthy"`
	BreakerState string   `json:"breakerState"`
}

// ListServices handles GET /api/v1/services.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	descs := h.engine.ListServices()
	out := make([]serviceView, 0, len(descs))
	for _, desc := range descs {
		out = append(out, serviceView{
			Name:         desc.Name,
			Capabilities: desc.Capabilities,
			Healthy:      h.engine.IsServiceHealthy(desc.Name),
			BreakerState: h.engine.BreakerState(desc.Name).String(),
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

// GetService handles GET /api/v1/services/{name}.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	desc, err := h.engine.GetService(name)
	if err != nil {
		if errors.Is(err, module.ErrServiceNotFound) {
			WriteError(w, http.StatusNotFound, "service not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, serviceView{
		Name:         desc.Name,
		Capabilities: desc.Capabilities,
		Healthy:      h.engine.IsServiceHealthy(name),
		BreakerState: h.engine.BreakerState(name).String(),
	})
}

// ListWorkflows handles GET /api/v1/workflows.
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.engine.ListWorkflows())
}

// GetWorkflow handles GET /api/v1/workflows/{name}.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := h.engine.GetWorkflow(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, module.ErrWorkflowNotFound) {
			WriteError(w, http.StatusNotFound, "workflow not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

// ExecuteWorkflow handles POST /api/v1/workflows/{name}/execute. The body
// is the workflow input; an empty body runs with no input.
func (h *Handler) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var input map[string]any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.ExecuteWorkflow(r.Context(), name, input)
	if err != nil {
		switch {
		case errors.Is(err, module.ErrWorkflowNotFound):
			WriteError(w, http.StatusNotFound, "workflow not found")
		case errors.Is(err, module.ErrConcurrencyLimit):
			WriteError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, module.ErrEngineStopped):
			WriteError(w, http.StatusServiceUnavailable, err.Error())
		default:
			WriteError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// EmitEvent handles POST /api/v1/events/{event}. The body is the event
// payload delivered to matching triggers.
func (h *Handler) EmitEvent(w http.ResponseWriter, r *http.Request) {
	event := r.PathValue("event")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.EmitEvent(event, payload); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"event": event})
}

// ListExecutions handles GET /api/v1/executions.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.engine.ActiveExecutions())
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	results := h.engine.HealthResults()
	status := http.StatusOK
	for _, res := range results {
		if res.Status != module.HealthStatusHealthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	WriteJSON(w, status, results)
}

// Metrics handles GET /api/v1/metrics. The Prometheus scrape endpoint is
// served separately; this returns the JSON snapshot.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.engine.Metrics())
}
