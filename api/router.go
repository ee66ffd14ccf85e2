package api

import (
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/orchestrator"
	"github.com/GoCodeAlone/orchestrator/observability/tracing"
)

// NewRouter creates an http.Handler with all admin routes registered,
// wrapped in span middleware so each request gets a server span.
func NewRouter(engine *orchestrator.Engine, logger *slog.Logger) http.Handler {
	h := NewHandler(engine, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/services", h.ListServices)
	mux.HandleFunc("GET /api/v1/services/{name}", h.GetService)
	mux.HandleFunc("GET /api/v1/workflows", h.ListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{name}", h.GetWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{name}/execute", h.ExecuteWorkflow)
	mux.HandleFunc("POST /api/v1/events/{event}", h.EmitEvent)
	mux.HandleFunc("GET /api/v1/executions", h.ListExecutions)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/metrics", h.Metrics)

	// Prometheus scrape endpoint, outside the JSON envelope.
	mux.Handle("GET /metrics", engine.MetricsHandler())

	return tracing.SpanMiddleware(mux)
}
