package module

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a consistent view of the engine's aggregate counters.
// Registration counts, active executions, and breaker states are filled in by
// the engine when assembling the snapshot.
type MetricsSnapshot struct {
	WorkflowsExecuted    int64          `json:"workflowsExecuted"`
	WorkflowsFailed      int64          `json:"workflowsFailed"`
	AverageExecutionTime time.Duration  `json:"averageExecutionTime"`
	ActiveExecutions     int            `json:"activeExecutions"`
	ServicesRegistered   int            `json:"servicesRegistered"`
	WorkflowsRegistered  int            `json:"workflowsRegistered"`
	ServicesHealthy      int            `json:"servicesHealthy"`
	ServicesTotal        int            `json:"servicesTotal"`
	LastHealthCheck      time.Time      `json:"lastHealthCheck"`
	BreakerStates        map[string]int `json:"breakerStates,omitempty"`
}

// MetricsCollector aggregates execution counters for snapshot queries and
// exports them through its own Prometheus registry.
type MetricsCollector struct {
	registry *prometheus.Registry

	workflowExecutions *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec
	breakerTransitions *prometheus.CounterVec
	activeWorkflows    prometheus.Gauge
	servicesHealthy    prometheus.Gauge
	servicesTotal      prometheus.Gauge

	mu            sync.Mutex
	executed      int64
	failed        int64
	totalDuration time.Duration
	healthy       int
	total         int
	lastHealth    time.Time
}

// NewMetricsCollector creates a MetricsCollector with its own Prometheus
// registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	mc := &MetricsCollector{
		registry: reg,

		workflowExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions",
		}, []string{"workflow", "status"}),

		workflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "workflow_duration_seconds",
			Help:      "Duration of workflow executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow"}),

		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		}, []string{"service", "to"}),

		activeWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "active_workflows",
			Help:      "Number of currently active workflow executions",
		}),

		servicesHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "services_healthy",
			Help:      "Number of services that passed the last health check",
		}),

		servicesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "services_total",
			Help:      "Number of services under health monitoring",
		}),
	}

	reg.MustRegister(
		mc.workflowExecutions,
		mc.workflowDuration,
		mc.breakerTransitions,
		mc.activeWorkflows,
		mc.servicesHealthy,
		mc.servicesTotal,
	)
	return mc
}

// Handler returns an HTTP handler serving the Prometheus registry. Mounting
// it is the caller's concern.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordExecution records one finished workflow execution.
func (m *MetricsCollector) RecordExecution(workflow, status string, duration time.Duration) {
	m.workflowExecutions.WithLabelValues(workflow, status).Inc()
	m.workflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed++
	if status == LifecycleFailed {
		m.failed++
	}
	m.totalDuration += duration
}

// SetActiveExecutions updates the active execution gauge.
func (m *MetricsCollector) SetActiveExecutions(n int) {
	m.activeWorkflows.Set(float64(n))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *MetricsCollector) RecordBreakerTransition(service, to string) {
	m.breakerTransitions.WithLabelValues(service, to).Inc()
}

// RecordHealthCheck records the outcome of a health poll.
func (m *MetricsCollector) RecordHealthCheck(healthy, total int, at time.Time) {
	m.servicesHealthy.Set(float64(healthy))
	m.servicesTotal.Set(float64(total))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
	m.total = total
	m.lastHealth = at
}

// Snapshot returns the collector's own counters. Fields owned by other
// components (registrations, active set, breaker states) are zero here.
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		WorkflowsExecuted: m.executed,
		WorkflowsFailed:   m.failed,
		ServicesHealthy:   m.healthy,
		ServicesTotal:     m.total,
		LastHealthCheck:   m.lastHealth,
	}
	if m.executed > 0 {
		snap.AverageExecutionTime = m.totalDuration / time.Duration(m.executed)
	}
	return snap
}
