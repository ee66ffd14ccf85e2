// Package orchestrator coordinates long-lived services and the workflows
// that span them. An Engine owns a service registry, a workflow registry,
// an execution coordinator with compensation, a circuit breaker bank, a
// health monitor, and trigger dispatch, and exposes them behind one facade.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/orchestrator/config"
	"github.com/GoCodeAlone/orchestrator/module"
	"github.com/GoCodeAlone/orchestrator/observability/tracing"
	"github.com/GoCodeAlone/orchestrator/orchestration"
	"github.com/GoCodeAlone/orchestrator/resilience"
)

// Options tunes an Engine. The zero value is usable; every field has a
// working default.
type Options struct {
	// MaxConcurrentWorkflows caps simultaneously running executions.
	// Defaults to 10.
	MaxConcurrentWorkflows int

	// HealthInterval is the period between background health polls.
	// Defaults to 30 seconds.
	HealthInterval time.Duration

	// HealthTimeout bounds each individual service health check.
	// Defaults to 5 seconds.
	HealthTimeout time.Duration

	// Breaker supplies defaults for per-service circuit breakers.
	Breaker resilience.Config

	// Tracer receives execution spans. Nil falls back to the global
	// tracer provider.
	Tracer trace.Tracer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentWorkflows <= 0 {
		o.MaxConcurrentWorkflows = 10
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 30 * time.Second
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// OptionsFromConfig converts a loaded configuration into engine Options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger, tracer trace.Tracer) Options {
	return Options{
		MaxConcurrentWorkflows: cfg.Engine.MaxConcurrentWorkflows,
		HealthInterval:         cfg.Engine.HealthInterval(),
		HealthTimeout:          cfg.Engine.HealthTimeout(),
		Breaker: resilience.Config{
			FailureThreshold: cfg.Engine.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Engine.Breaker.SuccessThreshold,
			Timeout:          cfg.Engine.Breaker.OpenTimeout(),
		},
		Tracer: tracer,
		Logger: logger,
	}
}

// Engine wires the registries, coordinator, breakers, health monitor, and
// trigger dispatch together. Construct one with NewEngine, register
// services and workflows, then Start it.
type Engine struct {
	logger    *slog.Logger
	services  *module.ServiceRegistry
	workflows *module.WorkflowRegistry
	broker    *module.MemoryBroker
	emitter   *module.EventEmitter
	breakers  *resilience.Bank
	health    *module.HealthMonitor
	metrics   *module.MetricsCollector
	coord     *orchestration.Coordinator
	triggers  *module.TriggerDispatcher
	schedules *module.ScheduleRunner
	tracer    *tracing.WorkflowTracer

	healthInterval time.Duration

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	healthWG sync.WaitGroup
}

// NewEngine builds an Engine from opts.
func NewEngine(opts Options) *Engine {
	opts = opts.withDefaults()
	logger := opts.Logger

	services := module.NewServiceRegistry(logger)
	workflows := module.NewWorkflowRegistry(services, logger)
	broker := module.NewMemoryBroker(logger)
	emitter := module.NewEventEmitter(broker, logger)
	metrics := module.NewMetricsCollector()
	health := module.NewHealthMonitor(opts.HealthTimeout, logger)
	tracer := tracing.NewWorkflowTracer(opts.Tracer)

	breakers := resilience.NewBank(opts.Breaker, logger)
	breakers.OnStateChange(func(service string, from, to resilience.CircuitState) {
		metrics.RecordBreakerTransition(service, to.String())
		logger.Warn("Circuit breaker state changed",
			"service", service, "from", from.String(), "to", to.String())
		// The callback runs under the breaker's lock; emit asynchronously so
		// subscribers may query breaker state from their handlers.
		go emitter.EmitBreakerState(service, from.String(), to.String())
	})

	coord := orchestration.NewCoordinator(orchestration.Config{
		Services:      services,
		Workflows:     workflows,
		Breakers:      breakers,
		Metrics:       metrics,
		Emitter:       emitter,
		Tracer:        tracer,
		Logger:        logger,
		MaxConcurrent: opts.MaxConcurrentWorkflows,
	})

	e := &Engine{
		logger:         logger,
		services:       services,
		workflows:      workflows,
		broker:         broker,
		emitter:        emitter,
		breakers:       breakers,
		health:         health,
		metrics:        metrics,
		coord:          coord,
		tracer:         tracer,
		healthInterval: opts.HealthInterval,
	}
	e.triggers = module.NewTriggerDispatcher(broker, workflows, e, logger)
	e.schedules = module.NewScheduleRunner(e, logger)
	return e
}

// --- Registration ---

// RegisterService adds or replaces a service. A descriptor with no health
// check is treated as always healthy.
func (e *Engine) RegisterService(desc module.ServiceDescriptor) error {
	replaced, err := e.services.Register(desc)
	if err != nil {
		return err
	}

	check := desc.HealthCheck
	if check == nil {
		check = module.AlwaysHealthy
	}
	e.health.SetCheck(desc.Name, check)

	e.emitter.EmitServiceRegistered(desc.Name, desc.Capabilities, replaced)
	return nil
}

// GetService returns the descriptor registered under name.
func (e *Engine) GetService(name string) (module.ServiceDescriptor, error) {
	return e.services.Get(name)
}

// ListServices returns a snapshot of all registered services, sorted by
// name.
func (e *Engine) ListServices() []module.ServiceDescriptor {
	return e.services.List()
}

// RegisterWorkflow validates and adds or replaces a workflow definition,
// then wires its event and schedule triggers.
func (e *Engine) RegisterWorkflow(def module.WorkflowDefinition) error {
	replaced, err := e.workflows.Register(def)
	if err != nil {
		return err
	}
	if err := e.triggers.Wire(def); err != nil {
		return err
	}
	if err := e.schedules.Schedule(def); err != nil {
		return err
	}

	e.emitter.EmitWorkflowRegistered(def.Name, len(def.Steps), replaced)
	return nil
}

// GetWorkflow returns the definition registered under name.
func (e *Engine) GetWorkflow(name string) (module.WorkflowDefinition, error) {
	return e.workflows.Get(name)
}

// ListWorkflows returns a snapshot of all registered definitions, sorted
// by name.
func (e *Engine) ListWorkflows() []module.WorkflowDefinition {
	return e.workflows.List()
}

// BuildFromConfig registers every workflow definition in cfg. Services
// must already be registered; definitions referencing unknown services or
// actions fail the build.
func (e *Engine) BuildFromConfig(cfg *config.Config) error {
	for _, def := range cfg.Workflows {
		if err := e.RegisterWorkflow(def); err != nil {
			return fmt.Errorf("build from config: %w", err)
		}
	}
	return nil
}

// ApplyWorkflows registers definitions produced by a config reload.
// Definitions that fail validation are skipped and reported by name; the
// rest take effect immediately.
func (e *Engine) ApplyWorkflows(_ context.Context, defs []module.WorkflowDefinition) ([]string, error) {
	var failed []string
	for _, def := range defs {
		if err := e.RegisterWorkflow(def); err != nil {
			e.logger.Error("Workflow failed to apply", "workflow", def.Name, "error", err)
			failed = append(failed, def.Name)
		}
	}
	return failed, nil
}

// --- Execution ---

// ExecuteWorkflow runs the named workflow to completion and returns its
// result. When the definition enables rollback, failures compensate
// completed steps before returning.
func (e *Engine) ExecuteWorkflow(ctx context.Context, name string, input map[string]any) (orchestration.Result, error) {
	return e.coord.Execute(ctx, name, input)
}

// TriggerWorkflow runs the named workflow on behalf of a trigger, wrapping
// the execution in a consumer span.
func (e *Engine) TriggerWorkflow(ctx context.Context, name string, input map[string]any) error {
	ctx, span := e.tracer.StartTrigger(ctx, name)
	defer span.End()

	if _, err := e.coord.Execute(ctx, name, input); err != nil {
		e.tracer.RecordError(span, err)
		return err
	}
	e.tracer.SetSuccess(span)
	return nil
}

// EmitEvent publishes an application event that may start workflows whose
// triggers subscribe to it.
func (e *Engine) EmitEvent(event string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %q payload: %w", event, err)
	}
	return e.broker.Publish(module.EventTopic(event), data)
}

// Broker exposes the in-process broker so callers can subscribe to
// lifecycle events.
func (e *Engine) Broker() *module.MemoryBroker {
	return e.broker
}

// ActiveExecutions snapshots currently running executions.
func (e *Engine) ActiveExecutions() []orchestration.Execution {
	return e.coord.ActiveExecutions()
}

// --- Health ---

// PerformHealthCheck runs every registered health check once and records
// the summary.
func (e *Engine) PerformHealthCheck(ctx context.Context) {
	e.health.RunChecks(ctx)
	healthy, total, at := e.health.Summary()
	e.metrics.RecordHealthCheck(healthy, total, at)
}

// IsServiceHealthy reports the result of the most recent check for name.
// Services never checked report false.
func (e *Engine) IsServiceHealthy(name string) bool {
	return e.health.IsHealthy(name)
}

// HealthResults returns the most recent per-service health verdicts.
func (e *Engine) HealthResults() map[string]module.HealthCheckResult {
	return e.health.Results()
}

// --- Metrics ---

// Metrics returns a point-in-time snapshot of engine counters.
func (e *Engine) Metrics() module.MetricsSnapshot {
	snap := e.metrics.Snapshot()
	snap.ServicesRegistered = e.services.Count()
	snap.WorkflowsRegistered = e.workflows.Count()
	snap.ActiveExecutions = e.coord.ActiveCount()
	snap.BreakerStates = e.breakers.StateCounts()
	return snap
}

// MetricsHandler serves the Prometheus scrape endpoint.
func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}

// BreakerState reports the circuit state for a service.
func (e *Engine) BreakerState(service string) resilience.CircuitState {
	return e.breakers.State(service)
}

// --- Lifecycle ---

// Start wires registered triggers, launches the schedule runner, and
// begins the background health poll. One health check runs immediately so
// status is populated before the first tick.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	if err := e.triggers.WireAll(); err != nil {
		return err
	}
	e.schedules.Start()

	e.PerformHealthCheck(ctx)
	e.healthWG.Add(1)
	go e.healthLoop(ctx)

	e.logger.Info("Engine started",
		"services", e.services.Count(), "workflows", e.workflows.Count())
	return nil
}

func (e *Engine) healthLoop(ctx context.Context) {
	defer e.healthWG.Done()

	ticker := time.NewTicker(e.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.PerformHealthCheck(ctx)
		}
	}
}

// Shutdown stops intake of new executions, halts the health poll and
// schedule runner, then waits for in-flight executions to finish. The
// context bounds the wait.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.coord.StopIntake()

	e.mu.Lock()
	if e.started {
		close(e.stopCh)
		e.started = false
	}
	e.mu.Unlock()
	e.healthWG.Wait()

	if err := e.schedules.Stop(ctx); err != nil {
		return err
	}
	if err := e.coord.Drain(ctx); err != nil {
		return err
	}

	e.logger.Info("Engine stopped")
	return nil
}
