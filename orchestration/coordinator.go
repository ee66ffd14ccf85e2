package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/GoCodeAlone/orchestrator/module"
	"github.com/GoCodeAlone/orchestrator/observability/tracing"
	"github.com/GoCodeAlone/orchestrator/resilience"
)

// StepError describes a workflow step failure. It always carries the
// original cause; compensation failures, if any, ride along as supplementary
// detail and never replace it.
type StepError struct {
	Workflow string
	Index    int
	Service  string
	Action   string
	Err      error

	// RollbackErr aggregates compensation failures encountered while
	// unwinding completed steps. Nil when compensation succeeded or was
	// disabled.
	RollbackErr error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("workflow %q step %d (%s.%s): %v", e.Workflow, e.Index, e.Service, e.Action, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf("; rollback: %v", e.RollbackErr)
	}
	return msg
}

// Unwrap exposes the original step failure only, so errors.Is/As match the
// underlying cause rather than any rollback failure.
func (e *StepError) Unwrap() error { return e.Err }

// RollbackError describes one failed compensation action.
type RollbackError struct {
	Workflow string
	Index    int
	Service  string
	Action   string
	Err      error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback %s.%s for step %d of workflow %q: %v",
		e.Service, e.Action, e.Index, e.Workflow, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// Config wires a Coordinator's collaborators.
type Config struct {
	Services  *module.ServiceRegistry
	Workflows *module.WorkflowRegistry
	Breakers  *resilience.Bank
	Metrics   *module.MetricsCollector
	Emitter   *module.EventEmitter
	Tracer    *tracing.WorkflowTracer
	Logger    *slog.Logger

	// MaxConcurrent caps simultaneously running executions. Defaults to 10.
	MaxConcurrent int
}

// Coordinator runs one workflow instance end-to-end: sequential step
// dispatch, parameter resolution, breaker consultation, and compensation on
// failure. Executions run concurrently up to MaxConcurrent; steps within one
// execution run strictly in order.
type Coordinator struct {
	logger    *slog.Logger
	services  *module.ServiceRegistry
	workflows *module.WorkflowRegistry
	breakers  *resilience.Bank
	metrics   *module.MetricsCollector
	emitter   *module.EventEmitter
	tracer    *tracing.WorkflowTracer

	max int
	sem *semaphore.Weighted

	mu      sync.Mutex
	stopped bool
	active  map[string]*Execution
	wg      sync.WaitGroup
}

// NewCoordinator creates a Coordinator. Services and Workflows are required;
// the remaining collaborators default to working no-op or standalone
// instances.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewBank(resilience.Config{}, cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = module.NewMetricsCollector()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.NewWorkflowTracer(nil)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}

	return &Coordinator{
		logger:    cfg.Logger,
		services:  cfg.Services,
		workflows: cfg.Workflows,
		breakers:  cfg.Breakers,
		metrics:   cfg.Metrics,
		emitter:   cfg.Emitter,
		tracer:    cfg.Tracer,
		max:       cfg.MaxConcurrent,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		active:    make(map[string]*Execution),
	}
}

// Execute runs the named workflow with the given input. It returns
// module.ErrWorkflowNotFound for unknown names, module.ErrConcurrencyLimit
// when the execution ceiling is reached, module.ErrEngineStopped after
// StopIntake, and a *StepError when a step fails.
func (c *Coordinator) Execute(ctx context.Context, name string, input map[string]any) (Result, error) {
	def, err := c.workflows.Get(name)
	if err != nil {
		return Result{}, err
	}

	if !c.sem.TryAcquire(1) {
		return Result{}, fmt.Errorf("%w: %d executions already active", module.ErrConcurrencyLimit, c.max)
	}

	exec, err := c.begin(name)
	if err != nil {
		c.sem.Release(1)
		return Result{}, err
	}
	defer func() {
		c.finish(exec)
		c.sem.Release(1)
	}()

	return c.run(ctx, def, exec, input)
}

// begin admits an execution into the active set. Admission, the stop flag,
// and the drain group are guarded by one mutex so Shutdown cannot miss an
// execution that is being admitted concurrently.
func (c *Coordinator) begin(workflow string) (*Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, module.ErrEngineStopped
	}

	exec := &Execution{
		ID:        uuid.NewString(),
		Workflow:  workflow,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	c.active[exec.ID] = exec
	c.wg.Add(1)
	c.metrics.SetActiveExecutions(len(c.active))
	return exec, nil
}

func (c *Coordinator) finish(exec *Execution) {
	c.mu.Lock()
	delete(c.active, exec.ID)
	c.metrics.SetActiveExecutions(len(c.active))
	c.mu.Unlock()
	c.wg.Done()
}

func (c *Coordinator) trackProgress(exec *Execution, steps int) {
	c.mu.Lock()
	exec.StepsExecuted = steps
	c.mu.Unlock()
}

func (c *Coordinator) trackFinish(exec *Execution, status, errMsg string, at time.Time) {
	c.mu.Lock()
	exec.Status = status
	exec.Error = errMsg
	exec.CompletedAt = &at
	c.mu.Unlock()
}

func (c *Coordinator) run(ctx context.Context, def module.WorkflowDefinition, exec *Execution, input map[string]any) (Result, error) {
	if input == nil {
		input = map[string]any{}
	}
	execCtx := map[string]any{"input": input}

	ctx, span := c.tracer.StartWorkflow(ctx, def.Name, exec.ID)
	defer span.End()

	c.logger.Info("Workflow started",
		"workflow", def.Name, "execution", exec.ID, "steps", len(def.Steps))
	c.emitter.EmitWorkflowStarted(def.Name, exec.ID, input)

	var completed []completedStep
	for i, step := range def.Steps {
		output, err := c.runStep(ctx, i, step, execCtx)
		if err != nil {
			failErr := c.fail(ctx, def, exec, completed, i, step, err)
			c.tracer.RecordError(span, failErr)
			return Result{}, failErr
		}
		if step.OutputKey != "" {
			execCtx[step.OutputKey] = output
		}
		completed = append(completed, completedStep{index: i, output: output})
		c.trackProgress(exec, i+1)
	}

	now := time.Now().UTC()
	elapsed := now.Sub(exec.StartedAt)
	c.trackFinish(exec, StatusCompleted, "", now)

	c.metrics.RecordExecution(def.Name, StatusCompleted, elapsed)
	c.emitter.EmitWorkflowCompleted(def.Name, exec.ID, elapsed)
	c.tracer.SetSuccess(span)
	c.logger.Info("Workflow completed",
		"workflow", def.Name, "execution", exec.ID, "elapsed", elapsed)

	return Result{ExecutionID: exec.ID, Status: StatusCompleted, StepsExecuted: len(def.Steps)}, nil
}

// runStep executes one step: breaker check, parameter resolution, action
// invocation, breaker recording. A nil error from Allow reserves a probe
// slot in the half-open state, so every path after it records exactly one
// success or failure.
func (c *Coordinator) runStep(ctx context.Context, index int, step module.Step, execCtx map[string]any) (any, error) {
	ctx, span := c.tracer.StartStep(ctx, index, step.Service, step.Action)
	defer span.End()

	if err := c.breakers.Allow(step.Service); err != nil {
		c.tracer.RecordError(span, err)
		return nil, fmt.Errorf("service %q: %w", step.Service, err)
	}

	handler, err := c.services.ResolveAction(step.Service, step.Action)
	if err != nil {
		c.breakers.RecordFailure(step.Service)
		c.tracer.RecordError(span, err)
		return nil, err
	}

	params := ResolveParameters(step.Params, execCtx)
	output, err := invokeHandler(ctx, handler, params)
	if err != nil {
		c.breakers.RecordFailure(step.Service)
		c.tracer.RecordError(span, err)
		return nil, err
	}

	c.breakers.RecordSuccess(step.Service)
	c.tracer.SetSuccess(span)
	return output, nil
}

// invokeHandler calls an action handler, converting panics into errors so a
// misbehaving service cannot take down the coordinator.
func invokeHandler(ctx context.Context, handler module.ActionHandler, params any) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return handler(ctx, params)
}

// fail handles a step failure: compensation (when enabled), record keeping,
// and construction of the StepError surfaced to the caller.
func (c *Coordinator) fail(ctx context.Context, def module.WorkflowDefinition, exec *Execution, completed []completedStep, index int, step module.Step, cause error) error {
	stepErr := &StepError{
		Workflow: def.Name,
		Index:    index,
		Service:  step.Service,
		Action:   step.Action,
		Err:      cause,
	}

	if def.RollbackEnabled {
		stepErr.RollbackErr = c.compensate(ctx, def, completed)
	}

	now := time.Now().UTC()
	elapsed := now.Sub(exec.StartedAt)
	c.trackFinish(exec, StatusFailed, stepErr.Error(), now)

	c.metrics.RecordExecution(def.Name, StatusFailed, elapsed)
	c.emitter.EmitWorkflowFailed(def.Name, exec.ID, elapsed, stepErr)
	c.logger.Error("Workflow failed",
		"workflow", def.Name, "execution", exec.ID, "step", index,
		"service", step.Service, "action", step.Action, "error", cause)

	return stepErr
}

// compensate invokes declared rollback actions for completed steps in
// reverse completion order. Each call is best-effort: failures are collected
// and joined, never halting the remaining compensations. Rollback calls
// bypass the circuit breakers.
func (c *Coordinator) compensate(ctx context.Context, def module.WorkflowDefinition, completed []completedStep) error {
	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		cs := completed[i]
		step := def.Steps[cs.index]
		if step.Rollback == "" {
			continue
		}
		if err := c.rollbackStep(ctx, def.Name, cs, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// rollbackStep invokes one compensation action, passing the completed step's
// recorded output so the handler can reference what it is undoing.
func (c *Coordinator) rollbackStep(ctx context.Context, workflow string, cs completedStep, step module.Step) error {
	ctx, span := c.tracer.StartRollback(ctx, cs.index, step.Service, step.Rollback)
	defer span.End()

	handler, err := c.services.ResolveAction(step.Service, step.Rollback)
	if err == nil {
		_, err = invokeHandler(ctx, handler, cs.output)
	}
	if err != nil {
		rbErr := &RollbackError{
			Workflow: workflow,
			Index:    cs.index,
			Service:  step.Service,
			Action:   step.Rollback,
			Err:      err,
		}
		c.tracer.RecordError(span, rbErr)
		c.logger.Warn("Rollback action failed",
			"workflow", workflow, "step", cs.index,
			"service", step.Service, "action", step.Rollback, "error", err)
		return rbErr
	}

	c.tracer.SetSuccess(span)
	c.logger.Info("Rollback action completed",
		"workflow", workflow, "step", cs.index,
		"service", step.Service, "action", step.Rollback)
	return nil
}

// ActiveExecutions returns a snapshot of in-flight executions, oldest first,
// with elapsed time filled in.
func (c *Coordinator) ActiveExecutions() []Execution {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	out := make([]Execution, 0, len(c.active))
	for _, exec := range c.active {
		snap := *exec
		snap.Elapsed = now.Sub(exec.StartedAt)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ActiveCount returns the number of in-flight executions.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// StopIntake stops the coordinator from admitting new executions. In-flight
// work continues.
func (c *Coordinator) StopIntake() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// Drain blocks until every active execution finishes, bounded by ctx.
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops intake, then drains.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.StopIntake()
	return c.Drain(ctx)
}
