package orchestration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/orchestrator/module"
	"github.com/GoCodeAlone/orchestrator/resilience"
)

var errSynthetic = errors.New("synthetic failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// call records one action invocation with the params the handler received.
type call struct {
	service string
	action  string
	params  any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) record(service, action string, params any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{service, action, params})
}

// names returns the invocation sequence as "service.action" strings.
func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.service + "." + c.action
	}
	return out
}

func (r *recorder) paramsOf(service, action string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.service == service && c.action == action {
			return c.params
		}
	}
	return nil
}

// action builds a recording handler returning a fixed result.
func (r *recorder) action(service, name string, result any, err error) module.ActionHandler {
	return func(_ context.Context, params any) (any, error) {
		r.record(service, name, params)
		return result, err
	}
}

// orderServices registers the order-domain services the coordinator tests
// use, all recording into rec. The charge handler consults failCharge so
// individual tests can toggle it.
func orderServices(t *testing.T, rec *recorder, failCharge *bool) *module.ServiceRegistry {
	t.Helper()
	services := module.NewServiceRegistry(discardLogger())

	register := func(desc module.ServiceDescriptor) {
		if _, err := services.Register(desc); err != nil {
			t.Fatalf("register %s failed: %v", desc.Name, err)
		}
	}

	register(module.ServiceDescriptor{
		Name: "inventory",
		Instance: module.ActionMap{
			"reserve": rec.action("inventory", "reserve", map[string]any{"reservationId": "res-42"}, nil),
			"release": rec.action("inventory", "release", map[string]any{"released": true}, nil),
		},
	})
	register(module.ServiceDescriptor{
		Name: "payment",
		Instance: module.ActionMap{
			"charge": func(_ context.Context, params any) (any, error) {
				rec.record("payment", "charge", params)
				if failCharge != nil && *failCharge {
					return nil, errSynthetic
				}
				return map[string]any{"chargeId": "ch-7"}, nil
			},
			"refund": rec.action("payment", "refund", map[string]any{"refunded": true}, nil),
		},
	})
	register(module.ServiceDescriptor{
		Name: "shipping",
		Instance: module.ActionMap{
			"schedule": rec.action("shipping", "schedule", map[string]any{"shipmentId": "sh-9"}, nil),
			"cancel":   rec.action("shipping", "cancel", map[string]any{"cancelled": true}, nil),
		},
	})
	return services
}

func newTestCoordinator(t *testing.T, services *module.ServiceRegistry, cfg Config, defs ...module.WorkflowDefinition) *Coordinator {
	t.Helper()
	workflows := module.NewWorkflowRegistry(services, discardLogger())
	for _, def := range defs {
		if _, err := workflows.Register(def); err != nil {
			t.Fatalf("register workflow %s failed: %v", def.Name, err)
		}
	}
	cfg.Services = services
	cfg.Workflows = workflows
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	return NewCoordinator(cfg)
}

func fulfillmentWorkflow(rollback bool) module.WorkflowDefinition {
	return module.WorkflowDefinition{
		Name:            "order-fulfillment",
		RollbackEnabled: rollback,
		Steps: []module.Step{
			{
				Service:   "inventory",
				Action:    "reserve",
				Params:    map[string]any{"sku": "${input.sku}"},
				OutputKey: "reservation",
				Rollback:  "release",
			},
			{
				Service:   "payment",
				Action:    "charge",
				Params:    map[string]any{"amount": "${input.amount}", "ref": "${reservation.reservationId}"},
				OutputKey: "charge",
				Rollback:  "refund",
			},
			{
				Service: "shipping",
				Action:  "schedule",
				Params:  map[string]any{"charge": "${charge.chargeId}"},
			},
		},
	}
}

// --- Happy path ---

func TestCoordinatorExecute(t *testing.T) {
	rec := &recorder{}
	services := orderServices(t, rec, nil)
	coord := newTestCoordinator(t, services, Config{}, fulfillmentWorkflow(false))

	res, err := coord.Execute(context.Background(), "order-fulfillment", map[string]any{
		"sku":    "A1",
		"amount": 99.5,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("expected status completed, got %q", res.Status)
	}
	if res.StepsExecuted != 3 {
		t.Errorf("expected 3 steps executed, got %d", res.StepsExecuted)
	}
	if res.ExecutionID == "" {
		t.Error("expected a non-empty execution ID")
	}

	wantOrder := []string{"inventory.reserve", "payment.charge", "shipping.schedule"}
	got := rec.names()
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d calls, got %v", len(wantOrder), got)
	}
	for i, want := range wantOrder {
		if got[i] != want {
			t.Errorf("call %d: expected %s, got %s", i, want, got[i])
		}
	}

	// Chained outputs resolve into later step params.
	charge, ok := rec.paramsOf("payment", "charge").(map[string]any)
	if !ok {
		t.Fatalf("charge params should be a map, got %T", rec.paramsOf("payment", "charge"))
	}
	if charge["ref"] != "res-42" {
		t.Errorf("charge should see the reservation output, got %v", charge["ref"])
	}
	if charge["amount"] != 99.5 {
		t.Errorf("charge should see the input amount, got %v", charge["amount"])
	}
	ship, _ := rec.paramsOf("shipping", "schedule").(map[string]any)
	if ship["charge"] != "ch-7" {
		t.Errorf("shipping should see the charge output, got %v", ship["charge"])
	}

	// Nothing left in the active set.
	if n := coord.ActiveCount(); n != 0 {
		t.Errorf("expected 0 active executions, got %d", n)
	}
}

func TestCoordinatorExecuteUnknownWorkflow(t *testing.T) {
	rec := &recorder{}
	coord := newTestCoordinator(t, orderServices(t, rec, nil), Config{})

	_, err := coord.Execute(context.Background(), "missing", nil)
	if !errors.Is(err, module.ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestCoordinatorExecuteNilInput(t *testing.T) {
	rec := &recorder{}
	services := orderServices(t, rec, nil)

	def := module.WorkflowDefinition{
		Name: "bare",
		Steps: []module.Step{
			{Service: "shipping", Action: "schedule", Params: map[string]any{"sku": "${input.sku}"}},
		},
	}
	coord := newTestCoordinator(t, services, Config{}, def)

	res, err := coord.Execute(context.Background(), "bare", nil)
	if err != nil {
		t.Fatalf("execute with nil input failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("expected completed, got %q", res.Status)
	}
	// Missing input fields resolve to nil rather than failing.
	params, _ := rec.paramsOf("shipping", "schedule").(map[string]any)
	if v, present := params["sku"]; !present || v != nil {
		t.Errorf("expected sku resolved to nil, got %v", params)
	}
}

// --- Failure without compensation ---

func TestCoordinatorStepFailure(t *testing.T) {
	rec := &recorder{}
	fail := true
	services := orderServices(t, rec, &fail)
	coord := newTestCoordinator(t, services, Config{}, fulfillmentWorkflow(false))

	_, err := coord.Execute(context.Background(), "order-fulfillment", map[string]any{"sku": "A1"})
	if err == nil {
		t.Fatal("expected an error")
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %T: %v", err, err)
	}
	if stepErr.Index != 1 || stepErr.Service != "payment" || stepErr.Action != "charge" {
		t.Errorf("unexpected step identity: %+v", stepErr)
	}
	if !errors.Is(err, errSynthetic) {
		t.Error("StepError should unwrap to the original cause")
	}
	if stepErr.RollbackErr != nil {
		t.Errorf("rollback disabled, RollbackErr should be nil: %v", stepErr.RollbackErr)
	}

	// No compensation ran and the third step never started.
	want := []string{"inventory.reserve", "payment.charge"}
	got := rec.names()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
}

// --- Compensation ---

func TestCoordinatorRollback(t *testing.T) {
	rec := &recorder{}
	services := orderServices(t, rec, nil)

	// The final step fails; the two completed steps must be compensated in
	// reverse order, exactly once each.
	def := fulfillmentWorkflow(true)
	def.Steps[2] = module.Step{Service: "shipping", Action: "explode"}
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "shipping",
		Instance: module.ActionMap{
			"explode": rec.action("shipping", "explode", nil, errSynthetic),
		},
	}); err != nil {
		t.Fatalf("replace shipping failed: %v", err)
	}

	coord := newTestCoordinator(t, services, Config{}, def)

	_, err := coord.Execute(context.Background(), "order-fulfillment", map[string]any{"sku": "A1", "amount": 10.0})
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.RollbackErr != nil {
		t.Errorf("successful compensation should leave RollbackErr nil: %v", stepErr.RollbackErr)
	}

	want := []string{
		"inventory.reserve",
		"payment.charge",
		"shipping.explode",
		"payment.refund",    // reverse order: last completed first
		"inventory.release",
	}
	got := rec.names()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// Each rollback receives the output its step produced.
	refund, _ := rec.paramsOf("payment", "refund").(map[string]any)
	if refund["chargeId"] != "ch-7" {
		t.Errorf("refund should receive the charge output, got %v", refund)
	}
	release, _ := rec.paramsOf("inventory", "release").(map[string]any)
	if release["reservationId"] != "res-42" {
		t.Errorf("release should receive the reservation output, got %v", release)
	}
}

func TestCoordinatorRollbackSkipsStepsWithoutRollback(t *testing.T) {
	rec := &recorder{}
	fail := true
	services := orderServices(t, rec, &fail)

	// First step declares no rollback action.
	def := fulfillmentWorkflow(true)
	def.Steps[0].Rollback = ""
	coord := newTestCoordinator(t, services, Config{}, def)

	_, err := coord.Execute(context.Background(), "order-fulfillment", map[string]any{"sku": "A1"})
	if err == nil {
		t.Fatal("expected an error")
	}

	got := rec.names()
	for _, name := range got {
		if name == "inventory.release" {
			t.Errorf("step without rollback must not be compensated: %v", got)
		}
	}
}

func TestCoordinatorFirstStepFailureNoCompensation(t *testing.T) {
	rec := &recorder{}
	services := module.NewServiceRegistry(discardLogger())
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "inventory",
		Instance: module.ActionMap{
			"reserve": rec.action("inventory", "reserve", nil, errSynthetic),
			"release": rec.action("inventory", "release", nil, nil),
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	def := module.WorkflowDefinition{
		Name:            "short",
		RollbackEnabled: true,
		Steps:           []module.Step{{Service: "inventory", Action: "reserve", Rollback: "release"}},
	}
	coord := newTestCoordinator(t, services, Config{}, def)

	_, err := coord.Execute(context.Background(), "short", nil)
	if err == nil {
		t.Fatal("expected an error")
	}

	// The failed step itself is never compensated.
	got := rec.names()
	if len(got) != 1 || got[0] != "inventory.reserve" {
		t.Errorf("expected only the failed call, got %v", got)
	}
}

func TestCoordinatorRollbackFailureRidesAlong(t *testing.T) {
	rec := &recorder{}
	services := orderServices(t, rec, nil)

	// refund fails during compensation; release must still run.
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "payment",
		Instance: module.ActionMap{
			"charge": rec.action("payment", "charge", map[string]any{"chargeId": "ch-7"}, nil),
			"refund": rec.action("payment", "refund", nil, errors.New("refund rejected")),
		},
	}); err != nil {
		t.Fatalf("replace payment failed: %v", err)
	}
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "shipping",
		Instance: module.ActionMap{
			"explode": rec.action("shipping", "explode", nil, errSynthetic),
		},
	}); err != nil {
		t.Fatalf("replace shipping failed: %v", err)
	}

	def := fulfillmentWorkflow(true)
	def.Steps[2] = module.Step{Service: "shipping", Action: "explode"}
	coord := newTestCoordinator(t, services, Config{}, def)

	_, err := coord.Execute(context.Background(), "order-fulfillment", map[string]any{"sku": "A1", "amount": 10.0})

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	// The original cause stays primary.
	if !errors.Is(err, errSynthetic) {
		t.Error("rollback failures must not mask the original cause")
	}
	if stepErr.RollbackErr == nil {
		t.Fatal("expected RollbackErr to carry the compensation failure")
	}
	var rbErr *RollbackError
	if !errors.As(stepErr.RollbackErr, &rbErr) {
		t.Fatalf("expected *RollbackError, got %v", stepErr.RollbackErr)
	}
	if rbErr.Service != "payment" || rbErr.Action != "refund" {
		t.Errorf("unexpected rollback identity: %+v", rbErr)
	}

	// The failing refund did not stop the remaining compensation.
	sawRelease := false
	for _, name := range rec.names() {
		if name == "inventory.release" {
			sawRelease = true
		}
	}
	if !sawRelease {
		t.Error("compensation must continue past a failing rollback")
	}
}

// --- Panic recovery ---

func TestCoordinatorHandlerPanic(t *testing.T) {
	rec := &recorder{}
	services := module.NewServiceRegistry(discardLogger())
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "flaky",
		Instance: module.ActionMap{
			"run": func(_ context.Context, _ any) (any, error) {
				panic("handler exploded")
			},
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	def := module.WorkflowDefinition{
		Name:  "panicky",
		Steps: []module.Step{{Service: "flaky", Action: "run"}},
	}
	coord := newTestCoordinator(t, services, Config{}, def)

	_, err := coord.Execute(context.Background(), "panicky", nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError from a panicking handler, got %v", err)
	}

	// The coordinator survives and can run further executions.
	if n := coord.ActiveCount(); n != 0 {
		t.Errorf("expected 0 active executions after panic, got %d", n)
	}
	_ = rec
}

// --- Circuit breaker integration ---

func TestCoordinatorBreakerTrips(t *testing.T) {
	rec := &recorder{}
	fail := true
	services := orderServices(t, rec, &fail)

	breakers := resilience.NewBank(resilience.Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
	}, discardLogger())

	def := module.WorkflowDefinition{
		Name:  "charge-only",
		Steps: []module.Step{{Service: "payment", Action: "charge"}},
	}
	coord := newTestCoordinator(t, services, Config{Breakers: breakers}, def)

	// Two failing executions trip the payment breaker.
	for i := 0; i < 2; i++ {
		if _, err := coord.Execute(context.Background(), "charge-only", nil); !errors.Is(err, errSynthetic) {
			t.Fatalf("execution %d: expected the handler failure, got %v", i, err)
		}
	}
	if state := breakers.State("payment"); state != resilience.CircuitOpen {
		t.Fatalf("expected payment breaker open, got %s", state)
	}

	// The third execution is rejected before the handler runs.
	before := len(rec.names())
	_, err := coord.Execute(context.Background(), "charge-only", nil)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if after := len(rec.names()); after != before {
		t.Errorf("open breaker must not invoke the handler (calls %d -> %d)", before, after)
	}
}

// --- Runtime action lookup ---

func TestCoordinatorActionRemovedAfterRegistration(t *testing.T) {
	rec := &recorder{}
	services := orderServices(t, rec, nil)
	def := module.WorkflowDefinition{
		Name:  "charge-only",
		Steps: []module.Step{{Service: "payment", Action: "charge"}},
	}
	coord := newTestCoordinator(t, services, Config{}, def)

	// Re-register payment without the charge action. The registry validated
	// at registration time; execution resolves at call time.
	if _, err := services.Register(module.ServiceDescriptor{
		Name:     "payment",
		Instance: module.ActionMap{"refund": rec.action("payment", "refund", nil, nil)},
	}); err != nil {
		t.Fatalf("replace payment failed: %v", err)
	}

	_, err := coord.Execute(context.Background(), "charge-only", nil)
	if !errors.Is(err, module.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

// --- Concurrency ceiling ---

func TestCoordinatorConcurrencyLimit(t *testing.T) {
	rec := &recorder{}
	services := module.NewServiceRegistry(discardLogger())

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "slow",
		Instance: module.ActionMap{
			"wait": func(ctx context.Context, _ any) (any, error) {
				started <- struct{}{}
				select {
				case <-release:
					return nil, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	def := module.WorkflowDefinition{
		Name:  "slow-run",
		Steps: []module.Step{{Service: "slow", Action: "wait"}},
	}
	coord := newTestCoordinator(t, services, Config{MaxConcurrent: 2}, def)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := coord.Execute(context.Background(), "slow-run", nil); err != nil {
				t.Errorf("blocked execution failed: %v", err)
			}
		}()
	}

	// Wait until both executions hold a slot.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for executions to start")
		}
	}
	if n := coord.ActiveCount(); n != 2 {
		t.Errorf("expected 2 active executions, got %d", n)
	}

	// The third request is rejected immediately, not queued.
	_, err := coord.Execute(context.Background(), "slow-run", nil)
	if !errors.Is(err, module.ErrConcurrencyLimit) {
		t.Errorf("expected ErrConcurrencyLimit, got %v", err)
	}

	close(release)
	wg.Wait()

	// Capacity is released once executions finish.
	if _, err := coord.Execute(context.Background(), "slow-run", nil); err != nil {
		t.Errorf("execution after drain failed: %v", err)
	}
	_ = rec
}

// --- Active set snapshots ---

func TestCoordinatorActiveExecutions(t *testing.T) {
	services := module.NewServiceRegistry(discardLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "slow",
		Instance: module.ActionMap{
			"wait": func(_ context.Context, _ any) (any, error) {
				close(started)
				<-release
				return nil, nil
			},
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	def := module.WorkflowDefinition{
		Name:  "slow-run",
		Steps: []module.Step{{Service: "slow", Action: "wait"}},
	}
	coord := newTestCoordinator(t, services, Config{}, def)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = coord.Execute(context.Background(), "slow-run", nil)
	}()
	<-started

	snaps := coord.ActiveExecutions()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 active execution, got %d", len(snaps))
	}
	snap := snaps[0]
	if snap.Workflow != "slow-run" || snap.Status != StatusRunning {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.ID == "" {
		t.Error("snapshot should carry the execution ID")
	}
	if snap.CompletedAt != nil {
		t.Error("running execution should have no completion time")
	}

	close(release)
	<-done

	if len(coord.ActiveExecutions()) != 0 {
		t.Error("expected empty active set after completion")
	}
}

// --- Shutdown ---

func TestCoordinatorStopIntake(t *testing.T) {
	rec := &recorder{}
	services := orderServices(t, rec, nil)
	coord := newTestCoordinator(t, services, Config{}, fulfillmentWorkflow(false))

	coord.StopIntake()

	_, err := coord.Execute(context.Background(), "order-fulfillment", map[string]any{"sku": "A1"})
	if !errors.Is(err, module.ErrEngineStopped) {
		t.Errorf("expected ErrEngineStopped, got %v", err)
	}
}

func TestCoordinatorDrain(t *testing.T) {
	services := module.NewServiceRegistry(discardLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "slow",
		Instance: module.ActionMap{
			"wait": func(_ context.Context, _ any) (any, error) {
				close(started)
				<-release
				return nil, nil
			},
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	def := module.WorkflowDefinition{
		Name:  "slow-run",
		Steps: []module.Step{{Service: "slow", Action: "wait"}},
	}
	coord := newTestCoordinator(t, services, Config{}, def)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = coord.Execute(context.Background(), "slow-run", nil)
	}()
	<-started

	// Drain is bounded by its context while work is still in flight.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := coord.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded while blocked, got %v", err)
	}

	// Once released, Drain completes and nothing is left in flight.
	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := coord.Drain(ctx2); err != nil {
		t.Errorf("drain after release failed: %v", err)
	}
	if active := coord.ActiveExecutions(); len(active) != 0 {
		t.Errorf("expected no active executions after drain, got %d", len(active))
	}
	<-done
}

// --- Concurrent executions at scale ---

func TestCoordinatorConcurrentExecutions(t *testing.T) {
	services := module.NewServiceRegistry(discardLogger())
	if _, err := services.Register(module.ServiceDescriptor{
		Name: "worker",
		Instance: module.ActionMap{
			"run": func(_ context.Context, _ any) (any, error) {
				time.Sleep(5 * time.Millisecond)
				return map[string]any{"done": true}, nil
			},
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	def := module.WorkflowDefinition{
		Name:  "parallel",
		Steps: []module.Step{{Service: "worker", Action: "run"}},
	}
	metrics := module.NewMetricsCollector()
	coord := newTestCoordinator(t, services, Config{MaxConcurrent: 100, Metrics: metrics}, def)

	const executions = 100
	errs := make(chan error, executions)
	var wg sync.WaitGroup
	wg.Add(executions)
	for i := 0; i < executions; i++ {
		go func() {
			defer wg.Done()
			_, err := coord.Execute(context.Background(), "parallel", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent execution failed: %v", err)
		}
	}

	snap := metrics.Snapshot()
	if snap.WorkflowsExecuted != executions {
		t.Errorf("expected %d recorded executions, got %d", executions, snap.WorkflowsExecuted)
	}
	if snap.WorkflowsFailed != 0 {
		t.Errorf("expected 0 failures, got %d", snap.WorkflowsFailed)
	}
	if coord.ActiveCount() != 0 {
		t.Errorf("expected empty active set, got %d", coord.ActiveCount())
	}
}
