package module

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/robfig/cron/v3"
)

// Trigger types.
const (
	TriggerTypeEvent    = "event"
	TriggerTypeSchedule = "schedule"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpGreaterThan = "greater_than"
	OpContains    = "contains"
	OpExists      = "exists"
)

// WorkflowStarter starts workflow executions on behalf of triggers.
type WorkflowStarter interface {
	TriggerWorkflow(ctx context.Context, workflow string, input map[string]any) error
}

// validateTrigger checks one trigger declaration. Returned errors carry the
// reason only; the registry wraps them with workflow name and index.
func validateTrigger(trg Trigger) error {
	switch trg.Type {
	case TriggerTypeEvent:
		if trg.Event == "" {
			return fmt.Errorf("event triggers require an event name")
		}
	case TriggerTypeSchedule:
		if trg.Schedule == "" {
			return fmt.Errorf("schedule triggers require a cron expression")
		}
		if _, err := cron.ParseStandard(trg.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %v", trg.Schedule, err)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", trg.Type)
	}

	for i, cond := range trg.Conditions {
		switch cond.Operator {
		case OpEquals, OpGreaterThan, OpContains, OpExists:
		default:
			return fmt.Errorf("condition %d: unknown operator %q", i, cond.Operator)
		}
		if cond.Field == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}
	}

	if trg.When != "" {
		if _, err := compileGuard(trg.When); err != nil {
			return fmt.Errorf("invalid guard %q: %v", trg.When, err)
		}
	}
	return nil
}

// compileGuard compiles a trigger guard expression. Payload fields are the
// expression environment; the result must be a boolean.
func compileGuard(src string) (*vm.Program, error) {
	return expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
}

// LookupPath follows a dotted key path through nested maps. The second return
// is false when a segment is missing or a non-map value is reached early.
func LookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, seg := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// MatchesTriggerConditions reports whether a payload satisfies every
// condition of a trigger.
func MatchesTriggerConditions(trg Trigger, payload map[string]any) bool {
	for _, cond := range trg.Conditions {
		if !matchesCondition(cond, payload) {
			return false
		}
	}
	return true
}

func matchesCondition(cond Condition, payload map[string]any) bool {
	val, ok := LookupPath(payload, cond.Field)

	switch cond.Operator {
	case OpExists:
		return ok && val != nil
	case OpEquals:
		return ok && equalValues(val, cond.Value)
	case OpGreaterThan:
		if !ok {
			return false
		}
		a, aok := toFloat64(val)
		b, bok := toFloat64(cond.Value)
		return aok && bok && a > b
	case OpContains:
		return ok && containsValue(val, cond.Value)
	default:
		return false
	}
}

// equalValues compares with numeric coercion so that 150 (int) equals 150.0
// (float64 from JSON decoding).
func equalValues(a, b any) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return compareFloat64(af, bf) == 0
		}
	}
	return reflect.DeepEqual(a, b)
}

// containsValue implements the substring/member test: strings check for a
// substring, slices for a matching element.
func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
		return false
	case []string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		for _, item := range h {
			if item == n {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// compareFloat64 returns -1, 0, or 1 for float64 values with epsilon tolerance.
func compareFloat64(a, b float64) int {
	const epsilon = 1e-9
	if math.Abs(a-b) < epsilon {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

// TriggerDispatcher subscribes to domain event topics on the broker and
// starts matching workflows asynchronously. One broker subscription exists
// per event name; each delivery is evaluated against the current workflow
// registry, so re-registered definitions take effect without rewiring.
type TriggerDispatcher struct {
	logger    *slog.Logger
	broker    MessageBroker
	workflows *WorkflowRegistry
	starter   WorkflowStarter

	mu     sync.Mutex
	topics map[string]bool
}

// NewTriggerDispatcher creates a dispatcher reading definitions from
// workflows and starting executions through starter.
func NewTriggerDispatcher(broker MessageBroker, workflows *WorkflowRegistry, starter WorkflowStarter, logger *slog.Logger) *TriggerDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerDispatcher{
		logger:    logger,
		broker:    broker,
		workflows: workflows,
		starter:   starter,
		topics:    make(map[string]bool),
	}
}

// WireAll subscribes handlers for the event triggers of every registered
// workflow.
func (d *TriggerDispatcher) WireAll() error {
	for _, def := range d.workflows.List() {
		if err := d.Wire(def); err != nil {
			return err
		}
	}
	return nil
}

// Wire ensures a subscription exists for each event name the definition's
// triggers reference. Idempotent per event name.
func (d *TriggerDispatcher) Wire(def WorkflowDefinition) error {
	for _, trg := range def.Triggers {
		if trg.Type != TriggerTypeEvent {
			continue
		}
		if err := d.subscribe(trg.Event); err != nil {
			return fmt.Errorf("wire workflow %q: %w", def.Name, err)
		}
	}
	return nil
}

func (d *TriggerDispatcher) subscribe(event string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.topics[event] {
		return nil
	}
	handler := MessageHandlerFunc(func(msg []byte) error {
		return d.handleEvent(event, msg)
	})
	if err := d.broker.Subscribe(EventTopic(event), handler); err != nil {
		return fmt.Errorf("subscribe to event %q: %w", event, err)
	}
	d.topics[event] = true
	d.logger.Debug("Trigger subscription added", "event", event)
	return nil
}

// handleEvent evaluates an incoming event against every registered workflow's
// triggers and starts each match.
func (d *TriggerDispatcher) handleEvent(event string, msg []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		return fmt.Errorf("parse event %q payload: %w", event, err)
	}

	for _, def := range d.workflows.List() {
		for i, trg := range def.Triggers {
			if trg.Type != TriggerTypeEvent || trg.Event != event {
				continue
			}
			if !MatchesTriggerConditions(trg, payload) {
				continue
			}
			if !d.guardPasses(def.Name, i, trg, payload) {
				continue
			}
			d.start(def.Name, trg, payload)
		}
	}
	return nil
}

// guardPasses evaluates the trigger's optional When expression. Evaluation
// errors suppress the trigger rather than failing the event delivery.
func (d *TriggerDispatcher) guardPasses(workflow string, index int, trg Trigger, payload map[string]any) bool {
	if trg.When == "" {
		return true
	}
	program, err := compileGuard(trg.When)
	if err != nil {
		d.logger.Error("Trigger guard failed to compile",
			"workflow", workflow, "trigger", index, "error", err)
		return false
	}
	out, err := expr.Run(program, payload)
	if err != nil {
		d.logger.Warn("Trigger guard evaluation failed",
			"workflow", workflow, "trigger", index, "error", err)
		return false
	}
	pass, ok := out.(bool)
	return ok && pass
}

// start launches the workflow asynchronously with the event payload as input,
// overlaid with the trigger's static params.
func (d *TriggerDispatcher) start(workflow string, trg Trigger, payload map[string]any) {
	input := make(map[string]any, len(payload)+len(trg.Params))
	for k, v := range payload {
		input[k] = v
	}
	for k, v := range trg.Params {
		input[k] = v
	}

	d.logger.Info("Trigger matched", "workflow", workflow, "event", trg.Event)

	go func() {
		if err := d.starter.TriggerWorkflow(context.Background(), workflow, input); err != nil {
			d.logger.Error("Triggered workflow failed", "workflow", workflow, "error", err)
		}
	}()
}
