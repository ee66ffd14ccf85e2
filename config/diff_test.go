package config

import (
	"testing"

	"github.com/GoCodeAlone/orchestrator/module"
)

func workflowsConfig(defs ...module.WorkflowDefinition) *Config {
	return &Config{Workflows: defs}
}

func namedWorkflow(name string, steps ...module.Step) module.WorkflowDefinition {
	return module.WorkflowDefinition{Name: name, Steps: steps}
}

func TestDiffWorkflowsNoChanges(t *testing.T) {
	defs := []module.WorkflowDefinition{
		namedWorkflow("order-fulfillment", module.Step{Service: "inventory", Action: "reserve"}),
		namedWorkflow("inventory-audit", module.Step{Service: "inventory", Action: "audit"}),
	}
	diff := DiffWorkflows(workflowsConfig(defs...), workflowsConfig(defs...))

	if !diff.Empty() {
		t.Errorf("expected empty diff, got %+v", diff)
	}
	if len(diff.Unchanged) != 2 {
		t.Errorf("expected 2 unchanged, got %d", len(diff.Unchanged))
	}
}

func TestDiffWorkflowsAdded(t *testing.T) {
	old := workflowsConfig(namedWorkflow("order-fulfillment", module.Step{Service: "inventory", Action: "reserve"}))
	new := workflowsConfig(
		namedWorkflow("order-fulfillment", module.Step{Service: "inventory", Action: "reserve"}),
		namedWorkflow("refund", module.Step{Service: "payment", Action: "refund"}),
	)

	diff := DiffWorkflows(old, new)
	if len(diff.Added) != 1 || diff.Added[0].Name != "refund" {
		t.Fatalf("expected refund added, got %+v", diff.Added)
	}
	if len(diff.Removed) != 0 || len(diff.Modified) != 0 {
		t.Errorf("unexpected removals/modifications: %+v", diff)
	}
	if diff.Empty() {
		t.Error("diff with additions must not be empty")
	}
}

func TestDiffWorkflowsRemoved(t *testing.T) {
	old := workflowsConfig(
		namedWorkflow("order-fulfillment", module.Step{Service: "inventory", Action: "reserve"}),
		namedWorkflow("refund", module.Step{Service: "payment", Action: "refund"}),
	)
	new := workflowsConfig(namedWorkflow("order-fulfillment", module.Step{Service: "inventory", Action: "reserve"}))

	diff := DiffWorkflows(old, new)
	if len(diff.Removed) != 1 || diff.Removed[0] != "refund" {
		t.Fatalf("expected refund removed, got %+v", diff.Removed)
	}
	if len(diff.Added) != 0 || len(diff.Modified) != 0 {
		t.Errorf("unexpected additions/modifications: %+v", diff)
	}
}

func TestDiffWorkflowsModified(t *testing.T) {
	old := workflowsConfig(namedWorkflow("order-fulfillment", module.Step{Service: "inventory", Action: "reserve"}))

	changed := namedWorkflow("order-fulfillment",
		module.Step{Service: "inventory", Action: "reserve"},
		module.Step{Service: "payment", Action: "charge"},
	)
	diff := DiffWorkflows(old, workflowsConfig(changed))

	if len(diff.Modified) != 1 || diff.Modified[0].Name != "order-fulfillment" {
		t.Fatalf("expected order-fulfillment modified, got %+v", diff.Modified)
	}
	if len(diff.Modified[0].Steps) != 2 {
		t.Errorf("Modified should carry the new definition, got %d steps", len(diff.Modified[0].Steps))
	}
	if len(diff.Unchanged) != 0 {
		t.Errorf("unexpected unchanged entries: %v", diff.Unchanged)
	}
}

func TestDiffWorkflowsParamChangeIsModification(t *testing.T) {
	old := workflowsConfig(namedWorkflow("order-fulfillment",
		module.Step{Service: "inventory", Action: "reserve", Params: map[string]any{"warehouse": "east"}}))
	new := workflowsConfig(namedWorkflow("order-fulfillment",
		module.Step{Service: "inventory", Action: "reserve", Params: map[string]any{"warehouse": "west"}}))

	diff := DiffWorkflows(old, new)
	if len(diff.Modified) != 1 {
		t.Fatalf("param change should register as modification, got %+v", diff)
	}
}

func TestEngineChanged(t *testing.T) {
	base := &Config{
		Engine:  EngineConfig{MaxConcurrentWorkflows: 10},
		Tracing: TracingConfig{Enabled: true, Endpoint: "collector:4318"},
	}

	same := &Config{
		Engine:  EngineConfig{MaxConcurrentWorkflows: 10},
		Tracing: TracingConfig{Enabled: true, Endpoint: "collector:4318"},
	}
	if EngineChanged(base, same) {
		t.Error("identical engine sections should not report a change")
	}

	// Workflow-only changes are invisible to EngineChanged.
	workflowOnly := &Config{
		Engine:    base.Engine,
		Tracing:   base.Tracing,
		Workflows: []module.WorkflowDefinition{namedWorkflow("x", module.Step{Service: "a", Action: "b"})},
	}
	if EngineChanged(base, workflowOnly) {
		t.Error("workflow changes should not count as engine changes")
	}

	engineBump := &Config{
		Engine:  EngineConfig{MaxConcurrentWorkflows: 20},
		Tracing: base.Tracing,
	}
	if !EngineChanged(base, engineBump) {
		t.Error("concurrency change should report an engine change")
	}

	tracingOff := &Config{
		Engine:  base.Engine,
		Tracing: TracingConfig{Enabled: false},
	}
	if !EngineChanged(base, tracingOff) {
		t.Error("tracing change should report an engine change")
	}
}
