package module

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Step is one action invocation within a workflow.
type Step struct {
	// Service names the registered service to call.
	Service string `json:"service" yaml:"service"`

	// Action names the action to invoke on that service.
	Action string `json:"action" yaml:"action"`

	// Params is an arbitrary nested value passed to the action. Strings of
	// the exact form ${a.b.c} are resolved against the execution context
	// before the call.
	Params any `json:"params,omitempty" yaml:"params,omitempty"`

	// OutputKey, when set, stores the action's result in the execution
	// context under that key, visible to later steps.
	OutputKey string `json:"outputKey,omitempty" yaml:"outputKey,omitempty"`

	// Rollback optionally names an action on the same service invoked during
	// compensation when a later step fails.
	Rollback string `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// Condition constrains when a trigger fires. All conditions of a trigger must
// hold against the event payload.
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Trigger binds an event or a schedule to automatic workflow execution.
type Trigger struct {
	// Type is one of TriggerTypeEvent or TriggerTypeSchedule.
	Type string `json:"type" yaml:"type"`

	// Event names the event type this trigger subscribes to (event triggers).
	Event string `json:"event,omitempty" yaml:"event,omitempty"`

	// Schedule is a standard 5-field cron expression (schedule triggers).
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// Conditions must all hold against the event payload for the trigger to
	// fire. Ignored by schedule triggers.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// When is an optional boolean guard expression evaluated against the
	// event payload. A false or failing guard suppresses the trigger.
	When string `json:"when,omitempty" yaml:"when,omitempty"`

	// Params are static values merged into the workflow input when the
	// trigger fires. They override same-named payload fields.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// WorkflowDefinition is a named, ordered sequence of steps with optional
// compensation and triggers.
type WorkflowDefinition struct {
	Name            string    `json:"name" yaml:"name"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
	Steps           []Step    `json:"steps" yaml:"steps"`
	RollbackEnabled bool      `json:"rollbackEnabled,omitempty" yaml:"rollbackEnabled,omitempty"`
	Triggers        []Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// WorkflowRegistry stores validated workflow definitions keyed by name.
// Validation runs against the service registry at registration time, so the
// registry never holds a definition referencing an unregistered service.
type WorkflowRegistry struct {
	logger    *slog.Logger
	services  *ServiceRegistry
	mu        sync.RWMutex
	workflows map[string]WorkflowDefinition
}

// NewWorkflowRegistry creates an empty WorkflowRegistry validating against
// the given service registry.
func NewWorkflowRegistry(services *ServiceRegistry, logger *slog.Logger) *WorkflowRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowRegistry{
		logger:    logger,
		services:  services,
		workflows: make(map[string]WorkflowDefinition),
	}
}

// Register validates and stores a definition. Validation fails atomically: on
// error nothing is stored. Re-registering an existing name replaces the prior
// definition. The returned bool reports whether a prior definition was
// replaced.
func (r *WorkflowRegistry) Register(def WorkflowDefinition) (bool, error) {
	if err := r.validate(def); err != nil {
		return false, err
	}

	r.mu.Lock()
	_, replaced := r.workflows[def.Name]
	r.workflows[def.Name] = def
	r.mu.Unlock()

	r.logger.Info("Workflow registered",
		"workflow", def.Name,
		"steps", len(def.Steps),
		"triggers", len(def.Triggers),
		"replaced", replaced,
	)
	return replaced, nil
}

// ValidateDefinition checks the registry-independent shape of a definition:
// required fields, step structure, and trigger syntax. An empty step list is
// legal (a no-op workflow); a nil one is not. Registration additionally
// verifies that referenced services and actions exist.
func ValidateDefinition(def WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorkflow)
	}
	if def.Steps == nil {
		return fmt.Errorf("%w: %q has no steps list", ErrInvalidWorkflow, def.Name)
	}
	for i, step := range def.Steps {
		if step.Service == "" {
			return fmt.Errorf("%w: %q step %d: service is required", ErrInvalidWorkflow, def.Name, i)
		}
		if step.Action == "" {
			return fmt.Errorf("%w: %q step %d: action is required", ErrInvalidWorkflow, def.Name, i)
		}
	}
	for i, trg := range def.Triggers {
		if err := validateTrigger(trg); err != nil {
			return fmt.Errorf("%w: %q trigger %d: %v", ErrInvalidWorkflow, def.Name, i, err)
		}
	}
	return nil
}

// validate layers registry checks on top of ValidateDefinition: every step's
// service must be registered and must implement the named action and any
// rollback action.
func (r *WorkflowRegistry) validate(def WorkflowDefinition) error {
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	for i, step := range def.Steps {
		desc, err := r.services.Get(step.Service)
		if err != nil {
			return fmt.Errorf("%w: %q step %d: service %q is not registered",
				ErrInvalidWorkflow, def.Name, i, step.Service)
		}
		if _, ok := desc.Instance.Action(step.Action); !ok {
			return fmt.Errorf("%w: %q step %d: service %q has no action %q",
				ErrInvalidWorkflow, def.Name, i, step.Service, step.Action)
		}
		if step.Rollback != "" {
			if _, ok := desc.Instance.Action(step.Rollback); !ok {
				return fmt.Errorf("%w: %q step %d: service %q has no rollback action %q",
					ErrInvalidWorkflow, def.Name, i, step.Service, step.Rollback)
			}
		}
	}
	return nil
}

// Get returns the definition for name.
func (r *WorkflowRegistry) Get(name string) (WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.workflows[name]
	if !ok {
		return WorkflowDefinition{}, fmt.Errorf("workflow %q: %w", name, ErrWorkflowNotFound)
	}
	return def, nil
}

// List returns a snapshot of all definitions, sorted by name.
func (r *WorkflowRegistry) List() []WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkflowDefinition, 0, len(r.workflows))
	for _, def := range r.workflows {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered workflows.
func (r *WorkflowRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workflows)
}
