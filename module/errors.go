package module

import "errors"

// Sentinel errors returned by the registries and the engine. Callers match
// them with errors.Is; wrapped forms carry the offending name or step index.
var (
	// ErrServiceNotFound is returned when a lookup or a workflow step names a
	// service that was never registered.
	ErrServiceNotFound = errors.New("service not found")

	// ErrWorkflowNotFound is returned when an execution or a trigger names a
	// workflow that was never registered.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidService is returned when a service descriptor fails validation.
	ErrInvalidService = errors.New("invalid service descriptor")

	// ErrInvalidWorkflow is returned when a workflow definition fails validation.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")

	// ErrUnknownAction is returned when a step names an action its target
	// service does not implement.
	ErrUnknownAction = errors.New("unknown action")

	// ErrConcurrencyLimit is returned when starting an execution would exceed
	// the configured concurrent workflow ceiling.
	ErrConcurrencyLimit = errors.New("concurrent workflow limit reached")

	// ErrEngineStopped is returned for executions requested after shutdown
	// has begun.
	ErrEngineStopped = errors.New("engine is shutting down")
)
