package module

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Lifecycle constants for workflow lifecycle events.
const (
	LifecycleStarted   = "started"
	LifecycleCompleted = "completed"
	LifecycleFailed    = "failed"
)

// Topics for registration lifecycle events.
const (
	TopicServiceRegistered  = "service.registered"
	TopicWorkflowRegistered = "workflow.registered"
)

// WorkflowTopic returns the broker topic for a workflow lifecycle event.
// Format: "workflow.<name>.<lifecycle>"
func WorkflowTopic(workflow, lifecycle string) string {
	return "workflow." + workflow + "." + lifecycle
}

// EventTopic returns the broker topic carrying domain events of a given type.
// Format: "event.<type>"
func EventTopic(eventType string) string {
	return "event." + eventType
}

// BreakerTopic returns the broker topic for a service's circuit breaker
// transitions. Format: "service.<name>.breaker"
func BreakerTopic(service string) string {
	return "service." + service + ".breaker"
}

// WorkflowLifecycleEvent is the payload published for workflow lifecycle
// events.
type WorkflowLifecycleEvent struct {
	Workflow    string         `json:"workflow"`
	ExecutionID string         `json:"executionId"`
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Duration    time.Duration  `json:"duration,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ServiceRegisteredEvent is published when a service is registered.
type ServiceRegisteredEvent struct {
	Service      string    `json:"service"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Replaced     bool      `json:"replaced,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// WorkflowRegisteredEvent is published when a workflow is registered.
type WorkflowRegisteredEvent struct {
	Workflow  string    `json:"workflow"`
	Steps     int       `json:"steps"`
	Replaced  bool      `json:"replaced,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BreakerStateEvent is published when a service's circuit breaker changes
// state.
type BreakerStateEvent struct {
	Service   string    `json:"service"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// EventEmitter publishes engine lifecycle events to the broker as JSON. All
// methods are safe to call on a nil emitter or with a nil broker; they
// silently become no-ops.
type EventEmitter struct {
	broker MessageBroker
	logger *slog.Logger
}

// NewEventEmitter creates an emitter publishing to broker.
func NewEventEmitter(broker MessageBroker, logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{broker: broker, logger: logger}
}

func (e *EventEmitter) publish(topic string, payload any) {
	if e == nil || e.broker == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("Failed to marshal lifecycle event", "topic", topic, "error", err)
		return
	}
	if err := e.broker.Publish(topic, data); err != nil {
		e.logger.Error("Failed to publish lifecycle event", "topic", topic, "error", err)
	}
}

// EmitWorkflowStarted publishes a "started" lifecycle event for an execution.
func (e *EventEmitter) EmitWorkflowStarted(workflow, executionID string, input map[string]any) {
	e.publish(WorkflowTopic(workflow, LifecycleStarted), WorkflowLifecycleEvent{
		Workflow:    workflow,
		ExecutionID: executionID,
		Status:      LifecycleStarted,
		Timestamp:   time.Now(),
		Input:       input,
	})
}

// EmitWorkflowCompleted publishes a "completed" lifecycle event.
func (e *EventEmitter) EmitWorkflowCompleted(workflow, executionID string, duration time.Duration) {
	e.publish(WorkflowTopic(workflow, LifecycleCompleted), WorkflowLifecycleEvent{
		Workflow:    workflow,
		ExecutionID: executionID,
		Status:      LifecycleCompleted,
		Timestamp:   time.Now(),
		Duration:    duration,
	})
}

// EmitWorkflowFailed publishes a "failed" lifecycle event.
func (e *EventEmitter) EmitWorkflowFailed(workflow, executionID string, duration time.Duration, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	e.publish(WorkflowTopic(workflow, LifecycleFailed), WorkflowLifecycleEvent{
		Workflow:    workflow,
		ExecutionID: executionID,
		Status:      LifecycleFailed,
		Timestamp:   time.Now(),
		Duration:    duration,
		Error:       errStr,
	})
}

// EmitServiceRegistered publishes a service registration notification.
func (e *EventEmitter) EmitServiceRegistered(service string, capabilities []string, replaced bool) {
	e.publish(TopicServiceRegistered, ServiceRegisteredEvent{
		Service:      service,
		Capabilities: capabilities,
		Replaced:     replaced,
		Timestamp:    time.Now(),
	})
}

// EmitWorkflowRegistered publishes a workflow registration notification.
func (e *EventEmitter) EmitWorkflowRegistered(workflow string, steps int, replaced bool) {
	e.publish(TopicWorkflowRegistered, WorkflowRegisteredEvent{
		Workflow:  workflow,
		Steps:     steps,
		Replaced:  replaced,
		Timestamp: time.Now(),
	})
}

// EmitBreakerState publishes a circuit breaker state transition.
func (e *EventEmitter) EmitBreakerState(service, from, to string) {
	e.publish(BreakerTopic(service), BreakerStateEvent{
		Service:   service,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	})
}
