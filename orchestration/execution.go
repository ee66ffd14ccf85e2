// Package orchestration runs registered workflows: sequential step dispatch,
// parameter resolution, circuit-breaker consultation, and saga-style
// compensation on failure.
package orchestration

import "time"

// Execution statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution is the run record for one workflow instance. It lives in the
// coordinator's active set from start until the run fully completes or its
// failure is fully handled (compensation included).
type Execution struct {
	ID            string     `json:"id"`
	Workflow      string     `json:"workflow"`
	Status        string     `json:"status"`
	StepsExecuted int        `json:"stepsExecuted"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Error         string     `json:"error,omitempty"`

	// Elapsed is filled on snapshots: time since StartedAt for running
	// executions, total runtime for finished ones.
	Elapsed time.Duration `json:"elapsed"`
}

// Result is what callers receive from a successful execution.
type Result struct {
	ExecutionID   string `json:"executionId"`
	Status        string `json:"status"`
	StepsExecuted int    `json:"stepsExecuted"`
}

// completedStep records a successfully executed step together with its
// output, so compensation can reference what was produced.
type completedStep struct {
	index  int
	output any
}
