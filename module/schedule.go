package module

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleRunner fires workflows on cron schedules. Each workflow owns the
// set of entries created from its schedule triggers; re-registering a
// workflow replaces its entries.
type ScheduleRunner struct {
	logger  *slog.Logger
	starter WorkflowStarter
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[string][]cron.EntryID
}

// NewScheduleRunner creates a runner that starts executions through starter.
// Call Start before schedules are expected to fire.
func NewScheduleRunner(starter WorkflowStarter, logger *slog.Logger) *ScheduleRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleRunner{
		logger:  logger,
		starter: starter,
		cron:    cron.New(),
		entries: make(map[string][]cron.EntryID),
	}
}

// Schedule replaces the cron entries for a workflow with one entry per
// schedule trigger in the definition. Definitions without schedule triggers
// simply clear any previous entries.
func (r *ScheduleRunner) Schedule(def WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.entries[def.Name] {
		r.cron.Remove(id)
	}
	delete(r.entries, def.Name)

	var ids []cron.EntryID
	for _, trg := range def.Triggers {
		if trg.Type != TriggerTypeSchedule {
			continue
		}
		name, spec, params := def.Name, trg.Schedule, trg.Params
		id, err := r.cron.AddFunc(spec, func() {
			r.fire(name, spec, params)
		})
		if err != nil {
			for _, added := range ids {
				r.cron.Remove(added)
			}
			return err
		}
		ids = append(ids, id)
		r.logger.Debug("Schedule registered", "workflow", name, "schedule", spec)
	}
	if len(ids) > 0 {
		r.entries[def.Name] = ids
	}
	return nil
}

// fire starts one scheduled execution. The input carries the fire time plus
// the trigger's static params.
func (r *ScheduleRunner) fire(workflow, spec string, params map[string]any) {
	input := make(map[string]any, len(params)+1)
	for k, v := range params {
		input[k] = v
	}
	input["trigger_time"] = time.Now().UTC().Format(time.RFC3339)

	r.logger.Info("Schedule fired", "workflow", workflow, "schedule", spec)
	if err := r.starter.TriggerWorkflow(context.Background(), workflow, input); err != nil {
		r.logger.Error("Scheduled workflow failed", "workflow", workflow, "error", err)
	}
}

// Start begins evaluating schedules.
func (r *ScheduleRunner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for in-flight scheduled jobs, bounded by
// ctx.
func (r *ScheduleRunner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
