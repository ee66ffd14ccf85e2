package config

import (
	"context"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/orchestrator/module"
)

// WorkflowApplier is implemented by the engine to support live workflow
// re-registration on config changes.
type WorkflowApplier interface {
	// ApplyWorkflows registers (or re-registers) the given definitions.
	// Returns the names of any definitions that failed validation and any
	// hard error.
	ApplyWorkflows(ctx context.Context, defs []module.WorkflowDefinition) (failed []string, err error)
}

// Reloader coordinates config change detection and live workflow updates.
// Added and modified workflow definitions are re-registered through the
// applier; removals and engine-section changes only take effect at the next
// process start and are logged as such.
type Reloader struct {
	mu          sync.Mutex
	current     *Config
	currentHash string
	logger      *slog.Logger

	applier WorkflowApplier
}

// NewReloader creates a Reloader with the given initial config.
func NewReloader(initial *Config, applier WorkflowApplier, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hash, err := HashConfig(initial)
	if err != nil {
		return nil, err
	}
	return &Reloader{
		current:     initial,
		currentHash: hash,
		logger:      logger,
		applier:     applier,
	}, nil
}

// HandleChange processes a config change event: diffs the old and new
// configs and re-registers added or modified workflow definitions.
func (r *Reloader) HandleChange(evt ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if EngineChanged(r.current, evt.Config) {
		r.logger.Warn("engine settings changed on disk, restart required to apply")
	}

	diff := DiffWorkflows(r.current, evt.Config)
	if len(diff.Removed) > 0 {
		r.logger.Warn("workflows removed from config remain registered until restart",
			"workflows", diff.Removed)
	}

	changed := append(append([]module.WorkflowDefinition{}, diff.Added...), diff.Modified...)
	if len(changed) == 0 {
		r.logger.Debug("config change detected but no workflow differences")
		r.current = evt.Config
		r.currentHash = evt.NewHash
		return nil
	}

	failed, err := r.applier.ApplyWorkflows(context.Background(), changed)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		r.logger.Warn("some workflow definitions failed to re-register",
			"workflows", failed)
	}

	r.logger.Info("workflows reloaded",
		"added", len(diff.Added), "modified", len(diff.Modified), "failed", len(failed))

	r.current = evt.Config
	r.currentHash = evt.NewHash
	return nil
}
