package config

import (
	"context"
	"fmt"
)

// CompositeSource layers multiple Sources. Later sources override earlier
// ones: scalar engine/tracing settings win when non-zero, workflow
// definitions replace or extend by name.
type CompositeSource struct {
	sources []Source
}

// NewCompositeSource creates a CompositeSource from the given sources.
// Sources are applied in order: sources[0] is the base, each subsequent
// source overlays on top of the result.
func NewCompositeSource(sources ...Source) *CompositeSource {
	return &CompositeSource{sources: sources}
}

// Load loads all sources and merges them into a single Config.
func (s *CompositeSource) Load(ctx context.Context) (*Config, error) {
	if len(s.sources) == 0 {
		return nil, fmt.Errorf("composite source: no sources configured")
	}
	base, err := s.sources[0].Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, src := range s.sources[1:] {
		overlay, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("composite source %s: %w", src.Name(), err)
		}
		mergeOverlay(base, overlay)
	}
	return base, nil
}

// Hash loads the merged config and returns its hash.
func (s *CompositeSource) Hash(ctx context.Context) (string, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	return HashConfig(cfg)
}

// Name returns a human-readable identifier for this source.
func (s *CompositeSource) Name() string { return "composite" }

// mergeOverlay applies overlay's configuration on top of base in place.
// Engine and tracing fields override when set; workflow definitions replace
// base definitions with the same name and append otherwise.
func mergeOverlay(base, overlay *Config) {
	if overlay == nil {
		return
	}

	if overlay.Name != "" {
		base.Name = overlay.Name
	}

	if overlay.Engine.MaxConcurrentWorkflows > 0 {
		base.Engine.MaxConcurrentWorkflows = overlay.Engine.MaxConcurrentWorkflows
	}
	if overlay.Engine.HealthIntervalSeconds > 0 {
		base.Engine.HealthIntervalSeconds = overlay.Engine.HealthIntervalSeconds
	}
	if overlay.Engine.HealthTimeoutSeconds > 0 {
		base.Engine.HealthTimeoutSeconds = overlay.Engine.HealthTimeoutSeconds
	}
	if overlay.Engine.Breaker.FailureThreshold > 0 {
		base.Engine.Breaker.FailureThreshold = overlay.Engine.Breaker.FailureThreshold
	}
	if overlay.Engine.Breaker.SuccessThreshold > 0 {
		base.Engine.Breaker.SuccessThreshold = overlay.Engine.Breaker.SuccessThreshold
	}
	if overlay.Engine.Breaker.OpenTimeoutSeconds > 0 {
		base.Engine.Breaker.OpenTimeoutSeconds = overlay.Engine.Breaker.OpenTimeoutSeconds
	}

	if overlay.Tracing.Enabled {
		base.Tracing = overlay.Tracing
	}

	// Replace or append workflow definitions by name.
	existing := make(map[string]int, len(base.Workflows))
	for i, def := range base.Workflows {
		existing[def.Name] = i
	}
	for _, def := range overlay.Workflows {
		if idx, ok := existing[def.Name]; ok {
			base.Workflows[idx] = def
		} else {
			base.Workflows = append(base.Workflows, def)
		}
	}
}
