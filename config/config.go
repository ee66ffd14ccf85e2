// Package config loads and watches orchestrator configuration: engine
// tuning, breaker defaults, tracing, and declarative workflow definitions.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/orchestrator/module"
)

// BreakerConfig sets the default parameters for per-service circuit
// breakers. Zero values fall back to engine defaults.
type BreakerConfig struct {
	FailureThreshold   int `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty"`
	SuccessThreshold   int `json:"successThreshold,omitempty" yaml:"successThreshold,omitempty"`
	OpenTimeoutSeconds int `json:"openTimeoutSeconds,omitempty" yaml:"openTimeoutSeconds,omitempty"`
}

// OpenTimeout returns the open-state timeout as a duration.
func (c BreakerConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutSeconds) * time.Second
}

// EngineConfig tunes the execution coordinator and health monitor.
type EngineConfig struct {
	MaxConcurrentWorkflows int `json:"maxConcurrentWorkflows,omitempty" yaml:"maxConcurrentWorkflows,omitempty"`
	HealthIntervalSeconds  int `json:"healthIntervalSeconds,omitempty" yaml:"healthIntervalSeconds,omitempty"`
	HealthTimeoutSeconds   int `json:"healthTimeoutSeconds,omitempty" yaml:"healthTimeoutSeconds,omitempty"`

	Breaker BreakerConfig `json:"breaker,omitempty" yaml:"breaker,omitempty"`
}

// HealthInterval returns the health poll interval as a duration.
func (c EngineConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

// HealthTimeout returns the per-check timeout as a duration.
func (c EngineConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	Enabled    bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Endpoint   string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SampleRate float64 `json:"sampleRate,omitempty" yaml:"sampleRate,omitempty"`
}

// Config is the root configuration for an orchestrator process. Workflows
// listed here are registered at startup; their services must be registered
// in code before the config is applied.
type Config struct {
	Name      string                      `json:"name,omitempty" yaml:"name,omitempty"`
	Engine    EngineConfig                `json:"engine,omitempty" yaml:"engine,omitempty"`
	Tracing   TracingConfig               `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Workflows []module.WorkflowDefinition `json:"workflows,omitempty" yaml:"workflows,omitempty"`
}

// LoadFromFile loads an orchestrator configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}
