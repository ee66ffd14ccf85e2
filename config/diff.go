package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/orchestrator/module"
)

// WorkflowDiff represents what changed between two configs' workflow lists.
type WorkflowDiff struct {
	Added     []module.WorkflowDefinition // workflows in new but not old
	Removed   []string                    // workflow names in old but not new
	Modified  []module.WorkflowDefinition // workflows present in both with different definitions
	Unchanged []string                    // workflow names with no change
}

// Empty reports whether the diff carries no effective changes.
func (d *WorkflowDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// DiffWorkflows compares two configs and identifies workflow-level changes.
func DiffWorkflows(old, new *Config) *WorkflowDiff {
	diff := &WorkflowDiff{}

	oldMap := make(map[string]module.WorkflowDefinition)
	for _, def := range old.Workflows {
		oldMap[def.Name] = def
	}
	newMap := make(map[string]module.WorkflowDefinition)
	for _, def := range new.Workflows {
		newMap[def.Name] = def
	}

	for _, def := range new.Workflows {
		oldDef, exists := oldMap[def.Name]
		if !exists {
			diff.Added = append(diff.Added, def)
			continue
		}
		if hashAny(oldDef) != hashAny(def) {
			diff.Modified = append(diff.Modified, def)
		} else {
			diff.Unchanged = append(diff.Unchanged, def.Name)
		}
	}

	for _, def := range old.Workflows {
		if _, exists := newMap[def.Name]; !exists {
			diff.Removed = append(diff.Removed, def.Name)
		}
	}

	return diff
}

// EngineChanged returns true if the engine or tracing sections changed
// between old and new. Those settings are applied at construction and need a
// process restart.
func EngineChanged(old, new *Config) bool {
	return hashAny(old.Engine) != hashAny(new.Engine) ||
		hashAny(old.Tracing) != hashAny(new.Tracing)
}

func hashAny(v any) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error:%v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
