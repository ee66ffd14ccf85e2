package main

import (
	"fmt"
	"os"

	"github.com/GoCodeAlone/orchestrator/config"
	"github.com/GoCodeAlone/orchestrator/module"
)

var version = "dev"

var commands = map[string]func([]string) error{
	"validate": runValidate,
	"inspect":  runInspect,
	"diff":     runDiff,
}

func usage() {
	fmt.Fprintf(os.Stderr, `orchctl - Orchestration Engine CLI (version %s)

Usage:
  orchctl <command> [options]

Commands:
  validate   Validate an orchestrator configuration file
  inspect    List workflows, steps, and triggers in a config
  diff       Compare two config files and show what changed

Run 'orchctl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runValidate checks definition shape and trigger syntax. Whether the
// referenced services exist is only known to a live engine, so that part
// of validation happens at registration.
func runValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: orchctl validate <config.yaml>")
	}
	cfg, err := config.LoadFromFile(args[0])
	if err != nil {
		return err
	}

	var bad int
	for _, def := range cfg.Workflows {
		if err := module.ValidateDefinition(def); err != nil {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
			bad++
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d workflow definitions failed validation", bad, len(cfg.Workflows))
	}
	fmt.Printf("%s: %d workflow definitions OK\n", args[0], len(cfg.Workflows))
	return nil
}

func runInspect(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: orchctl inspect <config.yaml>")
	}
	cfg, err := config.LoadFromFile(args[0])
	if err != nil {
		return err
	}

	if cfg.Name != "" {
		fmt.Printf("Name: %s\n", cfg.Name)
	}
	fmt.Printf("Engine: maxConcurrentWorkflows=%d healthInterval=%s healthTimeout=%s\n",
		cfg.Engine.MaxConcurrentWorkflows, cfg.Engine.HealthInterval(), cfg.Engine.HealthTimeout())
	fmt.Printf("Workflows: %d\n", len(cfg.Workflows))
	for _, def := range cfg.Workflows {
		fmt.Printf("  %s: %d steps, rollback=%t\n", def.Name, len(def.Steps), def.RollbackEnabled)
		for i, step := range def.Steps {
			line := fmt.Sprintf("    step %d: %s.%s", i, step.Service, step.Action)
			if step.OutputKey != "" {
				line += " -> " + step.OutputKey
			}
			if step.Rollback != "" {
				line += " (rollback: " + step.Rollback + ")"
			}
			fmt.Println(line)
		}
		for _, trg := range def.Triggers {
			switch trg.Type {
			case module.TriggerTypeSchedule:
				fmt.Printf("    trigger: schedule %q\n", trg.Schedule)
			default:
				fmt.Printf("    trigger: event %q (%d conditions)\n", trg.Event, len(trg.Conditions))
			}
		}
	}
	return nil
}

func runDiff(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: orchctl diff <old.yaml> <new.yaml>")
	}
	oldCfg, err := config.LoadFromFile(args[0])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}
	newCfg, err := config.LoadFromFile(args[1])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[1], err)
	}

	diff := config.DiffWorkflows(oldCfg, newCfg)
	engineChanged := config.EngineChanged(oldCfg, newCfg)
	if diff.Empty() && !engineChanged {
		fmt.Println("no changes")
		return nil
	}

	for _, def := range diff.Added {
		fmt.Printf("added:     %s\n", def.Name)
	}
	for _, def := range diff.Modified {
		fmt.Printf("modified:  %s\n", def.Name)
	}
	for _, name := range diff.Removed {
		fmt.Printf("removed:   %s\n", name)
	}
	for _, name := range diff.Unchanged {
		fmt.Printf("unchanged: %s\n", name)
	}
	if engineChanged {
		fmt.Println("engine settings changed")
	}
	return nil
}
