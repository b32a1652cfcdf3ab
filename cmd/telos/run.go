// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/jllopis/telos/pkg/config"
	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/orchestrator"
	"github.com/jllopis/telos/pkg/registry"
	"github.com/jllopis/telos/pkg/resilience"
	"github.com/jllopis/telos/pkg/telemetry"
)

func runRun(ctx context.Context, flags globalFlags, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	target := cmd.String("target", "", "Agent id or capability (empty triages the prompt)")
	prompt := cmd.String("prompt", "", "Task payload")
	watch := cmd.Bool("watch", false, "Watch config files for changes and hot-reload agents")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *prompt == "" {
		fatal(fmt.Errorf("--prompt is required"))
	}

	_, reg, orch, shutdown := bootstrap(flags)
	defer shutdown()

	if *watch && flags.ConfigPath != "" {
		watcher, _, err := config.WatchConfig(ctx, flags.ConfigPath)
		if err != nil {
			fatal(fmt.Errorf("failed to watch config: %w", err))
		}
		defer watcher.Stop()
		watcher.OnChange(func(next *config.Config) {
			entries, err := builtinEntries(next)
			if err != nil {
				slog.Error("agent reload failed", "error", err)
				return
			}
			if err := reg.Reload(entries); err != nil {
				slog.Error("agent reload failed", "error", err)
				return
			}
			slog.Info("agents reloaded")
		})
	}

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	env := orch.Execute(ctx, *target, *prompt)
	printEnvelope(env, flags.JSON)
	if !env.Success {
		os.Exit(1)
	}
}

func runWorkflow(ctx context.Context, flags globalFlags, args []string) {
	cmd := flag.NewFlagSet("workflow", flag.ContinueOnError)
	planPath := cmd.String("plan", "", "Path to a workflow plan (YAML/JSON)")
	auditPath := cmd.String("audit", "", "SQLite file for the step audit trail")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *planPath == "" {
		fatal(fmt.Errorf("--plan is required"))
	}

	plan, err := orchestrator.LoadPlan(*planPath)
	if err != nil {
		fatal(fmt.Errorf("failed to load plan: %w", err))
	}

	cfg, _, orch, shutdown := bootstrap(flags)
	defer shutdown()

	if *auditPath == "" && cfg.Audit.Enabled {
		*auditPath = cfg.Audit.Path
	}
	if *auditPath != "" {
		store, err := orchestrator.OpenSQLiteAuditStore(*auditPath)
		if err != nil {
			fatal(fmt.Errorf("failed to open audit store: %w", err))
		}
		defer store.Close()
		orch.SetAuditStore(store)
	}

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	result, runErr := orch.RunWorkflow(ctx, plan)
	printWorkflowResult(result, flags.JSON)
	if runErr != nil {
		os.Exit(1)
	}
}

func runAgents(flags globalFlags, args []string) {
	if len(args) > 0 && args[0] != "list" {
		fatal(fmt.Errorf("unknown agents subcommand %q", args[0]))
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(err)
	}
	reg, err := buildRegistry(cfg)
	if err != nil {
		fatal(err)
	}

	descriptors := reg.List()
	if flags.JSON {
		printJSON(descriptors)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCAPABILITIES")
	for _, d := range descriptors {
		fmt.Fprintf(w, "%s\t%s\t%v\n", d.ID, d.Name, d.Capabilities.Strings())
	}
	w.Flush()
}

// bootstrap loads config, wires logging and telemetry and builds the
// orchestrator over the builtin agents.
func bootstrap(flags globalFlags) (*config.Config, *registry.Registry, *orchestrator.Orchestrator, func()) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(fmt.Errorf("failed to load config: %w", err))
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown := func() {}
	if cfg.Telemetry.Enabled {
		stop, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: true,
		})
		if err != nil {
			fatal(fmt.Errorf("failed to init telemetry: %w", err))
		}
		shutdown = func() { _ = stop(context.Background()) }
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		fatal(err)
	}

	policy := resilience.DefaultPolicy().
		WithMaxRetries(cfg.Policy.MaxRetries).
		WithBaseDelay(cfg.Policy.BaseDelay).
		WithMaxDelay(cfg.Policy.MaxDelay).
		WithTimeout(cfg.Policy.Timeout).
		WithChunkSizeLimit(cfg.Policy.ChunkSizeLimit)
	emitter := telemetry.NewSlogEventEmitter(nil)
	taskMetrics, err := telemetry.NewTaskMetrics(context.Background())
	if err != nil {
		fatal(fmt.Errorf("failed to init task metrics: %w", err))
	}
	exec := resilience.NewExecutor(policy,
		resilience.WithEmitter(emitter),
		resilience.WithMetrics(taskMetrics),
	)

	orch := orchestrator.New(reg, exec, orchestrator.WithEmitter(emitter))
	return cfg, reg, orch, shutdown
}

func printEnvelope(env core.ResponseEnvelope, asJSON bool) {
	if asJSON {
		printJSON(env)
		return
	}
	if env.Success {
		fmt.Println(env.Payload)
		fmt.Fprintf(os.Stderr, "agent=%s latency=%dms retries=%d\n", env.AgentID, env.LatencyMs, env.RetryAttempts)
		return
	}
	fmt.Fprintf(os.Stderr, "error: [%s] %s (agent=%s retries=%d)\n", env.ErrorKind, env.Message, env.AgentID, env.RetryAttempts)
}

func printWorkflowResult(result *orchestrator.WorkflowResult, asJSON bool) {
	if result == nil {
		return
	}
	if asJSON {
		printJSON(result)
		return
	}
	fmt.Printf("plan=%s run=%s status=%s steps=%d ok=%d failed=%d latency=%dms\n",
		result.PlanID, result.RunID, result.Status,
		len(result.StepResults), result.SucceededSteps, result.FailedSteps,
		result.TotalLatencyMs)
	for _, sr := range result.StepResults {
		switch {
		case sr.Skipped:
			fmt.Printf("  %s: skipped\n", sr.StepID)
		case sr.Envelope.Success:
			fmt.Printf("  %s: ok (%s, %dms)\n", sr.StepID, sr.Envelope.AgentID, sr.Envelope.LatencyMs)
		default:
			fmt.Printf("  %s: failed [%s] %s\n", sr.StepID, sr.Envelope.ErrorKind, sr.Envelope.Message)
		}
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(data))
}
