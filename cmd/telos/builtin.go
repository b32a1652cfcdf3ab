// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/jllopis/telos/pkg/agent"
	"github.com/jllopis/telos/pkg/capability"
	"github.com/jllopis/telos/pkg/config"
	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/model"
	"github.com/jllopis/telos/pkg/registry"
	"github.com/jllopis/telos/pkg/resilience"
	"github.com/jllopis/telos/pkg/telemetry"
)

// builtinAgents maps agent ids to the capabilities they serve. One worker
// per capability plus a general-purpose fallback.
var builtinAgents = []struct {
	ID    string
	Name  string
	Caps  []capability.Capability
	Brief string
}{
	{"code-analyst", "Code Analyst", []capability.Capability{capability.CodeAnalysis, capability.TestGeneration}, "You analyze source code and produce findings or tests."},
	{"fixer", "Fixer", []capability.Capability{capability.Repair, capability.Debugging}, "You diagnose defects and propose minimal fixes."},
	{"profiler", "Profiler", []capability.Capability{capability.PerformanceAnalysis}, "You identify performance bottlenecks and suggest remedies."},
	{"researcher", "Researcher", []capability.Capability{capability.Research, capability.StrategicPlanning}, "You research topics and draft plans."},
	{"vision", "Vision Analyst", []capability.Capability{capability.VisualAnalysis, capability.ImageGeneration}, "You describe and generate imagery."},
	{"listener", "Speech Analyst", []capability.Capability{capability.SpeechAnalysis}, "You transcribe and analyze spoken content."},
	{"brand", "Brand Strategist", []capability.Capability{capability.BrandAnalysis}, "You evaluate brand and messaging."},
	{"generalist", "Generalist", []capability.Capability{capability.General}, "You handle any request to the best of your ability."},
}

func providerFor(cfg *config.Config) (model.Provider, error) {
	switch cfg.Model.Provider {
	case "", "http":
		return model.NewHTTP(cfg.Model.BaseURL), nil
	case "mock":
		return &model.MockProvider{Response: "ok"}, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

func builtinEntries(cfg *config.Config) ([]registry.Entry, error) {
	provider, err := providerFor(cfg)
	if err != nil {
		return nil, err
	}
	modelName := cfg.Model.Model

	errMetrics, err := telemetry.NewErrorMetrics(context.Background())
	if err != nil {
		return nil, err
	}

	// One breaker guards the shared model backend for all builtin agents.
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Policy.CircuitFailures,
		Name:             "model-backend",
	})

	entries := make([]registry.Entry, 0, len(builtinAgents))
	for _, def := range builtinAgents {
		caps, err := capability.NewSet(def.Caps...)
		if err != nil {
			return nil, err
		}
		id, name, brief := def.ID, def.Name, def.Brief
		ctor := func(_ registry.Config) (core.Agent, error) {
			return agent.New(id,
				agent.WithName(name),
				agent.WithCapabilities(caps.List()...),
				agent.WithHandler(func(ctx context.Context, task *core.Task) (string, error) {
					var resp *model.Response
					err := breaker.Call(ctx, func() error {
						var invokeErr error
						resp, invokeErr = provider.Invoke(ctx, model.Request{
							Model:     modelName,
							Prompt:    brief + "\n\n" + task.Payload,
							MaxTokens: task.MaxTokens,
						})
						return invokeErr
					})
					errMetrics.RecordCircuitBreakerState(ctx, "model-backend", breakerStateValue(breaker.State()))
					if err != nil {
						errMetrics.RecordErrorMetric(ctx, err, id)
						return "", err
					}
					return resp.Content, nil
				}),
			)
		}
		entries = append(entries, registry.Entry{ID: def.ID, Constructor: ctor, Capabilities: caps})
	}
	return entries, nil
}

// breakerStateValue maps breaker states onto the gauge scale
// (0=open, 1=half-open, 2=closed).
func breakerStateValue(state resilience.CircuitBreakerState) int64 {
	switch state {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	entries, err := builtinEntries(cfg)
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	for _, e := range entries {
		if err := reg.Register(e.ID, e.Constructor, e.Capabilities); err != nil {
			return nil, err
		}
	}
	reg.Seal()
	return reg, nil
}
