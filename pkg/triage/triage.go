// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package triage maps incoming tasks to candidate agents. A task with a
// required capability routes directly; otherwise a lightweight keyword
// classification infers the most specific capability, falling back to the
// general-purpose one. Routing never silently succeeds with zero
// candidates.
package triage

import (
	"strings"

	"github.com/jllopis/telos/pkg/capability"
	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/registry"
)

// Rule maps keywords to a capability. Rules are evaluated in order; the
// rule with the most keyword hits wins, earlier rules winning ties.
type Rule struct {
	Capability capability.Capability
	Keywords   []string
}

// DefaultRules returns the built-in classification table, most specific
// capabilities first.
func DefaultRules() []Rule {
	return []Rule{
		{capability.TestGeneration, []string{"test", "unit test", "coverage", "assertion"}},
		{capability.PerformanceAnalysis, []string{"performance", "slow", "latency", "profil", "bottleneck", "memory leak"}},
		{capability.Debugging, []string{"bug", "debug", "crash", "error", "stack trace", "exception", "broken"}},
		{capability.Repair, []string{"fix", "repair", "patch", "resolve"}},
		{capability.CodeAnalysis, []string{"analyze", "code", "refactor", "review", "function", "module"}},
		{capability.ImageGeneration, []string{"generate image", "draw", "render", "illustration", "logo"}},
		{capability.VisualAnalysis, []string{"image", "screenshot", "photo", "diagram", "visual"}},
		{capability.SpeechAnalysis, []string{"audio", "speech", "voice", "transcri", "spoken"}},
		{capability.BrandAnalysis, []string{"brand", "marketing", "audience", "messaging", "positioning"}},
		{capability.StrategicPlanning, []string{"strategy", "roadmap", "plan", "milestone", "priorit"}},
		{capability.Research, []string{"research", "investigate", "compare", "survey", "find out", "look up"}},
	}
}

// Dispatcher routes tasks against a registry's capability index.
type Dispatcher struct {
	registry *registry.Registry
	rules    []Rule
	fallback capability.Capability
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRules replaces the classification table.
func WithRules(rules []Rule) Option {
	return func(d *Dispatcher) { d.rules = rules }
}

// WithFallback overrides the fallback capability.
func WithFallback(c capability.Capability) Option {
	return func(d *Dispatcher) { d.fallback = c }
}

// New creates a dispatcher over the given registry.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		rules:    DefaultRules(),
		fallback: capability.General,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Classify infers the most specific capability for a payload. Payloads
// matching no rule classify as the fallback capability.
func (d *Dispatcher) Classify(payload string) capability.Capability {
	lowered := strings.ToLower(payload)

	best := d.fallback
	bestHits := 0
	for _, rule := range d.rules {
		hits := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = rule.Capability
			bestHits = hits
		}
	}
	return best
}

// Route returns the ordered candidate agent ids for a task. A task with a
// required capability is routed directly; otherwise the payload is
// classified, with one fallback hop to the general capability before
// giving up with KindNoCapableAgent.
func (d *Dispatcher) Route(task *core.Task) ([]string, error) {
	if task == nil {
		return nil, errors.New(errors.KindInvalidInput, "task is nil", nil)
	}

	if task.RequiredCapability != "" {
		ids := d.registry.FindByCapability(task.RequiredCapability)
		if len(ids) == 0 {
			return nil, errors.New(errors.KindNoCapableAgent, "no agent registered for required capability", nil).
				WithContext("capability", string(task.RequiredCapability))
		}
		return ids, nil
	}

	inferred := d.Classify(task.Payload)
	ids := d.registry.FindByCapability(inferred)
	if len(ids) == 0 && inferred != d.fallback {
		ids = d.registry.FindByCapability(d.fallback)
	}
	if len(ids) == 0 {
		return nil, errors.New(errors.KindNoCapableAgent, "no agent can serve the task", nil).
			WithContext("classified", string(inferred))
	}
	return ids, nil
}
