// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator coordinates multi-step workflows over the agent
// registry. Plans are trees of agent, parallel and conditional steps;
// every agent invocation goes through the resilience executor so retry,
// timeout and chunking semantics hold uniformly. Parallel groups fail
// fast on unrecoverable failures, cancelling in-flight siblings while
// preserving the results of siblings that already completed; recoverable
// failures let siblings finish before the join reports the failure.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/telos/pkg/capability"
	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/registry"
	"github.com/jllopis/telos/pkg/resilience"
	"github.com/jllopis/telos/pkg/telemetry"
	"github.com/jllopis/telos/pkg/triage"
)

// Orchestrator routes single tasks and runs workflow plans.
type Orchestrator struct {
	registry   *registry.Registry
	dispatcher *triage.Dispatcher
	executor   *resilience.Executor
	audit      AuditStore
	emitter    core.EventEmitter
	tracer     trace.Tracer
	defaults   registry.Config
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAuditStore records every step outcome in the given store.
func WithAuditStore(store AuditStore) Option {
	return func(o *Orchestrator) { o.audit = store }
}

// WithEmitter sets the event emitter for workflow step events.
func WithEmitter(emitter core.EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = emitter }
}

// WithAgentDefaults sets the config passed to agent constructors when the
// orchestrator instantiates agents lazily.
func WithAgentDefaults(cfg registry.Config) Option {
	return func(o *Orchestrator) { o.defaults = cfg }
}

// New creates an orchestrator. The dispatcher may be nil, in which case a
// default one over reg is built.
func New(reg *registry.Registry, executor *resilience.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   reg,
		dispatcher: triage.New(reg),
		executor:   executor,
		audit:      NewMemoryAuditStore(),
		emitter:    core.NoopEventEmitter{},
		tracer:     otel.Tracer("telos/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dispatcher returns the triage dispatcher in use.
func (o *Orchestrator) Dispatcher() *triage.Dispatcher { return o.dispatcher }

// SetAuditStore swaps the audit store. Not safe to call while a workflow
// is running.
func (o *Orchestrator) SetAuditStore(store AuditStore) { o.audit = store }

// Execute runs a single task against target, which is either a registered
// agent id or a capability name. An empty target triages the payload.
func (o *Orchestrator) Execute(ctx context.Context, target, payload string) core.ResponseEnvelope {
	return o.ExecuteWithPolicy(ctx, target, payload, nil)
}

// ExecuteWithPolicy is Execute with a per-call execution policy. A nil
// override runs under the executor's configured policy.
func (o *Orchestrator) ExecuteWithPolicy(ctx context.Context, target, payload string, override *resilience.ExecutionPolicy) core.ResponseEnvelope {
	ctx, _ = core.EnsureRunID(ctx)
	task := core.NewTask(payload)

	exec := o.executor
	if override != nil {
		exec = exec.WithPolicy(*override)
	}

	if target != "" {
		if _, ok := o.registry.Agent(target); ok || o.registered(target) {
			agent, err := o.registry.Create(target, o.defaults)
			if err != nil {
				return core.ErrorEnvelope(target, err)
			}
			return exec.Execute(ctx, agent, task)
		}
		c := capability.Capability(target)
		if !capability.Valid(c) {
			return core.ErrorEnvelope(target, errors.New(errors.KindUnknownAgentType,
				"target is neither a registered agent nor a capability", nil).
				WithContext("target", target))
		}
		task.WithCapability(c)
	}

	candidates, err := o.dispatcher.Route(task)
	if err != nil {
		return core.ErrorEnvelope("", err)
	}
	agent, err := o.registry.Create(candidates[0], o.defaults)
	if err != nil {
		return core.ErrorEnvelope(candidates[0], err)
	}
	return exec.Execute(ctx, agent, task)
}

func (o *Orchestrator) registered(id string) bool {
	for _, d := range o.registry.List() {
		if d.ID == id {
			return true
		}
	}
	return false
}

// RunWorkflow executes a plan and returns the aggregate result. The result
// is returned even when the workflow fails so callers can inspect partial
// step outcomes; the error mirrors the first step failure.
func (o *Orchestrator) RunWorkflow(ctx context.Context, plan *Plan) (*WorkflowResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, errors.New(errors.KindInvalidInput, "invalid plan", err)
	}
	ctx, runID := core.EnsureRunID(ctx)

	ctx, span := o.tracer.Start(ctx, "Workflow.Run",
		trace.WithAttributes(
			attribute.String(telemetry.AttrPlanID, plan.ID),
			attribute.String(telemetry.AttrRunID, runID),
		),
	)
	defer span.End()

	run := &runState{
		plan: plan,
		result: &WorkflowResult{
			PlanID: plan.ID,
			RunID:  runID,
			Status: WorkflowSucceeded,
		},
	}

	start := time.Now()
	_, err := o.runSteps(ctx, plan.Steps, run, nil)
	run.result.TotalLatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		run.result.Status = WorkflowFailed
		return run.result, err
	}
	return run.result, nil
}

// runState guards the shared result while parallel branches record.
type runState struct {
	mu     sync.Mutex
	plan   *Plan
	result *WorkflowResult
}

func (s *runState) record(sr StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.record(sr)
}

func (s *runState) lookup(stepID string) (StepResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.Result(stepID)
}

// runSteps executes steps sequentially, threading the prior envelope
// through, and returns the envelope of the last executed step.
func (o *Orchestrator) runSteps(ctx context.Context, steps []Step, run *runState, prior *core.ResponseEnvelope) (*core.ResponseEnvelope, error) {
	for i := range steps {
		env, err := o.runStep(ctx, &steps[i], run, prior)
		if err != nil {
			return env, err
		}
		if env != nil {
			prior = env
		}
	}
	return prior, nil
}

func (o *Orchestrator) runStep(ctx context.Context, step *Step, run *runState, prior *core.ResponseEnvelope) (*core.ResponseEnvelope, error) {
	switch step.Kind {
	case "", StepAgent:
		return o.runAgentStep(ctx, step, run, prior)
	case StepParallel:
		return o.runParallelStep(ctx, step, run, prior)
	case StepConditional:
		return o.runConditionalStep(ctx, step, run, prior)
	default:
		return nil, errors.New(errors.KindInvalidInput, "unknown step kind", nil).
			WithContext("step_id", step.ID)
	}
}

func (o *Orchestrator) runAgentStep(ctx context.Context, step *Step, run *runState, prior *core.ResponseEnvelope) (*core.ResponseEnvelope, error) {
	input, err := o.stepInput(step, run, prior)
	if err != nil {
		return nil, err
	}

	agent, err := o.resolveAgent(step, input)
	if err != nil {
		env := core.ErrorEnvelope(step.AgentID, err)
		run.record(StepResult{StepID: step.ID, Envelope: env})
		o.recordAudit(ctx, run, step, env, time.Now(), time.Now())
		return &env, err
	}

	task := core.NewTask(input)
	if step.Capability != "" {
		task.WithCapability(step.Capability)
	}
	task.MaxTokens = step.MaxTokens
	if len(step.Metadata) > 0 {
		task.Metadata = make(map[string]string, len(step.Metadata))
		for k, v := range step.Metadata {
			task.Metadata[k] = v
		}
	}

	ctx, span := o.tracer.Start(ctx, "Workflow.Step",
		trace.WithAttributes(
			attribute.String(telemetry.AttrStepID, step.ID),
			attribute.String(telemetry.AttrAgentID, agent.ID()),
		),
	)
	defer span.End()

	o.emitter.Emit(ctx, core.NewEvent(core.EventStepStarted, agent.ID(), task.ID, map[string]any{
		"step_id": step.ID,
	}))

	started := time.Now()
	env := o.executor.Execute(ctx, agent, task)
	finished := time.Now()

	run.record(StepResult{StepID: step.ID, Envelope: env})
	o.recordAudit(ctx, run, step, env, started, finished)
	o.emitter.Emit(ctx, core.NewEvent(core.EventStepCompleted, agent.ID(), task.ID, map[string]any{
		"step_id": step.ID,
		"success": env.Success,
	}))

	if !env.Success {
		return &env, errors.New(env.ErrorKind, fmt.Sprintf("step %q failed: %s", step.ID, env.Message), nil).
			WithContext("step_id", step.ID)
	}
	return &env, nil
}

func (o *Orchestrator) runParallelStep(ctx context.Context, step *Step, run *runState, prior *core.ResponseEnvelope) (*core.ResponseEnvelope, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		lastEnv  *core.ResponseEnvelope
	)
	for i := range step.Children {
		child := &step.Children[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := o.runStep(ctx, child, run, prior)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				// A retryable failure has already spent its retry
				// budget; siblings may still finish and their results
				// join the group. Only an unrecoverable failure aborts
				// in-flight siblings.
				if !errors.Retryable(errors.KindOf(err)) {
					cancel()
				}
				return
			}
			lastEnv = env
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if lastEnv == nil {
		return prior, nil
	}
	// With several successful children the group's "output" is not well
	// defined; downstream steps should use input_from to pick one.
	return lastEnv, nil
}

func (o *Orchestrator) runConditionalStep(ctx context.Context, step *Step, run *runState, prior *core.ResponseEnvelope) (*core.ResponseEnvelope, error) {
	run.mu.Lock()
	ok, err := evaluateCondition(step.Condition, prior, run.result)
	run.mu.Unlock()
	if err != nil {
		return nil, errors.New(errors.KindInvalidInput, "condition evaluation failed", err).
			WithContext("step_id", step.ID)
	}

	taken, skipped := step.Then, step.Else
	if !ok {
		taken, skipped = step.Else, step.Then
	}
	markSkipped(skipped, run)
	return o.runSteps(ctx, taken, run, prior)
}

func markSkipped(steps []Step, run *runState) {
	for i := range steps {
		run.record(StepResult{StepID: steps[i].ID, Skipped: true})
		markSkipped(steps[i].Children, run)
		markSkipped(steps[i].Then, run)
		markSkipped(steps[i].Else, run)
	}
}

func (o *Orchestrator) stepInput(step *Step, run *runState, prior *core.ResponseEnvelope) (string, error) {
	if step.InputFrom != "" {
		sr, ok := run.lookup(step.InputFrom)
		if !ok {
			return "", errors.New(errors.KindInvalidInput, "input_from references a step that has not run", nil).
				WithContext("step_id", step.ID).
				WithContext("input_from", step.InputFrom)
		}
		return sr.Envelope.Payload, nil
	}
	if step.Input != "" {
		return step.Input, nil
	}
	if prior != nil {
		return prior.Payload, nil
	}
	return "", nil
}

func (o *Orchestrator) resolveAgent(step *Step, input string) (core.Agent, error) {
	if step.AgentID != "" {
		return o.registry.Create(step.AgentID, o.defaults)
	}
	task := core.NewTask(input).WithCapability(step.Capability)
	candidates, err := o.dispatcher.Route(task)
	if err != nil {
		return nil, err
	}
	return o.registry.Create(candidates[0], o.defaults)
}

func (o *Orchestrator) recordAudit(ctx context.Context, run *runState, step *Step, env core.ResponseEnvelope, started, finished time.Time) {
	if o.audit == nil {
		return
	}
	status := "succeeded"
	if !env.Success {
		status = "failed"
	}
	_ = o.audit.Record(ctx, AuditEvent{
		PlanID:        run.plan.ID,
		RunID:         run.result.RunID,
		StepID:        step.ID,
		AgentID:       env.AgentID,
		Status:        status,
		ErrorKind:     env.ErrorKind,
		Output:        env.Payload,
		RetryAttempts: env.RetryAttempts,
		LatencyMs:     env.LatencyMs,
		StartedAt:     started,
		FinishedAt:    finished,
	})
}
