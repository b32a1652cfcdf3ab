// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/telemetry"
)

// SleepFunc blocks for the given duration or until the context is done.
// Tests inject their own to assert backoff without waiting.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Executor wraps a single agent invocation with validation, chunking,
// per-attempt timeout, and rate-limit-aware retry with capped exponential
// backoff. One executor may serve many concurrent tasks; each task gets at
// most one active retry loop.
type Executor struct {
	policy   ExecutionPolicy
	merge    MergeStrategy
	sleep    SleepFunc
	emitter  core.EventEmitter
	fallback FallbackStrategy
	metrics  *telemetry.TaskMetrics
	tracer   trace.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMergeStrategy sets the default chunk merge strategy.
func WithMergeStrategy(s MergeStrategy) ExecutorOption {
	return func(e *Executor) { e.merge = s }
}

// WithSleep injects the sleep function used between retries.
func WithSleep(sleep SleepFunc) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(emitter core.EventEmitter) ExecutorOption {
	return func(e *Executor) { e.emitter = emitter }
}

// WithFallbackStrategy attaches a fallback applied after retries are
// exhausted on transient failures.
func WithFallbackStrategy(fb FallbackStrategy) ExecutorOption {
	return func(e *Executor) { e.fallback = fb }
}

// WithMetrics attaches task-level metric instruments. A nil value keeps
// metrics disabled.
func WithMetrics(metrics *telemetry.TaskMetrics) ExecutorOption {
	return func(e *Executor) { e.metrics = metrics }
}

// NewExecutor creates an executor governed by the given policy.
func NewExecutor(policy ExecutionPolicy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		policy:  policy,
		merge:   ConcatMerge{},
		sleep:   sleepContext,
		emitter: core.NoopEventEmitter{},
		tracer:  otel.Tracer("telos/resilience"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() ExecutionPolicy { return e.policy }

// WithPolicy returns a copy of the executor governed by the given policy.
// The copy shares the merge strategy, emitter, fallback and metric
// instruments, so callers can override the policy for a single invocation
// without rebuilding the pipeline.
func (e *Executor) WithPolicy(policy ExecutionPolicy) *Executor {
	clone := *e
	clone.policy = policy
	return &clone
}

// Execute runs the task through the full resilience pipeline and always
// returns a well-formed envelope; failures are captured, never thrown.
func (e *Executor) Execute(ctx context.Context, agent core.Agent, task *core.Task) core.ResponseEnvelope {
	start := time.Now()

	if agent == nil || task == nil {
		return core.ErrorEnvelope("", errors.New(errors.KindInternal, "executor requires agent and task", nil)).
			WithLatency(time.Since(start).Milliseconds())
	}

	if err := agent.Validate(task); err != nil {
		te := errors.AsTelosError(err)
		if te.Kind != errors.KindInvalidInput {
			te = errors.New(errors.KindInvalidInput, "task validation failed", err)
		}
		return core.ErrorEnvelope(agent.ID(), te).WithLatency(time.Since(start).Milliseconds())
	}

	task.Transition(core.TaskStatusRunning)
	e.emitter.Emit(ctx, core.NewEvent(core.EventTaskStarted, agent.ID(), task.ID, nil))

	var env core.ResponseEnvelope
	chunks := splitPayload(task.Payload, e.policy.ChunkSizeLimit)
	if len(chunks) > 1 {
		env = e.executeChunked(ctx, agent, task, chunks)
	} else {
		env, _ = e.invokeWithRetry(ctx, agent, task, task.Payload)
	}

	if !env.Success && e.fallback != nil && errors.Retryable(env.ErrorKind) {
		if value, err := e.fallback.Execute(ctx, env.Err()); err == nil {
			env = core.SuccessEnvelope(agent.ID(), fmt.Sprint(value)).WithRetries(env.RetryAttempts)
		}
	}

	env = env.WithLatency(time.Since(start).Milliseconds())
	task.Transition(env.TerminalStatus())
	e.metrics.RecordTask(ctx, string(task.RequiredCapability), string(env.TerminalStatus()), env.LatencyMs)

	eventType := core.EventTaskCompleted
	if !env.Success {
		eventType = core.EventTaskFailed
	}
	e.emitter.Emit(ctx, core.NewEvent(eventType, agent.ID(), task.ID, map[string]any{
		"error_kind": string(env.ErrorKind),
		"retries":    env.RetryAttempts,
	}))

	return env
}

// executeChunked runs each chunk through the retry pipeline in order and
// merges the outputs. The first failed chunk fails the whole task; the
// reported retry count is the maximum any single chunk needed.
func (e *Executor) executeChunked(ctx context.Context, agent core.Agent, task *core.Task, chunks []string) core.ResponseEnvelope {
	e.metrics.RecordChunks(ctx, len(chunks))
	outputs := make([]string, 0, len(chunks))
	maxRetries := 0

	for _, chunk := range chunks {
		env, retries := e.invokeWithRetry(ctx, agent, task, chunk)
		if retries > maxRetries {
			maxRetries = retries
		}
		if !env.Success {
			return env.WithRetries(maxRetries)
		}
		outputs = append(outputs, env.Payload)
	}

	return core.SuccessEnvelope(agent.ID(), e.mergeFor(task).Merge(outputs)).WithRetries(maxRetries)
}

func (e *Executor) mergeFor(task *core.Task) MergeStrategy {
	if name, ok := task.Metadata["merge_strategy"]; ok {
		return MergeStrategyByName(name)
	}
	return e.merge
}

// invokeWithRetry runs one payload until success, retry exhaustion, or a
// non-retryable failure. The returned count never exceeds MaxRetries.
func (e *Executor) invokeWithRetry(ctx context.Context, agent core.Agent, task *core.Task, payload string) (core.ResponseEnvelope, int) {
	inv := *task
	inv.Payload = payload

	retries := 0
	perKind := make(map[errors.Kind]int)

	for {
		env := e.invokeOnce(ctx, agent, &inv, retries)
		if env.Success {
			return env.WithRetries(retries), retries
		}

		kind := env.ErrorKind
		budget := errors.RetryBudget(kind, e.policy.MaxRetries)
		if perKind[kind] >= budget || retries >= e.policy.MaxRetries {
			return env.WithRetries(retries), retries
		}

		// Backoff applies to upstream trouble; a timed-out attempt is
		// retried immediately since the budget was already spent waiting.
		if kind != errors.KindTimeout {
			if err := e.sleep(ctx, backoffDelay(perKind[kind], e.policy)); err != nil {
				return env.WithRetries(retries), retries
			}
		} else if ctx.Err() != nil {
			return env.WithRetries(retries), retries
		}

		perKind[kind]++
		retries++
		e.metrics.RecordRetry(ctx, kind)

		task.Transition(core.TaskStatusRetrying)
		task.Transition(core.TaskStatusRunning)
		e.emitter.Emit(ctx, core.NewEvent(core.EventTaskRetrying, agent.ID(), task.ID, map[string]any{
			"attempt":    retries,
			"error_kind": string(kind),
		}))
	}
}

// invokeOnce executes a single attempt bounded by the per-invocation
// timeout. Agent panics are converted to internal envelopes so one
// misbehaving agent cannot take down the process.
func (e *Executor) invokeOnce(ctx context.Context, agent core.Agent, task *core.Task, attempt int) core.ResponseEnvelope {
	ctx, span := e.tracer.Start(ctx, "Executor.Invoke",
		trace.WithAttributes(
			attribute.String(telemetry.AttrAgentID, agent.ID()),
			attribute.String(telemetry.AttrTaskID, task.ID),
			attribute.Int(telemetry.AttrTaskAttempt, attempt),
		),
	)
	defer span.End()

	env, err := WithTimeoutResult(ctx, e.policy.PerInvocationTimeout, func(ctx context.Context) (core.ResponseEnvelope, error) {
		return e.safeExecute(ctx, agent, task), nil
	})
	if err != nil {
		return core.ErrorEnvelope(agent.ID(), err)
	}
	return env
}

func (e *Executor) safeExecute(ctx context.Context, agent core.Agent, task *core.Task) (env core.ResponseEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			env = core.ErrorEnvelope(agent.ID(),
				errors.New(errors.KindInternal, fmt.Sprintf("agent panicked: %v", r), nil))
		}
	}()
	return agent.Execute(ctx, task)
}
