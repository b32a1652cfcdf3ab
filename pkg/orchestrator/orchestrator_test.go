package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/telos/pkg/agent"
	"github.com/jllopis/telos/pkg/capability"
	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/registry"
	"github.com/jllopis/telos/pkg/resilience"
)

func newTestOrchestrator(t *testing.T, reg *registry.Registry, opts ...Option) *Orchestrator {
	t.Helper()
	exec := resilience.NewExecutor(
		resilience.DefaultPolicy().WithTimeout(0).WithChunkSizeLimit(0),
		resilience.WithSleep(func(_ context.Context, _ time.Duration) error { return nil }),
	)
	return New(reg, exec, opts...)
}

func registerHandler(t *testing.T, reg *registry.Registry, id string, caps capability.Set, handler agent.Handler) {
	t.Helper()
	ctor := func(cfg registry.Config) (core.Agent, error) {
		return agent.New(id,
			agent.WithCapabilities(caps.List()...),
			agent.WithHandler(handler),
		)
	}
	if err := reg.Register(id, ctor, caps); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func upperHandler(_ context.Context, task *core.Task) (string, error) {
	return strings.ToUpper(task.Payload), nil
}

func echoHandler(prefix string) agent.Handler {
	return func(_ context.Context, task *core.Task) (string, error) {
		return prefix + task.Payload, nil
	}
}

func failHandler(kind errors.Kind) agent.Handler {
	return func(_ context.Context, _ *core.Task) (string, error) {
		return "", errors.New(kind, "induced failure", nil)
	}
}

func TestExecuteByAgentID(t *testing.T) {
	reg := registry.New()
	registerHandler(t, reg, "upper", capability.MustSet(capability.CodeAnalysis), upperHandler)

	o := newTestOrchestrator(t, reg)
	env := o.Execute(context.Background(), "upper", "hello")
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if env.Payload != "HELLO" {
		t.Fatalf("payload = %q", env.Payload)
	}
}

func TestExecuteByCapability(t *testing.T) {
	reg := registry.New()
	registerHandler(t, reg, "researcher", capability.MustSet(capability.Research), echoHandler("research:"))

	o := newTestOrchestrator(t, reg)
	env := o.Execute(context.Background(), string(capability.Research), "topic")
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if env.Payload != "research:topic" {
		t.Fatalf("payload = %q", env.Payload)
	}
}

func TestExecuteUnknownTarget(t *testing.T) {
	reg := registry.New()
	o := newTestOrchestrator(t, reg)
	env := o.Execute(context.Background(), "no-such-thing", "x")
	if env.Success {
		t.Fatal("expected failure")
	}
	if env.ErrorKind != errors.KindUnknownAgentType {
		t.Fatalf("kind = %q", env.ErrorKind)
	}
}

func TestExecuteTriagesWithoutTarget(t *testing.T) {
	reg := registry.New()
	registerHandler(t, reg, "debugger", capability.MustSet(capability.Debugging), echoHandler("debug:"))

	o := newTestOrchestrator(t, reg)
	env := o.Execute(context.Background(), "", "there is a crash in the parser")
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if env.AgentID != "debugger" {
		t.Fatalf("agent = %q", env.AgentID)
	}
}

func TestSequentialWorkflowMapsOutputs(t *testing.T) {
	reg := registry.New()
	registerHandler(t, reg, "upper", capability.MustSet(capability.CodeAnalysis), upperHandler)
	registerHandler(t, reg, "wrap", capability.MustSet(capability.General), echoHandler("wrapped:"))

	o := newTestOrchestrator(t, reg)
	plan := &Plan{
		ID: "seq",
		Steps: []Step{
			{ID: "first", AgentID: "upper", Input: "payload"},
			{ID: "second", AgentID: "wrap", InputFrom: "first"},
		},
	}
	res, err := o.RunWorkflow(context.Background(), plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != WorkflowSucceeded {
		t.Fatalf("status = %q", res.Status)
	}
	if res.SucceededSteps != 2 || res.FailedSteps != 0 {
		t.Fatalf("counts = %d/%d", res.SucceededSteps, res.FailedSteps)
	}
	second, ok := res.Result("second")
	if !ok {
		t.Fatal("second step missing from results")
	}
	if second.Envelope.Payload != "wrapped:PAYLOAD" {
		t.Fatalf("payload = %q", second.Envelope.Payload)
	}
}

func TestSequentialWorkflowStopsOnFailure(t *testing.T) {
	reg := registry.New()
	registerHandler(t, reg, "boom", capability.MustSet(capability.General), failHandler(errors.KindInvalidInput))
	var called atomic.Int64
	registerHandler(t, reg, "after", capability.MustSet(capability.General), func(_ context.Context, task *core.Task) (string, error) {
		called.Add(1)
		return task.Payload, nil
	})

	o := newTestOrchestrator(t, reg)
	plan := &Plan{
		ID: "stop",
		Steps: []Step{
			{ID: "a", AgentID: "boom", Input: "x"},
			{ID: "b", AgentID: "after", Input: "y"},
		},
	}
	res, err := o.RunWorkflow(context.Background(), plan)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Status != WorkflowFailed {
		t.Fatalf("status = %q", res.Status)
	}
	if called.Load() != 0 {
		t.Fatal("downstream step ran after failure")
	}
	if errors.KindOf(err) != errors.KindInvalidInput {
		t.Fatalf("kind = %q", errors.KindOf(err))
	}
}

func TestParallelPreservesCompletedSiblings(t *testing.T) {
	reg := registry.New()

	release := make(chan struct{})
	registerHandler(t, reg, "fast-ok", capability.MustSet(capability.General), func(_ context.Context, task *core.Task) (string, error) {
		return "fast:" + task.Payload, nil
	})
	registerHandler(t, reg, "slow-fail", capability.MustSet(capability.General), func(ctx context.Context, _ *core.Task) (string, error) {
		<-release
		return "", errors.New(errors.KindInvalidInput, "late failure", nil)
	})
	registerHandler(t, reg, "blocked", capability.MustSet(capability.General), func(ctx context.Context, task *core.Task) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return task.Payload, nil
		}
	})

	// An invalid-input failure is unrecoverable, so the group cancels
	// its in-flight siblings.
	exec := resilience.NewExecutor(
		resilience.DefaultPolicy().WithMaxRetries(0).WithTimeout(0).WithChunkSizeLimit(0),
		resilience.WithSleep(func(_ context.Context, _ time.Duration) error { return nil }),
	)
	o := New(reg, exec)

	plan := &Plan{
		ID: "par",
		Steps: []Step{
			{ID: "group", Kind: StepParallel, Children: []Step{
				{ID: "ok", AgentID: "fast-ok", Input: "x"},
				{ID: "bad", AgentID: "slow-fail", Input: "y"},
				{ID: "hung", AgentID: "blocked", Input: "z"},
			}},
		},
	}

	go func() {
		// Let the fast sibling land before the failure triggers the
		// group cancellation.
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	res, err := o.RunWorkflow(context.Background(), plan)
	if err == nil {
		t.Fatal("expected workflow failure")
	}
	if res.Status != WorkflowFailed {
		t.Fatalf("status = %q", res.Status)
	}
	okRes, found := res.Result("ok")
	if !found {
		t.Fatal("completed sibling result was dropped")
	}
	if !okRes.Envelope.Success || okRes.Envelope.Payload != "fast:x" {
		t.Fatalf("sibling envelope = %+v", okRes.Envelope)
	}
	badRes, found := res.Result("bad")
	if !found || badRes.Envelope.Success {
		t.Fatalf("failed sibling = %+v found=%v", badRes, found)
	}
}

func TestParallelRetryableFailureDoesNotCancelSiblings(t *testing.T) {
	reg := registry.New()

	registerHandler(t, reg, "rate-limited", capability.MustSet(capability.General), func(_ context.Context, _ *core.Task) (string, error) {
		return "", errors.New(errors.KindUpstreamRateLimited, "quota exceeded", nil)
	})
	registerHandler(t, reg, "slow-ok", capability.MustSet(capability.General), func(ctx context.Context, task *core.Task) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return "slow:" + task.Payload, nil
		}
	})

	exec := resilience.NewExecutor(
		resilience.DefaultPolicy().WithMaxRetries(2).WithTimeout(0).WithChunkSizeLimit(0),
		resilience.WithSleep(func(_ context.Context, _ time.Duration) error { return nil }),
	)
	o := New(reg, exec)

	plan := &Plan{
		ID: "par-retryable",
		Steps: []Step{
			{ID: "group", Kind: StepParallel, Children: []Step{
				{ID: "limited", AgentID: "rate-limited", Input: "x"},
				{ID: "slow", AgentID: "slow-ok", Input: "y"},
			}},
		},
	}

	res, err := o.RunWorkflow(context.Background(), plan)
	if err == nil {
		t.Fatal("expected workflow failure")
	}
	if res.Status != WorkflowFailed {
		t.Fatalf("status = %q", res.Status)
	}
	// A sibling that exhausts its retry budget is a recoverable failure,
	// so the still-running sibling finishes instead of being cancelled.
	slowRes, found := res.Result("slow")
	if !found {
		t.Fatal("slow sibling result was dropped")
	}
	if !slowRes.Envelope.Success || slowRes.Envelope.Payload != "slow:y" {
		t.Fatalf("slow sibling envelope = %+v", slowRes.Envelope)
	}
	limRes, found := res.Result("limited")
	if !found || limRes.Envelope.Success {
		t.Fatalf("rate-limited sibling = %+v found=%v", limRes, found)
	}
	if limRes.Envelope.ErrorKind != errors.KindUpstreamRateLimited {
		t.Fatalf("error kind = %q", limRes.Envelope.ErrorKind)
	}
}

func TestExecuteWithPolicyOverride(t *testing.T) {
	reg := registry.New()
	var calls atomic.Int64
	registerHandler(t, reg, "flaky", capability.MustSet(capability.General), func(_ context.Context, _ *core.Task) (string, error) {
		calls.Add(1)
		return "", errors.New(errors.KindUpstreamRateLimited, "quota exceeded", nil)
	})

	exec := resilience.NewExecutor(
		resilience.DefaultPolicy().WithMaxRetries(0).WithTimeout(0).WithChunkSizeLimit(0),
		resilience.WithSleep(func(_ context.Context, _ time.Duration) error { return nil }),
	)
	o := New(reg, exec)

	env := o.Execute(context.Background(), "flaky", "x")
	if env.Success {
		t.Fatal("expected failure")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls without override = %d, want 1", got)
	}

	override := resilience.DefaultPolicy().WithMaxRetries(2).WithTimeout(0).WithChunkSizeLimit(0)
	env = o.ExecuteWithPolicy(context.Background(), "flaky", "x", &override)
	if env.Success {
		t.Fatal("expected failure")
	}
	if env.RetryAttempts != 2 {
		t.Errorf("retryAttempts = %d, want 2", env.RetryAttempts)
	}
	if got := calls.Load() - 1; got != 3 {
		t.Errorf("calls with override = %d, want 3", got)
	}
}

func TestConditionalBranching(t *testing.T) {
	reg := registry.New()
	registerHandler(t, reg, "probe", capability.MustSet(capability.General), echoHandler("probe:"))
	registerHandler(t, reg, "then-agent", capability.MustSet(capability.General), echoHandler("then:"))
	registerHandler(t, reg, "else-agent", capability.MustSet(capability.General), echoHandler("else:"))

	o := newTestOrchestrator(t, reg)
	plan := &Plan{
		ID: "cond",
		Steps: []Step{
			{ID: "probe", AgentID: "probe", Input: "signal"},
			{ID: "branch", Kind: StepConditional, Condition: "payload.contains:signal",
				Then: []Step{{ID: "yes", AgentID: "then-agent", Input: "a"}},
				Else: []Step{{ID: "no", AgentID: "else-agent", Input: "b"}},
			},
		},
	}
	res, err := o.RunWorkflow(context.Background(), plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := res.Result("yes"); !ok {
		t.Fatal("then branch did not run")
	}
	noRes, ok := res.Result("no")
	if !ok || !noRes.Skipped {
		t.Fatalf("else branch should be recorded as skipped, got %+v found=%v", noRes, ok)
	}
	if res.SucceededSteps != 2 {
		t.Fatalf("succeeded = %d", res.SucceededSteps)
	}
}

func TestWorkflowAuditTrail(t *testing.T) {
	reg := registry.New()
	registerHandler(t, reg, "upper", capability.MustSet(capability.CodeAnalysis), upperHandler)

	store := NewMemoryAuditStore()
	o := newTestOrchestrator(t, reg, WithAuditStore(store))

	plan := &Plan{ID: "audited", Steps: []Step{{ID: "only", AgentID: "upper", Input: "x"}}}
	res, err := o.RunWorkflow(context.Background(), plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	events, err := store.Query(context.Background(), AuditFilter{PlanID: "audited"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	ev := events[0]
	if ev.RunID != res.RunID || ev.StepID != "only" || ev.Status != "succeeded" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Output != "X" {
		t.Fatalf("output = %q", ev.Output)
	}
}

func TestRunWorkflowRejectsInvalidPlan(t *testing.T) {
	reg := registry.New()
	o := newTestOrchestrator(t, reg)

	cases := []struct {
		name string
		plan *Plan
	}{
		{"empty", &Plan{ID: "p"}},
		{"missing target", &Plan{ID: "p", Steps: []Step{{ID: "a"}}}},
		{"duplicate ids", &Plan{ID: "p", Steps: []Step{
			{ID: "a", AgentID: "x"},
			{ID: "a", AgentID: "y"},
		}}},
		{"both agent and capability", &Plan{ID: "p", Steps: []Step{
			{ID: "a", AgentID: "x", Capability: capability.Research},
		}}},
		{"conditional without condition", &Plan{ID: "p", Steps: []Step{
			{ID: "a", Kind: StepConditional, Then: []Step{{ID: "b", AgentID: "x"}}},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := o.RunWorkflow(context.Background(), tc.plan); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
