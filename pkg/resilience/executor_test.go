// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/telos/pkg/capability"
	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/telemetry"
)

type stubAgent struct {
	id          string
	validateErr error
	execute     func(ctx context.Context, task *core.Task) core.ResponseEnvelope

	mu    sync.Mutex
	calls int
}

func (s *stubAgent) ID() string   { return s.id }
func (s *stubAgent) Name() string { return s.id }
func (s *stubAgent) Capabilities() capability.Set {
	return capability.MustSet(capability.General)
}
func (s *stubAgent) Validate(task *core.Task) error { return s.validateErr }

func (s *stubAgent) Execute(ctx context.Context, task *core.Task) core.ResponseEnvelope {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.execute(ctx, task)
}

func (s *stubAgent) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// scriptAgent fails with the given kind for the first n calls, then echoes
// the task payload.
func scriptAgent(id string, kind errors.Kind, n int) *stubAgent {
	a := &stubAgent{id: id}
	a.execute = func(ctx context.Context, task *core.Task) core.ResponseEnvelope {
		if a.callCount() <= n {
			return core.ErrorEnvelope(id, errors.New(kind, "scripted failure", nil))
		}
		return core.SuccessEnvelope(id, task.Payload)
	}
	return a
}

func echoAgent(id string) *stubAgent {
	a := &stubAgent{id: id}
	a.execute = func(ctx context.Context, task *core.Task) core.ResponseEnvelope {
		return core.SuccessEnvelope(id, task.Payload)
	}
	return a
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func testPolicy() ExecutionPolicy {
	return DefaultPolicy().WithTimeout(0).WithChunkSizeLimit(0)
}

func TestRateLimitedThenSuccess(t *testing.T) {
	agent := scriptAgent("alpha", errors.KindUpstreamRateLimited, 2)
	exec := NewExecutor(testPolicy().WithMaxRetries(3), WithSleep(noSleep))

	env := exec.Execute(context.Background(), agent, core.NewTask("payload"))

	if !env.Success {
		t.Fatalf("expected success, got %s: %s", env.ErrorKind, env.Message)
	}
	if env.RetryAttempts != 2 {
		t.Errorf("retryAttempts = %d, want 2", env.RetryAttempts)
	}
	if agent.callCount() != 3 {
		t.Errorf("calls = %d, want 3", agent.callCount())
	}
}

func TestRateLimitExhaustion(t *testing.T) {
	agent := scriptAgent("alpha", errors.KindUpstreamRateLimited, 10)
	exec := NewExecutor(testPolicy().WithMaxRetries(2), WithSleep(noSleep))

	env := exec.Execute(context.Background(), agent, core.NewTask("payload"))

	if env.Success {
		t.Fatal("expected failure")
	}
	if env.ErrorKind != errors.KindUpstreamRateLimited {
		t.Errorf("kind = %s, want rate limited", env.ErrorKind)
	}
	if env.RetryAttempts != 2 {
		t.Errorf("retryAttempts = %d, want maxRetries=2", env.RetryAttempts)
	}
}

func TestBackoffDelaysCappedAndNonDecreasing(t *testing.T) {
	agent := scriptAgent("alpha", errors.KindUpstreamRateLimited, 3)

	var delays []time.Duration
	record := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	policy := testPolicy().
		WithMaxRetries(3).
		WithBaseDelay(100 * time.Millisecond).
		WithMaxDelay(1000 * time.Millisecond)
	exec := NewExecutor(policy, WithSleep(record))

	env := exec.Execute(context.Background(), agent, core.NewTask("payload"))
	if !env.Success {
		t.Fatalf("expected success after 3 retries, got %s", env.ErrorKind)
	}
	if env.RetryAttempts != 3 {
		t.Errorf("retryAttempts = %d, want 3", env.RetryAttempts)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	var total time.Duration
	for i, d := range delays {
		if d != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, d, want[i])
		}
		if i > 0 && d < delays[i-1] {
			t.Errorf("delays decreased at %d: %v", i, delays)
		}
		total += d
	}
	if total != 700*time.Millisecond {
		t.Errorf("cumulative delay = %v, want 700ms", total)
	}
}

func TestBackoffCap(t *testing.T) {
	policy := testPolicy().
		WithBaseDelay(400 * time.Millisecond).
		WithMaxDelay(500 * time.Millisecond)

	for retry, want := range []time.Duration{400 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond} {
		if got := backoffDelay(retry, policy); got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", retry, got, want)
		}
	}
}

func TestValidationFailsFast(t *testing.T) {
	agent := echoAgent("alpha")
	agent.validateErr = errors.New(errors.KindInvalidInput, "payload is empty", nil)
	exec := NewExecutor(testPolicy(), WithSleep(noSleep))

	env := exec.Execute(context.Background(), agent, core.NewTask(""))

	if env.Success {
		t.Fatal("expected failure")
	}
	if env.ErrorKind != errors.KindInvalidInput {
		t.Errorf("kind = %s, want invalid input", env.ErrorKind)
	}
	if env.RetryAttempts != 0 {
		t.Errorf("retryAttempts = %d, want 0", env.RetryAttempts)
	}
	if agent.callCount() != 0 {
		t.Errorf("agent invoked %d times despite failed validation", agent.callCount())
	}
}

func TestNoRetryOnNonTransientKinds(t *testing.T) {
	for _, kind := range []errors.Kind{errors.KindInternal, errors.KindUnknownAgentType, errors.KindNoCapableAgent} {
		agent := scriptAgent("alpha", kind, 10)
		exec := NewExecutor(testPolicy().WithMaxRetries(5), WithSleep(noSleep))

		env := exec.Execute(context.Background(), agent, core.NewTask("x"))
		if env.Success {
			t.Fatalf("%s: expected failure", kind)
		}
		if env.RetryAttempts != 0 {
			t.Errorf("%s: retryAttempts = %d, want 0", kind, env.RetryAttempts)
		}
		if agent.callCount() != 1 {
			t.Errorf("%s: calls = %d, want 1", kind, agent.callCount())
		}
	}
}

func TestUpstreamFailureSmallFixedRetries(t *testing.T) {
	agent := scriptAgent("alpha", errors.KindUpstreamFailure, 10)
	exec := NewExecutor(testPolicy().WithMaxRetries(5), WithSleep(noSleep))

	env := exec.Execute(context.Background(), agent, core.NewTask("x"))

	if env.Success {
		t.Fatal("expected failure")
	}
	if env.RetryAttempts != 2 {
		t.Errorf("retryAttempts = %d, want fixed budget 2", env.RetryAttempts)
	}
	if agent.callCount() != 3 {
		t.Errorf("calls = %d, want 3", agent.callCount())
	}
}

func TestTimeoutRetriedOnce(t *testing.T) {
	agent := &stubAgent{id: "slow"}
	agent.execute = func(ctx context.Context, task *core.Task) core.ResponseEnvelope {
		select {
		case <-ctx.Done():
			return core.ErrorEnvelope("slow", errors.New(errors.KindTimeout, "ctx done", ctx.Err()))
		case <-time.After(500 * time.Millisecond):
			return core.SuccessEnvelope("slow", "too late")
		}
	}
	exec := NewExecutor(
		testPolicy().WithMaxRetries(5).WithTimeout(20*time.Millisecond),
		WithSleep(noSleep),
	)

	env := exec.Execute(context.Background(), agent, core.NewTask("x"))

	if env.Success {
		t.Fatal("expected timeout failure")
	}
	if env.ErrorKind != errors.KindTimeout {
		t.Errorf("kind = %s, want timeout", env.ErrorKind)
	}
	if env.RetryAttempts != 1 {
		t.Errorf("retryAttempts = %d, want 1 (timeout retried once)", env.RetryAttempts)
	}
}

func TestChunkBoundaryIdempotence(t *testing.T) {
	payload := "abcdefgh" // exactly two chunks of four
	agent := echoAgent("echo")
	exec := NewExecutor(testPolicy().WithChunkSizeLimit(4), WithSleep(noSleep))

	chunked := exec.Execute(context.Background(), agent, core.NewTask(payload))
	if !chunked.Success {
		t.Fatalf("chunked execute failed: %s", chunked.Message)
	}

	plain := NewExecutor(testPolicy(), WithSleep(noSleep)).
		Execute(context.Background(), echoAgent("echo"), core.NewTask(payload))

	if chunked.Payload != plain.Payload {
		t.Errorf("chunked = %q, unsplit = %q", chunked.Payload, plain.Payload)
	}
	if agent.callCount() != 2 {
		t.Errorf("calls = %d, want 2 chunks", agent.callCount())
	}
}

func TestLastWinsMergeViaMetadata(t *testing.T) {
	agent := echoAgent("classify")
	exec := NewExecutor(testPolicy().WithChunkSizeLimit(3), WithSleep(noSleep))

	task := core.NewTask("aaabbb")
	task.Metadata = map[string]string{"merge_strategy": "last-wins"}

	env := exec.Execute(context.Background(), agent, task)
	if !env.Success {
		t.Fatalf("execute failed: %s", env.Message)
	}
	if env.Payload != "bbb" {
		t.Errorf("payload = %q, want last chunk only", env.Payload)
	}
}

func TestChunkFailurePropagates(t *testing.T) {
	agent := &stubAgent{id: "flaky"}
	agent.execute = func(ctx context.Context, task *core.Task) core.ResponseEnvelope {
		if task.Payload == "bbb" {
			return core.ErrorEnvelope("flaky", errors.New(errors.KindInvalidInput, "bad chunk", nil))
		}
		return core.SuccessEnvelope("flaky", task.Payload)
	}
	exec := NewExecutor(testPolicy().WithChunkSizeLimit(3), WithSleep(noSleep))

	env := exec.Execute(context.Background(), agent, core.NewTask("aaabbbccc"))
	if env.Success {
		t.Fatal("expected chunk failure to fail the task")
	}
	if env.ErrorKind != errors.KindInvalidInput {
		t.Errorf("kind = %s", env.ErrorKind)
	}
}

func TestPanicBecomesInternalEnvelope(t *testing.T) {
	agent := &stubAgent{id: "chaotic"}
	agent.execute = func(ctx context.Context, task *core.Task) core.ResponseEnvelope {
		panic("boom")
	}
	exec := NewExecutor(testPolicy(), WithSleep(noSleep))

	env := exec.Execute(context.Background(), agent, core.NewTask("x"))
	if env.Success {
		t.Fatal("expected failure")
	}
	if env.ErrorKind != errors.KindInternal {
		t.Errorf("kind = %s, want internal", env.ErrorKind)
	}
}

func TestCancellationAbortsRetries(t *testing.T) {
	agent := scriptAgent("alpha", errors.KindUpstreamRateLimited, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancelSleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	exec := NewExecutor(testPolicy().WithMaxRetries(5), WithSleep(cancelSleep))

	env := exec.Execute(ctx, agent, core.NewTask("x"))
	if env.Success {
		t.Fatal("expected failure")
	}
	if agent.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (retries aborted on cancel)", agent.callCount())
	}
}

func TestRetryAttemptsNeverExceedPolicy(t *testing.T) {
	agent := scriptAgent("alpha", errors.KindUpstreamRateLimited, 100)
	policy := testPolicy().WithMaxRetries(4)
	exec := NewExecutor(policy, WithSleep(noSleep))

	env := exec.Execute(context.Background(), agent, core.NewTask("x"))
	if env.RetryAttempts > policy.MaxRetries {
		t.Errorf("retryAttempts %d exceeds maxRetries %d", env.RetryAttempts, policy.MaxRetries)
	}
}

func TestFallbackAfterExhaustion(t *testing.T) {
	agent := scriptAgent("alpha", errors.KindUpstreamRateLimited, 10)
	exec := NewExecutor(
		testPolicy().WithMaxRetries(1),
		WithSleep(noSleep),
		WithFallbackStrategy(&StaticFallback{Value: "cached answer"}),
	)

	env := exec.Execute(context.Background(), agent, core.NewTask("x"))
	if !env.Success {
		t.Fatalf("expected fallback success, got %s", env.ErrorKind)
	}
	if env.Payload != "cached answer" {
		t.Errorf("payload = %q", env.Payload)
	}
}

func TestWithPolicyOverridesRetries(t *testing.T) {
	agent := scriptAgent("alpha", errors.KindUpstreamRateLimited, 100)
	exec := NewExecutor(testPolicy().WithMaxRetries(0), WithSleep(noSleep))

	env := exec.Execute(context.Background(), agent, core.NewTask("x"))
	if env.Success || agent.callCount() != 1 {
		t.Fatalf("base executor: success=%v calls=%d, want 1 call", env.Success, agent.callCount())
	}

	boosted := exec.WithPolicy(testPolicy().WithMaxRetries(2))
	agent2 := scriptAgent("beta", errors.KindUpstreamRateLimited, 100)
	env = boosted.Execute(context.Background(), agent2, core.NewTask("x"))
	if env.RetryAttempts != 2 {
		t.Errorf("retryAttempts = %d, want 2", env.RetryAttempts)
	}
	if agent2.callCount() != 3 {
		t.Errorf("calls = %d, want 3", agent2.callCount())
	}
	if exec.Policy().MaxRetries != 0 {
		t.Errorf("base policy mutated: maxRetries = %d", exec.Policy().MaxRetries)
	}
}

func TestExecutorRecordsTaskMetrics(t *testing.T) {
	tm, err := telemetry.NewTaskMetrics(context.Background())
	if err != nil {
		t.Fatalf("task metrics: %v", err)
	}

	agent := scriptAgent("alpha", errors.KindUpstreamRateLimited, 1)
	exec := NewExecutor(
		testPolicy().WithMaxRetries(2).WithChunkSizeLimit(2),
		WithSleep(noSleep),
		WithMetrics(tm),
	)

	// Retry, chunking and terminal status all pass through the instruments.
	env := exec.Execute(context.Background(), agent, core.NewTask("abcdef"))
	if !env.Success {
		t.Fatalf("expected success, got %s", env.ErrorKind)
	}
	if env.Payload != "abcdef" {
		t.Errorf("payload = %q", env.Payload)
	}
}

func TestTimeoutDistinguishesCancellation(t *testing.T) {
	slow := func(_ context.Context) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeoutResult(ctx, time.Second, slow)
	if kind := errors.KindOf(err); kind != errors.KindInternal {
		t.Errorf("canceled parent kind = %s, want %s", kind, errors.KindInternal)
	}

	_, err = WithTimeoutResult(context.Background(), time.Millisecond, slow)
	if kind := errors.KindOf(err); kind != errors.KindTimeout {
		t.Errorf("missed deadline kind = %s, want %s", kind, errors.KindTimeout)
	}
}

func TestTaskLifecycle(t *testing.T) {
	task := core.NewTask("x")
	exec := NewExecutor(testPolicy(), WithSleep(noSleep))

	env := exec.Execute(context.Background(), echoAgent("a"), task)
	if !env.Success {
		t.Fatal("expected success")
	}
	if task.Status != core.TaskStatusSucceeded {
		t.Errorf("task status = %s, want succeeded", task.Status)
	}
}

func TestSplitPayload(t *testing.T) {
	cases := []struct {
		payload string
		limit   int
		want    []string
	}{
		{"abcdef", 0, []string{"abcdef"}},
		{"abcdef", 6, []string{"abcdef"}},
		{"abcdef", 4, []string{"abcd", "ef"}},
		{"abcdefgh", 4, []string{"abcd", "efgh"}},
		{"héllo", 2, []string{"hé", "ll", "o"}},
	}
	for _, tc := range cases {
		got := splitPayload(tc.payload, tc.limit)
		if len(got) != len(tc.want) {
			t.Errorf("split(%q, %d) = %v, want %v", tc.payload, tc.limit, got, tc.want)
			continue
		}
		joined := ""
		for i, chunk := range got {
			if chunk != tc.want[i] {
				t.Errorf("split(%q, %d)[%d] = %q, want %q", tc.payload, tc.limit, i, chunk, tc.want[i])
			}
			joined += chunk
		}
		if joined != tc.payload {
			t.Errorf("chunks do not reassemble: %q != %q", joined, tc.payload)
		}
	}
}
