package model

import (
	"context"
	"sync"

	"github.com/jllopis/telos/pkg/errors"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response   string
	Err        error
	InvokeFunc func(ctx context.Context, req Request) (*Response, error)
}

func (m *MockProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &Response{
		Content: m.Response,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// Outcome scripts a single invocation result for ScriptedProvider.
type Outcome struct {
	Content string
	Err     error
}

// RateLimited builds an outcome that signals upstream rate limiting.
func RateLimited() Outcome {
	return Outcome{Err: errors.New(errors.KindUpstreamRateLimited, "scripted rate limit", nil)}
}

// Failure builds an outcome that signals a generic upstream failure.
func Failure() Outcome {
	return Outcome{Err: errors.New(errors.KindUpstreamFailure, "scripted upstream failure", nil)}
}

// Succeeds builds a successful outcome with the given content.
func Succeeds(content string) Outcome {
	return Outcome{Content: content}
}

// ScriptedProvider returns a pre-defined sequence of outcomes. Useful for
// simulating N rate-limited calls followed by success.
type ScriptedProvider struct {
	mu       sync.Mutex
	Outcomes []Outcome
	// CallCount tracks how many times Invoke has been called.
	CallCount int
}

// NewScriptedProvider creates a ScriptedProvider with the given script.
func NewScriptedProvider(outcomes ...Outcome) *ScriptedProvider {
	return &ScriptedProvider{Outcomes: outcomes}
}

// Invoke pops the next scripted outcome. Running past the script end
// returns an internal error so tests fail loudly.
func (s *ScriptedProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++

	if len(s.Outcomes) == 0 {
		return nil, errors.New(errors.KindInternal, "scripted provider: no more outcomes", nil)
	}

	next := s.Outcomes[0]
	s.Outcomes = s.Outcomes[1:]

	if next.Err != nil {
		return nil, next.Err
	}
	return &Response{
		Content: next.Content,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// Add appends an outcome to the script.
func (s *ScriptedProvider) Add(outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outcomes = append(s.Outcomes, outcome)
}

// Calls returns the number of invocations seen so far.
func (s *ScriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCount
}
