// Package agent implements the standard core.Agent executor bound to a
// remote model provider.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jllopis/telos/pkg/capability"
	"github.com/jllopis/telos/pkg/core"
	telerr "github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/model"
)

// Handler executes the agent's core behavior. The default handler calls
// the bound model provider.
type Handler func(ctx context.Context, task *core.Task) (string, error)

// Validator checks a task before execution.
type Validator func(task *core.Task) error

// Agent is the standard implementation of the core.Agent contract.
// Execute is safe for concurrent use; per-agent statistics are kept
// behind Stats' lock.
type Agent struct {
	id           string
	name         string
	capabilities capability.Set
	modelName    string
	provider     model.Provider
	handler      Handler
	validator    Validator
	stats        Stats
}

var (
	ErrMissingID           = errors.New("agent id is required")
	ErrMissingCapabilities = errors.New("agent requires at least one capability")
	ErrMissingBackend      = errors.New("agent requires a provider or handler")
)

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates a new Agent with a required id and options. Every agent must
// declare at least one capability and either a model binding or a custom
// handler.
func New(id string, opts ...Option) (*Agent, error) {
	a := &Agent{id: id, name: id}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.id == "" {
		return nil, ErrMissingID
	}
	if len(a.capabilities) == 0 {
		return nil, ErrMissingCapabilities
	}
	if a.provider == nil && a.handler == nil {
		return nil, ErrMissingBackend
	}
	return a, nil
}

// WithName sets the display name.
func WithName(name string) Option {
	return func(a *Agent) error {
		a.name = name
		return nil
	}
}

// WithCapabilities declares the agent's capability set.
func WithCapabilities(caps ...capability.Capability) Option {
	return func(a *Agent) error {
		set, err := capability.NewSet(caps...)
		if err != nil {
			return err
		}
		a.capabilities = set
		return nil
	}
}

// WithProvider binds a remote model provider and model name.
func WithProvider(provider model.Provider, modelName string) Option {
	return func(a *Agent) error {
		a.provider = provider
		a.modelName = modelName
		return nil
	}
}

// WithHandler overrides the default provider-backed behavior.
func WithHandler(handler Handler) Option {
	return func(a *Agent) error {
		a.handler = handler
		return nil
	}
}

// WithValidator sets the fail-fast task validator.
func WithValidator(v Validator) Option {
	return func(a *Agent) error {
		a.validator = v
		return nil
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Name returns the display name.
func (a *Agent) Name() string { return a.name }

// Capabilities returns the declared capability set.
func (a *Agent) Capabilities() capability.Set { return a.capabilities }

// Stats returns a snapshot of the agent's invocation statistics.
func (a *Agent) Stats() StatsSnapshot { return a.stats.Snapshot() }

// Validate checks the task before execution. The default check rejects an
// empty payload; a custom validator replaces it.
func (a *Agent) Validate(task *core.Task) error {
	if task == nil {
		return telerr.New(telerr.KindInvalidInput, "task is nil", nil)
	}
	if a.validator != nil {
		if err := a.validator(task); err != nil {
			te := telerr.AsTelosError(err)
			if te.Kind != telerr.KindInvalidInput {
				return telerr.New(telerr.KindInvalidInput, "task validation failed", err)
			}
			return te
		}
		return nil
	}
	if strings.TrimSpace(task.Payload) == "" {
		return telerr.New(telerr.KindInvalidInput, "task payload is empty", nil).
			WithContext("agent", a.id)
	}
	return nil
}

// Execute runs the task against the bound backend. Errors from the backend
// are classified and captured in the envelope.
func (a *Agent) Execute(ctx context.Context, task *core.Task) core.ResponseEnvelope {
	start := time.Now()

	output, err := a.run(ctx, task)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		a.stats.recordFailure(latency)
		return core.ErrorEnvelope(a.id, err).WithLatency(latency)
	}

	a.stats.recordSuccess(latency)
	return core.SuccessEnvelope(a.id, output).WithLatency(latency)
}

func (a *Agent) run(ctx context.Context, task *core.Task) (string, error) {
	if a.handler != nil {
		return a.handler(ctx, task)
	}

	resp, err := a.provider.Invoke(ctx, model.Request{
		Model:     a.modelName,
		Prompt:    task.Payload,
		MaxTokens: task.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
