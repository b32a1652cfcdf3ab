package core

import (
	"context"

	"github.com/jllopis/telos/pkg/capability"
)

// Agent is the contract every task executor implements. Implementations
// must be safe for concurrent Execute calls.
type Agent interface {
	// ID returns the stable agent identifier.
	ID() string

	// Name returns the human-readable display name.
	Name() string

	// Capabilities returns the non-empty set of declared capabilities.
	Capabilities() capability.Set

	// Validate checks a task before execution. A non-nil error fails the
	// task fast with KindInvalidInput and is never retried.
	Validate(task *Task) error

	// Execute runs the task against the bound backend. Failures are
	// captured in the envelope, never returned as panics or raw errors.
	Execute(ctx context.Context, task *Task) ResponseEnvelope
}

// Descriptor is a read-only snapshot of a registered agent.
type Descriptor struct {
	ID           string
	Name         string
	Capabilities capability.Set
}
