package orchestrator

import (
	"fmt"

	"github.com/jllopis/telos/pkg/capability"
)

// StepKind identifies how a workflow step executes.
type StepKind string

const (
	// StepAgent invokes a single agent, by id or capability.
	StepAgent StepKind = "agent"

	// StepParallel launches its children concurrently and joins when all
	// complete, failing fast on the first unrecoverable child failure.
	StepParallel StepKind = "parallel"

	// StepConditional selects a branch by evaluating a predicate over the
	// prior step's envelope.
	StepConditional StepKind = "conditional"
)

// Step is one node of a workflow plan.
type Step struct {
	ID   string   `json:"id" yaml:"id"`
	Kind StepKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Agent steps: exactly one of AgentID or Capability selects the
	// executor.
	AgentID    string                `json:"agent,omitempty" yaml:"agent,omitempty"`
	Capability capability.Capability `json:"capability,omitempty" yaml:"capability,omitempty"`

	// Input is the literal payload; InputFrom maps a prior step's output
	// payload into this step's input instead.
	Input     string `json:"input,omitempty" yaml:"input,omitempty"`
	InputFrom string `json:"input_from,omitempty" yaml:"input_from,omitempty"`

	MaxTokens int               `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Parallel steps.
	Children []Step `json:"children,omitempty" yaml:"children,omitempty"`

	// Conditional steps.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      []Step `json:"then,omitempty" yaml:"then,omitempty"`
	Else      []Step `json:"else,omitempty" yaml:"else,omitempty"`
}

// Plan is an ordered tree of steps executed top to bottom. Plans are
// constructed per orchestration call and discarded after completion.
type Plan struct {
	ID    string `json:"id" yaml:"id"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Validate ensures the plan is well-formed for execution.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	seen := make(map[string]struct{})
	return validateSteps(p.Steps, seen)
}

func validateSteps(steps []Step, seen map[string]struct{}) error {
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return fmt.Errorf("step id is required")
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}

		switch step.Kind {
		case "", StepAgent:
			if step.AgentID == "" && step.Capability == "" {
				return fmt.Errorf("step %q needs an agent or capability", step.ID)
			}
			if step.AgentID != "" && step.Capability != "" {
				return fmt.Errorf("step %q sets both agent and capability", step.ID)
			}
			if step.Capability != "" && !capability.Valid(step.Capability) {
				return fmt.Errorf("step %q uses unknown capability %q", step.ID, step.Capability)
			}
		case StepParallel:
			if len(step.Children) == 0 {
				return fmt.Errorf("parallel step %q has no children", step.ID)
			}
			if err := validateSteps(step.Children, seen); err != nil {
				return err
			}
		case StepConditional:
			if step.Condition == "" {
				return fmt.Errorf("conditional step %q has no condition", step.ID)
			}
			if len(step.Then) == 0 {
				return fmt.Errorf("conditional step %q has no then branch", step.ID)
			}
			if err := validateSteps(step.Then, seen); err != nil {
				return err
			}
			if err := validateSteps(step.Else, seen); err != nil {
				return err
			}
		default:
			return fmt.Errorf("step %q has unknown kind %q", step.ID, step.Kind)
		}
	}
	return nil
}
