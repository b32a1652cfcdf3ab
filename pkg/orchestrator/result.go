package orchestrator

import (
	"github.com/jllopis/telos/pkg/core"
)

// WorkflowStatus is the terminal status of a workflow run.
type WorkflowStatus string

const (
	WorkflowSucceeded WorkflowStatus = "succeeded"
	WorkflowFailed    WorkflowStatus = "failed"
)

// StepResult pairs a step with the envelope its execution produced.
type StepResult struct {
	StepID   string                `json:"step_id"`
	Envelope core.ResponseEnvelope `json:"envelope"`
	Skipped  bool                  `json:"skipped,omitempty"`
}

// WorkflowResult aggregates the outcome of a whole plan run. StepResults
// holds every step that started, in completion order, including steps that
// finished before a sibling's failure aborted the run.
type WorkflowResult struct {
	PlanID         string         `json:"plan_id"`
	RunID          string         `json:"run_id"`
	Status         WorkflowStatus `json:"status"`
	SucceededSteps int            `json:"succeeded_steps"`
	FailedSteps    int            `json:"failed_steps"`
	TotalLatencyMs int64          `json:"total_latency_ms"`
	StepResults    []StepResult   `json:"step_results"`
}

// Result returns the step result for id, if the step ran.
func (r *WorkflowResult) Result(stepID string) (StepResult, bool) {
	for _, sr := range r.StepResults {
		if sr.StepID == stepID {
			return sr, true
		}
	}
	return StepResult{}, false
}

func (r *WorkflowResult) record(sr StepResult) {
	r.StepResults = append(r.StepResults, sr)
	if sr.Skipped {
		return
	}
	if sr.Envelope.Success {
		r.SucceededSteps++
	} else {
		r.FailedSteps++
	}
}
