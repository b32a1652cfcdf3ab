package orchestrator

import (
	"fmt"
	"strings"

	"github.com/jllopis/telos/pkg/core"
)

// evaluateCondition decides a conditional branch. The expression operates on
// the envelope of the step that ran immediately before the conditional, with
// an output.<step>. prefix available to address any earlier step explicitly.
//
// Supported forms:
//
//	success                   prior step succeeded
//	failure                   prior step failed
//	kind==KIND / kind!=KIND   compare the prior step's error kind
//	payload.contains:text     prior payload contains text
//	agent==id                 prior step ran on agent id
//	output.<step>.success     named step succeeded
//	output.<step>.failure     named step failed
//	output.<step>.contains:s  named step's payload contains s
//
// A leading ! negates any form.
func evaluateCondition(expr string, prior *core.ResponseEnvelope, run *WorkflowResult) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("empty condition")
	}
	if rest, ok := strings.CutPrefix(expr, "!"); ok {
		v, err := evaluateCondition(rest, prior, run)
		return !v, err
	}

	if rest, ok := strings.CutPrefix(expr, "output."); ok {
		stepID, pred, ok := strings.Cut(rest, ".")
		if !ok {
			return false, fmt.Errorf("malformed condition %q", expr)
		}
		sr, found := run.Result(stepID)
		if !found {
			return false, fmt.Errorf("condition %q references step %q which has not run", expr, stepID)
		}
		return evalPredicate(pred, &sr.Envelope)
	}

	if prior == nil {
		return false, fmt.Errorf("condition %q has no prior step to inspect", expr)
	}
	return evalPredicate(expr, prior)
}

func evalPredicate(pred string, env *core.ResponseEnvelope) (bool, error) {
	switch {
	case pred == "success":
		return env.Success, nil
	case pred == "failure":
		return !env.Success, nil
	case strings.HasPrefix(pred, "kind=="):
		return string(env.ErrorKind) == strings.TrimPrefix(pred, "kind=="), nil
	case strings.HasPrefix(pred, "kind!="):
		return string(env.ErrorKind) != strings.TrimPrefix(pred, "kind!="), nil
	case strings.HasPrefix(pred, "payload.contains:"):
		return strings.Contains(env.Payload, strings.TrimPrefix(pred, "payload.contains:")), nil
	case strings.HasPrefix(pred, "contains:"):
		return strings.Contains(env.Payload, strings.TrimPrefix(pred, "contains:")), nil
	case strings.HasPrefix(pred, "agent=="):
		return env.AgentID == strings.TrimPrefix(pred, "agent=="), nil
	default:
		return false, fmt.Errorf("unknown condition predicate %q", pred)
	}
}
