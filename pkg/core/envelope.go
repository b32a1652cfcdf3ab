package core

import (
	"github.com/jllopis/telos/pkg/errors"
)

// ResponseEnvelope is the uniform result wrapper returned by every agent
// invocation. Construct envelopes only through SuccessEnvelope and
// ErrorEnvelope so the success/kind/payload invariant always holds:
// success implies kind none, failure implies a non-none kind and no payload.
type ResponseEnvelope struct {
	Success       bool        `json:"success"`
	Payload       string      `json:"payload,omitempty"`
	ErrorKind     errors.Kind `json:"error_kind,omitempty"`
	Message       string      `json:"message,omitempty"`
	LatencyMs     int64       `json:"latency_ms"`
	RetryAttempts int         `json:"retry_attempts"`
	AgentID       string      `json:"agent_id,omitempty"`
}

// SuccessEnvelope builds a successful envelope for an agent result.
func SuccessEnvelope(agentID, payload string) ResponseEnvelope {
	return ResponseEnvelope{
		Success: true,
		Payload: payload,
		AgentID: agentID,
	}
}

// ErrorEnvelope builds a failed envelope from a typed error. A nil or
// kind-less error is treated as an internal failure so a malformed envelope
// cannot escape.
func ErrorEnvelope(agentID string, err error) ResponseEnvelope {
	te := errors.AsTelosError(err)
	if te == nil {
		te = errors.New(errors.KindInternal, "error envelope built without error", nil)
	}
	kind := te.Kind
	if kind == errors.KindNone {
		kind = errors.KindInternal
	}
	return ResponseEnvelope{
		Success:   false,
		ErrorKind: kind,
		Message:   te.Error(),
		AgentID:   agentID,
	}
}

// WithLatency returns a copy with the measured latency recorded.
func (e ResponseEnvelope) WithLatency(ms int64) ResponseEnvelope {
	e.LatencyMs = ms
	return e
}

// WithRetries returns a copy with the retry count recorded.
func (e ResponseEnvelope) WithRetries(attempts int) ResponseEnvelope {
	e.RetryAttempts = attempts
	return e
}

// Err reconstructs a typed error from a failed envelope, nil on success.
func (e ResponseEnvelope) Err() error {
	if e.Success {
		return nil
	}
	return errors.New(e.ErrorKind, e.Message, nil).WithAttribute("agent_id", e.AgentID)
}

// TerminalStatus maps a finished envelope to the task lifecycle status it
// represents.
func (e ResponseEnvelope) TerminalStatus() TaskStatus {
	if e.Success {
		return TaskStatusSucceeded
	}
	if e.ErrorKind == errors.KindTimeout {
		return TaskStatusTimedOut
	}
	return TaskStatusFailed
}
