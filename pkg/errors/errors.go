// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Telos.
package errors

import (
	"encoding/json"
	"fmt"
)

// Kind classifies Telos errors for monitoring and retry decisions.
type Kind string

const (
	// KindNone marks the absence of an error in a response envelope.
	KindNone Kind = ""

	// KindInternal indicates a contract violation or programming error.
	// Always fail fast; logged separately from user-facing errors.
	KindInternal Kind = "INTERNAL"

	// KindInvalidInput indicates the task payload failed validation.
	KindInvalidInput Kind = "INVALID_INPUT"

	// KindTimeout indicates a single invocation exceeded its time budget.
	KindTimeout Kind = "TIMEOUT"

	// KindUpstreamRateLimited indicates the remote backend rejected the
	// call for rate reasons. Transient; retried with capped backoff.
	KindUpstreamRateLimited Kind = "UPSTREAM_RATE_LIMITED"

	// KindUpstreamFailure indicates a generic remote failure of uncertain
	// transience.
	KindUpstreamFailure Kind = "UPSTREAM_FAILURE"

	// KindUnknownAgentType indicates no factory is registered for the
	// requested agent id.
	KindUnknownAgentType Kind = "UNKNOWN_AGENT_TYPE"

	// KindNoCapableAgent indicates routing found zero candidates.
	KindNoCapableAgent Kind = "NO_CAPABLE_AGENT"
)

// RetryBudget returns how many extra attempts a kind is worth beyond the
// first. maxRetries is the policy ceiling for rate-limited calls; the other
// transient kinds use small fixed budgets because their transience is not
// established.
func RetryBudget(kind Kind, maxRetries int) int {
	switch kind {
	case KindUpstreamRateLimited:
		return maxRetries
	case KindUpstreamFailure:
		if maxRetries < 2 {
			return maxRetries
		}
		return 2
	case KindTimeout:
		if maxRetries < 1 {
			return maxRetries
		}
		return 1
	default:
		return 0
	}
}

// Retryable reports whether a kind is ever worth retrying.
func Retryable(kind Kind) bool {
	return RetryBudget(kind, 1) > 0
}

// TelosError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type TelosError struct {
	Kind        Kind
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // For HTTP-facing presentation layers
}

// Error implements the error interface.
func (e *TelosError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *TelosError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *TelosError) MarshalJSON() ([]byte, error) {
	type Alias TelosError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Kind        string `json:"kind"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Kind:        string(e.Kind),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new TelosError with the given kind, message, and cause.
// The recoverable flag is derived from the kind's retry classification.
func New(kind Kind, msg string, cause error) *TelosError {
	return &TelosError{
		Kind:        kind,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: Retryable(kind),
		StatusCode:  kindToStatusCode(kind),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *TelosError) WithContext(key string, value interface{}) *TelosError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *TelosError) WithAttribute(key, value string) *TelosError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable overrides the derived recoverable flag.
// Returns the error for method chaining.
func (e *TelosError) WithRecoverable(recoverable bool) *TelosError {
	e.Recoverable = recoverable
	return e
}

// AsTelosError attempts to convert an error to a TelosError.
// Returns the error as TelosError if it is one, or wraps it as internal.
func AsTelosError(err error) *TelosError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TelosError); ok {
		return te
	}
	return New(KindInternal, "wrapped error", err)
}

// KindOf extracts the kind from an error, mapping unknown errors to internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if te, ok := err.(*TelosError); ok {
		return te.Kind
	}
	return KindInternal
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *TelosError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// kindToStatusCode maps error kinds to HTTP status codes.
func kindToStatusCode(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return 400 // INVALID_ARGUMENT
	case KindUnknownAgentType, KindNoCapableAgent:
		return 404 // NOT_FOUND
	case KindTimeout:
		return 408 // DEADLINE_EXCEEDED
	case KindUpstreamRateLimited:
		return 429 // RESOURCE_EXHAUSTED
	case KindUpstreamFailure:
		return 502 // BAD_GATEWAY
	default:
		return 500 // INTERNAL
	}
}
