// SPDX-License-Identifier: Apache-2.0
// Package resilience wraps agent invocations with timeout, chunking, and
// rate-limit-aware retry semantics.
package resilience

import "time"

// ExecutionPolicy controls retry, backoff, timeout, and chunking behavior.
// Policies are immutable; the With* helpers return modified copies.
type ExecutionPolicy struct {
	// MaxRetries is the retry ceiling for rate-limited invocations and the
	// hard cap on retry attempts of any kind.
	MaxRetries int

	// BaseDelay is the initial backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// PerInvocationTimeout bounds each attempt, including each retry.
	// Zero disables the timeout.
	PerInvocationTimeout time.Duration

	// ChunkSizeLimit is the payload size (in runes) above which the task
	// is split into ordered chunks. Zero disables chunking.
	ChunkSizeLimit int

	// Jitter adds randomness to backoff to prevent thundering herd.
	// Value between 0 and 1; 0.1 means ±10% jitter. Zero disables jitter
	// so delays are exactly min(BaseDelay·2^n, MaxDelay).
	Jitter float64
}

// DefaultPolicy returns a sensible default execution policy.
func DefaultPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		MaxRetries:           3,
		BaseDelay:            100 * time.Millisecond,
		MaxDelay:             10 * time.Second,
		PerInvocationTimeout: 30 * time.Second,
		ChunkSizeLimit:       8192,
	}
}

// WithMaxRetries returns a new policy with MaxRetries set.
func (p ExecutionPolicy) WithMaxRetries(n int) ExecutionPolicy {
	p.MaxRetries = n
	return p
}

// WithBaseDelay returns a new policy with BaseDelay set.
func (p ExecutionPolicy) WithBaseDelay(d time.Duration) ExecutionPolicy {
	p.BaseDelay = d
	return p
}

// WithMaxDelay returns a new policy with MaxDelay set.
func (p ExecutionPolicy) WithMaxDelay(d time.Duration) ExecutionPolicy {
	p.MaxDelay = d
	return p
}

// WithTimeout returns a new policy with PerInvocationTimeout set.
func (p ExecutionPolicy) WithTimeout(d time.Duration) ExecutionPolicy {
	p.PerInvocationTimeout = d
	return p
}

// WithChunkSizeLimit returns a new policy with ChunkSizeLimit set.
func (p ExecutionPolicy) WithChunkSizeLimit(n int) ExecutionPolicy {
	p.ChunkSizeLimit = n
	return p
}
