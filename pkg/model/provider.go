// Package model abstracts the remote invocation primitive behind a small
// Provider interface. The execution layer only sees success, a rate-limit
// signal, or a generic failure; transport details never leak past here.
package model

import "context"

// Request encapsulates the input for a remote invocation.
type Request struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Response encapsulates the output of a remote invocation.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for remote model backends. Errors should
// be typed (*errors.TelosError) so the resilience layer can classify them;
// untyped errors are treated as internal failures.
type Provider interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
