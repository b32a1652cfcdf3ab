package model

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jllopis/telos/pkg/errors"
)

// HTTPProvider implements Provider against a JSON-over-HTTP completion
// endpoint. Status 429 is surfaced as a rate-limit signal so the
// resilience layer can back off; other non-200 statuses map to upstream
// failures.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates an HTTPProvider for the given base URL.
func NewHTTP(baseURL string) *HTTPProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type httpRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Stream    bool   `json:"stream"`
}

type httpResponse struct {
	Content         string `json:"response"`
	Done            bool   `json:"done"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

// Invoke sends the request and maps the response or failure.
func (p *HTTPProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(httpRequest{
		Model:     req.Model,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
		Stream:    false,
	})
	if err != nil {
		return nil, errors.New(errors.KindInternal, "marshal invocation request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.KindInternal, "build http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.KindUpstreamFailure, "model api call failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.New(errors.KindUpstreamRateLimited, "model api rate limited", nil).
			WithContext("status", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.New(errors.KindUpstreamFailure, "model api returned error status", nil).
			WithContext("status", resp.StatusCode)
	}

	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(errors.KindUpstreamFailure, "decode model response", err)
	}

	return &Response{
		Content: out.Content,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}
