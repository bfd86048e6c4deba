// Package openrouter implements the market-tier adapter against the
// OpenRouter chat-completions API (OpenAI-compatible).
package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maxsam-ai/modelrouter/internal/providers"
	"github.com/maxsam-ai/modelrouter/internal/router"
)

const providerName = "OpenRouter"

// Adapter implements router.Generator for OpenRouter.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates an OpenRouter adapter. The timeout defaults to 60s.
func New(baseURL, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// IsConfigured reports whether an API key is present.
func (a *Adapter) IsConfigured() bool { return a.apiKey != "" }

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate calls the OpenRouter chat-completions endpoint with a JSON
// response format.
func (a *Adapter) Generate(ctx context.Context, req router.GenerateRequest) router.AttemptResult {
	if !a.IsConfigured() {
		return router.AttemptResult{Error: "OPENROUTER_API_KEY not configured"}
	}

	start := time.Now()

	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	userContent := req.Prompt
	if req.Context != "" {
		userContent = fmt.Sprintf("Context:\n%s\n\nTask:\n%s", req.Context, req.Prompt)
	}
	messages = append(messages, map[string]string{"role": "user", "content": userContent})

	payload := map[string]any{
		"model":           req.Model,
		"messages":        messages,
		"temperature":     0.3,
		"response_format": map[string]string{"type": "json_object"},
	}
	headers := map[string]string{
		"Authorization": "Bearer " + a.apiKey,
		"HTTP-Referer":  "https://maxsam.app",
		"X-Title":       "MaxSam Router",
	}

	body, err := providers.DoJSON(ctx, a.client, a.baseURL+"/chat/completions", payload, headers)
	if err != nil {
		return router.AttemptResult{
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     providers.ErrorMessage(providerName, err),
		}
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return router.AttemptResult{
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return router.AttemptResult{
		Success:    true,
		Output:     router.ParseOutput(content),
		LatencyMs:  time.Since(start).Milliseconds(),
		TokenCount: resp.Usage.TotalTokens,
	}
}
