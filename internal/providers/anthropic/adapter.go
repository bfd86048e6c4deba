// Package anthropic implements the premium-tier adapter against the
// Anthropic Messages API.
package anthropic

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

const (
	providerName     = "Claude"
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	maxTokens        = 4096
)

// Adapter implements router.Generator for Anthropic.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates an Anthropic adapter. The timeout defaults to 120s.
func New(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
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

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") }
}

// IsConfigured reports whether an API key is present.
func (a *Adapter) IsConfigured() bool { return a.apiKey != "" }

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate calls the Anthropic Messages API with a single user turn.
func (a *Adapter) Generate(ctx context.Context, req router.GenerateRequest) router.AttemptResult {
	if !a.IsConfigured() {
		return router.AttemptResult{Error: "ANTHROPIC_API_KEY not configured"}
	}

	start := time.Now()

	content := req.Prompt
	if req.Context != "" {
		content = fmt.Sprintf("Context:\n%s\n\nTask:\n%s", req.Context, req.Prompt)
	}

	payload := map[string]any{
		"model":       req.Model,
		"max_tokens":  maxTokens,
		"messages":    []map[string]string{{"role": "user", "content": content}},
		"temperature": 0.3,
	}
	if req.SystemPrompt != "" {
		payload["system"] = req.SystemPrompt
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}

	body, err := providers.DoJSON(ctx, a.client, a.baseURL+"/v1/messages", payload, headers)
	if err != nil {
		return router.AttemptResult{
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     providers.ErrorMessage(providerName, err),
		}
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return router.AttemptResult{
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return router.AttemptResult{
		Success:    true,
		Output:     router.ParseOutput(text.String()),
		LatencyMs:  time.Since(start).Milliseconds(),
		TokenCount: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
}
