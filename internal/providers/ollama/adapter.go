// Package ollama implements the local-tier adapter against the Ollama chat
// API.
package ollama

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

const providerName = "Ollama"

// Adapter implements router.Generator for an Ollama instance.
type Adapter struct {
	baseURL string
	client  *http.Client
	probe   *http.Client
}

// New creates an Ollama adapter. The generation timeout defaults to 120s;
// reachability probes use a short 5s timeout.
func New(baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
		probe:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the generation HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// IsReachable probes the Ollama tags endpoint with a short timeout.
func (a *Adapter) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := a.probe.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	EvalCount       int `json:"eval_count"`
	PromptEvalCount int `json:"prompt_eval_count"`
}

// Generate calls the Ollama /api/chat endpoint in JSON mode.
func (a *Adapter) Generate(ctx context.Context, req router.GenerateRequest) router.AttemptResult {
	start := time.Now()

	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	content := req.Prompt
	if req.Context != "" {
		content = fmt.Sprintf("Context:\n%s\n\nTask:\n%s", req.Context, req.Prompt)
	}
	messages = append(messages, map[string]string{"role": "user", "content": content})

	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   false,
		"format":   "json",
		"options":  map[string]any{"temperature": 0.3},
	}

	body, err := providers.DoJSON(ctx, a.client, a.baseURL+"/api/chat", payload, nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return router.AttemptResult{
			LatencyMs: latency,
			Error:     providers.ErrorMessage(providerName, err),
		}
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return router.AttemptResult{
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}

	return router.AttemptResult{
		Success:    true,
		Output:     router.ParseOutput(resp.Message.Content),
		LatencyMs:  time.Since(start).Milliseconds(),
		TokenCount: resp.EvalCount + resp.PromptEvalCount,
	}
}
