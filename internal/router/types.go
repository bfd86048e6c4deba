package router

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Tier identifies one of the three backend categories.
type Tier string

const (
	TierLocal   Tier = "local"
	TierMarket  Tier = "market"
	TierPremium Tier = "premium"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierLocal, TierMarket, TierPremium:
		return true
	}
	return false
}

// Sensitivity classifies how carefully a request must be handled.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityNormal Sensitivity = "normal"
	SensitivityHigh   Sensitivity = "high"
)

// Valid reports whether s is a known sensitivity level.
func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityLow, SensitivityNormal, SensitivityHigh:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a routed task. Transitions are
// strictly forward: received -> routing -> executing -> completed|failed.
type TaskStatus string

const (
	StatusReceived  TaskStatus = "received"
	StatusRouting   TaskStatus = "routing"
	StatusExecuting TaskStatus = "executing"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Request is the inbound payload for the full pipeline.
type Request struct {
	TaskType    string         `json:"task_type"`
	Prompt      string         `json:"prompt"`
	Context     string         `json:"context,omitempty"`
	Sensitivity Sensitivity    `json:"sensitivity,omitempty"`
	Source      string         `json:"source,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// EscalationRules control when the executor advances down the fallback chain.
type EscalationRules struct {
	LocalFailCount          int  `json:"local_fail_count"`
	InvalidJSONEscalate     bool `json:"invalid_json_escalate"`
	ContextOverflowEscalate bool `json:"context_overflow_escalate"`
}

// Policy is the registry-owned routing policy. The orchestrator snapshots it
// once per request; it is never mutated in place.
type Policy struct {
	DefaultTier            Tier            `json:"default_tier"`
	LocalRatio             float64         `json:"local_ratio"`
	MaxLocalRetries        int             `json:"max_local_retries"`
	ContextThresholdTokens int             `json:"context_threshold_tokens"`
	EscalationRules        EscalationRules `json:"escalation_rules"`
	PremiumTrigger         string          `json:"premium_trigger"`
	FallbackChain          []Tier          `json:"fallback_chain"`
	Models                 map[Tier]string `json:"models"`
}

// Governance is the registry-owned governance record. It does not currently
// alter routing rules but is snapshotted and persisted with every decision.
type Governance struct {
	Level                   string  `json:"level"`
	RequireAudit            bool    `json:"require_audit"`
	RequireExplanation      bool    `json:"require_explanation"`
	MaxCostPerRequest       float64 `json:"max_cost_per_request"`
	PremiumApprovalRequired bool    `json:"premium_approval_required"`
}

// DefaultPolicy returns the compiled-in policy used when the registry read
// fails or the key is absent.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTier:            TierLocal,
		LocalRatio:             0.80,
		MaxLocalRetries:        2,
		ContextThresholdTokens: 4000,
		EscalationRules: EscalationRules{
			LocalFailCount:          2,
			InvalidJSONEscalate:     true,
			ContextOverflowEscalate: true,
		},
		PremiumTrigger: "sensitivity_high_only",
		FallbackChain:  []Tier{TierLocal, TierMarket, TierPremium},
		Models: map[Tier]string{
			TierLocal:   DefaultLocalModel,
			TierMarket:  DefaultMarketModel,
			TierPremium: DefaultPremiumModel,
		},
	}
}

// DefaultGovernance returns the compiled-in governance fallback.
func DefaultGovernance() Governance {
	return Governance{
		Level:              "standard",
		RequireAudit:       true,
		RequireExplanation: true,
		MaxCostPerRequest:  0.50,
	}
}

// Decision records the chosen route and its rationale. Immutable once made.
type Decision struct {
	Route           Tier    `json:"route"`
	Model           string  `json:"model"`
	Reason          string  `json:"reason"`
	Confidence      float64 `json:"confidence"`
	EscalationLevel int     `json:"escalation_level"`
	CostEstimate    float64 `json:"cost_estimate"`
}

// Output is either a parsed JSON document or the raw model text. The executor
// inspects it through Valid to decide whether to escalate.
type Output struct {
	raw    json.RawMessage
	text   string
	isJSON bool
	set    bool
}

// JSONOutput wraps an already-parsed JSON document.
func JSONOutput(raw json.RawMessage) Output {
	return Output{raw: raw, isJSON: true, set: true}
}

// TextOutput wraps raw model text that did not parse as JSON.
func TextOutput(s string) Output {
	return Output{text: s, set: true}
}

// ParseOutput classifies model text: valid JSON becomes a JSON output,
// anything else rides through as text.
func ParseOutput(content string) Output {
	trimmed := bytes.TrimSpace([]byte(content))
	if json.Valid(trimmed) {
		return JSONOutput(json.RawMessage(trimmed))
	}
	return TextOutput(content)
}

// IsZero reports whether no output was produced.
func (o Output) IsZero() bool { return !o.set }

// Valid reports whether the output passes the JSON gate: a JSON object or
// array, or text that parses as JSON.
func (o Output) Valid() bool {
	if !o.set {
		return false
	}
	if o.isJSON {
		return len(o.raw) > 0 && (o.raw[0] == '{' || o.raw[0] == '[')
	}
	return json.Valid([]byte(o.text))
}

// Preview returns at most n bytes of the output for audit records.
func (o Output) Preview(n int) string {
	var s string
	if o.isJSON {
		s = string(o.raw)
	} else {
		s = o.text
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (o Output) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	if o.isJSON {
		return o.raw, nil
	}
	return json.Marshal(o.text)
}

func (o *Output) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*o = Output{}
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*o = TextOutput(s)
		return nil
	}
	*o = JSONOutput(append(json.RawMessage(nil), trimmed...))
	return nil
}

// AttemptResult is the uniform outcome of one adapter call.
type AttemptResult struct {
	Success    bool
	Output     Output
	LatencyMs  int64
	TokenCount int
	Error      string
}

// GenerateRequest carries one single-turn generation to a tier adapter.
type GenerateRequest struct {
	Prompt       string
	Model        string
	Context      string
	SystemPrompt string
}

// Generator is implemented by each tier adapter. Adapters never return an
// error: every failure mode is folded into the AttemptResult.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) AttemptResult
}

// Result is the structured response returned to the caller.
type Result struct {
	TaskID    string    `json:"task_id"`
	Decision  Decision  `json:"decision"`
	Output    Output    `json:"output"`
	Success   bool      `json:"success"`
	TierUsed  Tier      `json:"tier_used"`
	ModelUsed string    `json:"model_used"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType names one audit event kind.
type EventType string

const (
	EventExecution       EventType = "execution"
	EventInvalidJSON     EventType = "invalid_json_escalation"
	EventEscalation      EventType = "escalation"
	EventDirectExecution EventType = "direct_execution"
	EventFinalResult     EventType = "final_result"
)

// AuditEvent is one structured record written to the registry per attempt or
// state transition.
type AuditEvent struct {
	TaskID          string    `json:"task_id"`
	DecisionID      string    `json:"decision_id,omitempty"`
	Type            EventType `json:"event_type"`
	Tier            Tier      `json:"tier"`
	Model           string    `json:"model"`
	Success         bool      `json:"success"`
	LatencyMs       int64     `json:"latency_ms"`
	TokenCount      int       `json:"token_count"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ResponsePreview string    `json:"response_preview,omitempty"`
}

// TaskRecord is the payload inserted into the task log when a request arrives.
type TaskRecord struct {
	TaskType    string         `json:"task_type"`
	Payload     map[string]any `json:"payload"`
	Source      string         `json:"source"`
	Sensitivity Sensitivity    `json:"sensitivity"`
}

// RegistryClient is the durable registry contract consumed by the pipeline.
// Writes are best-effort: errors are logged by implementations and must never
// abort execution.
type RegistryClient interface {
	GetPolicy(ctx context.Context) Policy
	GetGovernance(ctx context.Context) Governance
	IsConnected(ctx context.Context) bool
	LogTask(ctx context.Context, t TaskRecord) (string, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus)
	LogDecision(ctx context.Context, taskID string, d Decision, policy Policy, governanceLevel string) (string, error)
	LogEvent(ctx context.Context, ev AuditEvent)
}
