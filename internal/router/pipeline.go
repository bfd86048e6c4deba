package router

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// taskPayloadPromptLimit caps the prompt prefix stored in the task log.
const taskPayloadPromptLimit = 500

// Pipeline is the top-level orchestrator: registry reads, audit writes,
// decision, fallback execution. Registry failures never abort a request.
type Pipeline struct {
	registry RegistryClient
	executor *Executor
	logger   *slog.Logger
}

// NewPipeline wires the orchestrator. All dependencies are injected; the
// pipeline holds no global state.
func NewPipeline(registry RegistryClient, executor *Executor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{registry: registry, executor: executor, logger: logger}
}

// RouteResponse is returned by the decision-only endpoint.
type RouteResponse struct {
	Decision   Decision   `json:"decision"`
	PolicyUsed Policy     `json:"policy_used"`
	Governance Governance `json:"governance"`
}

// ExecuteOutcome is returned by the direct-execution endpoint.
type ExecuteOutcome struct {
	TaskID     string `json:"task_id"`
	Tier       Tier   `json:"tier"`
	Model      string `json:"model"`
	Success    bool   `json:"success"`
	Output     Output `json:"output"`
	LatencyMs  int64  `json:"latency_ms"`
	TokenCount int    `json:"token_count"`
	Error      string `json:"error,omitempty"`
}

func (r Request) withDefaults() Request {
	if r.Sensitivity == "" {
		r.Sensitivity = SensitivityNormal
	}
	if r.Source == "" {
		r.Source = "n8n"
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return r
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Run drives the full pipeline: snapshot policy, log task, decide, log
// decision, execute with fallback, log the final result.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	req = req.withDefaults()

	policy := p.registry.GetPolicy(ctx)
	gov := p.registry.GetGovernance(ctx)

	taskID, err := p.registry.LogTask(ctx, TaskRecord{
		TaskType: req.TaskType,
		Payload: map[string]any{
			"prompt":         truncate(req.Prompt, taskPayloadPromptLimit),
			"context_length": len(req.Context),
			"sensitivity":    string(req.Sensitivity),
			"source":         req.Source,
			"metadata":       req.Metadata,
		},
		Source:      req.Source,
		Sensitivity: req.Sensitivity,
	})
	if err != nil {
		// Registry insert failed; mint a local ID and keep going. Later
		// writes may orphan, which the schema tolerates.
		taskID = uuid.NewString()
		p.logger.Error("task insert failed, using local ID",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID),
		)
	}

	p.registry.UpdateTaskStatus(ctx, taskID, StatusRouting)
	decision := Decide(req, policy, gov)

	decisionID, err := p.registry.LogDecision(ctx, taskID, decision, policy, gov.Level)
	if err != nil {
		p.logger.Error("decision insert failed", slog.String("error", err.Error()))
	}

	p.registry.UpdateTaskStatus(ctx, taskID, StatusExecuting)
	result := p.executor.Run(ctx, req, policy, decision, taskID, decisionID)

	p.registry.LogEvent(ctx, AuditEvent{
		TaskID:          taskID,
		DecisionID:      decisionID,
		Type:            EventFinalResult,
		Tier:            result.TierUsed,
		Model:           result.ModelUsed,
		Success:         result.Success,
		LatencyMs:       result.LatencyMs,
		ErrorMessage:    result.Error,
		ResponsePreview: result.Output.Preview(previewLimit),
	})

	return result
}

// Route computes the routing decision without executing.
func (p *Pipeline) Route(ctx context.Context, req Request) RouteResponse {
	req = req.withDefaults()
	policy := p.registry.GetPolicy(ctx)
	gov := p.registry.GetGovernance(ctx)
	return RouteResponse{
		Decision:   Decide(req, policy, gov),
		PolicyUsed: policy,
		Governance: gov,
	}
}

// Execute runs a prompt directly on one tier, bypassing the decision engine.
func (p *Pipeline) Execute(ctx context.Context, tier Tier, model, prompt, contextText string) ExecuteOutcome {
	if model == "" {
		policy := p.registry.GetPolicy(ctx)
		if m, ok := policy.Models[tier]; ok && m != "" {
			model = m
		} else {
			model = DefaultLocalModel
		}
	}

	taskID, err := p.registry.LogTask(ctx, TaskRecord{
		TaskType: "direct_execute",
		Payload: map[string]any{
			"tier":   string(tier),
			"model":  model,
			"prompt": truncate(prompt, taskPayloadPromptLimit),
		},
		Source:      "api",
		Sensitivity: SensitivityNormal,
	})
	if err != nil {
		taskID = uuid.NewString()
		p.logger.Error("task insert failed, using local ID", slog.String("error", err.Error()))
	}

	result := p.executor.ExecuteOnTier(ctx, tier, GenerateRequest{
		Prompt:       prompt,
		Model:        model,
		Context:      contextText,
		SystemPrompt: SystemPrompt,
	})

	p.registry.LogEvent(ctx, AuditEvent{
		TaskID:          taskID,
		Type:            EventDirectExecution,
		Tier:            tier,
		Model:           model,
		Success:         result.Success,
		LatencyMs:       result.LatencyMs,
		TokenCount:      result.TokenCount,
		ErrorMessage:    result.Error,
		ResponsePreview: result.Output.Preview(previewLimit),
	})

	status := StatusCompleted
	if !result.Success {
		status = StatusFailed
	}
	p.registry.UpdateTaskStatus(ctx, taskID, status)

	return ExecuteOutcome{
		TaskID:     taskID,
		Tier:       tier,
		Model:      model,
		Success:    result.Success,
		Output:     result.Output,
		LatencyMs:  result.LatencyMs,
		TokenCount: result.TokenCount,
		Error:      result.Error,
	}
}

// Registry exposes the underlying registry client (used by health checks).
func (p *Pipeline) Registry() RegistryClient { return p.registry }
