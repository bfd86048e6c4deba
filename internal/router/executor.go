package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SystemPrompt is the fixed instruction sent with every generation. Workers
// downstream parse the output as JSON, so the models are told to emit nothing
// else.
const SystemPrompt = "You are a MaxSam AI worker. Respond ONLY with valid JSON. " +
	"No markdown, no explanation, no preamble. Just a JSON object."

// previewLimit caps response previews stored in audit events.
const previewLimit = 500

// Executor drives attempts across the fallback chain, starting at the decided
// tier. It is strictly sequential: tiers are tried in chain order and earlier
// tiers are never revisited.
type Executor struct {
	adapters map[Tier]Generator
	audit    RegistryClient
	logger   *slog.Logger
}

// NewExecutor builds an executor over the given tier adapters. Audit writes go
// through audit and are best-effort.
func NewExecutor(adapters map[Tier]Generator, audit RegistryClient, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{adapters: adapters, audit: audit, logger: logger}
}

// ExecuteOnTier dispatches one generation to the adapter for the given tier.
func (e *Executor) ExecuteOnTier(ctx context.Context, tier Tier, req GenerateRequest) AttemptResult {
	adapter, ok := e.adapters[tier]
	if !ok {
		return AttemptResult{Success: false, Error: fmt.Sprintf("Unknown tier: %s", tier)}
	}
	return adapter.Generate(ctx, req)
}

// Run executes the request along the fallback chain. It escalates past a tier
// when the tier's attempt budget is exhausted or the tier returns invalid JSON
// with escalation enabled. The local tier gets up to MaxLocalRetries attempts;
// every other tier gets exactly one.
func (e *Executor) Run(ctx context.Context, req Request, policy Policy, decision Decision, taskID, decisionID string) Result {
	chain := policy.FallbackChain

	startIdx := 0
	for i, t := range chain {
		if t == decision.Route {
			startIdx = i
			break
		}
	}

	localFailCount := 0
	var lastError error
	var totalLatency int64

	for tierIdx := startIdx; tierIdx < len(chain); tierIdx++ {
		tier := chain[tierIdx]
		model := decision.Model
		if m, ok := policy.Models[tier]; ok && m != "" {
			model = m
		}
		escalation := tierIdx - startIdx

		maxAttempts := 1
		if tier == TierLocal {
			maxAttempts = policy.MaxLocalRetries
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			e.logger.Info("executing",
				slog.String("tier", string(tier)),
				slog.String("model", model),
				slog.Int("attempt", attempt+1),
				slog.String("task_id", taskID),
			)

			result := e.ExecuteOnTier(ctx, tier, GenerateRequest{
				Prompt:       req.Prompt,
				Model:        model,
				Context:      req.Context,
				SystemPrompt: SystemPrompt,
			})
			totalLatency += result.LatencyMs

			e.audit.LogEvent(ctx, AuditEvent{
				TaskID:          taskID,
				DecisionID:      decisionID,
				Type:            EventExecution,
				Tier:            tier,
				Model:           model,
				Success:         result.Success,
				LatencyMs:       result.LatencyMs,
				TokenCount:      result.TokenCount,
				ErrorMessage:    result.Error,
				ResponsePreview: result.Output.Preview(previewLimit),
			})

			if result.Success {
				if !result.Output.Valid() && policy.EscalationRules.InvalidJSONEscalate {
					e.logger.Warn("non-JSON output, escalating",
						slog.String("tier", string(tier)),
						slog.String("task_id", taskID),
					)
					e.audit.LogEvent(ctx, AuditEvent{
						TaskID:       taskID,
						DecisionID:   decisionID,
						Type:         EventInvalidJSON,
						Tier:         tier,
						Model:        model,
						Success:      false,
						ErrorMessage: "Output is not valid JSON",
					})
					lastError = errors.New("Invalid JSON output")
					break // advance to the next tier; no retry on this one
				}

				final := Decision{
					Route:           tier,
					Model:           model,
					Reason:          decision.Reason,
					Confidence:      decision.Confidence - float64(escalation)*0.15,
					EscalationLevel: escalation,
					CostEstimate:    EstimateCost(tier, result.TokenCount),
				}
				if escalation > 0 {
					final.Reason += fmt.Sprintf("; escalated %dx", escalation)
				}
				if final.Confidence < 0.5 {
					final.Confidence = 0.5
				}

				e.audit.UpdateTaskStatus(ctx, taskID, StatusCompleted)

				return Result{
					TaskID:    taskID,
					Decision:  final,
					Output:    result.Output,
					Success:   true,
					TierUsed:  tier,
					ModelUsed: model,
					LatencyMs: totalLatency,
					Timestamp: time.Now().UTC(),
				}
			}

			if result.Error != "" {
				lastError = errors.New(result.Error)
			} else {
				lastError = errors.New("Unknown error")
			}
			if tier == TierLocal {
				localFailCount++
				e.logger.Warn("local attempt failed",
					slog.Int("attempt", attempt+1),
					slog.String("error", result.Error),
					slog.String("task_id", taskID),
				)
			}
		}

		if tier == TierLocal && localFailCount >= policy.EscalationRules.LocalFailCount {
			e.logger.Warn("local tier exhausted, escalating",
				slog.Int("failures", localFailCount),
				slog.String("task_id", taskID),
			)
			e.audit.LogEvent(ctx, AuditEvent{
				TaskID:       taskID,
				DecisionID:   decisionID,
				Type:         EventEscalation,
				Tier:         tier,
				Model:        model,
				Success:      false,
				ErrorMessage: fmt.Sprintf("Local failed %d times", localFailCount),
			})
		}
	}

	e.audit.UpdateTaskStatus(ctx, taskID, StatusFailed)

	return Result{
		TaskID:    taskID,
		Decision:  decision,
		Success:   false,
		TierUsed:  decision.Route,
		ModelUsed: decision.Model,
		LatencyMs: totalLatency,
		Error:     fmt.Sprintf("All tiers exhausted. Last error: %v", lastError),
		Timestamp: time.Now().UTC(),
	}
}
