package router

import (
	"fmt"
	"math"
)

// Default model IDs used when the policy carries no mapping for a tier.
const (
	DefaultLocalModel   = "llama3.1:8b"
	DefaultMarketModel  = "meta-llama/llama-3.1-70b-instruct"
	DefaultPremiumModel = "claude-sonnet-4-20250514"
)

// costPer1K is the per-1000-token rate table used for cost estimates.
var costPer1K = map[Tier]float64{
	TierLocal:   0.0,
	TierMarket:  0.0008,
	TierPremium: 0.003,
}

// EstimateTokens is a deliberately coarse heuristic (~4 chars per token).
// It must never call out to a real tokenizer.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EstimateCost returns the estimated USD cost for tokenCount tokens on the
// given tier, rounded to 6 decimal places.
func EstimateCost(tier Tier, tokenCount int) float64 {
	rate := costPer1K[tier]
	return math.Round(rate*(float64(tokenCount)/1000)*1e6) / 1e6
}

// ModelFor resolves the model ID for a tier from the policy, falling back to
// the compiled-in defaults.
func ModelFor(p Policy, tier Tier) string {
	if m, ok := p.Models[tier]; ok && m != "" {
		return m
	}
	switch tier {
	case TierMarket:
		return DefaultMarketModel
	case TierPremium:
		return DefaultPremiumModel
	default:
		return DefaultLocalModel
	}
}

// Decide computes the routing decision for a request. It is a pure function:
// no I/O, deterministic given its inputs. Rules are evaluated in order and the
// first match wins.
func Decide(req Request, policy Policy, gov Governance) Decision {
	_ = gov // recorded with the decision but does not alter the rules yet

	promptTokens := EstimateTokens(req.Prompt)
	contextTokens := EstimateTokens(req.Context)
	totalTokens := promptTokens + contextTokens

	// Rule 1: high sensitivity forces premium when the policy says so.
	if req.Sensitivity == SensitivityHigh && policy.PremiumTrigger == "sensitivity_high_only" {
		return Decision{
			Route:           TierPremium,
			Model:           ModelFor(policy, TierPremium),
			Reason:          "Sensitivity=high triggers premium tier per policy",
			Confidence:      0.95,
			EscalationLevel: 2,
			CostEstimate:    EstimateCost(TierPremium, totalTokens*2),
		}
	}

	// Rule 2: context overflow escalates to market.
	if totalTokens > policy.ContextThresholdTokens && policy.EscalationRules.ContextOverflowEscalate {
		return Decision{
			Route: TierMarket,
			Model: ModelFor(policy, TierMarket),
			Reason: fmt.Sprintf(
				"Context size (%d tokens) exceeds threshold (%d), escalating to market tier",
				totalTokens, policy.ContextThresholdTokens),
			Confidence:      0.85,
			EscalationLevel: 1,
			CostEstimate:    EstimateCost(TierMarket, totalTokens*2),
		}
	}

	// Rule 3: default to local.
	return Decision{
		Route:           TierLocal,
		Model:           ModelFor(policy, TierLocal),
		Reason:          fmt.Sprintf("Default routing to local tier (%d%% local policy)", int(policy.LocalRatio*100)),
		Confidence:      0.90,
		EscalationLevel: 0,
		CostEstimate:    0.0,
	}
}
