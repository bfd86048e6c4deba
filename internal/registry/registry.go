// Package registry implements the durable configuration and audit registry.
//
// Two backends provide the same four-table layout (system_registry,
// router_tasks, router_decisions, router_events): a Supabase PostgREST client
// for production and a SQLite store for development and tests. Reads fall
// back to compiled-in defaults; writes are best-effort and never abort the
// request that triggered them.
package registry

import (
	"log/slog"
)

// Registry keys in system_registry.
const (
	keyPolicy     = "router_policy"
	keyGovernance = "governance"
)

// previewLimit caps response previews at write time, matching the column
// contract.
const previewLimit = 500

// maxEscalationLevel is the schema cap on router_decisions.escalation_level.
// Chains longer than four tiers would overflow it, so we clamp on write.
const maxEscalationLevel = 3

func clampEscalation(level int, logger *slog.Logger) int {
	if level > maxEscalationLevel {
		logger.Warn("escalation_level exceeds schema cap, clamping",
			slog.Int("level", level),
			slog.Int("cap", maxEscalationLevel),
		)
		return maxEscalationLevel
	}
	return level
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
