package router

import (
	"context"
	"strings"
	"testing"
)

// stubGenerator returns canned attempt results in order; the last one repeats.
type stubGenerator struct {
	results []AttemptResult
	calls   []GenerateRequest
}

func (s *stubGenerator) Generate(_ context.Context, req GenerateRequest) AttemptResult {
	s.calls = append(s.calls, req)
	if len(s.results) == 0 {
		return AttemptResult{Error: "no stubbed result"}
	}
	idx := len(s.calls) - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx]
}

// recorderRegistry captures every audit write in memory.
type recorderRegistry struct {
	policy      Policy
	gov         Governance
	taskErr     error
	decisionErr error

	tasks     []TaskRecord
	statuses  []TaskStatus
	decisions []Decision
	events    []AuditEvent
}

func newRecorder() *recorderRegistry {
	return &recorderRegistry{policy: DefaultPolicy(), gov: DefaultGovernance()}
}

func (r *recorderRegistry) GetPolicy(context.Context) Policy         { return r.policy }
func (r *recorderRegistry) GetGovernance(context.Context) Governance { return r.gov }
func (r *recorderRegistry) IsConnected(context.Context) bool         { return true }

func (r *recorderRegistry) LogTask(_ context.Context, t TaskRecord) (string, error) {
	if r.taskErr != nil {
		return "", r.taskErr
	}
	r.tasks = append(r.tasks, t)
	return "task-1", nil
}

func (r *recorderRegistry) UpdateTaskStatus(_ context.Context, _ string, status TaskStatus) {
	r.statuses = append(r.statuses, status)
}

func (r *recorderRegistry) LogDecision(_ context.Context, _ string, d Decision, _ Policy, _ string) (string, error) {
	if r.decisionErr != nil {
		return "", r.decisionErr
	}
	r.decisions = append(r.decisions, d)
	return "dec-1", nil
}

func (r *recorderRegistry) LogEvent(_ context.Context, ev AuditEvent) {
	r.events = append(r.events, ev)
}

func (r *recorderRegistry) eventTypes() []EventType {
	types := make([]EventType, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func success(jsonBody string) AttemptResult {
	return AttemptResult{Success: true, Output: ParseOutput(jsonBody), LatencyMs: 5, TokenCount: 42}
}

func httpFailure(msg string) AttemptResult {
	return AttemptResult{LatencyMs: 3, Error: msg}
}

func newTestExecutor(rec *recorderRegistry, local, market, premium Generator) *Executor {
	adapters := map[Tier]Generator{}
	if local != nil {
		adapters[TierLocal] = local
	}
	if market != nil {
		adapters[TierMarket] = market
	}
	if premium != nil {
		adapters[TierPremium] = premium
	}
	return NewExecutor(adapters, rec, nil)
}

func eqTypes(a, b []EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExecutorLocalSuccess(t *testing.T) {
	rec := newRecorder()
	local := &stubGenerator{results: []AttemptResult{success(`{"label":"greeting"}`)}}
	exec := newTestExecutor(rec, local, nil, nil)

	req := Request{TaskType: "classify", Prompt: "hi", Sensitivity: SensitivityNormal}
	decision := Decide(req, rec.policy, rec.gov)
	result := exec.Run(context.Background(), req, rec.policy, decision, "task-1", "dec-1")

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.TierUsed != TierLocal {
		t.Errorf("tier_used = %s, want local", result.TierUsed)
	}
	if result.Decision.EscalationLevel != 0 {
		t.Errorf("escalation_level = %d, want 0", result.Decision.EscalationLevel)
	}
	if !strings.Contains(result.Decision.Reason, "Default routing to local") {
		t.Errorf("reason = %q", result.Decision.Reason)
	}
	if !eqTypes(rec.eventTypes(), []EventType{EventExecution}) {
		t.Errorf("events = %v", rec.eventTypes())
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != StatusCompleted {
		t.Errorf("statuses = %v, want [completed]", rec.statuses)
	}
	if len(local.calls) != 1 {
		t.Errorf("local called %d times, want 1", len(local.calls))
	}
	if local.calls[0].SystemPrompt != SystemPrompt {
		t.Errorf("system prompt not forwarded")
	}
}

func TestExecutorSensitivityHighRunsOnPremium(t *testing.T) {
	rec := newRecorder()
	premium := &stubGenerator{results: []AttemptResult{success(`{"ok":true}`)}}
	exec := newTestExecutor(rec, nil, nil, premium)

	req := Request{TaskType: "audit", Prompt: "leak?", Sensitivity: SensitivityHigh}
	decision := Decide(req, rec.policy, rec.gov)
	result := exec.Run(context.Background(), req, rec.policy, decision, "task-1", "dec-1")

	if result.TierUsed != TierPremium {
		t.Fatalf("tier_used = %s, want premium", result.TierUsed)
	}
	// Execution started and succeeded on the decided tier, so no tiers were
	// skipped during fallback.
	if result.Decision.EscalationLevel != 0 {
		t.Errorf("escalation_level = %d, want 0", result.Decision.EscalationLevel)
	}
	if result.Decision.Confidence != 0.95 {
		t.Errorf("confidence = %f, want 0.95", result.Decision.Confidence)
	}
	if result.Decision.CostEstimate <= 0 {
		t.Errorf("cost_estimate = %f, want > 0", result.Decision.CostEstimate)
	}
}

func TestExecutorLocalFailsTwiceEscalatesToMarket(t *testing.T) {
	rec := newRecorder()
	local := &stubGenerator{results: []AttemptResult{httpFailure("Ollama returned 500: boom")}}
	market := &stubGenerator{results: []AttemptResult{success(`{"ok":1}`)}}
	exec := newTestExecutor(rec, local, market, nil)

	req := Request{TaskType: "t", Prompt: "p", Sensitivity: SensitivityNormal}
	decision := Decide(req, rec.policy, rec.gov)
	result := exec.Run(context.Background(), req, rec.policy, decision, "task-1", "dec-1")

	want := []EventType{EventExecution, EventExecution, EventEscalation, EventExecution}
	if !eqTypes(rec.eventTypes(), want) {
		t.Fatalf("events = %v, want %v", rec.eventTypes(), want)
	}
	if rec.events[0].Tier != TierLocal || rec.events[0].Success {
		t.Errorf("first event should be failed local execution: %+v", rec.events[0])
	}
	if rec.events[3].Tier != TierMarket || !rec.events[3].Success {
		t.Errorf("last event should be market success: %+v", rec.events[3])
	}
	if result.TierUsed != TierMarket {
		t.Errorf("tier_used = %s, want market", result.TierUsed)
	}
	if !strings.HasSuffix(result.Decision.Reason, "escalated 1x") {
		t.Errorf("reason = %q, want escalated 1x suffix", result.Decision.Reason)
	}
	if result.Decision.Confidence != 0.75 {
		t.Errorf("confidence = %f, want 0.75", result.Decision.Confidence)
	}
	if result.Decision.EscalationLevel != 1 {
		t.Errorf("escalation_level = %d, want 1", result.Decision.EscalationLevel)
	}
	if len(local.calls) != 2 {
		t.Errorf("local called %d times, want max_local_retries=2", len(local.calls))
	}
}

func TestExecutorInvalidJSONEscalatesWithoutRetry(t *testing.T) {
	rec := newRecorder()
	local := &stubGenerator{results: []AttemptResult{success("not json")}}
	market := &stubGenerator{results: []AttemptResult{success(`{"ok":1}`)}}
	exec := newTestExecutor(rec, local, market, nil)

	req := Request{TaskType: "t", Prompt: "p"}
	decision := Decide(req, rec.policy, rec.gov)
	result := exec.Run(context.Background(), req, rec.policy, decision, "task-1", "dec-1")

	want := []EventType{EventExecution, EventInvalidJSON, EventExecution}
	if !eqTypes(rec.eventTypes(), want) {
		t.Fatalf("events = %v, want %v", rec.eventTypes(), want)
	}
	// The local execution event records adapter success; the gate failure is
	// its own event.
	if !rec.events[0].Success {
		t.Errorf("execution event should carry adapter success")
	}
	if rec.events[1].Success {
		t.Errorf("invalid_json_escalation event must have success=false")
	}
	// Invalid JSON must not consume the local retry budget.
	if len(local.calls) != 1 {
		t.Errorf("local called %d times, want 1", len(local.calls))
	}
	if result.TierUsed != TierMarket {
		t.Errorf("tier_used = %s, want market", result.TierUsed)
	}
}

func TestExecutorInvalidJSONAcceptedWhenEscalationDisabled(t *testing.T) {
	rec := newRecorder()
	rec.policy.EscalationRules.InvalidJSONEscalate = false
	local := &stubGenerator{results: []AttemptResult{success("not json")}}
	exec := newTestExecutor(rec, local, nil, nil)

	req := Request{TaskType: "t", Prompt: "p"}
	decision := Decide(req, rec.policy, rec.gov)
	result := exec.Run(context.Background(), req, rec.policy, decision, "task-1", "dec-1")

	if !result.Success {
		t.Fatalf("raw text should be accepted as-is: %q", result.Error)
	}
	if result.TierUsed != TierLocal {
		t.Errorf("tier_used = %s, want local", result.TierUsed)
	}
	if result.Output.Valid() {
		t.Errorf("output should still fail the JSON gate")
	}
}

func TestExecutorAllTiersExhausted(t *testing.T) {
	rec := newRecorder()
	fail := []AttemptResult{httpFailure("backend returned 500: err")}
	local := &stubGenerator{results: fail}
	market := &stubGenerator{results: fail}
	premium := &stubGenerator{results: fail}
	exec := newTestExecutor(rec, local, market, premium)

	req := Request{TaskType: "t", Prompt: "p"}
	decision := Decide(req, rec.policy, rec.gov)
	result := exec.Run(context.Background(), req, rec.policy, decision, "task-1", "dec-1")

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(result.Error, "All tiers exhausted.") {
		t.Errorf("error = %q", result.Error)
	}
	if result.TierUsed != decision.Route {
		t.Errorf("tier_used = %s, want originally decided %s", result.TierUsed, decision.Route)
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != StatusFailed {
		t.Errorf("statuses = %v, want [failed]", rec.statuses)
	}
	// 2 local + 1 market + 1 premium attempts, plus one escalation event.
	want := []EventType{EventExecution, EventExecution, EventEscalation, EventExecution, EventExecution}
	if !eqTypes(rec.eventTypes(), want) {
		t.Errorf("events = %v, want %v", rec.eventTypes(), want)
	}
}

func TestExecutorRetryBudgetPerTier(t *testing.T) {
	rec := newRecorder()
	rec.policy.MaxLocalRetries = 3
	fail := []AttemptResult{httpFailure("nope")}
	local := &stubGenerator{results: fail}
	market := &stubGenerator{results: fail}
	premium := &stubGenerator{results: fail}
	exec := newTestExecutor(rec, local, market, premium)

	req := Request{TaskType: "t", Prompt: "p"}
	decision := Decide(req, rec.policy, rec.gov)
	exec.Run(context.Background(), req, rec.policy, decision, "task-1", "dec-1")

	if len(local.calls) != 3 {
		t.Errorf("local attempts = %d, want 3", len(local.calls))
	}
	if len(market.calls) != 1 {
		t.Errorf("market attempts = %d, want 1", len(market.calls))
	}
	if len(premium.calls) != 1 {
		t.Errorf("premium attempts = %d, want 1", len(premium.calls))
	}
}

func TestExecutorNeverRevisitsEarlierTiers(t *testing.T) {
	rec := newRecorder()
	local := &stubGenerator{results: []AttemptResult{success(`{"ok":1}`)}}
	market := &stubGenerator{results: []AttemptResult{httpFailure("OpenRouter returned 500: x")}}
	premium := &stubGenerator{results: []AttemptResult{success(`{"ok":2}`)}}
	exec := newTestExecutor(rec, local, market, premium)

	// Decision starts at market; local must never be attempted.
	decision := Decision{Route: TierMarket, Model: "m", Reason: "r", Confidence: 0.85, EscalationLevel: 1}
	req := Request{TaskType: "t", Prompt: "p"}
	result := exec.Run(context.Background(), req, rec.policy, decision, "task-1", "dec-1")

	if len(local.calls) != 0 {
		t.Errorf("local attempted %d times, want 0", len(local.calls))
	}
	if result.TierUsed != TierPremium {
		t.Errorf("tier_used = %s, want premium", result.TierUsed)
	}
	if result.Decision.EscalationLevel != 1 {
		t.Errorf("escalation_level = %d, want final_index - start_index = 1", result.Decision.EscalationLevel)
	}
}

func TestExecutorRouteNotInChainStartsAtHead(t *testing.T) {
	rec := newRecorder()
	rec.policy.FallbackChain = []Tier{TierMarket, TierPremium}
	market := &stubGenerator{results: []AttemptResult{success(`{"ok":1}`)}}
	exec := newTestExecutor(rec, nil, market, nil)

	decision := Decision{Route: TierLocal, Model: "m", Reason: "r", Confidence: 0.90}
	result := exec.Run(context.Background(), Request{TaskType: "t", Prompt: "p"}, rec.policy, decision, "task-1", "dec-1")

	if result.TierUsed != TierMarket {
		t.Errorf("tier_used = %s, want chain head market", result.TierUsed)
	}
}

func TestExecutorEmptyChainFailsImmediately(t *testing.T) {
	rec := newRecorder()
	rec.policy.FallbackChain = nil
	exec := newTestExecutor(rec, nil, nil, nil)

	decision := Decision{Route: TierLocal, Model: "m", Reason: "r", Confidence: 0.90}
	result := exec.Run(context.Background(), Request{TaskType: "t", Prompt: "p"}, rec.policy, decision, "task-1", "dec-1")

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "All tiers exhausted. Last error: <nil>" {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecutorConfidenceFloor(t *testing.T) {
	rec := newRecorder()
	fail := []AttemptResult{httpFailure("down")}
	local := &stubGenerator{results: fail}
	market := &stubGenerator{results: fail}
	premium := &stubGenerator{results: []AttemptResult{success(`{"ok":1}`)}}
	exec := newTestExecutor(rec, local, market, premium)

	decision := Decision{Route: TierLocal, Model: "m", Reason: "r", Confidence: 0.60}
	result := exec.Run(context.Background(), Request{TaskType: "t", Prompt: "p"}, rec.policy, decision, "task-1", "dec-1")

	// 0.60 - 2*0.15 = 0.30, floored at 0.5.
	if result.Decision.Confidence != 0.5 {
		t.Errorf("confidence = %f, want floor 0.5", result.Decision.Confidence)
	}
	if !strings.HasSuffix(result.Decision.Reason, "escalated 2x") {
		t.Errorf("reason = %q", result.Decision.Reason)
	}
}

func TestExecutorModelFallsBackToDecisionModel(t *testing.T) {
	rec := newRecorder()
	delete(rec.policy.Models, TierMarket)
	local := &stubGenerator{results: []AttemptResult{httpFailure("down")}}
	market := &stubGenerator{results: []AttemptResult{success(`{"ok":1}`)}}
	exec := newTestExecutor(rec, local, market, nil)

	decision := Decision{Route: TierLocal, Model: "decided-model", Reason: "r", Confidence: 0.90}
	result := exec.Run(context.Background(), Request{TaskType: "t", Prompt: "p"}, rec.policy, decision, "task-1", "dec-1")

	if result.ModelUsed != "decided-model" {
		t.Errorf("model_used = %q, want decision model fallback", result.ModelUsed)
	}
}

func TestExecutorUnknownTierInChain(t *testing.T) {
	rec := newRecorder()
	rec.policy.FallbackChain = []Tier{TierPremium}
	exec := newTestExecutor(rec, nil, nil, nil) // no adapters registered

	decision := Decision{Route: TierPremium, Model: "m", Reason: "r", Confidence: 0.95}
	result := exec.Run(context.Background(), Request{TaskType: "t", Prompt: "p"}, rec.policy, decision, "task-1", "dec-1")

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "Unknown tier: premium") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecutorTotalLatencyAccumulates(t *testing.T) {
	rec := newRecorder()
	local := &stubGenerator{results: []AttemptResult{httpFailure("down")}}
	market := &stubGenerator{results: []AttemptResult{success(`{"ok":1}`)}}
	exec := newTestExecutor(rec, local, market, nil)

	decision := Decision{Route: TierLocal, Model: "m", Reason: "r", Confidence: 0.90}
	result := exec.Run(context.Background(), Request{TaskType: "t", Prompt: "p"}, rec.policy, decision, "task-1", "dec-1")

	// Two local failures at 3ms each plus one market success at 5ms.
	if result.LatencyMs != 11 {
		t.Errorf("latency_ms = %d, want 11", result.LatencyMs)
	}
}
