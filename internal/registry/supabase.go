package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maxsam-ai/modelrouter/internal/router"
)

// Supabase is a thin REST client for the Supabase PostgREST API. It
// implements router.RegistryClient. One HTTP client is shared across all
// operations and is safe for concurrent use.
type Supabase struct {
	baseURL string
	key     string
	client  *http.Client
	logger  *slog.Logger
}

// NewSupabase creates a registry client for the given Supabase project.
func NewSupabase(baseURL, serviceKey string, logger *slog.Logger) *Supabase {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     serviceKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (s *Supabase) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// readRegistryValue fetches one system_registry row and unmarshals its value
// into dst (which should be pre-filled with defaults).
func (s *Supabase) readRegistryValue(ctx context.Context, key string, dst any) bool {
	status, body, err := s.do(ctx, http.MethodGet,
		"/rest/v1/system_registry?key=eq."+key+"&select=value", nil)
	if err != nil {
		s.logger.Error("registry read failed", slog.String("entry", key), slog.String("error", err.Error()))
		return false
	}
	if status != http.StatusOK {
		s.logger.Warn("registry read non-200", slog.String("entry", key), slog.Int("status", status))
		return false
	}
	var rows []struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		s.logger.Warn("registry key not found, using fallback", slog.String("entry", key))
		return false
	}
	if err := json.Unmarshal(rows[0].Value, dst); err != nil {
		s.logger.Error("registry value malformed", slog.String("entry", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

// GetPolicy reads the routing policy, falling back to defaults on any failure.
func (s *Supabase) GetPolicy(ctx context.Context) router.Policy {
	policy := router.DefaultPolicy()
	s.readRegistryValue(ctx, keyPolicy, &policy)
	return policy
}

// GetGovernance reads the governance record, falling back to defaults.
func (s *Supabase) GetGovernance(ctx context.Context) router.Governance {
	gov := router.DefaultGovernance()
	s.readRegistryValue(ctx, keyGovernance, &gov)
	return gov
}

// IsConnected performs a cheap read against system_registry.
func (s *Supabase) IsConnected(ctx context.Context) bool {
	status, _, err := s.do(ctx, http.MethodGet,
		"/rest/v1/system_registry?key=eq."+keyGovernance+"&select=key", nil)
	return err == nil && status == http.StatusOK
}

// insertReturningID posts one row and extracts the returned id.
func (s *Supabase) insertReturningID(ctx context.Context, path string, row any) (string, error) {
	status, body, err := s.do(ctx, http.MethodPost, path, row)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("%s insert returned %d: %s", path, status, truncate(string(body), 200))
	}
	var rows []struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return "", fmt.Errorf("%s insert: no row returned", path)
	}
	return fmt.Sprint(rows[0].ID), nil
}

// LogTask inserts a new task with status received and returns its ID.
func (s *Supabase) LogTask(ctx context.Context, t router.TaskRecord) (string, error) {
	id, err := s.insertReturningID(ctx, "/rest/v1/router_tasks", map[string]any{
		"task_type":   t.TaskType,
		"payload":     t.Payload,
		"source":      t.Source,
		"sensitivity": string(t.Sensitivity),
		"status":      string(router.StatusReceived),
	})
	if err != nil {
		s.logger.Error("log_task failed", slog.String("error", err.Error()))
		return "", err
	}
	return id, nil
}

// UpdateTaskStatus patches the task row. Best-effort: errors are logged only.
func (s *Supabase) UpdateTaskStatus(ctx context.Context, taskID string, status router.TaskStatus) {
	_, _, err := s.do(ctx, http.MethodPatch,
		"/rest/v1/router_tasks?id=eq."+taskID,
		map[string]any{"status": string(status)})
	if err != nil {
		s.logger.Error("update_task_status failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

// LogDecision persists the decision together with the exact policy snapshot
// that produced it.
func (s *Supabase) LogDecision(ctx context.Context, taskID string, d router.Decision, policy router.Policy, governanceLevel string) (string, error) {
	id, err := s.insertReturningID(ctx, "/rest/v1/router_decisions", map[string]any{
		"task_id":          taskID,
		"route":            string(d.Route),
		"model":            d.Model,
		"reason":           d.Reason,
		"confidence":       d.Confidence,
		"escalation_level": clampEscalation(d.EscalationLevel, s.logger),
		"cost_estimate":    d.CostEstimate,
		"policy_snapshot":  policy,
		"governance_level": governanceLevel,
	})
	if err != nil {
		s.logger.Error("log_decision failed", slog.String("error", err.Error()))
		return "", err
	}
	return id, nil
}

// LogEvent appends one audit event. Best-effort: errors are logged only.
func (s *Supabase) LogEvent(ctx context.Context, ev router.AuditEvent) {
	row := map[string]any{
		"task_id":          ev.TaskID,
		"event_type":       string(ev.Type),
		"tier":             string(ev.Tier),
		"model":            ev.Model,
		"success":          ev.Success,
		"latency_ms":       ev.LatencyMs,
		"token_count":      ev.TokenCount,
		"error_message":    ev.ErrorMessage,
		"response_preview": truncate(ev.ResponsePreview, previewLimit),
	}
	if ev.DecisionID != "" {
		row["decision_id"] = ev.DecisionID
	}
	status, body, err := s.do(ctx, http.MethodPost, "/rest/v1/router_events", row)
	if err != nil {
		s.logger.Error("log_event failed", slog.String("error", err.Error()))
		return
	}
	if status != http.StatusOK && status != http.StatusCreated {
		s.logger.Error("log_event non-2xx",
			slog.Int("status", status),
			slog.String("body", truncate(string(body), 200)),
		)
	}
}
