package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/maxsam-ai/modelrouter/internal/router"
)

// SQLite implements router.RegistryClient on a local SQLite database using
// modernc.org/sqlite (pure Go, no CGO). It mirrors the Supabase table layout
// so development and tests see identical semantics.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens or creates the database at dsn and runs migrations.
func NewSQLite(dsn string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite allows one writer at a time; keep the pool small.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS system_registry (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS router_tasks (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			source TEXT NOT NULL DEFAULT '',
			sensitivity TEXT NOT NULL DEFAULT 'normal',
			status TEXT NOT NULL DEFAULT 'received',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS router_decisions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			route TEXT NOT NULL,
			model TEXT NOT NULL,
			reason TEXT NOT NULL,
			confidence REAL NOT NULL,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			cost_estimate REAL NOT NULL DEFAULT 0,
			policy_snapshot TEXT NOT NULL DEFAULT '{}',
			governance_level TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS router_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			decision_id TEXT,
			event_type TEXT NOT NULL,
			tier TEXT NOT NULL,
			model TEXT NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			response_preview TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_router_events_task ON router_events(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_router_tasks_created ON router_tasks(created_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// SetRegistryValue upserts a system_registry key (used to seed policy and
// governance in dev environments).
func (s *SQLite) SetRegistryValue(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO system_registry(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, string(data))
	return err
}

func (s *SQLite) readRegistryValue(ctx context.Context, key string, dst any) bool {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_registry WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		s.logger.Warn("registry key not found, using fallback", slog.String("entry", key))
		return false
	}
	if err != nil {
		s.logger.Error("registry read failed", slog.String("entry", key), slog.String("error", err.Error()))
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.logger.Error("registry value malformed", slog.String("entry", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

// GetPolicy reads the routing policy, falling back to defaults on any failure.
func (s *SQLite) GetPolicy(ctx context.Context) router.Policy {
	policy := router.DefaultPolicy()
	s.readRegistryValue(ctx, keyPolicy, &policy)
	return policy
}

// GetGovernance reads the governance record, falling back to defaults.
func (s *SQLite) GetGovernance(ctx context.Context) router.Governance {
	gov := router.DefaultGovernance()
	s.readRegistryValue(ctx, keyGovernance, &gov)
	return gov
}

// IsConnected pings the database.
func (s *SQLite) IsConnected(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// LogTask inserts a new task with status received and returns its ID.
func (s *SQLite) LogTask(ctx context.Context, t router.TaskRecord) (string, error) {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO router_tasks(id, task_type, payload, source, sensitivity, status)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		id, t.TaskType, string(payload), t.Source, string(t.Sensitivity), string(router.StatusReceived))
	if err != nil {
		s.logger.Error("log_task failed", slog.String("error", err.Error()))
		return "", err
	}
	return id, nil
}

// UpdateTaskStatus updates the task row. Best-effort: errors are logged only.
func (s *SQLite) UpdateTaskStatus(ctx context.Context, taskID string, status router.TaskStatus) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE router_tasks SET status = ? WHERE id = ?`, string(status), taskID)
	if err != nil {
		s.logger.Error("update_task_status failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

// LogDecision persists the decision with its policy snapshot.
func (s *SQLite) LogDecision(ctx context.Context, taskID string, d router.Decision, policy router.Policy, governanceLevel string) (string, error) {
	snapshot, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("marshal policy snapshot: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO router_decisions(id, task_id, route, model, reason, confidence, escalation_level, cost_estimate, policy_snapshot, governance_level)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, taskID, string(d.Route), d.Model, d.Reason, d.Confidence,
		clampEscalation(d.EscalationLevel, s.logger), d.CostEstimate, string(snapshot), governanceLevel)
	if err != nil {
		s.logger.Error("log_decision failed", slog.String("error", err.Error()))
		return "", err
	}
	return id, nil
}

// LogEvent appends one audit event. Best-effort: errors are logged only.
func (s *SQLite) LogEvent(ctx context.Context, ev router.AuditEvent) {
	var decisionID any
	if ev.DecisionID != "" {
		decisionID = ev.DecisionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO router_events(task_id, decision_id, event_type, tier, model, success, latency_ms, token_count, error_message, response_preview)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TaskID, decisionID, string(ev.Type), string(ev.Tier), ev.Model,
		ev.Success, ev.LatencyMs, ev.TokenCount, ev.ErrorMessage,
		truncate(ev.ResponsePreview, previewLimit))
	if err != nil {
		s.logger.Error("log_event failed", slog.String("error", err.Error()))
	}
}
