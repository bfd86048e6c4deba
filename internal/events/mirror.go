package events

import (
	"context"

	"github.com/maxsam-ai/modelrouter/internal/router"
)

// Mirror wraps a registry client so every audit event write is also published
// on the bus and handed to sink (if non-nil). Registry semantics are
// unchanged: the inner client still owns durability and error handling.
func Mirror(inner router.RegistryClient, bus *Bus, sink func(router.AuditEvent)) router.RegistryClient {
	return &mirror{inner: inner, bus: bus, sink: sink}
}

type mirror struct {
	inner router.RegistryClient
	bus   *Bus
	sink  func(router.AuditEvent)
}

func (m *mirror) GetPolicy(ctx context.Context) router.Policy         { return m.inner.GetPolicy(ctx) }
func (m *mirror) GetGovernance(ctx context.Context) router.Governance { return m.inner.GetGovernance(ctx) }
func (m *mirror) IsConnected(ctx context.Context) bool                { return m.inner.IsConnected(ctx) }

func (m *mirror) LogTask(ctx context.Context, t router.TaskRecord) (string, error) {
	return m.inner.LogTask(ctx, t)
}

func (m *mirror) UpdateTaskStatus(ctx context.Context, taskID string, status router.TaskStatus) {
	m.inner.UpdateTaskStatus(ctx, taskID, status)
}

func (m *mirror) LogDecision(ctx context.Context, taskID string, d router.Decision, policy router.Policy, governanceLevel string) (string, error) {
	return m.inner.LogDecision(ctx, taskID, d, policy, governanceLevel)
}

func (m *mirror) LogEvent(ctx context.Context, ev router.AuditEvent) {
	m.inner.LogEvent(ctx, ev)
	if m.bus != nil {
		m.bus.Publish(Event{
			TaskID:          ev.TaskID,
			DecisionID:      ev.DecisionID,
			Type:            string(ev.Type),
			Tier:            string(ev.Tier),
			Model:           ev.Model,
			Success:         ev.Success,
			LatencyMs:       ev.LatencyMs,
			TokenCount:      ev.TokenCount,
			ErrorMessage:    ev.ErrorMessage,
			ResponsePreview: ev.ResponsePreview,
		})
	}
	if m.sink != nil {
		m.sink(ev)
	}
}
