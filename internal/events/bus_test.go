package events

import (
	"context"
	"testing"

	"github.com/maxsam-ai/modelrouter/internal/router"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{TaskID: "t1", Type: "execution", Tier: "local"})

	select {
	case e := <-sub.C:
		if e.TaskID != "t1" || e.Type != "execution" {
			t.Errorf("event = %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be stamped on publish")
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	// Second publish must not block even though the buffer is full.
	bus.Publish(Event{TaskID: "t1"})
	bus.Publish(Event{TaskID: "t2"})

	if got := len(sub.C); got != 1 {
		t.Errorf("buffered events = %d, want 1 (overflow dropped)", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	if bus.SubscriberCount() != 1 {
		t.Fatalf("count = %d", bus.SubscriberCount())
	}
	bus.Unsubscribe(sub)
	if bus.SubscriberCount() != 0 {
		t.Errorf("count = %d after unsubscribe", bus.SubscriberCount())
	}
	bus.Publish(Event{TaskID: "t1"}) // must not panic or deliver
	if len(sub.C) != 0 {
		t.Error("unsubscribed channel received event")
	}
}

// nopRegistry satisfies router.RegistryClient and counts LogEvent calls.
type nopRegistry struct {
	logged []router.AuditEvent
}

func (n *nopRegistry) GetPolicy(context.Context) router.Policy         { return router.DefaultPolicy() }
func (n *nopRegistry) GetGovernance(context.Context) router.Governance { return router.DefaultGovernance() }
func (n *nopRegistry) IsConnected(context.Context) bool                { return true }
func (n *nopRegistry) LogTask(context.Context, router.TaskRecord) (string, error) {
	return "task-1", nil
}
func (n *nopRegistry) UpdateTaskStatus(context.Context, string, router.TaskStatus) {}
func (n *nopRegistry) LogDecision(context.Context, string, router.Decision, router.Policy, string) (string, error) {
	return "dec-1", nil
}
func (n *nopRegistry) LogEvent(_ context.Context, ev router.AuditEvent) {
	n.logged = append(n.logged, ev)
}

func TestMirrorForwardsAndPublishes(t *testing.T) {
	inner := &nopRegistry{}
	bus := NewBus()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	var sunk []router.AuditEvent
	m := Mirror(inner, bus, func(ev router.AuditEvent) { sunk = append(sunk, ev) })

	ev := router.AuditEvent{
		TaskID:     "t1",
		DecisionID: "d1",
		Type:       router.EventExecution,
		Tier:       router.TierLocal,
		Model:      "llama3.1:8b",
		Success:    true,
		LatencyMs:  12,
	}
	m.LogEvent(context.Background(), ev)

	if len(inner.logged) != 1 {
		t.Fatalf("inner writes = %d, want 1", len(inner.logged))
	}
	if len(sunk) != 1 || sunk[0].TaskID != "t1" {
		t.Errorf("sink calls = %v", sunk)
	}
	select {
	case e := <-sub.C:
		if e.Type != "execution" || e.Tier != "local" || !e.Success {
			t.Errorf("published event = %+v", e)
		}
	default:
		t.Fatal("event not published on bus")
	}
}

func TestMirrorPassesThroughReads(t *testing.T) {
	inner := &nopRegistry{}
	m := Mirror(inner, nil, nil)

	if m.GetPolicy(context.Background()).MaxLocalRetries != router.DefaultPolicy().MaxLocalRetries {
		t.Error("GetPolicy not forwarded")
	}
	id, err := m.LogTask(context.Background(), router.TaskRecord{TaskType: "t"})
	if err != nil || id != "task-1" {
		t.Errorf("LogTask = %q, %v", id, err)
	}
	// Nil bus and sink must not panic.
	m.LogEvent(context.Background(), router.AuditEvent{TaskID: "t1"})
	if len(inner.logged) != 1 {
		t.Error("LogEvent not forwarded with nil bus")
	}
}
