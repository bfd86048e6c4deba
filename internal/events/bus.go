// Package events provides an in-memory pub/sub feed of audit events. Every
// event written to the registry is mirrored here so operators can watch the
// pipeline live over SSE without polling the registry.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one audit record on the bus, tagged with a wall-clock timestamp.
type Event struct {
	Timestamp time.Time `json:"timestamp"`

	TaskID          string `json:"task_id"`
	DecisionID      string `json:"decision_id,omitempty"`
	Type            string `json:"event_type"`
	Tier            string `json:"tier"`
	Model           string `json:"model"`
	Success         bool   `json:"success"`
	LatencyMs       int64  `json:"latency_ms"`
	TokenCount      int    `json:"token_count"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ResponsePreview string `json:"response_preview,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*Subscriber]struct{})}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its done channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers without blocking. Slow
// subscribers drop events rather than stalling the pipeline.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
