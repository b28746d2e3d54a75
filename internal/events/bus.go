// Package events provides the in-process event bus carrying the
// exhaustion lifecycle. It implements pub/sub with backpressure control and
// priority channels.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Timestamp() time.Time
	IncidentID() string
}

// BaseEvent provides common fields for all events. Incident is empty for
// events raised outside an escalation.
type BaseEvent struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"timestamp"`
	Incident string    `json:"incident_id,omitempty"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) IncidentID() string   { return e.Incident }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType, incidentID string) BaseEvent {
	return BaseEvent{
		Type:     eventType,
		Time:     time.Now(),
		Incident: incidentID,
	}
}

type subscription struct {
	ch       chan Event
	types    map[string]bool // empty matches every type
	priority bool
}

func (s *subscription) matches(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// priorityBuffer is the channel size for priority subscribers. Sends to
// them block once it fills.
const priorityBuffer = 50

// EventBus provides pub/sub with backpressure control.
type EventBus struct {
	mu           sync.RWMutex
	subscribers  []*subscription
	prioritySubs []*subscription
	bufferSize   int
	droppedCount int64
	closed       bool
}

// New creates a new EventBus with the specified buffer size.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{bufferSize: bufferSize}
}

// Subscribe creates a subscription for specific event types. With no
// types it receives every event. A slow subscriber loses its oldest
// buffered events.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	return eb.subscribe(false, types)
}

// SubscribePriority creates a subscription that never drops events
// published with PublishPriority. The incident recorder uses it so an
// escalation is never half recorded.
func (eb *EventBus) SubscribePriority(types ...string) <-chan Event {
	return eb.subscribe(true, types)
}

func (eb *EventBus) subscribe(priority bool, types []string) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	size := eb.bufferSize
	if priority {
		size = priorityBuffer
	}
	sub := &subscription{
		ch:       make(chan Event, size),
		types:    make(map[string]bool, len(types)),
		priority: priority,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	if priority {
		eb.prioritySubs = append(eb.prioritySubs, sub)
	} else {
		eb.subscribers = append(eb.subscribers, sub)
	}
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers = removeSubscription(eb.subscribers, ch)
	eb.prioritySubs = removeSubscription(eb.prioritySubs, ch)
}

func removeSubscription(subs []*subscription, ch <-chan Event) []*subscription {
	result := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		result = append(result, sub)
	}
	return result
}

// Publish sends an event to all matching regular subscribers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eb.publish(event)
}

// PublishPriority sends an event to regular subscribers and then, blocking,
// to every matching priority subscriber.
func (eb *EventBus) PublishPriority(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eb.publish(event)

	eventType := event.EventType()
	for _, sub := range eb.prioritySubs {
		if sub.matches(eventType) {
			sub.ch <- event
		}
	}
}

// publish requires eb.mu to be held.
func (eb *EventBus) publish(event Event) {
	eventType := event.EventType()
	for _, sub := range eb.subscribers {
		if !sub.matches(eventType) {
			continue
		}
		select {
		case sub.ch <- event:
			continue
		default:
		}
		// Full: evict the oldest and retry once.
		select {
		case <-sub.ch:
			atomic.AddInt64(&eb.droppedCount, 1)
		default:
		}
		select {
		case sub.ch <- event:
		default:
			atomic.AddInt64(&eb.droppedCount, 1)
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (eb *EventBus) DroppedCount() int64 {
	return atomic.LoadInt64(&eb.droppedCount)
}

// Close closes the event bus and all subscriber channels.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, sub := range eb.subscribers {
		close(sub.ch)
	}
	for _, sub := range eb.prioritySubs {
		close(sub.ch)
	}
	eb.subscribers = nil
	eb.prioritySubs = nil
}
