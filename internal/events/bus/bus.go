// Package bus implements the typed in-process event bus shared by the
// TCP command handlers, the HTTP API, and the WebSocket broadcaster.
// Delivery to each subscriber is synchronous from the publisher's
// viewpoint and non-blocking per subscriber: a slow or full subscriber
// has its event dropped and counted rather than stalling every other
// subscriber, generalizing the teacher's EventBroadcaster
// (drop-and-count-metric pattern from event_broadcaster_test.go) from
// a single agent.AgentEvent payload to the ten typed task event kinds.
package bus

import (
	"sync"
	"time"

	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// Kind is one of the ten event kinds spec.md §4.4 enumerates.
type Kind string

const (
	TaskCreated             Kind = "task_created"
	TaskUpdated             Kind = "task_updated"
	TaskDeleted             Kind = "task_deleted"
	TaskStatusChanged       Kind = "task_status_changed"
	TaskPriorityChanged     Kind = "task_priority_changed"
	TaskAssigned            Kind = "task_assigned"
	TaskCollaboratorsUpdated Kind = "task_collaborators_updated"
	TaskWatchersUpdated     Kind = "task_watchers_updated"
	TasksList               Kind = "tasks_list"
	TaskStatusNotification  Kind = "task_status_notification"
)

// Event is the envelope published onto the bus.
type Event struct {
	Type      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// New builds an Event of kind k with the given data, timestamped now.
func New(k Kind, data any) Event {
	return Event{Type: k, Timestamp: time.Now(), Data: data}
}

// Subscriber receives events posted to the bus through a buffered
// channel the bus owns; OnEvent never blocks waiting on a subscriber.
type Subscriber struct {
	id string
	ch chan Event
}

// Metrics tracks drop counts, mirroring the teacher's
// EventBroadcaster.GetMetrics() shape.
type Metrics struct {
	Delivered        int64
	DroppedEvents    int64
	DropsPerSubscriber map[string]int64
}

// Bus is a typed multi-consumer publish/subscribe hub.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      logging.Logger

	metricsMu sync.Mutex
	metrics   Metrics
}

// NewBus constructs an empty Bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		logger:      logging.OrNop(logger).With("eventbus"),
		metrics:     Metrics{DropsPerSubscriber: map[string]int64{}},
	}
}

// Subscribe registers id with a channel of the given buffer size and
// returns the receive-only channel. Registering the same id again
// replaces its previous channel.
func (b *Bus) Subscribe(id string, bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)
	b.mu.Lock()
	b.subscribers[id] = &Subscriber{id: id, ch: ch}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes id. Safe to call even if id was never
// registered. Does not close the channel, since a concurrent Publish
// may still hold a reference to it — the caller stops reading and lets
// it be garbage collected.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Publish delivers event to every subscriber whose channel has room.
// A subscriber whose buffer is full has the event dropped for it and
// the drop is counted; one bad or slow subscriber never blocks the
// others, matching spec.md §4.4's "must not block others" clause and
// the teacher's TestBroadcastDropIncreasesMetrics behavior.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliverOne(s, event)
	}
}

func (b *Bus) deliverOne(s *Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			// A send that panics (only a closed channel can; Unsubscribe
			// never closes one) is treated like a drop rather than
			// propagating the panic to other subscribers.
			b.recordDrop(s.id)
		}
	}()
	select {
	case s.ch <- event:
		b.metricsMu.Lock()
		b.metrics.Delivered++
		b.metricsMu.Unlock()
	default:
		b.recordDrop(s.id)
	}
}

func (b *Bus) recordDrop(id string) {
	b.metricsMu.Lock()
	b.metrics.DroppedEvents++
	b.metrics.DropsPerSubscriber[id]++
	b.metricsMu.Unlock()
	b.logger.Warn("dropped event for subscriber %s: buffer full", id)
}

// GetMetrics returns a snapshot of delivery/drop counters.
func (b *Bus) GetMetrics() Metrics {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	cp := Metrics{
		Delivered:     b.metrics.Delivered,
		DroppedEvents: b.metrics.DroppedEvents,
		DropsPerSubscriber: make(map[string]int64, len(b.metrics.DropsPerSubscriber)),
	}
	for k, v := range b.metrics.DropsPerSubscriber {
		cp.DropsPerSubscriber[k] = v
	}
	return cp
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
