// Package events provides an in-memory event bus using Go channels.
package events

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Task lifecycle
	EventTaskCreated   EventType = "task.created"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"

	// Conversation log
	EventConversationUpdated EventType = "conversation.updated"
	EventConversationCleared EventType = "conversation.cleared"

	// Supplementary data
	EventMarketDataRefreshed EventType = "marketdata.refreshed"

	// Settings
	EventSettingsChanged EventType = "settings.changed"

	// Backend activity inside a running job
	EventLLMCall  EventType = "llm.call"
	EventToolCall EventType = "tool.call"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceScheduler  EventSource = "scheduler"
	SourceSession    EventSource = "session"
	SourceMarketData EventSource = "marketdata"
	SourceSettings   EventSource = "settings"
	SourceAgent      EventSource = "agent"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

var eventIDCounter uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Filter selects events by type and subject. Empty fields match everything.
type Filter struct {
	Types   []EventType
	Subject string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if f.Subject != "" && f.Subject != e.Subject {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	return slices.Contains(f.Types, e.Type)
}

// subscriberQueue is the buffer between the dispatcher and a Subscribe handler.
const subscriberQueue = 64

type subscription struct {
	filter Filter
	queue  chan Event
}

// Bus fans events out to subscribers and keeps a bounded history.
// Publish never blocks: when the queue is full the event is dropped, and a
// subscriber that falls behind loses events instead of stalling the others.
// Each subscriber sees events in publish order.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	queue   chan Event
	history *history
	closed  bool
	done    chan struct{}
}

// NewBus creates a bus queuing and remembering up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	bufferSize = max(bufferSize, 1)
	b := &Bus{
		subs:    make(map[uint64]*subscription),
		queue:   make(chan Event, bufferSize),
		history: &history{limit: bufferSize},
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for e := range b.queue {
		b.history.add(e)

		b.mu.RLock()
		for _, sub := range b.subs {
			if !sub.filter.Match(e) {
				continue
			}
			select {
			case sub.queue <- e:
			default:
			}
		}
		b.mu.RUnlock()
	}
}

// Publish queues an event. Publishing on a nil or closed bus is a no-op.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	select {
	case b.queue <- event:
	default:
	}
}

// Subscribe calls handler for events of the given types (all when none).
// Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	ch, unsubscribe := b.SubscribeFilter(subscriberQueue, Filter{Types: eventTypes})
	go func() {
		for e := range ch {
			handler(e)
		}
	}()
	return unsubscribe
}

// SubscribeChan returns a channel receiving events of the given types.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	return b.SubscribeFilter(bufSize, Filter{Types: eventTypes})
}

// SubscribeFilter returns a channel receiving the events matching f. The
// channel is closed by the returned function or when the bus closes.
func (b *Bus) SubscribeFilter(bufSize int, f Filter) (<-chan Event, func()) {
	ch := make(chan Event, max(bufSize, 1))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{filter: f, queue: ch}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.queue)
		}
	}
}

// History returns up to limit recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	return b.history.last(limit, Filter{})
}

// HistoryFor is History restricted to events matching f.
func (b *Bus) HistoryFor(limit int, f Filter) []Event {
	return b.history.last(limit, f)
}

// Close stops accepting events, delivers what is queued, then closes every
// subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done

	b.mu.Lock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.queue)
	}
	b.mu.Unlock()
}

// history keeps the most recent events up to limit.
type history struct {
	mu     sync.RWMutex
	limit  int
	events []Event
}

func (h *history) add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == h.limit {
		copy(h.events, h.events[1:])
		h.events = h.events[:h.limit-1]
	}
	h.events = append(h.events, e)
}

func (h *history) last(n int, f Filter) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	var out []Event
	for i := len(h.events) - 1; i >= 0 && len(out) < n; i-- {
		if f.Match(h.events[i]) {
			out = append(out, h.events[i])
		}
	}
	slices.Reverse(out)
	return out
}
