package core

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType names a graph mutation.
type EventType string

const (
	EventNodeAdded        EventType = "node_added"
	EventNodeRemoved      EventType = "node_removed"
	EventNodeMoved        EventType = "node_moved"
	EventStatusChanged    EventType = "status_changed"
	EventParameterChanged EventType = "parameter_changed"
	EventEdgeAdded        EventType = "edge_added"
	EventEdgeRemoved      EventType = "edge_removed"
	EventOperatorChanged  EventType = "operator_changed"
	EventMetadataChanged  EventType = "metadata_changed"
	EventGraphLoaded      EventType = "graph_loaded"
)

// Mutates reports whether the event changes what the graph compiles to.
// Moves and status changes are presentation only.
func (t EventType) Mutates() bool {
	return t != EventNodeMoved && t != EventStatusChanged
}

// Event is published after a graph mutation has been applied.
type Event struct {
	Type    EventType `json:"type"`
	GraphID string    `json:"graphId"`
	NodeID  string    `json:"nodeId,omitempty"`
	EdgeID  string    `json:"edgeId,omitempty"`
	Key     string    `json:"key,omitempty"`
	Value   any       `json:"value,omitempty"`
	Version uint64    `json:"version"`
	Time    time.Time `json:"time"`
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// EventBus delivers events synchronously to handlers in registration order.
// A panicking handler is logged and skipped; later handlers still run.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *zap.SugaredLogger

	published atomic.Uint64
	panics    atomic.Uint64
	dropped   atomic.Uint64
}

// NewEventBus creates a bus. logger may be nil.
func NewEventBus(logger *zap.SugaredLogger) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers handler and returns a function that removes it.
func (b *EventBus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Channel subscribes a buffered channel. Events are dropped when the
// consumer falls behind by more than buffer events.
func (b *EventBus) Channel(name string, buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)
	unsub := b.Subscribe(name, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warnw("Event channel full, dropping event",
				"subscriber", name,
				"event", ev.Type)
		}
	})
	return ch, func() {
		once.Do(func() {
			unsub()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	b.published.Add(1)
	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *EventBus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			b.panics.Add(1)
			b.logger.Errorw("Event handler panic recovered",
				"subscriber", s.name,
				"event", ev.Type,
				"panic", fmt.Sprint(r),
				"stack", string(buf[:n]))
		}
	}()
	s.handler(ev)
}

// BusStats reports delivery counters.
type BusStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Panics      uint64 `json:"panics"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns a snapshot of the bus counters.
func (b *EventBus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{
		Subscribers: n,
		Published:   b.published.Load(),
		Panics:      b.panics.Load(),
		Dropped:     b.dropped.Load(),
	}
}
