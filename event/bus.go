package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of an event.
type Kind string

// Lifecycle event kinds emitted by service instances.
const (
	KindInitializing Kind = "initializing"
	KindInitialized  Kind = "initialized"
	KindStarting     Kind = "starting"
	KindStarted      Kind = "started"
	KindStopping     Kind = "stopping"
	KindStopped      Kind = "stopped"
	KindDestroyed    Kind = "destroyed"
	KindError        Kind = "error"
	KindOperation    Kind = "operation"
	KindHealthCheck  Kind = "health-check"
)

// Monitoring and orchestration event kinds.
const (
	KindMetricsUpdate         Kind = "metrics-update"
	KindHealthAlert           Kind = "health-alert"
	KindPerformanceAlert      Kind = "performance-alert"
	KindServiceCreated        Kind = "service-created"
	KindServiceRemoved        Kind = "service-removed"
	KindServiceRecovered      Kind = "service-recovered"
	KindServiceRecoveryFailed Kind = "service-recovery-failed"
)

// Event is a single occurrence on the bus. Service names the originating
// service where applicable; Fields carries kind-specific payload data.
type Event struct {
	ID      string         `json:"id"`
	Kind    Kind           `json:"kind"`
	Service string         `json:"service,omitempty"`
	Time    time.Time      `json:"time"`
	Err     string         `json:"error,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Handler receives events. Handlers must be safe for concurrent use; each
// delivery happens on its own goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	kind    Kind // empty matches all kinds
	handler Handler
}

// Bus is a thread-safe typed event bus.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBus creates an empty event bus. A nil logger defaults to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler for one event kind and returns a function
// that removes the subscription.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	return b.subscribe(kind, h)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.subscribe("", h)
}

func (b *Bus) subscribe(kind Kind, h Handler) func() {
	if h == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event to every matching subscriber. Missing ID and Time
// fields are filled in. Emit never blocks on handlers.
func (b *Bus) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	matched := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == e.Kind {
			matched = append(matched, s.handler)
		}
	}
	b.wg.Add(len(matched))
	b.mu.RUnlock()

	for _, h := range matched {
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic",
						"kind", string(e.Kind), "service", e.Service, "panic", r)
				}
			}()
			h(e)
		}(h)
	}
}

// Close stops accepting subscriptions and events and waits for in-flight
// deliveries to finish. Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
