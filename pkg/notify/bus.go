// Package notify provides a process-wide event bus for service-health and
// credential signals.
package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Kind names an event.
type Kind string

const (
	// ServiceUnavailable is published when the API answers 503.
	ServiceUnavailable Kind = "service_unavailable"

	// InvalidCredential is published when the API rejects the credential (401).
	InvalidCredential Kind = "invalid_credential"

	// AuthenticatedAccountChanged is published when the stored credential
	// changes.
	AuthenticatedAccountChanged Kind = "authenticated_account_changed"
)

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apiclient_events_published_total",
	Help: "Total events published by kind",
}, []string{"kind"})

// Event is one published notification.
type Event struct {
	Kind    Kind
	Payload any
}

// Handler receives events.
type Handler func(Event)

// Bus dispatches events to subscribers. Publishing never blocks on
// handlers: each handler runs on its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Kind]map[uint64]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind]map[uint64]Handler)}
}

var (
	defaultBus     *Bus
	defaultBusOnce sync.Once
)

// Default returns the process-wide bus.
func Default() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = NewBus()
	})
	return defaultBus
}

// Subscribe registers h for events of kind. The returned function removes
// the subscription and may be called more than once.
func (b *Bus) Subscribe(kind Kind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]Handler)
	}
	b.handlers[kind][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[kind], id)
	}
}

// Publish sends an event to the current subscribers of kind.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[kind]))
	for _, h := range b.handlers[kind] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	eventsPublished.WithLabelValues(string(kind)).Inc()
	log.Debug().
		Str("component", "notify").
		Str("kind", string(kind)).
		Int("subscribers", len(handlers)).
		Msg("Publishing event")

	ev := Event{Kind: kind, Payload: payload}
	for _, h := range handlers {
		go h(ev)
	}
}
