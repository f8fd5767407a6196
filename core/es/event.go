package es

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/proteanhq/shopstream-sub002/internal/reflector"
)

// EventRegistry maps event type strings to constructors so persisted
// envelopes can be decoded back into typed events.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() any{}}
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

var _ Decoder = (*EventRegistry)(nil)

type Registrar interface {
	Register(eventType string, ctor func() any)
}

// Event returns a reflection-free constructor for an event of type T.
// Each call to the returned function constructs a fresh *T.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEventFor registers the constructor for event type T under its
// wire type string.
func RegisterEventFor[T any](r Registrar) {
	RegisterEvents(r, Event[T]())
}

// RegisterEvents registers event constructors. For each constructor, one
// sample instance is created to derive the wire type string; future decodes
// call the original constructor to produce fresh instances.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		sample := ctor()
		r.Register(EventTypeOf(sample), ctor)
	}
}

// EventTypeOf derives the stable wire type string for an event. Events
// should implement EventType() string with a versioned name like
// "inventory.StockReserved.v1"; the reflected type name is the fallback
// for events that never cross a service boundary.
func EventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}
