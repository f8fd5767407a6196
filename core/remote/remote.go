// Package remote consumes event streams published by other services.
// Foreign events are contracts, not shared types: each consumed wire type
// gets an explicit decoder and handler registered at startup, and anything
// unregistered is ignored.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

var (
	// ErrSkip tells the consumer to log the event and move on. Handlers
	// return it when correlated local state is missing and waiting would
	// not help.
	ErrSkip = errors.New("skip event")

	ErrDuplicateRegistration = errors.New("wire type already registered")
)

type (
	// DecodeFunc turns a foreign payload into a typed event.
	DecodeFunc func(data json.RawMessage) (any, error)

	// HandlerFunc reacts to one decoded foreign event. It must be
	// idempotent: the source delivers at-least-once.
	HandlerFunc func(ctx context.Context, env es.Envelope, event any) error

	registration struct {
		decode DecodeFunc
		handle HandlerFunc
	}
)

// Registry is the static wire-type table of a consumer: every foreign
// event type this service understands, with its decoder and handler.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]registration{}}
}

func (r *Registry) Register(wireType string, decode DecodeFunc, handle HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[wireType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, wireType)
	}
	r.entries[wireType] = registration{decode: decode, handle: handle}
	return nil
}

func (r *Registry) MustRegister(wireType string, decode DecodeFunc, handle HandlerFunc) {
	if err := r.Register(wireType, decode, handle); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(wireType string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[wireType]
	return reg, ok
}

// WireTypes returns the registered wire types, mostly for source-side
// subscription filters.
func (r *Registry) WireTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	return out
}

// DecodeJSON builds a DecodeFunc that unmarshals into a fresh *T.
func DecodeJSON[T any]() DecodeFunc {
	return func(data json.RawMessage) (any, error) {
		ev := new(T)
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
}
