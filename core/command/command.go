// Package command routes typed commands to their handlers. It is the thin
// application layer in front of the aggregates: transports (HTTP, queue
// consumers, schedulers) build a Command and dispatch it; the handler runs
// the domain operation through the repository.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

var (
	ErrUnknownCommand   = errors.New("unknown command type")
	ErrDuplicateHandler = errors.New("handler already registered")
)

// Command is the transport-independent representation of a request to
// change state. Type selects the handler, AggregateID the stream.
type Command struct {
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
}

// HandlerFunc executes one command against the dependencies D carries
// (repositories, ports, clocks).
type HandlerFunc[D any] func(ctx context.Context, deps D, cmd Command) error

// Registry maps command types to handlers. Registration happens at
// startup; lookups are concurrent.
type Registry[D any] struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc[D]
}

func NewRegistry[D any]() *Registry[D] {
	return &Registry[D]{handlers: map[string]HandlerFunc[D]{}}
}

func (r *Registry[D]) Register(cmdType string, h HandlerFunc[D]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[cmdType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, cmdType)
	}
	r.handlers[cmdType] = h
	return nil
}

func (r *Registry[D]) MustRegister(cmdType string, h HandlerFunc[D]) {
	if err := r.Register(cmdType, h); err != nil {
		panic(err)
	}
}

func (r *Registry[D]) lookup(cmdType string) (HandlerFunc[D], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[cmdType]
	return h, ok
}

// Dispatcher executes commands against a fixed dependency set.
type Dispatcher[D any] struct {
	log  *slog.Logger
	deps D
	reg  *Registry[D]
}

func NewDispatcher[D any](log *slog.Logger, reg *Registry[D], deps D) *Dispatcher[D] {
	return &Dispatcher[D]{
		log:  log.With(slog.String("component", "command_dispatcher")),
		deps: deps,
		reg:  reg,
	}
}

func (d *Dispatcher[D]) Dispatch(ctx context.Context, cmd Command) error {
	h, ok := d.reg.lookup(cmd.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}

	log := d.log.With(
		slog.Group(
			"command",
			slog.String("type", cmd.Type),
			slog.String("aggregate_id", cmd.AggregateID),
		),
	)

	if err := h(ctx, d.deps, cmd); err != nil {
		log.Debug("command failed", slog.Any("error", err))
		return err
	}
	log.Debug("command handled")
	return nil
}

// DecodePayload unmarshals the command payload into T. Malformed payloads
// are validation failures: the caller sent garbage, retrying won't help.
func DecodePayload[T any](cmd Command) (*T, error) {
	var payload T
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: bad payload for %s: %w", es.ErrValidation, cmd.Type, err)
	}
	return &payload, nil
}
