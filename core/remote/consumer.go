package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

// Source delivers foreign envelopes, e.g. from a NATS subscription or a
// Kafka consumer group. Deliver blocks until ctx is done and calls fn for
// every received envelope; returning an error from fn leaves the message
// unacknowledged for redelivery.
type Source interface {
	Deliver(ctx context.Context, fn func(ctx context.Context, env es.Envelope) error) error
}

// Consumer glues a Source to a Registry: decode, dedupe, handle, mark.
// Unregistered wire types and ErrSkip results are logged and dropped so a
// single odd event never wedges the stream.
type Consumer struct {
	log      *slog.Logger
	name     string
	registry *Registry
	inbox    Inbox
	source   Source
}

func NewConsumer(log *slog.Logger, name string, registry *Registry, inbox Inbox, source Source) *Consumer {
	return &Consumer{
		log:      log.With(slog.String("remote_consumer", name)),
		name:     name,
		registry: registry,
		inbox:    inbox,
		source:   source,
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("starting remote consumer")
	return c.source.Deliver(ctx, c.Handle)
}

// Handle processes one foreign envelope. Exposed so transports that manage
// their own receive loop can call it directly.
func (c *Consumer) Handle(ctx context.Context, env es.Envelope) error {
	log := c.log.With(
		slog.Group(
			"event",
			slog.String("id", env.ID),
			slog.String("type", env.Type),
			slog.String("aggregate_id", env.AggregateID),
		),
	)

	reg, ok := c.registry.lookup(env.Type)
	if !ok {
		log.Debug("unregistered wire type, dropping")
		return nil
	}

	seen, err := c.inbox.Seen(ctx, c.name, env.ID)
	if err != nil {
		return fmt.Errorf("inbox lookup failed: %w", err)
	}
	if seen {
		log.Debug("duplicate, dropping")
		return nil
	}

	event, err := reg.decode(env.Data)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", env.Type, err)
	}

	if err := reg.handle(ctx, env, event); err != nil {
		if errors.Is(err, ErrSkip) || errors.Is(err, es.ErrAggregateNotFound) {
			log.Warn("skipping event", slog.Any("reason", err))
		} else {
			return fmt.Errorf("failed to handle %s: %w", env.Type, err)
		}
	}

	if err := c.inbox.Mark(ctx, c.name, env.ID); err != nil {
		return fmt.Errorf("inbox mark failed: %w", err)
	}
	return nil
}
