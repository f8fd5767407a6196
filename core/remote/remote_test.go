package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

type shipmentHandedOff struct {
	OrderID string `json:"order_id"`
}

func foreignEnv(evType string, data string) es.Envelope {
	return es.Envelope{
		ID:            gonanoid.Must(),
		Type:          evType,
		AggregateID:   "order-1",
		AggregateType: "shipment",
		Version:       1,
		OccurredAt:    time.Now(),
		Data:          json.RawMessage(data),
	}
}

func TestConsumer_Handle(t *testing.T) {
	var handled []string
	reg := NewRegistry()
	reg.MustRegister(
		"fulfillment.ShipmentHandedOff.v1",
		DecodeJSON[shipmentHandedOff](),
		func(ctx context.Context, env es.Envelope, event any) error {
			ev := event.(*shipmentHandedOff)
			handled = append(handled, ev.OrderID)
			return nil
		},
	)

	c := NewConsumer(slog.Default(), "inventory", reg, NewMemoryInbox(), nil)

	env := foreignEnv("fulfillment.ShipmentHandedOff.v1", `{"order_id":"order-1"}`)
	require.NoError(t, c.Handle(t.Context(), env))
	require.Equal(t, []string{"order-1"}, handled)

	// redelivery of the same event ID is dropped
	require.NoError(t, c.Handle(t.Context(), env))
	require.Len(t, handled, 1)
}

func TestConsumer_UnregisteredTypeDropped(t *testing.T) {
	c := NewConsumer(slog.Default(), "inventory", NewRegistry(), NewMemoryInbox(), nil)
	err := c.Handle(t.Context(), foreignEnv("fulfillment.LabelPrinted.v1", `{}`))
	require.NoError(t, err)
}

func TestConsumer_SkipOnMissingState(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		"fulfillment.ShipmentHandedOff.v1",
		DecodeJSON[shipmentHandedOff](),
		func(ctx context.Context, env es.Envelope, event any) error {
			return es.ErrAggregateNotFound
		},
	)

	inbox := NewMemoryInbox()
	c := NewConsumer(slog.Default(), "inventory", reg, inbox, nil)

	env := foreignEnv("fulfillment.ShipmentHandedOff.v1", `{"order_id":"x"}`)
	require.NoError(t, c.Handle(t.Context(), env))

	// skipped events are still marked so they are not retried forever
	seen, err := inbox.Seen(t.Context(), "inventory", env.ID)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestConsumer_HandlerErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	reg := NewRegistry()
	reg.MustRegister(
		"fulfillment.ShipmentHandedOff.v1",
		DecodeJSON[shipmentHandedOff](),
		func(ctx context.Context, env es.Envelope, event any) error {
			return boom
		},
	)

	inbox := NewMemoryInbox()
	c := NewConsumer(slog.Default(), "inventory", reg, inbox, nil)

	env := foreignEnv("fulfillment.ShipmentHandedOff.v1", `{"order_id":"x"}`)
	require.ErrorIs(t, c.Handle(t.Context(), env), boom)

	// not marked: the source must redeliver
	seen, err := inbox.Seen(t.Context(), "inventory", env.ID)
	require.NoError(t, err)
	require.False(t, seen)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	dec := DecodeJSON[shipmentHandedOff]()
	h := func(ctx context.Context, env es.Envelope, event any) error { return nil }
	require.NoError(t, reg.Register("a.B.v1", dec, h))
	require.ErrorIs(t, reg.Register("a.B.v1", dec, h), ErrDuplicateRegistration)
}

func TestConsumer_MalformedPayload(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		"fulfillment.ShipmentHandedOff.v1",
		DecodeJSON[shipmentHandedOff](),
		func(ctx context.Context, env es.Envelope, event any) error { return nil },
	)

	c := NewConsumer(slog.Default(), "inventory", reg, NewMemoryInbox(), nil)
	err := c.Handle(t.Context(), foreignEnv("fulfillment.ShipmentHandedOff.v1", `{"order_id":`))
	require.Error(t, err)
}
