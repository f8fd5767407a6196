package inventory

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/remote"
)

func handedOffEnv(t *testing.T, itemID, reservationID string) es.Envelope {
	t.Helper()
	data, err := json.Marshal(ShipmentHandedOff{
		OrderID:       "order-1",
		ItemID:        itemID,
		ReservationID: reservationID,
	})
	require.NoError(t, err)
	return es.Envelope{
		ID:            gonanoid.Must(),
		Type:          ShipmentHandedOffType,
		AggregateID:   "shipment-1",
		AggregateType: "shipment",
		Version:       1,
		OccurredAt:    time.Now(),
		Data:          data,
	}
}

func newRemoteConsumer(t *testing.T, repo es.TypedRepository[*Item]) *remote.Consumer {
	t.Helper()
	reg := remote.NewRegistry()
	RegisterRemote(reg, repo)
	return remote.NewConsumer(slog.Default(), ServiceName, reg, remote.NewMemoryInbox(), nil)
}

func TestRemote_ShipmentHandedOffCommits(t *testing.T) {
	_, repo := newItemRepo(t)

	item, err := repo.Create(t.Context(), "sku-1")
	require.NoError(t, err)
	require.NoError(t, item.InitializeStock(100, 0))
	require.NoError(t, item.Reserve("res-a", "order-1", 30, ttl(time.Hour)))
	require.NoError(t, item.Confirm("res-a"))
	require.NoError(t, repo.Save(t.Context(), item))

	c := newRemoteConsumer(t, repo)
	env := handedOffEnv(t, "sku-1", "res-a")
	require.NoError(t, c.Handle(t.Context(), env))

	committed, err := repo.GetByID(t.Context(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, 70, committed.Stock.OnHand)
	require.Equal(t, 0, committed.Stock.Reserved)

	// redelivery: same envelope ID is dropped by the inbox
	require.NoError(t, c.Handle(t.Context(), env))

	// a second hand-off event for the same reservation is a domain no-op
	require.NoError(t, c.Handle(t.Context(), handedOffEnv(t, "sku-1", "res-a")))
	again, err := repo.GetByID(t.Context(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, committed.GetVersion(), again.GetVersion())
}

func TestRemote_MissingReservationSkips(t *testing.T) {
	_, repo := newItemRepo(t)

	item, err := repo.Create(t.Context(), "sku-1")
	require.NoError(t, err)
	require.NoError(t, item.InitializeStock(10, 0))
	require.NoError(t, repo.Save(t.Context(), item))

	c := newRemoteConsumer(t, repo)
	require.NoError(t, c.Handle(t.Context(), handedOffEnv(t, "sku-1", "res-unknown")))
}

func TestRemote_MissingItemSkips(t *testing.T) {
	_, repo := newItemRepo(t)
	c := newRemoteConsumer(t, repo)
	require.NoError(t, c.Handle(t.Context(), handedOffEnv(t, "sku-nope", "res-a")))
}

func TestRemote_UnconfirmedReservationFails(t *testing.T) {
	_, repo := newItemRepo(t)

	item, err := repo.Create(t.Context(), "sku-1")
	require.NoError(t, err)
	require.NoError(t, item.InitializeStock(10, 0))
	require.NoError(t, item.Reserve("res-a", "order-1", 5, ttl(time.Hour)))
	require.NoError(t, repo.Save(t.Context(), item))

	// hand-off before payment confirmation should surface, not be skipped
	c := newRemoteConsumer(t, repo)
	require.ErrorIs(t, c.Handle(t.Context(), handedOffEnv(t, "sku-1", "res-a")), ErrInvalidTransition)
}
