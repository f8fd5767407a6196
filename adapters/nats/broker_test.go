package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

func testEnvelope(seq uint64, version es.Version) es.Envelope {
	return es.Envelope{
		ID:            gonanoid.Must(),
		Seq:           seq,
		Version:       version,
		AggregateType: "inventory_item",
		AggregateID:   "item-1",
		Type:          "inventory.StockReserved.v1",
		OccurredAt:    time.Now(),
		Data:          []byte(`{"reservation_id":"r-1","order_id":"o-1","quantity":3}`),
	}
}

func TestBrokerSource_RoundTrip(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	broker, err := NewBroker(t.Context(), BrokerConfig{Connect: connect, StreamName: "TEST_EVENTS"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })

	source, err := NewSource(t.Context(), SourceConfig{
		Connect:        connect,
		StreamName:     "TEST_EVENTS",
		Durable:        "roundtrip",
		FilterSubjects: []string{"events.inventory.>"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = source.Close() })

	env := testEnvelope(1, 1)
	require.NoError(t, broker.Publish(t.Context(), "events.inventory.inventory_item", env))

	var (
		mu  sync.Mutex
		got []es.Envelope
	)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = source.Deliver(ctx, func(_ context.Context, env es.Envelope) error {
			mu.Lock()
			got = append(got, env)
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 10*time.Second, 50*time.Millisecond)

	mu.Lock()
	require.Equal(t, env.ID, got[0].ID)
	require.Equal(t, "inventory.StockReserved.v1", got[0].Type)
	mu.Unlock()

	cancel()
	<-done
}

func TestBroker_DuplicatePublishIsDeduplicated(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	broker, err := NewBroker(t.Context(), BrokerConfig{Connect: connect, StreamName: "TEST_DEDUP"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })

	env := testEnvelope(1, 1)
	subject := "events.inventory.inventory_item"

	// a publisher retry after a lost ack sends the same envelope twice
	require.NoError(t, broker.Publish(t.Context(), subject, env))
	require.NoError(t, broker.Publish(t.Context(), subject, env))

	source, err := NewSource(t.Context(), SourceConfig{
		Connect:    connect,
		StreamName: "TEST_DEDUP",
		Durable:    "dedup",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = source.Close() })

	var (
		mu  sync.Mutex
		got int
	)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = source.Deliver(ctx, func(context.Context, es.Envelope) error {
			mu.Lock()
			got++
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got >= 1
	}, 10*time.Second, 50*time.Millisecond)

	// give a would-be duplicate time to arrive
	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 1, got)
	mu.Unlock()

	cancel()
	<-done
}
