package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

type recordingBroker struct {
	mu        sync.Mutex
	published []es.Envelope
	failOn    map[string]error
}

func (b *recordingBroker) Publish(_ context.Context, subject string, env es.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failOn[env.ID]; ok {
		return err
	}
	b.published = append(b.published, env)
	return nil
}

func (b *recordingBroker) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, e := range b.published {
		out = append(out, e.ID)
	}
	return out
}

func appendEvents(t *testing.T, store es.EventStore, aggID string, expect es.Version, events ...any) {
	t.Helper()
	_, err := es.AppendEvents(t.Context(), store, "cart", aggID, expect, events...)
	require.NoError(t, err)
}

type itemAdded struct {
	SKU string `json:"sku"`
}

func TestMemoryOutbox_StagesOnAppend(t *testing.T) {
	ob := NewMemoryOutbox(es.NewInMemoryStore(), CategorySubject("shop"))

	appendEvents(t, ob, "cart-1", 0, itemAdded{SKU: "a"}, itemAdded{SKU: "b"})

	entries, err := ob.Unpublished(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "events.shop.cart", entries[0].Subject)
	require.EqualValues(t, 1, entries[0].Seq)
	require.EqualValues(t, 2, entries[1].Seq)
}

func TestMemoryOutbox_FailedAppendStagesNothing(t *testing.T) {
	ob := NewMemoryOutbox(es.NewInMemoryStore(), CategorySubject("shop"))

	appendEvents(t, ob, "cart-1", 0, itemAdded{SKU: "a"})

	// stale expected version fails without staging
	_, err := es.AppendEvents(t.Context(), ob, "cart", "cart-1", 0, itemAdded{SKU: "b"})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	entries, err := ob.Unpublished(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPublisher_Drain(t *testing.T) {
	ob := NewMemoryOutbox(es.NewInMemoryStore(), CategorySubject("shop"))
	broker := &recordingBroker{}
	pub := NewPublisher(slog.Default(), ob, broker)

	appendEvents(t, ob, "cart-1", 0, itemAdded{SKU: "a"}, itemAdded{SKU: "b"})

	n, err := pub.Drain(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, broker.ids(), 2)

	// second pass has nothing left
	n, err = pub.Drain(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPublisher_CommitOrder(t *testing.T) {
	inner := es.NewInMemoryStore()
	ob := NewMemoryOutbox(inner, CategorySubject("shop"))
	broker := &recordingBroker{}
	pub := NewPublisher(slog.Default(), ob, broker)

	appendEvents(t, ob, "cart-1", 0, itemAdded{SKU: "a"})
	appendEvents(t, ob, "cart-2", 0, itemAdded{SKU: "b"})
	appendEvents(t, ob, "cart-1", 1, itemAdded{SKU: "c"})

	_, err := pub.Drain(t.Context())
	require.NoError(t, err)

	require.Len(t, broker.published, 3)
	for i := 1; i < len(broker.published); i++ {
		require.Less(t, broker.published[i-1].Seq, broker.published[i].Seq)
	}
}

func TestPublisher_FailureAbortsPass(t *testing.T) {
	ob := NewMemoryOutbox(es.NewInMemoryStore(), CategorySubject("shop"))

	appendEvents(t, ob, "cart-1", 0, itemAdded{SKU: "a"}, itemAdded{SKU: "b"}, itemAdded{SKU: "c"})

	entries, err := ob.Unpublished(t.Context(), 0)
	require.NoError(t, err)

	broker := &recordingBroker{failOn: map[string]error{
		entries[1].ID: errors.New("broker down"),
	}}
	pub := NewPublisher(slog.Default(), ob, broker)

	n, err := pub.Drain(t.Context())
	require.ErrorIs(t, err, ErrDeliveryFailure)
	require.Equal(t, 1, n)

	// the acked prefix is gone, the rest stays in order
	left, err := ob.Unpublished(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, left, 2)
	require.Equal(t, entries[1].ID, left[0].ID)

	// broker recovers: the next pass ships the remainder in order
	broker.mu.Lock()
	broker.failOn = nil
	broker.mu.Unlock()

	n, err = pub.Drain(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{entries[0].ID, entries[1].ID, entries[2].ID}, broker.ids())
}

func TestPublisher_Background(t *testing.T) {
	ob := NewMemoryOutbox(es.NewInMemoryStore(), TypeSubject())
	broker := &recordingBroker{}
	pub := NewPublisher(slog.Default(), ob, broker, WithInterval(10*time.Millisecond))

	pub.Start(t.Context())
	defer pub.Stop()

	appendEvents(t, ob, "cart-1", 0, itemAdded{SKU: "a"})

	require.Eventually(t, func() bool {
		return len(broker.ids()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_StopWithoutStart(t *testing.T) {
	ob := NewMemoryOutbox(es.NewInMemoryStore(), TypeSubject())
	pub := NewPublisher(slog.Default(), ob, &recordingBroker{})

	// a teardown path that never reached Start must not hang
	done := make(chan struct{})
	go func() {
		pub.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a running publisher")
	}
}
