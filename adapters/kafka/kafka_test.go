package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

func TestMessageMapping_RoundTrip(t *testing.T) {
	env := es.Envelope{
		ID:            "ev-1",
		Seq:           42,
		Version:       3,
		AggregateType: "inventory_item",
		AggregateID:   "item-1",
		Type:          "inventory.StockReserved.v1",
		OccurredAt:    time.Now().UTC().Truncate(time.Millisecond),
		Data:          []byte(`{"quantity":3}`),
	}

	msg, err := messageFor("events.inventory.inventory_item", env)
	require.NoError(t, err)
	require.Equal(t, "events.inventory.inventory_item", msg.Topic)
	require.Equal(t, []byte("item-1"), msg.Key)

	got, err := envelopeFrom(msg)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestMessageMapping_Headers(t *testing.T) {
	msg, err := messageFor("events.x.y", es.Envelope{
		ID:          "ev-9",
		Type:        "x.Something.v1",
		AggregateID: "agg-1",
	})
	require.NoError(t, err)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "ev-9", headers[headerEventID])
	require.Equal(t, "x.Something.v1", headers[headerEventType])
}

func TestMessageMapping_KeyFollowsAggregate(t *testing.T) {
	// same aggregate, same key, same partition, order preserved
	a, err := messageFor("t", es.Envelope{ID: "1", AggregateID: "item-1"})
	require.NoError(t, err)
	b, err := messageFor("t", es.Envelope{ID: "2", AggregateID: "item-1"})
	require.NoError(t, err)
	require.Equal(t, a.Key, b.Key)
}

func TestEnvelopeFrom_Malformed(t *testing.T) {
	_, err := envelopeFrom(kafka.Message{Topic: "t", Value: []byte(`{`)})
	require.Error(t, err)
}
