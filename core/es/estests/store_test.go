package estests

import (
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

func envOf(t *testing.T, version es.Version, evType string, data string) es.Envelope {
	t.Helper()
	return es.Envelope{
		ID:            gonanoid.Must(),
		Type:          evType,
		AggregateID:   "cart-1",
		AggregateType: "cart",
		Version:       version,
		OccurredAt:    time.Now(),
		Data:          []byte(data),
	}
}

func TestInMemoryStore_AppendLoad(t *testing.T) {
	s := es.NewInMemoryStore()

	res, err := s.Append(t.Context(), "cart", "cart-1", 0, []es.Envelope{
		envOf(t, 1, "domain.ItemAdded", `{"sku":"a","qty":1}`),
		envOf(t, 2, "domain.ItemAdded", `{"sku":"b","qty":2}`),
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.LastSeq)

	loaded, err := s.Load(t.Context(), "cart", "cart-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.EqualValues(t, 1, loaded[0].Version)
	require.EqualValues(t, 2, loaded[1].Version)
	require.EqualValues(t, 1, loaded[0].Seq)
	require.EqualValues(t, 2, loaded[1].Seq)
}

func TestInMemoryStore_NotFound(t *testing.T) {
	s := es.NewInMemoryStore()
	_, err := s.Load(t.Context(), "cart", "nope")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func TestInMemoryStore_ConcurrencyConflict(t *testing.T) {
	s := es.NewInMemoryStore()

	_, err := s.Append(t.Context(), "cart", "cart-1", 0, []es.Envelope{
		envOf(t, 1, "domain.ItemAdded", `{}`),
	})
	require.NoError(t, err)

	// stale expected version: the stream is already at 1
	_, err = s.Append(t.Context(), "cart", "cart-1", 0, []es.Envelope{
		envOf(t, 1, "domain.ItemAdded", `{}`),
	})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	// the losing append must not leave anything behind
	loaded, err := s.Load(t.Context(), "cart", "cart-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestInMemoryStore_LoadFromVersion(t *testing.T) {
	s := es.NewInMemoryStore()

	_, err := s.Append(t.Context(), "cart", "cart-1", 0, []es.Envelope{
		envOf(t, 1, "domain.ItemAdded", `{}`),
		envOf(t, 2, "domain.ItemAdded", `{}`),
		envOf(t, 3, "domain.ItemAdded", `{}`),
	})
	require.NoError(t, err)

	loaded, err := s.Load(t.Context(), "cart", "cart-1", es.WithStartAtVersion(3))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.EqualValues(t, 3, loaded[0].Version)
}

func TestInMemoryStore_GlobalSequence(t *testing.T) {
	s := es.NewInMemoryStore()

	_, err := s.Append(t.Context(), "cart", "a", 0, []es.Envelope{
		{ID: gonanoid.Must(), Type: "t", AggregateID: "a", AggregateType: "cart", Version: 1, OccurredAt: time.Now(), Data: []byte(`{}`)},
	})
	require.NoError(t, err)

	res, err := s.Append(t.Context(), "cart", "b", 0, []es.Envelope{
		{ID: gonanoid.Must(), Type: "t", AggregateID: "b", AggregateType: "cart", Version: 1, OccurredAt: time.Now(), Data: []byte(`{}`)},
	})
	require.NoError(t, err)

	// global sequence spans streams
	require.EqualValues(t, 2, res.LastSeq)
}
