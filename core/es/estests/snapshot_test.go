package estests

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/es/estests/domain"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	var (
		te   = es.StartTestEnv(t, es.WithAggregates(new(domain.Cart)))
		repo = es.NewTypedRepositoryFrom[*domain.Cart](slog.Default(), te.Repository())
	)

	c, err := repo.Create(t.Context(), "cart-1")
	require.NoError(t, err)
	require.NoError(t, c.Add("sku-a", 5))
	require.NoError(t, repo.Save(t.Context(), c, es.WithSnapshot(true)))

	ss, err := te.Snapshotter().LoadSnapshot(t.Context(), "cart", "cart-1")
	require.NoError(t, err)
	require.Equal(t, "cart-1", ss.ObjID)
	require.EqualValues(t, c.GetVersion(), ss.ObjVersion)

	// loading through the snapshot must give the same state as full replay
	fromSnapshot, err := repo.GetByID(t.Context(), "cart-1", es.WithSnapshot(true))
	require.NoError(t, err)
	require.Equal(t, 5, fromSnapshot.Qty("sku-a"))
	require.Equal(t, c.GetVersion(), fromSnapshot.GetVersion())

	fromReplay, err := repo.GetByID(t.Context(), "cart-1")
	require.NoError(t, err)
	require.Equal(t, fromReplay.Items, fromSnapshot.Items)
}

func TestSnapshot_TailReplayAfterSnapshot(t *testing.T) {
	var (
		te   = es.StartTestEnv(t, es.WithAggregates(new(domain.Cart)))
		repo = es.NewTypedRepositoryFrom[*domain.Cart](slog.Default(), te.Repository())
	)

	c, err := repo.Create(t.Context(), "cart-1")
	require.NoError(t, err)
	require.NoError(t, c.Add("sku-a", 1))
	require.NoError(t, repo.Save(t.Context(), c, es.WithSnapshot(true)))

	// events after the snapshot
	require.NoError(t, c.Add("sku-a", 2))
	require.NoError(t, repo.Save(t.Context(), c))

	loaded, err := repo.GetByID(t.Context(), "cart-1", es.WithSnapshot(true))
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Qty("sku-a"))
	require.Equal(t, c.GetVersion(), loaded.GetVersion())
}

func TestSnapshot_Unconfigured(t *testing.T) {
	var (
		registry = es.NewRegistry()
		repo     = es.NewTypedRepository[*domain.Cart](slog.Default(), es.NewInMemoryStore(), registry)
	)
	new(domain.Cart).Register(registry)
	es.RegisterEventFor[es.AggregateCreated](registry)

	c, err := repo.Create(t.Context(), "cart-1")
	require.NoError(t, err)
	require.NoError(t, c.Add("sku-a", 1))
	require.ErrorIs(t, repo.Save(t.Context(), c, es.WithSnapshot(true)), es.ErrSnapshotterUnconfigured)
}
