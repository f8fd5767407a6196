package inventory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

type staticLister []string

func (l staticLister) ItemIDs(context.Context) ([]string, error) { return l, nil }

func TestSweeper(t *testing.T) {
	_, repo := newItemRepo(t)

	for _, id := range []string{"sku-1", "sku-2"} {
		item, err := repo.Create(t.Context(), id)
		require.NoError(t, err)
		require.NoError(t, item.InitializeStock(100, 0))
		require.NoError(t, item.Reserve("res-old", "order-1", 20, time.Now().Add(-time.Hour)))
		require.NoError(t, item.Reserve("res-new", "order-2", 10, ttl(time.Hour)))
		require.NoError(t, repo.Save(t.Context(), item))
	}

	sweeper := NewSweeper(slog.Default(), repo, staticLister{"sku-1", "sku-2"})

	failed, err := sweeper.Sweep(t.Context(), time.Now())
	require.NoError(t, err)
	require.Zero(t, failed)

	for _, id := range []string{"sku-1", "sku-2"} {
		item, err := repo.GetByID(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, 10, item.Stock.Reserved)
		require.Equal(t, 90, item.Stock.Available())
		require.Equal(t, StatusReleased, item.Reservations["res-old"].Status)
	}

	// immediate re-run is a no-op
	versions := map[string]es.Version{}
	for _, id := range []string{"sku-1", "sku-2"} {
		item, err := repo.GetByID(t.Context(), id)
		require.NoError(t, err)
		versions[id] = item.GetVersion()
	}

	failed, err = sweeper.Sweep(t.Context(), time.Now())
	require.NoError(t, err)
	require.Zero(t, failed)

	for id, v := range versions {
		item, err := repo.GetByID(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, v, item.GetVersion())
	}
}

func TestSweeper_PerItemIsolation(t *testing.T) {
	_, repo := newItemRepo(t)

	item, err := repo.Create(t.Context(), "sku-good")
	require.NoError(t, err)
	require.NoError(t, item.InitializeStock(10, 0))
	require.NoError(t, item.Reserve("res-old", "order-1", 5, time.Now().Add(-time.Hour)))
	require.NoError(t, repo.Save(t.Context(), item))

	// sku-missing has no stream; the sweeper must still reach sku-good
	sweeper := NewSweeper(slog.Default(), repo, staticLister{"sku-missing", "sku-good"})
	failed, err := sweeper.Sweep(t.Context(), time.Now())
	require.NoError(t, err)
	require.Zero(t, failed)

	swept, err := repo.GetByID(t.Context(), "sku-good")
	require.NoError(t, err)
	require.Equal(t, 0, swept.Stock.Reserved)
}

func TestSweeper_UsesProjectionLister(t *testing.T) {
	store := NewMemoryLevelsStore()
	te := es.StartTestEnv(
		t,
		es.WithAggregates(new(Item)),
		es.WithProjection(NewStockLevelsProjection(slog.Default(), store)),
	)
	repo := es.NewTypedRepositoryFrom[*Item](slog.Default(), te.Repository())

	item, err := repo.Create(t.Context(), "sku-1")
	require.NoError(t, err)
	require.NoError(t, item.InitializeStock(10, 0))
	require.NoError(t, item.Reserve("res-old", "order-1", 5, time.Now().Add(-time.Hour)))
	require.NoError(t, repo.Save(t.Context(), item))

	require.Eventually(t, func() bool {
		ids, err := store.ItemIDs(t.Context())
		return err == nil && len(ids) == 1
	}, time.Second, 10*time.Millisecond)

	sweeper := NewSweeper(slog.Default(), repo, store)
	failed, err := sweeper.Sweep(t.Context(), time.Now())
	require.NoError(t, err)
	require.Zero(t, failed)

	swept, err := repo.GetByID(t.Context(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, 0, swept.Stock.Reserved)
}
