package sqlite_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/adapters/sqlite"
	"github.com/proteanhq/shopstream-sub002/domains/inventory"
)

func TestLevelsStore(t *testing.T) {
	s := openStore(t)
	levels := sqlite.NewLevelsStore(s.DB())

	_, err := levels.Get(t.Context(), "item-1")
	require.ErrorIs(t, err, inventory.ErrLevelsNotFound)

	rec := inventory.StockLevelsRecord{
		ItemID:      "item-1",
		OnHand:      100,
		Reserved:    30,
		Available:   70,
		LastVersion: 2,
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, levels.Upsert(t.Context(), rec))

	got, err := levels.Get(t.Context(), "item-1")
	require.NoError(t, err)
	require.Equal(t, 100, got.OnHand)
	require.Equal(t, 30, got.Reserved)
	require.Equal(t, 70, got.Available)
	require.EqualValues(t, 2, got.LastVersion)
}

func TestLevelsStore_UpsertGuard(t *testing.T) {
	s := openStore(t)
	levels := sqlite.NewLevelsStore(s.DB())

	rec := inventory.StockLevelsRecord{
		ItemID: "item-1", OnHand: 70, Available: 70, LastVersion: 5, UpdatedAt: time.Now(),
	}
	require.NoError(t, levels.Upsert(t.Context(), rec))

	// a redelivered older version must be a no-op
	stale := inventory.StockLevelsRecord{
		ItemID: "item-1", OnHand: 100, Available: 100, LastVersion: 3, UpdatedAt: time.Now(),
	}
	require.NoError(t, levels.Upsert(t.Context(), stale))

	got, err := levels.Get(t.Context(), "item-1")
	require.NoError(t, err)
	require.Equal(t, 70, got.OnHand)
	require.EqualValues(t, 5, got.LastVersion)
}

func TestLevelsStore_ListAndItemIDs(t *testing.T) {
	s := openStore(t)
	levels := sqlite.NewLevelsStore(s.DB())

	for _, id := range []string{"item-b", "item-a"} {
		require.NoError(t, levels.Upsert(t.Context(), inventory.StockLevelsRecord{
			ItemID: id, LastVersion: 1, UpdatedAt: time.Now(),
		}))
	}

	recs, err := levels.List(t.Context())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "item-a", recs[0].ItemID)

	ids, err := levels.ItemIDs(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"item-a", "item-b"}, ids)
}

func TestInbox(t *testing.T) {
	s := openStore(t)
	inbox := sqlite.NewInbox(s.DB())

	seen, err := inbox.Seen(t.Context(), "remote/fulfillment", "ev-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, inbox.Mark(t.Context(), "remote/fulfillment", "ev-1"))
	require.NoError(t, inbox.Mark(t.Context(), "remote/fulfillment", "ev-1"))

	seen, err = inbox.Seen(t.Context(), "remote/fulfillment", "ev-1")
	require.NoError(t, err)
	require.True(t, seen)

	// other consumers track their own progress
	seen, err = inbox.Seen(t.Context(), "remote/other", "ev-1")
	require.NoError(t, err)
	require.False(t, seen)
}
