package inventory

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

func newItemRepo(t *testing.T) (*es.TestingEnv, es.TypedRepository[*Item]) {
	t.Helper()
	te := es.StartTestEnv(t, es.WithAggregates(new(Item)))
	repo := es.NewTypedRepositoryFrom[*Item](slog.Default(), te.Repository())
	return te, repo
}

func ttl(d time.Duration) time.Time { return time.Now().Add(d) }

func TestItem_ScenarioA(t *testing.T) {
	_, repo := newItemRepo(t)

	item, err := repo.Create(t.Context(), "sku-1")
	require.NoError(t, err)
	require.NoError(t, item.InitializeStock(100, 0))
	require.NoError(t, item.Reserve("res-a", "order-a", 30, ttl(15*time.Minute)))
	require.NoError(t, repo.Save(t.Context(), item))

	require.Equal(t, 100, item.Stock.OnHand)
	require.Equal(t, 30, item.Stock.Reserved)
	require.Equal(t, 70, item.Stock.Available())

	require.NoError(t, item.Confirm("res-a"))
	require.NoError(t, item.Commit("res-a"))
	require.NoError(t, repo.Save(t.Context(), item))

	require.Equal(t, 70, item.Stock.OnHand)
	require.Equal(t, 0, item.Stock.Reserved)
	require.Equal(t, 70, item.Stock.Available())
}

func TestItem_ScenarioB_InsufficientStock(t *testing.T) {
	_, repo := newItemRepo(t)

	item, err := repo.Create(t.Context(), "sku-1")
	require.NoError(t, err)
	require.NoError(t, item.InitializeStock(100, 0))
	require.NoError(t, item.Reserve("res-a", "order-a", 30, ttl(15*time.Minute)))
	require.NoError(t, item.Confirm("res-a"))
	require.NoError(t, item.Commit("res-a"))
	require.NoError(t, repo.Save(t.Context(), item))

	versionBefore := item.GetVersion()

	err = item.Reserve("res-b", "order-b", 80, ttl(15*time.Minute))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, es.ErrValidation)

	// rejection leaves no trace
	require.Empty(t, item.Uncommitted())
	require.Equal(t, 70, item.Stock.OnHand)
	require.Equal(t, 70, item.Stock.Available())

	reloaded, err := repo.GetByID(t.Context(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, versionBefore, reloaded.GetVersion())
}

func TestItem_ScenarioC_ExpirySweepIdempotent(t *testing.T) {
	item := NewItem("sku-1")
	require.NoError(t, item.Create("sku-1"))
	require.NoError(t, item.InitializeStock(100, 0))
	require.NoError(t, item.Reserve("res-old", "order-1", 20, time.Now().Add(-time.Minute)))
	require.NoError(t, item.Reserve("res-new", "order-2", 10, ttl(time.Hour)))

	cutoff := time.Now()
	require.NoError(t, item.ReleaseExpired(cutoff))
	require.Equal(t, 10, item.Stock.Reserved)
	require.Equal(t, 90, item.Stock.Available())
	require.Equal(t, StatusReleased, item.Reservations["res-old"].Status)
	require.Equal(t, StatusActive, item.Reservations["res-new"].Status)

	// re-running the same sweep raises nothing
	before := len(item.Uncommitted())
	require.NoError(t, item.ReleaseExpired(cutoff))
	require.Len(t, item.Uncommitted(), before)
}

func TestItem_ReplayDeterminism(t *testing.T) {
	_, repo := newItemRepo(t)

	item, err := repo.Create(t.Context(), "sku-1")
	require.NoError(t, err)
	require.NoError(t, item.InitializeStock(50, 10))
	require.NoError(t, item.Receive(5, "po-1"))
	require.NoError(t, item.Reserve("res-1", "order-1", 20, ttl(time.Hour)))
	require.NoError(t, item.Confirm("res-1"))
	require.NoError(t, item.Reserve("res-2", "order-2", 10, ttl(time.Hour)))
	require.NoError(t, item.Release("res-2", "customer cancelled"))
	require.NoError(t, item.Commit("res-1"))
	require.NoError(t, item.MarkDamaged(3, "dropped pallet"))
	require.NoError(t, repo.Save(t.Context(), item))

	replayed, err := repo.GetByID(t.Context(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, item.Stock, replayed.Stock)
	require.Equal(t, item.GetVersion(), replayed.GetVersion())
	require.Equal(t, len(item.Reservations), len(replayed.Reservations))
	for id, r := range item.Reservations {
		require.Equal(t, r.Status, replayed.Reservations[id].Status)
		require.Equal(t, r.Quantity, replayed.Reservations[id].Quantity)
	}

	again, err := repo.GetByID(t.Context(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, replayed.Stock, again.Stock)
}

func TestItem_Invariants(t *testing.T) {
	item := NewItem("sku-1")
	require.NoError(t, item.Create("sku-1"))
	require.NoError(t, item.InitializeStock(40, 0))

	check := func() {
		t.Helper()
		require.GreaterOrEqual(t, item.Stock.Reserved, 0)
		require.LessOrEqual(t, item.Stock.Reserved, item.Stock.OnHand)
		require.GreaterOrEqual(t, item.Stock.Available(), 0)
		require.LessOrEqual(t, item.Stock.Reserved+item.Stock.Damaged, item.Stock.OnHand)
	}

	require.NoError(t, item.Reserve("r1", "o1", 15, ttl(time.Hour)))
	check()
	require.NoError(t, item.Reserve("r2", "o2", 25, ttl(time.Hour)))
	check()
	require.ErrorIs(t, item.Reserve("r3", "o3", 1, ttl(time.Hour)), ErrInsufficientStock)
	check()
	require.NoError(t, item.Confirm("r1"))
	require.NoError(t, item.Commit("r1"))
	check()
	require.NoError(t, item.Release("r2", "cancelled"))
	check()
	require.NoError(t, item.Receive(10, "po-1"))
	check()
	require.NoError(t, item.MarkDamaged(4, "water damage"))
	check()
	require.ErrorIs(t, item.MarkDamaged(1000, "flood"), es.ErrValidation)
	check()
}

func TestItem_DamagedStockNotCommittable(t *testing.T) {
	item := NewItem("sku-1")
	require.NoError(t, item.Create("sku-1"))
	require.NoError(t, item.InitializeStock(10, 0))
	require.NoError(t, item.MarkDamaged(8, "forklift accident"))

	// only 2 sellable units remain; a larger hold would otherwise let a
	// later commit drop on_hand below the damaged count
	err := item.Reserve("r1", "o1", 5, ttl(time.Hour))
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, item.Reserve("r1", "o1", 2, ttl(time.Hour)))
	require.NoError(t, item.Confirm("r1"))
	require.NoError(t, item.Commit("r1"))
	require.Equal(t, 8, item.Stock.OnHand)
	require.Equal(t, 8, item.Stock.Damaged)
	require.LessOrEqual(t, item.Stock.Damaged, item.Stock.OnHand)

	// the mirror order: reserved units can't be marked damaged either
	fresh := NewItem("sku-2")
	require.NoError(t, fresh.Create("sku-2"))
	require.NoError(t, fresh.InitializeStock(10, 0))
	require.NoError(t, fresh.Reserve("r1", "o1", 5, ttl(time.Hour)))
	require.ErrorIs(t, fresh.MarkDamaged(8, "flood"), es.ErrValidation)
	require.NoError(t, fresh.MarkDamaged(5, "flood"))
}

func TestItem_ReleaseIdempotent(t *testing.T) {
	item := NewItem("sku-1")
	require.NoError(t, item.Create("sku-1"))
	require.NoError(t, item.InitializeStock(10, 0))
	require.NoError(t, item.Reserve("r1", "o1", 5, ttl(time.Hour)))

	require.NoError(t, item.Release("r1", "expired"))
	reservedAfter := item.Stock.Reserved
	events := len(item.Uncommitted())

	// racing manual release after the sweep already won: no-op success
	require.NoError(t, item.Release("r1", "customer cancelled"))
	require.Equal(t, reservedAfter, item.Stock.Reserved)
	require.Len(t, item.Uncommitted(), events)

	require.ErrorIs(t, item.Release("unknown", "x"), ErrReservationNotFound)
}

func TestItem_Transitions(t *testing.T) {
	item := NewItem("sku-1")
	require.NoError(t, item.Create("sku-1"))
	require.NoError(t, item.InitializeStock(10, 0))
	require.NoError(t, item.Reserve("r1", "o1", 5, ttl(time.Hour)))

	// commit requires confirmation first
	require.ErrorIs(t, item.Commit("r1"), ErrInvalidTransition)

	require.NoError(t, item.Confirm("r1"))
	require.NoError(t, item.Confirm("r1")) // redelivery no-op
	require.NoError(t, item.Commit("r1"))
	require.NoError(t, item.Commit("r1")) // redelivery no-op

	// committed stock can't be released back
	require.ErrorIs(t, item.Release("r1", "x"), ErrInvalidTransition)

	require.ErrorIs(t, item.Reserve("r1", "o2", 1, ttl(time.Hour)), ErrDuplicateReservation)
}

func TestItem_Lifecycle(t *testing.T) {
	item := NewItem("sku-1")
	require.NoError(t, item.Create("sku-1"))

	require.ErrorIs(t, item.Reserve("r1", "o1", 1, ttl(time.Hour)), ErrItemNotInitialized)

	require.NoError(t, item.InitializeStock(10, 5))
	require.ErrorIs(t, item.InitializeStock(20, 0), ErrItemAlreadyInitialized)

	// receiving counts against in-transit
	require.NoError(t, item.Receive(5, "po-1"))
	require.Equal(t, 15, item.Stock.OnHand)
	require.Equal(t, 0, item.Stock.InTransit)

	require.NoError(t, item.Deactivate("discontinued"))
	require.ErrorIs(t, item.Deactivate("again"), ErrItemDeactivated)
	require.ErrorIs(t, item.Receive(1, "po-2"), ErrItemDeactivated)
	require.ErrorIs(t, item.Reserve("r2", "o2", 1, ttl(time.Hour)), ErrItemDeactivated)
}

func TestItem_ConcurrencyOneWinner(t *testing.T) {
	_, repo := newItemRepo(t)

	seed, err := repo.Create(t.Context(), "sku-1")
	require.NoError(t, err)
	require.NoError(t, seed.InitializeStock(100, 0))
	require.NoError(t, repo.Save(t.Context(), seed))

	// N racers share the same loaded version; exactly one append wins
	const n = 8
	loaded := make([]*Item, n)
	for i := 0; i < n; i++ {
		item, err := repo.GetByID(t.Context(), "sku-1")
		require.NoError(t, err)
		loaded[i] = item
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			item := loaded[i]
			if err := item.Reserve(resID(i), "order", 1, ttl(time.Hour)); err != nil {
				return
			}
			err := repo.Save(t.Context(), item)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, es.ErrConcurrencyConflict)
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, n-1, conflicts)
}

func resID(i int) string { return string(rune('a'+i)) + "-res" }
