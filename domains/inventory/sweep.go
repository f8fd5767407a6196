package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

// ItemLister enumerates the items a sweep run visits. The stock_levels
// projection store implements it.
type ItemLister interface {
	ItemIDs(ctx context.Context) ([]string, error)
}

// Sweeper releases expired reservations. Each item is swept in its own
// transaction: one failing item is logged and skipped, the rest of the run
// continues. Re-running a sweep with the same cutoff raises nothing, so a
// crashed run can simply be restarted.
type Sweeper struct {
	log    *slog.Logger
	items  es.TypedRepository[*Item]
	lister ItemLister
}

func NewSweeper(log *slog.Logger, items es.TypedRepository[*Item], lister ItemLister) *Sweeper {
	return &Sweeper{
		log:    log.With(slog.String("component", "reservation_sweeper")),
		items:  items,
		lister: lister,
	}
}

// Sweep releases every Active reservation with expires_at <= cutoff across
// all known items. It returns how many items failed to sweep.
func (s *Sweeper) Sweep(ctx context.Context, cutoff time.Time) (failed int, err error) {
	ids, err := s.lister.ItemIDs(ctx)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		err := s.items.WithTransaction(ctx, id, func(i *Item) error {
			return i.ReleaseExpired(cutoff)
		})
		if err != nil && !errors.Is(err, es.ErrAggregateNotFound) {
			failed++
			s.log.Error(
				"failed to sweep item",
				slog.String("item_id", id),
				slog.Any("error", err),
			)
		}
	}

	s.log.Debug(
		"sweep done",
		slog.Int("items", len(ids)),
		slog.Int("failed", failed),
		slog.Time("cutoff", cutoff),
	)
	return failed, nil
}

// Run sweeps on a fixed interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now()); err != nil {
				s.log.Error("sweep run failed", slog.Any("error", err))
			}
		}
	}
}
