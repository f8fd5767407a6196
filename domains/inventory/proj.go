package inventory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

var ErrLevelsNotFound = errors.New("stock levels record not found")

// StockLevelsRecord is the denormalized per-item read model. It is never
// authoritative: losing it only costs a replay.
type StockLevelsRecord struct {
	ItemID      string    `json:"item_id"`
	OnHand      int       `json:"on_hand"`
	Reserved    int       `json:"reserved"`
	Available   int       `json:"available"`
	Damaged     int       `json:"damaged"`
	Deactivated bool      `json:"deactivated"`
	LastVersion uint64    `json:"last_version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LevelsStore persists the read model. Upsert must be atomic and apply the
// record only when its LastVersion is greater than the stored one; the
// guard is what makes duplicate delivery a no-op without any
// read-then-branch race.
type LevelsStore interface {
	Upsert(ctx context.Context, rec StockLevelsRecord) error
	Get(ctx context.Context, itemID string) (StockLevelsRecord, error)
	List(ctx context.Context) ([]StockLevelsRecord, error)
}

// StockLevelsProjection folds inventory_item events into StockLevelsRecords.
type StockLevelsProjection struct {
	log   *slog.Logger
	store LevelsStore
}

func NewStockLevelsProjection(log *slog.Logger, store LevelsStore) *StockLevelsProjection {
	return &StockLevelsProjection{
		log:   log.With(slog.String("projection", "stock_levels")),
		store: store,
	}
}

func (p *StockLevelsProjection) Name() string { return "stock_levels" }

func (p *StockLevelsProjection) Handle(m es.MsgCtx) error {
	if m.AggregateType() != "inventory_item" {
		return nil
	}

	ctx := m.Context()
	rec, err := p.store.Get(ctx, m.AggregateID())
	if err != nil {
		if !errors.Is(err, ErrLevelsNotFound) {
			return err
		}
		rec = StockLevelsRecord{ItemID: m.AggregateID()}
	}
	if m.Version().Uint64() <= rec.LastVersion {
		m.Log().Debug("stale event, skipping", slog.Uint64("last_version", rec.LastVersion))
		return nil
	}

	switch e := m.Event().(type) {
	case *StockInitialized:
		rec.OnHand = e.OnHand
	case *StockReceived:
		rec.OnHand += e.Quantity
	case *StockReserved:
		rec.Reserved += e.Quantity
	case *StockCommitted:
		rec.OnHand -= e.Quantity
		rec.Reserved -= e.Quantity
	case *ReservationReleased:
		rec.Reserved -= e.Quantity
	case *StockDamaged:
		rec.Damaged += e.Quantity
	case *ItemDeactivated:
		rec.Deactivated = true
	case *ReservationConfirmed, *es.AggregateCreated:
		// no level change, but the version still advances
	default:
		return nil
	}

	rec.Available = rec.OnHand - rec.Reserved
	rec.LastVersion = m.Version().Uint64()
	rec.UpdatedAt = m.OccurredAt()

	return p.store.Upsert(ctx, rec)
}

var _ es.Projection = (*StockLevelsProjection)(nil)

// === In-memory store ===

type MemoryLevelsStore struct {
	mu   sync.RWMutex
	recs map[string]StockLevelsRecord
}

func NewMemoryLevelsStore() *MemoryLevelsStore {
	return &MemoryLevelsStore{recs: map[string]StockLevelsRecord{}}
}

func (s *MemoryLevelsStore) Upsert(_ context.Context, rec StockLevelsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recs[rec.ItemID]
	if ok && rec.LastVersion <= cur.LastVersion {
		return nil
	}
	s.recs[rec.ItemID] = rec
	return nil
}

func (s *MemoryLevelsStore) Get(_ context.Context, itemID string) (StockLevelsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[itemID]
	if !ok {
		return StockLevelsRecord{}, ErrLevelsNotFound
	}
	return rec, nil
}

func (s *MemoryLevelsStore) List(_ context.Context) ([]StockLevelsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StockLevelsRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}

// ItemIDs lists every known item, which is what the expiry sweeper needs.
func (s *MemoryLevelsStore) ItemIDs(ctx context.Context) ([]string, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ItemID)
	}
	return ids, nil
}

var _ LevelsStore = (*MemoryLevelsStore)(nil)
