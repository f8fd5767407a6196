package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/proteanhq/shopstream-sub002/domains/inventory"
)

// LevelsStore keeps the stock levels read model. Upsert is one statement
// guarded on last_version, so replaying or redelivering an already applied
// event changes nothing.
type LevelsStore struct {
	db *sql.DB
}

func NewLevelsStore(db *sql.DB) *LevelsStore {
	return &LevelsStore{db: db}
}

func (l *LevelsStore) Upsert(ctx context.Context, rec inventory.StockLevelsRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO stock_levels (item_id, on_hand, reserved, available, damaged, deactivated, last_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			on_hand      = excluded.on_hand,
			reserved     = excluded.reserved,
			available    = excluded.available,
			damaged      = excluded.damaged,
			deactivated  = excluded.deactivated,
			last_version = excluded.last_version,
			updated_at   = excluded.updated_at
		WHERE excluded.last_version > stock_levels.last_version`,
		rec.ItemID, rec.OnHand, rec.Reserved, rec.Available, rec.Damaged,
		boolToInt(rec.Deactivated), rec.LastVersion, toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert stock levels %s: %w", rec.ItemID, err)
	}
	return nil
}

func (l *LevelsStore) Get(ctx context.Context, itemID string) (inventory.StockLevelsRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT item_id, on_hand, reserved, available, damaged, deactivated, last_version, updated_at
		FROM stock_levels WHERE item_id = ?`,
		itemID,
	)
	rec, err := scanLevels(row)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.StockLevelsRecord{}, fmt.Errorf("%w: %s", inventory.ErrLevelsNotFound, itemID)
	}
	if err != nil {
		return inventory.StockLevelsRecord{}, fmt.Errorf("load stock levels %s: %w", itemID, err)
	}
	return rec, nil
}

func (l *LevelsStore) List(ctx context.Context) ([]inventory.StockLevelsRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT item_id, on_hand, reserved, available, damaged, deactivated, last_version, updated_at
		FROM stock_levels ORDER BY item_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list stock levels: %w", err)
	}
	defer rows.Close()

	out := make([]inventory.StockLevelsRecord, 0)
	for rows.Next() {
		rec, err := scanLevels(rows)
		if err != nil {
			return nil, fmt.Errorf("list stock levels: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ItemIDs feeds the reservation sweeper with every known item.
func (l *LevelsStore) ItemIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT item_id FROM stock_levels ORDER BY item_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list item ids: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type levelsScanner interface {
	Scan(dest ...any) error
}

func scanLevels(row levelsScanner) (inventory.StockLevelsRecord, error) {
	var (
		rec         inventory.StockLevelsRecord
		deactivated int
		updatedAt   int64
	)
	err := row.Scan(
		&rec.ItemID, &rec.OnHand, &rec.Reserved, &rec.Available,
		&rec.Damaged, &deactivated, &rec.LastVersion, &updatedAt,
	)
	if err != nil {
		return inventory.StockLevelsRecord{}, err
	}
	rec.Deactivated = deactivated != 0
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ inventory.LevelsStore = (*LevelsStore)(nil)
