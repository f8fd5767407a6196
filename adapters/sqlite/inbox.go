package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/remote"
)

// Inbox records processed foreign event IDs. Used when no Redis is
// configured; the dedup window is then unbounded.
type Inbox struct {
	db *sql.DB
}

func NewInbox(db *sql.DB) *Inbox {
	return &Inbox{db: db}
}

func (i *Inbox) Seen(ctx context.Context, consumer, eventID string) (bool, error) {
	var n int
	err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inbox WHERE consumer = ? AND event_id = ?`,
		consumer, eventID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inbox seen: %w", err)
	}
	return n > 0, nil
}

func (i *Inbox) Mark(ctx context.Context, consumer, eventID string) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO inbox (consumer, event_id, processed_at) VALUES (?, ?, ?)
		ON CONFLICT (consumer, event_id) DO NOTHING`,
		consumer, eventID, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inbox mark: %w", err)
	}
	return nil
}

var _ remote.Inbox = (*Inbox)(nil)
