package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/outbox"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// === es.EventStore ===

func (s *Store) Load(
	ctx context.Context,
	aggType string,
	aggID string,
	opts ...es.StoreLoadOption,
) ([]es.Envelope, error) {
	loadOpts := es.NewStoreLoadOptions(opts...)

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, aggregate_type, aggregate_id, version, type, occurred_at, data
		FROM events
		WHERE aggregate_type = ? AND aggregate_id = ? AND version >= ? AND seq >= ?
		ORDER BY version ASC`,
		aggType, aggID, loadOpts.StartVersion.Uint64(), loadOpts.StartSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("load stream: %w", err)
	}
	defer rows.Close()

	out := make([]es.Envelope, 0)
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load stream: %w", err)
	}

	if len(out) == 0 {
		// distinguish "no stream" from "nothing past the start offsets"
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
			aggType, aggID,
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("load stream: %w", err)
		}
		if n == 0 {
			return nil, es.ErrAggregateNotFound
		}
	}
	return out, nil
}

func (s *Store) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (*es.StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var curVersion uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggType, aggID,
	).Scan(&curVersion)
	if err != nil {
		return nil, fmt.Errorf("read stream version: %w", err)
	}
	if curVersion != expectedVersion.Uint64() {
		return nil, fmt.Errorf(
			"%w: stream %s-%s at version %d, expected %d",
			es.ErrConcurrencyConflict, aggType, aggID, curVersion, expectedVersion,
		)
	}

	var (
		lastSeq  uint64
		appended = make([]es.Envelope, 0, len(events))
		wantVer  = expectedVersion
		now      = time.Now()
	)
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		wantVer++
		if e.Version != wantVer {
			return nil, fmt.Errorf("envelope version %d, expected %d", e.Version, wantVer)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, aggregate_type, aggregate_id, version, type, occurred_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateType, e.AggregateID, e.Version.Uint64(),
			e.Type, toMillis(e.OccurredAt), []byte(e.Data),
		)
		if err != nil {
			// the version check above runs in the same transaction, so a
			// unique violation here means another writer won the race
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: stream %s-%s", es.ErrConcurrencyConflict, aggType, aggID)
			}
			return nil, fmt.Errorf("insert event: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read event seq: %w", err)
		}
		e.Seq = uint64(seq)
		lastSeq = e.Seq
		appended = append(appended, e)

		if s.subject != nil {
			if err := s.stageOutbox(ctx, tx, e, now); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	s.log.Debug(
		"append",
		slog.String("stream", fmt.Sprintf("%s-%s", aggType, aggID)),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(appended)),
	)

	s.notifySubscribers()

	return &es.StoreAppendResult{LastSeq: lastSeq}, nil
}

func (s *Store) stageOutbox(ctx context.Context, tx *sql.Tx, e es.Envelope, now time.Time) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (id, seq, subject, envelope, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Seq, s.subject(e), raw, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("stage outbox entry: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

type envelopeScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row envelopeScanner) (es.Envelope, error) {
	var (
		env        es.Envelope
		version    uint64
		occurredAt int64
		data       []byte
	)
	err := row.Scan(
		&env.Seq, &env.ID, &env.AggregateType, &env.AggregateID,
		&version, &env.Type, &occurredAt, &data,
	)
	if err != nil {
		return es.Envelope{}, fmt.Errorf("scan event: %w", err)
	}
	env.Version = es.Version(version)
	env.OccurredAt = fromMillis(occurredAt)
	env.Data = json.RawMessage(data)
	return env, nil
}

var _ es.EventStore = (*Store)(nil)

// === outbox.Store ===

func (s *Store) Unpublished(ctx context.Context, limit int) ([]outbox.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, subject, envelope, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY seq ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load unpublished: %w", err)
	}
	defer rows.Close()

	out := make([]outbox.Entry, 0)
	for rows.Next() {
		var (
			entry     outbox.Entry
			raw       []byte
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Seq, &entry.Subject, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if err := json.Unmarshal(raw, &entry.Envelope); err != nil {
			return nil, fmt.Errorf("decode outbox envelope: %w", err)
		}
		entry.CreatedAt = fromMillis(createdAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) MarkPublished(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	var (
		placeholders = strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args         = make([]any, 0, len(ids)+1)
	)
	args = append(args, toMillis(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE outbox SET published_at = ? WHERE id IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

var _ outbox.Store = (*Store)(nil)
