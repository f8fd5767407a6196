// Package sqlite persists the event journal, the staged outbox, consumer
// checkpoints and the stock levels read model in a single SQLite database.
// Events and their outbox rows are written in one SQL transaction.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/outbox"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT    NOT NULL UNIQUE,
	aggregate_type TEXT    NOT NULL,
	aggregate_id   TEXT    NOT NULL,
	version        INTEGER NOT NULL,
	type           TEXT    NOT NULL,
	occurred_at    INTEGER NOT NULL,
	data           BLOB    NOT NULL,
	UNIQUE (aggregate_type, aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS outbox (
	id           TEXT    PRIMARY KEY,
	seq          INTEGER NOT NULL,
	subject      TEXT    NOT NULL,
	envelope     BLOB    NOT NULL,
	created_at   INTEGER NOT NULL,
	published_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox (seq) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS checkpoints (
	name     TEXT    PRIMARY KEY,
	last_seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_levels (
	item_id      TEXT    PRIMARY KEY,
	on_hand      INTEGER NOT NULL,
	reserved     INTEGER NOT NULL,
	available    INTEGER NOT NULL,
	damaged      INTEGER NOT NULL,
	deactivated  INTEGER NOT NULL,
	last_version INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS inbox (
	consumer     TEXT NOT NULL,
	event_id     TEXT NOT NULL,
	processed_at INTEGER NOT NULL,
	PRIMARY KEY (consumer, event_id)
);
`

// Store is a SQLite-backed event store. It also serves as the outbox store
// the publisher drains: when a SubjectFunc is configured, Append stages
// one outbox row per event inside the append transaction.
type Store struct {
	db      *sql.DB
	log     *slog.Logger
	subject outbox.SubjectFunc

	mu      sync.Mutex
	subs    map[int]*subscription
	nextSub int
}

type StoreOption func(*Store)

// WithOutbox makes Append stage an outbox row per event, addressed by
// subject.
func WithOutbox(subject outbox.SubjectFunc) StoreOption {
	return func(s *Store) { s.subject = subject }
}

func WithLog(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log.With(slog.String("store", "sqlite")) }
}

// Open opens (and bootstraps) the database at dsn. Use ":memory:" for
// throwaway stores in tests.
func Open(dsn string, opts ...StoreOption) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// the modernc driver serializes writers anyway; one connection avoids
	// SQLITE_BUSY on concurrent appends and keeps :memory: a single database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	s := &Store{
		db:   db,
		log:  slog.Default().With(slog.String("store", "sqlite")),
		subs: map[int]*subscription{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	return s.db.Close()
}

// DB exposes the underlying handle so checkpoint and read model stores can
// share one database file.
func (s *Store) DB() *sql.DB { return s.db }

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
