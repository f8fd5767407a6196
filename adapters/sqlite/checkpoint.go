package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

// CpStore persists one named consumer checkpoint in the shared database.
type CpStore struct {
	db   *sql.DB
	name string
}

func NewCpStore(db *sql.DB, name string) *CpStore {
	return &CpStore{db: db, name: name}
}

func (c *CpStore) Get() (uint64, error) {
	var lastSeq uint64
	err := c.db.QueryRow(`SELECT last_seq FROM checkpoints WHERE name = ?`, c.name).Scan(&lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", es.ErrCheckpointNotFound, c.name)
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", c.name, err)
	}
	return lastSeq, nil
}

func (c *CpStore) Set(lastSeq uint64) error {
	_, err := c.db.Exec(`
		INSERT INTO checkpoints (name, last_seq) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET last_seq = excluded.last_seq`,
		c.name, lastSeq,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", c.name, err)
	}
	return nil
}

var _ es.CpStore = (*CpStore)(nil)
