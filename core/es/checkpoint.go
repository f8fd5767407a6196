package es

import (
	"errors"
	"sync"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// CpStore persists a consumer's position in the global event sequence so
// processing resumes where it stopped after a restart. The checkpoint is
// written after the handler, so a crash in between re-delivers the last
// event: handlers must stay idempotent.
type CpStore interface {
	Get() (lastSeq uint64, err error)
	Set(lastSeq uint64) error
}

type InMemCpStore struct {
	mu sync.RWMutex
	v  uint64
}

func NewInMemCpStore() *InMemCpStore {
	return &InMemCpStore{}
}

func (s *InMemCpStore) Get() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v, nil
}

func (s *InMemCpStore) Set(v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	return nil
}

var _ CpStore = (*InMemCpStore)(nil)
