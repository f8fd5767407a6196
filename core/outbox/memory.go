package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

// MemoryOutbox wraps an event store so every successful append also stages
// outbox entries. Append and staging happen under one mutex, which gives
// the same all-or-nothing behavior a database transaction gives the SQL
// store. It doubles as the Store the publisher drains.
type MemoryOutbox struct {
	mu      sync.Mutex
	inner   es.EventStore
	subject SubjectFunc
	entries []Entry
}

func NewMemoryOutbox(inner es.EventStore, subject SubjectFunc) *MemoryOutbox {
	return &MemoryOutbox{
		inner:   inner,
		subject: subject,
	}
}

// === es.EventStore ===

func (m *MemoryOutbox) Load(ctx context.Context, aggType string, aggID string, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	return m.inner.Load(ctx, aggType, aggID, opts...)
}

func (m *MemoryOutbox) Subscribe(ctx context.Context, opts ...es.SubscribeOption) (es.Subscription, error) {
	return m.inner.Subscribe(ctx, opts...)
}

func (m *MemoryOutbox) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (*es.StoreAppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.inner.Append(ctx, aggType, aggID, expectedVersion, events)
	if err != nil {
		return nil, err
	}

	// the inner store assigned sequences; recover them from the result so
	// entries carry commit order
	firstSeq := res.LastSeq - uint64(len(events)) + 1
	now := time.Now()
	for i, env := range events {
		env.Seq = firstSeq + uint64(i)
		m.entries = append(m.entries, Entry{
			ID:        env.ID,
			Seq:       env.Seq,
			Subject:   m.subject(env),
			Envelope:  env,
			CreatedAt: now,
		})
	}
	return res, nil
}

// === Store ===

func (m *MemoryOutbox) Unpublished(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, m.entries[:n])
	return out, nil
}

func (m *MemoryOutbox) MarkPublished(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	done := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}
	kept := m.entries[:0]
	for _, e := range m.entries {
		if _, ok := done[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

var _ es.EventStore = (*MemoryOutbox)(nil)
var _ Store = (*MemoryOutbox)(nil)
