package remote

import (
	"context"
	"sync"
)

// Inbox remembers which foreign event IDs a consumer already processed.
// It turns the source's at-least-once delivery into effectively-once
// handling. Keyed per consumer so independent consumers don't share
// progress.
type Inbox interface {
	Seen(ctx context.Context, consumer, eventID string) (bool, error)
	Mark(ctx context.Context, consumer, eventID string) error
}

type MemoryInbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{seen: map[string]struct{}{}}
}

func (i *MemoryInbox) key(consumer, eventID string) string { return consumer + "/" + eventID }

func (i *MemoryInbox) Seen(_ context.Context, consumer, eventID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[i.key(consumer, eventID)]
	return ok, nil
}

func (i *MemoryInbox) Mark(_ context.Context, consumer, eventID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen[i.key(consumer, eventID)] = struct{}{}
	return nil
}

var _ Inbox = (*MemoryInbox)(nil)
