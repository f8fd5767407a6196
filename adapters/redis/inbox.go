// Package redis keeps the remote consumer inbox in Redis. Keys expire, so
// the dedup window is bounded; the brokers' own duplicate suppression and
// the domain's idempotent handlers cover anything older.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proteanhq/shopstream-sub002/core/remote"
)

const defaultTTL = 24 * time.Hour

type Inbox struct {
	client *redis.Client
	ttl    time.Duration
}

type InboxOption func(*Inbox)

// WithTTL sets the dedup window. Zero keeps entries forever.
func WithTTL(ttl time.Duration) InboxOption {
	return func(i *Inbox) { i.ttl = ttl }
}

func NewInbox(client *redis.Client, opts ...InboxOption) *Inbox {
	i := &Inbox{client: client, ttl: defaultTTL}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Inbox) key(consumer, eventID string) string {
	return fmt.Sprintf("inbox:%s:%s", consumer, eventID)
}

func (i *Inbox) Seen(ctx context.Context, consumer, eventID string) (bool, error) {
	n, err := i.client.Exists(ctx, i.key(consumer, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("inbox seen: %w", err)
	}
	return n > 0, nil
}

func (i *Inbox) Mark(ctx context.Context, consumer, eventID string) error {
	if err := i.client.Set(ctx, i.key(consumer, eventID), 1, i.ttl).Err(); err != nil {
		return fmt.Errorf("inbox mark: %w", err)
	}
	return nil
}

var _ remote.Inbox = (*Inbox)(nil)
