package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/remote"
)

const (
	retryBackoff    = time.Second
	maxRetryBackoff = 30 * time.Second
)

// Source feeds a remote consumer from a Kafka consumer group. Offsets are
// committed only after the handler succeeded; a failing handler blocks its
// partition and is retried with backoff, which preserves per-aggregate
// order.
type Source struct {
	reader *kafka.Reader
	log    *slog.Logger
}

func NewSource(log *slog.Logger, brokers []string, group string, topics []string) *Source {
	return &Source{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     group,
			GroupTopics: topics,
			MinBytes:    1e3,
			MaxBytes:    10e6,
		}),
		log: log.With(
			slog.String("source", "kafka"),
			slog.String("group", group),
		),
	}
}

func (s *Source) Deliver(ctx context.Context, fn func(ctx context.Context, env es.Envelope) error) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}

		env, err := envelopeFrom(msg)
		if err != nil {
			// a poisoned payload never decodes; commit it away
			s.log.Error("undecodable message", slog.Any("error", err))
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				s.log.Error("commit failed", slog.Any("error", err))
			}
			continue
		}

		if err := s.handleWithRetry(ctx, fn, env); err != nil {
			return err
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			s.log.Error("commit failed", slog.String("event_id", env.ID), slog.Any("error", err))
		}
	}
}

func (s *Source) handleWithRetry(
	ctx context.Context,
	fn func(ctx context.Context, env es.Envelope) error,
	env es.Envelope,
) error {
	backoff := retryBackoff
	for {
		err := fn(ctx, env)
		if err == nil {
			return nil
		}

		s.log.Warn(
			"handler failed, retrying",
			slog.String("event_id", env.ID),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (s *Source) Close() error { return s.reader.Close() }

var _ remote.Source = (*Source)(nil)
