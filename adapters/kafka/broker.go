// Package kafka is the Kafka rendition of the outbox broker and the remote
// consumer source. The envelope's aggregate ID is the message key, so one
// aggregate's events stay on one partition and keep their order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/outbox"
)

const (
	headerEventID   = "event_id"
	headerEventType = "event_type"
)

// Broker publishes envelopes with acks from all replicas. It satisfies
// outbox.Broker; subjects map directly to topics.
type Broker struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewBroker(log *slog.Logger, brokers []string) *Broker {
	return &Broker{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		log: log.With(slog.String("broker", "kafka")),
	}
}

func (b *Broker) Publish(ctx context.Context, subject string, env es.Envelope) error {
	msg, err := messageFor(subject, env)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *Broker) Close() error { return b.writer.Close() }

var _ outbox.Broker = (*Broker)(nil)

func messageFor(topic string, env es.Envelope) (kafka.Message, error) {
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(env.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte(env.ID)},
			{Key: headerEventType, Value: []byte(env.Type)},
		},
	}, nil
}

func envelopeFrom(msg kafka.Message) (es.Envelope, error) {
	var env es.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return es.Envelope{}, fmt.Errorf("decode envelope from %s: %w", msg.Topic, err)
	}
	return env, nil
}
