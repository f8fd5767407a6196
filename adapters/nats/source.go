package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/remote"
)

type SourceConfig struct {
	Connect        Connector    // nil means ConnectDefault()
	Log            *slog.Logger // optional
	StreamName     string       // defaults to SHOPSTREAM_EVENTS
	Durable        string       // durable consumer name, required
	FilterSubjects []string     // e.g. ["events.fulfillment.>"]
}

// Source delivers foreign envelopes from a JetStream durable consumer.
// Handler errors nak the message so JetStream redelivers it; everything
// else is acked.
type Source struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	stream  jetstream.Stream
	durable string
	filters []string
}

func NewSource(ctx context.Context, cfg SourceConfig) (*Source, error) {
	if cfg.Durable == "" {
		return nil, fmt.Errorf("durable consumer name is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("lookup stream %s: %w", streamName, err)
	}

	return &Source{
		nc:      nc,
		closeNc: closeNc,
		log: log.With(
			slog.String("source", "nats_js"),
			slog.String("stream", streamName),
			slog.String("durable", cfg.Durable),
		),
		stream:  stream,
		durable: cfg.Durable,
		filters: cfg.FilterSubjects,
	}, nil
}

func (s *Source) Deliver(ctx context.Context, fn func(ctx context.Context, env es.Envelope) error) error {
	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        s.durable,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		FilterSubjects: s.filters,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer %s: %w", s.durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var env es.Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			// a poisoned payload never decodes; ack it away
			s.log.Error("undecodable message", slog.Any("error", err))
			_ = msg.Ack()
			return
		}

		if err := fn(ctx, env); err != nil {
			s.log.Warn(
				"handler failed, message will be redelivered",
				slog.String("event_id", env.ID),
				slog.Any("error", err),
			)
			_ = msg.Nak()
			return
		}

		if err := msg.Ack(); err != nil {
			s.log.Error("ack failed", slog.String("event_id", env.ID), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.durable, err)
	}

	<-ctx.Done()
	cc.Drain()
	return nil
}

func (s *Source) Close() error {
	s.closeNc()
	return nil
}

var _ remote.Source = (*Source)(nil)
