// Package nats ships outbox entries over NATS JetStream and feeds remote
// consumers from it. The JetStream duplicate window plus the envelope ID
// as message ID deduplicates publisher retries on the broker side;
// consumers still guard with their inbox.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/outbox"
)

const defaultStreamName = "SHOPSTREAM_EVENTS"

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

type BrokerConfig struct {
	Connect    Connector    // nil means ConnectDefault()
	Log        *slog.Logger // optional
	StreamName string       // defaults to SHOPSTREAM_EVENTS
	Subjects   []string     // defaults to ["events.>"]
}

// Broker publishes envelopes to a JetStream stream. It satisfies
// outbox.Broker.
type Broker struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	js      jetstream.JetStream
	log     *slog.Logger
}

func NewBroker(ctx context.Context, cfg BrokerConfig) (*Broker, error) {
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
	subjects := cfg.Subjects
	if len(subjects) == 0 {
		subjects = []string{"events.>"}
	}

	log = log.With(
		slog.String("broker", "nats_js"),
		slog.String("stream", streamName),
	)

	_, err = ensureStream(ctx, js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   subjects,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		closeNc()
		return nil, err
	}

	log.Debug("stream ensured", slog.Any("subjects", subjects))

	return &Broker{
		nc:      nc,
		closeNc: closeNc,
		js:      js,
		log:     log,
	}, nil
}

func (b *Broker) Publish(ctx context.Context, subject string, env es.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := &natsgo.Msg{
		Subject: subject,
		Data:    data,
		Header:  natsgo.Header{},
	}
	// envelope ID as message ID lets the duplicate window swallow
	// publisher retries
	msg.Header.Set(natsgo.MsgIdHdr, env.ID)

	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *Broker) Close() error {
	b.js.CleanupPublisher()
	b.closeNc()
	return nil
}

var _ outbox.Broker = (*Broker)(nil)
