// inventoryd runs the inventory service: the sqlite event journal, the
// stock levels projection, the outbox publisher, the fulfillment consumer
// and the reservation expiry sweeper, with Prometheus metrics on the side.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/proteanhq/shopstream-sub002/adapters/kafka"
	"github.com/proteanhq/shopstream-sub002/adapters/nats"
	promadapter "github.com/proteanhq/shopstream-sub002/adapters/prometheus"
	redisadapter "github.com/proteanhq/shopstream-sub002/adapters/redis"
	"github.com/proteanhq/shopstream-sub002/adapters/sqlite"
	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/outbox"
	"github.com/proteanhq/shopstream-sub002/core/remote"
	"github.com/proteanhq/shopstream-sub002/domains/inventory"
)

func main() {
	if err := run(); err != nil {
		slog.Error("inventoryd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	esMetrics := promadapter.NewESMetrics(reg)

	store, err := sqlite.Open(
		cfg.SqliteDSN,
		sqlite.WithLog(log),
		sqlite.WithOutbox(outbox.CategorySubject(inventory.ServiceName)),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	projection := inventory.NewStockLevelsProjection(log, sqlite.NewLevelsStore(store.DB()))
	projectionCp := sqlite.NewCpStore(store.DB(), "projection/stock_levels")

	env, err := es.NewEnv(
		es.WithCtx(ctx),
		es.WithLog(log),
		es.WithStore(store),
		es.WithMetrics(esMetrics),
		es.WithAggregates(&inventory.Item{}),
		es.WithProjection(projection,
			es.WithMiddlewares(es.NewCheckpointMiddleware(projectionCp)),
		),
	)
	if err != nil {
		return fmt.Errorf("build env: %w", err)
	}
	defer env.Shutdown()

	items := es.NewTypedRepositoryFrom[*inventory.Item](log, env.Repository())

	if cfg.Broker != "none" {
		broker, source, err := connectBroker(ctx, log, cfg)
		if err != nil {
			return err
		}

		publisher := outbox.NewPublisher(log, store, broker,
			outbox.WithInterval(cfg.PublishInterval),
		)
		publisher.Start(ctx)
		defer publisher.Stop()

		remoteReg := remote.NewRegistry()
		inventory.RegisterRemote(remoteReg, items)

		consumer := remote.NewConsumer(log, "remote/fulfillment", remoteReg, newInbox(cfg, store), source)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("remote consumer stopped", slog.Any("error", err))
			}
		}()
	}

	sweeper := inventory.NewSweeper(log, items, sqlite.NewLevelsStore(store.DB()))
	go sweeper.Run(ctx, cfg.SweepInterval)

	metricsSrv := serveMetrics(log, cfg.MetricsAddr, reg)

	log.Info("inventoryd up",
		slog.String("dsn", cfg.SqliteDSN),
		slog.String("broker", cfg.Broker),
		slog.String("metrics", cfg.MetricsAddr),
	)

	<-ctx.Done()
	log.Info("signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", slog.Any("error", err))
	}
	return nil
}

// connectBroker builds the outbound broker and the inbound source for the
// configured transport. Both ends share one connection where the
// transport allows it.
func connectBroker(ctx context.Context, log *slog.Logger, cfg Config) (outbox.Broker, remote.Source, error) {
	switch cfg.Broker {
	case "nats":
		connect := nats.ReuseConnection(nats.ConnectURL(cfg.NatsURL))
		broker, err := nats.NewBroker(ctx, nats.BrokerConfig{Connect: connect, Log: log})
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats broker: %w", err)
		}
		source, err := nats.NewSource(ctx, nats.SourceConfig{
			Connect:        connect,
			Log:            log,
			Durable:        "inventory-fulfillment",
			FilterSubjects: []string{"events.fulfillment.>"},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats source: %w", err)
		}
		return broker, source, nil
	case "kafka":
		broker := kafka.NewBroker(log, cfg.KafkaBrokers)
		source := kafka.NewSource(log, cfg.KafkaBrokers, "inventory-fulfillment",
			[]string{"events.fulfillment.shipment"})
		return broker, source, nil
	}
	return nil, nil, fmt.Errorf("unknown broker kind %q", cfg.Broker)
}

func newInbox(cfg Config, store *sqlite.Store) remote.Inbox {
	if cfg.RedisAddr == "" {
		return sqlite.NewInbox(store.DB())
	}
	return redisadapter.NewInbox(goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}))
}

func serveMetrics(log *slog.Logger, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return srv
}
