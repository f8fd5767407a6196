package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// SqliteDSN is the path of the event journal database. Outbox rows,
	// checkpoints and the stock levels read model live in the same file.
	SqliteDSN string `env:"SQLITE_DSN" envDefault:"inventory.db"`

	// Broker selects the outbound transport: nats, kafka or none.
	Broker       string   `env:"BROKER" envDefault:"nats"`
	NatsURL      string   `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// RedisAddr enables the Redis inbox for the remote consumer. When
	// empty, dedup falls back to the sqlite inbox.
	RedisAddr string `env:"REDIS_ADDR"`

	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9102"`
	PublishInterval time.Duration `env:"PUBLISH_INTERVAL" envDefault:"100ms"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	LogLevel        slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Broker {
	case "nats", "kafka", "none":
	default:
		return Config{}, fmt.Errorf("unknown broker kind %q", cfg.Broker)
	}
	if cfg.Broker == "kafka" && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS is required with BROKER=kafka")
	}
	return cfg, nil
}
