package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "inventory.db", cfg.SqliteDSN)
	require.Equal(t, "nats", cfg.Broker)
	require.Equal(t, 100*time.Millisecond, cfg.PublishInterval)
	require.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestLoadConfig_KafkaNeedsBrokers(t *testing.T) {
	t.Setenv("BROKER", "kafka")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("KAFKA_BROKERS", "localhost:9092,localhost:9093")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.KafkaBrokers)
}

func TestLoadConfig_UnknownBroker(t *testing.T) {
	t.Setenv("BROKER", "rabbitmq")
	_, err := LoadConfig()
	require.Error(t, err)
}
