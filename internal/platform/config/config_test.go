package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("BUS_TRANSPORT", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, cfg.BusTransport)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "verigate.lookup-records", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BUS_TRANSPORT", "Kafka")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("POLL_MAX_ATTEMPTS", "3")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, TransportKafka, cfg.BusTransport)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 3, cfg.Poll.MaxAttempts)
}

func TestValidate(t *testing.T) {
	base := Config{BusTransport: TransportMemory, Poll: Poll{MaxAttempts: 1}}
	require.NoError(t, base.Validate())

	redis := base
	redis.BusTransport = TransportRedis
	assert.ErrorContains(t, redis.Validate(), "REDIS_URL")

	kafka := base
	kafka.BusTransport = TransportKafka
	assert.ErrorContains(t, kafka.Validate(), "KAFKA_BROKERS")

	unknown := base
	unknown.BusTransport = "nats"
	assert.ErrorContains(t, unknown.Validate(), "unsupported BUS_TRANSPORT")

	noAttempts := base
	noAttempts.Poll.MaxAttempts = 0
	assert.Error(t, noAttempts.Validate())
}
