package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
)

// RedisChannel carries serialized events between processes.
const RedisChannel = "verigate:lookup-records"

// RedisRelay publishes events on a Redis pub/sub channel and feeds events
// received from the channel into the local Bus.
type RedisRelay struct {
	client  redis.UniversalClient
	bus     *Bus
	channel string
	logger  *slog.Logger
	metrics *metrics.Metrics

	readyOnce sync.Once
	ready     chan struct{}
}

type RelayOption func(*relayOptions)

type relayOptions struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(o *relayOptions) {
		o.logger = logger
	}
}

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(o *relayOptions) {
		o.metrics = m
	}
}

func buildRelayOptions(opts []RelayOption) relayOptions {
	o := relayOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewRedisRelay(client redis.UniversalClient, bus *Bus, opts ...RelayOption) (*RedisRelay, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	o := buildRelayOptions(opts)
	return &RedisRelay{
		client:  client,
		bus:     bus,
		channel: RedisChannel,
		logger:  o.logger,
		metrics: o.metrics,
		ready:   make(chan struct{}),
	}, nil
}

// Publish sends event to every process subscribed to the channel, this one
// included. Local subscribers receive it through Run.
func (r *RedisRelay) Publish(ctx context.Context, event models.Event) error {
	payload, err := encodeEvent(ctx, event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	r.metrics.IncrementPublished("redis")
	return nil
}

// Ready is closed once Run has subscribed to the channel.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the channel and delivers decoded events to the Bus
// until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(ctx, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, payload []byte) {
	event, err := decodeEvent(payload)
	if err != nil {
		r.logger.WarnContext(ctx, "dropping malformed lookup event", "transport", "redis", "error", err)
		return
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "failed to deliver relayed event", "transport", "redis", "error", err)
	}
}

func encodeEvent(ctx context.Context, event models.Event) ([]byte, error) {
	if event.PublishedAt.IsZero() {
		event.PublishedAt = nowUTC(ctx)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode lookup event: %w", err)
	}
	return payload, nil
}

func decodeEvent(payload []byte) (models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return models.Event{}, fmt.Errorf("decode lookup event: %w", err)
	}
	if event.Record.CandidateID == "" {
		return models.Event{}, fmt.Errorf("decode lookup event: missing candidate id")
	}
	return event, nil
}
