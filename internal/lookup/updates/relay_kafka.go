package updates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
)

// KafkaTopic is the default topic for serialized lookup events.
const KafkaTopic = "verigate.lookup-records"

// KafkaRelay publishes events to a Kafka topic keyed by candidate and feeds
// consumed events into the local Bus.
type KafkaRelay struct {
	client  *kgo.Client
	bus     *Bus
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewKafkaRelay(client *kgo.Client, bus *Bus, topic string, opts ...RelayOption) (*KafkaRelay, error) {
	if client == nil {
		return nil, fmt.Errorf("kafka client is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if topic == "" {
		topic = KafkaTopic
	}
	o := buildRelayOptions(opts)
	return &KafkaRelay{
		client:  client,
		bus:     bus,
		topic:   topic,
		logger:  o.logger,
		metrics: o.metrics,
	}, nil
}

// Publish produces event synchronously.
func (k *KafkaRelay) Publish(ctx context.Context, event models.Event) error {
	payload, err := encodeEvent(ctx, event)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.Record.CandidateID),
		Value: payload,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", k.topic, err)
	}
	k.metrics.IncrementPublished("kafka")
	return nil
}

// Run polls the topic and delivers decoded events to the Bus until ctx is
// done or the client is closed.
func (k *KafkaRelay) Run(ctx context.Context) error {
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			k.logger.WarnContext(ctx, "kafka fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(r *kgo.Record) {
			event, err := decodeEvent(r.Value)
			if err != nil {
				k.logger.WarnContext(ctx, "dropping malformed lookup event",
					"transport", "kafka",
					"offset", r.Offset,
					"error", err,
				)
				return
			}
			if err := k.bus.Publish(ctx, event); err != nil {
				k.logger.WarnContext(ctx, "failed to deliver relayed event", "transport", "kafka", "error", err)
			}
		})
	}
}
