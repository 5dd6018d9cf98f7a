package updates

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
)

type RedisRelaySuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	client  *redis.Client
	bus     *Bus
	metrics *metrics.Metrics
	relay   *RedisRelay
	cancel  context.CancelFunc
	done    chan error
}

func TestRedisRelaySuite(t *testing.T) {
	suite.Run(t, new(RedisRelaySuite))
}

func (s *RedisRelaySuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.bus = NewBus(WithLogger(logger))

	var err error
	s.relay, err = NewRedisRelay(s.client, s.bus, WithRelayLogger(logger), WithRelayMetrics(s.metrics))
	s.Require().NoError(err)

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan error, 1)
	go func() { s.done <- s.relay.Run(ctx) }()

	select {
	case <-s.relay.Ready():
	case err := <-s.done:
		s.FailNow("relay stopped before subscribing", "error: %v", err)
	}
}

func (s *RedisRelaySuite) TearDownTest() {
	s.cancel()
	s.NoError(<-s.done)
	_ = s.client.Close()
}

func (s *RedisRelaySuite) TestNewRedisRelay() {
	_, err := NewRedisRelay(nil, s.bus)
	s.ErrorContains(err, "redis client is required")

	_, err = NewRedisRelay(s.client, nil)
	s.ErrorContains(err, "bus is required")
}

func (s *RedisRelaySuite) TestPublishedEventReachesLocalSubscribers() {
	c := &collector{}
	s.bus.Subscribe("cand-1", c.Handle)
	event := eventFor("cand-1", models.StatusSuccess)

	s.Require().NoError(s.relay.Publish(context.Background(), event))

	s.Eventually(func() bool { return c.Len() == 1 }, timeout, tick)
	got := c.Events()[0]
	s.Equal(event.Record.ID, got.Record.ID)
	s.Equal(event.Record.LookupValue, got.Record.LookupValue)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.EventsPublished.WithLabelValues("redis")))
}

func (s *RedisRelaySuite) TestEventFromAnotherProcessIsDelivered() {
	c := &collector{}
	s.bus.SubscribeAll(c.Handle)

	s.mr.Publish(RedisChannel, `{"record":{"id":"6f1d8a52-8d0e-4b8e-9d39-3b3c1e6f0a11","candidate_id":"cand-9","lookup_type":"pan","lookup_value":"ABCDE1234F","status_code":9,"created_at":"2026-03-01T10:00:00Z"},"published_at":"2026-03-01T10:00:01Z"}`)

	s.Eventually(func() bool { return c.Len() == 1 }, timeout, tick)
	s.Equal("cand-9", c.Events()[0].Record.CandidateID)
	s.Equal(models.StatusNotFound, c.Events()[0].Record.StatusCode)
}

func (s *RedisRelaySuite) TestMalformedPayloadIsDropped() {
	c := &collector{}
	s.bus.SubscribeAll(c.Handle)

	s.mr.Publish(RedisChannel, "not json")
	s.Require().NoError(s.relay.Publish(context.Background(), eventFor("cand-3", models.StatusSuccess)))

	s.Eventually(func() bool { return c.Len() == 1 }, timeout, tick)
	s.Equal("cand-3", c.Events()[0].Record.CandidateID)
}
