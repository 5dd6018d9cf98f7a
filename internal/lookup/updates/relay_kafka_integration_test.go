//go:build integration

package updates_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/updates"
	"verigate/internal/platform/config"
	"verigate/internal/platform/kafka"
	"verigate/pkg/testutil/containers"
)

type KafkaRelaySuite struct {
	suite.Suite
	client *kgo.Client
	bus    *updates.Bus
	relay  *updates.KafkaRelay
	cancel context.CancelFunc
	done   chan error
}

func TestKafkaRelaySuite(t *testing.T) {
	suite.Run(t, new(KafkaRelaySuite))
}

func (s *KafkaRelaySuite) SetupSuite() {
	broker := containers.GetManager().GetRedpanda(s.T())
	topic := "verigate.lookup-records." + uuid.NewString()[:8]

	var err error
	s.client, err = kafka.New(config.KafkaConfig{
		Brokers:  broker.Brokers,
		Topic:    topic,
		ClientID: "verigate-test",
	}, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(kafka.EnsureTopic(ctx, s.client, topic, 1))
	s.Require().NoError(kafka.EnsureTopic(ctx, s.client, topic, 1), "existing topic is not an error")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.bus = updates.NewBus(updates.WithLogger(logger))
	s.relay, err = updates.NewKafkaRelay(s.client, s.bus, topic, updates.WithRelayLogger(logger))
	s.Require().NoError(err)

	var runCtx context.Context
	runCtx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan error, 1)
	go func() { s.done <- s.relay.Run(runCtx) }()
}

func (s *KafkaRelaySuite) TearDownSuite() {
	s.cancel()
	s.NoError(<-s.done)
	s.client.Close()
}

func (s *KafkaRelaySuite) TestPublishedEventIsConsumedIntoBus() {
	var mu sync.Mutex
	var got []models.Event
	s.bus.Subscribe("cand-kafka", func(_ context.Context, event models.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, event)
	})

	event := models.Event{Record: models.LookupRecord{
		ID:          uuid.New(),
		CandidateID: "cand-kafka",
		LookupType:  models.LookupPANVerification,
		LookupValue: "ABCDE1234F",
		StatusCode:  models.StatusSuccess,
	}}
	s.Require().NoError(s.relay.Publish(context.Background(), event))

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 30*time.Second, 100*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Equal(event.Record.ID, got[0].Record.ID)
}
