package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports/mocks"
	"verigate/internal/lookup/store/queue"
	"verigate/internal/lookup/store/result"
	"verigate/internal/lookup/updates"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/tx"
	"verigate/pkg/requestcontext"
)

type CompleterSuite struct {
	suite.Suite
	results   *result.InMemoryStore
	queue     *queue.InMemoryStore
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	completer *Completer
	ctx       context.Context
}

func TestCompleterSuite(t *testing.T) {
	suite.Run(t, new(CompleterSuite))
}

func (s *CompleterSuite) SetupTest() {
	s.results = result.NewInMemory()
	s.queue = queue.NewInMemory()
	s.publisher = &recordingPublisher{}
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))

	var err error
	s.completer, err = NewCompleter(s.results, s.queue, s.publisher,
		WithCompleterLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithCompleterMetrics(s.metrics),
	)
	s.Require().NoError(err)
}

func (s *CompleterSuite) TestCompleteRecordsClearsAndPublishes() {
	s.Require().NoError(s.queue.Enqueue(s.ctx, &models.QueueEntry{
		CandidateID: "cand-1",
		LookupType:  models.LookupMobileToUAN,
		LookupValue: "9876543210",
	}))

	record, err := s.completer.Complete(s.ctx, models.Completion{
		CandidateID: "cand-1",
		LookupType:  models.LookupMobileToUAN,
		LookupValue: "09876543210",
		StatusCode:  models.StatusSuccess,
		Data:        json.RawMessage(`{"uan":"100"}`),
		Source:      models.SourcePoll,
	})
	s.Require().NoError(err)
	s.Equal("9876543210", record.LookupValue)

	pending, err := s.queue.IsPending(s.ctx, "cand-1", models.LookupMobileToUAN)
	s.Require().NoError(err)
	s.False(pending)

	latest, err := s.results.FindLatest(s.ctx, "cand-1", []models.LookupType{models.LookupMobileToUAN})
	s.Require().NoError(err)
	s.Equal(record.ID, latest.ID)

	events := s.publisher.Events()
	s.Require().Len(events, 1)
	s.Equal(record.ID, events[0].Record.ID)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Completions.WithLabelValues("poll")))
}

func (s *CompleterSuite) TestAsyncFailureTravelsTheSamePath() {
	record, err := s.completer.Complete(s.ctx, models.Completion{
		CandidateID: "cand-2",
		LookupType:  models.LookupPANToUAN,
		LookupValue: "abcde1234f",
		StatusCode:  models.StatusFailed,
		Message:     "Provider timed out",
		Source:      models.SourceExhausted,
	})
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, record.StatusCode)
	s.Equal("abcde1234f", record.LookupValue)
	s.Len(s.publisher.Events(), 1)
}

func (s *CompleterSuite) TestCompleteValidates() {
	_, err := s.completer.Complete(s.ctx, models.Completion{LookupType: models.LookupMobile, LookupValue: "1"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.completer.Complete(s.ctx, models.Completion{CandidateID: "c", LookupType: "bogus", LookupValue: "1"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.publisher.Events())
}

func (s *CompleterSuite) TestQueueFailureRollsBackAndDoesNotPublish() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	defer db.Close()

	ctrl := gomock.NewController(s.T())
	results := mocks.NewMockResultStore(ctrl)
	jobs := mocks.NewMockJobQueue(ctrl)
	completer, err := NewCompleter(results, jobs, s.publisher, WithTxRunner(tx.SQLRunner{DB: db}))
	s.Require().NoError(err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	jobs.EXPECT().MarkCompleted(gomock.Any(), "cand-3", models.LookupMobile).DoAndReturn(
		func(ctx context.Context, _ string, _ models.LookupType) (bool, error) {
			_, inTx := tx.From(ctx)
			s.True(inTx)
			return false, errors.New("db down")
		})

	_, err = completer.Complete(s.ctx, models.Completion{CandidateID: "cand-3", LookupType: models.LookupMobile, LookupValue: "9876543210", StatusCode: 1})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Empty(s.publisher.Events())
	s.NoError(mock.ExpectationsWereMet())
}

type countingProfiles struct {
	mu     sync.Mutex
	writes int
}

func (p *countingProfiles) RecordVerified(context.Context, models.LookupRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	return nil
}

func (p *countingProfiles) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (s *CompleterSuite) TestCallbackThenPollRecordsOnce() {
	bus := updates.NewBus()
	profiles := &countingProfiles{}
	dispatcher, err := updates.NewDispatcher(profiles, s.queue)
	s.Require().NoError(err)
	dispatcher.Attach(bus)
	completer, err := NewCompleter(s.results, s.queue, bus)
	s.Require().NoError(err)

	s.Require().NoError(s.queue.Enqueue(s.ctx, &models.QueueEntry{
		CandidateID: "cand-4",
		LookupType:  models.LookupUANFullHistory,
		LookupValue: "100200300400",
	}))
	completion := models.Completion{
		CandidateID: "cand-4",
		LookupType:  models.LookupUANFullHistory,
		LookupValue: "100200300400",
		StatusCode:  models.StatusSuccess,
		Data:        json.RawMessage(`{"employers":[]}`),
	}

	completion.Source = models.SourcePush
	first, err := completer.Complete(s.ctx, completion)
	s.Require().NoError(err)

	completion.Source = models.SourcePoll
	second, err := completer.Complete(s.ctx, completion)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)

	grouped, err := s.results.GroupByType(s.ctx, "cand-4", []models.LookupType{models.LookupUANFullHistory})
	s.Require().NoError(err)
	s.Len(grouped[models.LookupUANFullHistory], 1)
	s.Equal(1, profiles.Writes())
}

func (s *CompleterSuite) TestUnsolicitedCompletionIsRecorded() {
	s.Require().NoError(s.results.Append(s.ctx, &models.LookupRecord{
		CandidateID: "cand-5",
		LookupType:  models.LookupMobile,
		LookupValue: "9000000001",
		StatusCode:  models.StatusSuccess,
		CreatedAt:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}))

	record, err := s.completer.Complete(s.ctx, models.Completion{
		CandidateID: "cand-5",
		LookupType:  models.LookupMobile,
		LookupValue: "9000000002",
		StatusCode:  models.StatusSuccess,
	})
	s.Require().NoError(err)
	s.Equal("9000000002", record.LookupValue)
	s.Len(s.publisher.Events(), 1)
}
