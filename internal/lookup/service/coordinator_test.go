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

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports/mocks"
	"verigate/internal/lookup/providers"
	"verigate/internal/lookup/store/queue"
	"verigate/internal/lookup/store/result"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// =============================================================================
// Coordinator Test Suite
// =============================================================================
// Real in-memory stores with a mocked provider, so every test can assert both
// the outcome and exactly which provider calls happened.

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

type CoordinatorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	executor  *mocks.MockExecutor
	scheduler *mocks.MockJobScheduler
	results   *result.InMemoryStore
	queue     *queue.InMemoryStore
	publisher *recordingPublisher
	service   *Coordinator
	ctx       context.Context
	now       time.Time
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.executor = mocks.NewMockExecutor(s.ctrl)
	s.scheduler = mocks.NewMockJobScheduler(s.ctrl)
	s.results = result.NewInMemory()
	s.queue = queue.NewInMemory()
	s.publisher = &recordingPublisher{}
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	var err error
	s.service, err = New(s.results, s.queue, s.executor,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPublisher(s.publisher),
		WithScheduler(s.scheduler),
	)
	s.Require().NoError(err)
}

func mobileRequest(candidate string) models.LookupRequest {
	return models.LookupRequest{
		CandidateID:    candidate,
		OrganizationID: "org-1",
		UserID:         "user-1",
		LookupType:     models.LookupMobile,
		RawValue:       "+91 98765-43210",
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *CoordinatorSuite) TestNew() {
	s.Run("missing dependencies are rejected", func() {
		_, err := New(nil, s.queue, s.executor)
		s.ErrorContains(err, "result store is required")
		_, err = New(s.results, nil, s.executor)
		s.ErrorContains(err, "job queue is required")
		_, err = New(s.results, s.queue, nil)
		s.ErrorContains(err, "executor is required")
	})
}

// =============================================================================
// Validation Tests
// =============================================================================

func (s *CoordinatorSuite) TestValidationNeverReachesProvider() {
	cases := map[string]models.LookupRequest{
		"empty value":              {CandidateID: "c", LookupType: models.LookupMobile, RawValue: "  -- "},
		"unknown type":             {CandidateID: "c", LookupType: "passport", RawValue: "X"},
		"missing candidate":        {LookupType: models.LookupMobile, RawValue: "9876543210"},
		"pan without mobile":       {CandidateID: "c", LookupType: models.LookupPANToUAN, RawValue: "ABCDE1234F"},
		"history without employer": {CandidateID: "c", LookupType: models.LookupUANFullHistory, RawValue: "100200300400"},
	}
	for name, req := range cases {
		s.Run(name, func() {
			_, err := s.service.RequestLookup(s.ctx, req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

// =============================================================================
// Negative Cache Tests
// =============================================================================

func (s *CoordinatorSuite) TestCachedNegativeSkipsProvider() {
	s.Require().NoError(s.results.Append(s.ctx, &models.LookupRecord{
		CandidateID: "other-candidate",
		LookupType:  models.LookupMobile,
		LookupValue: "9876543210",
		StatusCode:  models.StatusNotFound,
	}))

	outcome, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-1"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeCachedNotFound, outcome.Kind)
	s.Equal(models.StatusNotFound, outcome.Record.StatusCode)
	s.Empty(s.publisher.Events())
}

func (s *CoordinatorSuite) TestNotFoundAnswerIsCachedForEveryone() {
	s.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(&models.ProviderAnswer{StatusCode: models.StatusNotFound, Message: "No UAN found"}, nil).
		Times(1)

	first, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-1"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeCompleted, first.Kind)
	s.Equal("No UAN found", first.Record.Message)

	second, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-2"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeCachedNotFound, second.Kind)
}

// =============================================================================
// Completed Tests
// =============================================================================

func (s *CoordinatorSuite) TestCompletedAnswerPersistsAndPublishes() {
	var got models.ProviderCall
	s.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, call models.ProviderCall) (*models.ProviderAnswer, error) {
			got = call
			return &models.ProviderAnswer{StatusCode: models.StatusSuccess, Data: json.RawMessage(`{"uan":"100200300400"}`)}, nil
		})

	outcome, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-1"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeCompleted, outcome.Kind)

	s.Equal("9876543210", got.Value)
	s.Equal("cand-1-MOBILE-1772359200000", got.TransactionID)

	grouped, err := s.results.GroupByType(s.ctx, "cand-1", nil)
	s.Require().NoError(err)
	s.Len(grouped[models.LookupMobile], 1)

	pending, err := s.queue.IsPending(s.ctx, "cand-1", models.LookupMobile)
	s.Require().NoError(err)
	s.False(pending)

	events := s.publisher.Events()
	s.Require().Len(events, 1)
	s.Equal(outcome.Record.ID, events[0].Record.ID)
}

func (s *CoordinatorSuite) TestPANLookupCarriesNormalizedMobile() {
	s.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, call models.ProviderCall) (*models.ProviderAnswer, error) {
			s.Equal("abcde1234f", call.Value)
			s.Equal("9876543210", call.CandidateMobile)
			return &models.ProviderAnswer{StatusCode: models.StatusSuccess, Data: json.RawMessage(`{}`)}, nil
		})

	_, err := s.service.RequestLookup(s.ctx, models.LookupRequest{
		CandidateID:     "cand-1",
		LookupType:      models.LookupPANToUAN,
		RawValue:        " abcde1234f ",
		CandidateMobile: "+91-9876543210",
	})
	s.NoError(err)
}

// =============================================================================
// Deferred Tests
// =============================================================================

func (s *CoordinatorSuite) TestDeferredAnswerQueuesOnce() {
	s.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(&models.ProviderAnswer{Deferred: true, ProviderJobID: "job-1", Message: "Lookup in progress"}, nil).
		Times(1)
	s.scheduler.EXPECT().SchedulePoll(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, entry models.QueueEntry) error {
			s.Equal("job-1", entry.ProviderJobID)
			return nil
		})

	first, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-1"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeQueued, first.Kind)
	s.Equal("Lookup in progress", first.Message)

	second, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-1"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeAlreadyQueued, second.Kind)
	s.Equal(first.Entry.ID, second.Entry.ID)

	latest, err := s.results.FindLatest(s.ctx, "cand-1", nil)
	s.Require().NoError(err)
	s.Nil(latest, "a deferred answer must not also create a record")
	s.Empty(s.publisher.Events())
}

func (s *CoordinatorSuite) TestEnqueueConflictMergesIntoExistingEntry() {
	ctrl := gomock.NewController(s.T())
	jobQueue := mocks.NewMockJobQueue(ctrl)
	existing := &models.QueueEntry{CandidateID: "cand-1", LookupType: models.LookupMobile, Status: models.QueueStatusPending}

	svc, err := New(s.results, jobQueue, s.executor)
	s.Require().NoError(err)

	gomock.InOrder(
		jobQueue.EXPECT().Pending(gomock.Any(), "cand-1", models.LookupMobile).Return(nil, nil),
		jobQueue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict),
		jobQueue.EXPECT().Pending(gomock.Any(), "cand-1", models.LookupMobile).Return(existing, nil),
	)
	s.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(&models.ProviderAnswer{Deferred: true}, nil)

	outcome, err := svc.RequestLookup(s.ctx, mobileRequest("cand-1"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeAlreadyQueued, outcome.Kind)
	s.Same(existing, outcome.Entry)
}

func (s *CoordinatorSuite) TestDeferredWithoutJobIDIsNotPolled() {
	s.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(&models.ProviderAnswer{Deferred: true}, nil)

	outcome, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-9"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeQueued, outcome.Kind)
}

// =============================================================================
// Provider Error Tests
// =============================================================================

func (s *CoordinatorSuite) TestProviderErrorKeepsMessage() {
	s.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, providers.NewProviderError(providers.ErrorRejected, "uan", "Mobile number not linked with UAN", nil))

	_, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-1"))
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeProvider))

	var de *dErrors.Error
	s.Require().True(errors.As(err, &de))
	s.Equal("Mobile number not linked with UAN", de.Message)

	latest, err := s.results.FindLatest(s.ctx, "cand-1", nil)
	s.Require().NoError(err)
	s.Nil(latest)
}

// =============================================================================
// Single Flight Tests
// =============================================================================

func (s *CoordinatorSuite) TestConcurrentDuplicateRequestsShareOneProviderCall() {
	release := make(chan struct{})
	started := make(chan struct{})
	s.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, models.ProviderCall) (*models.ProviderAnswer, error) {
			close(started)
			<-release
			return &models.ProviderAnswer{Deferred: true, ProviderJobID: "job-1"}, nil
		}).Times(1)
	s.scheduler.EXPECT().SchedulePoll(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	const callers = 10
	outcomes := make(chan *models.LookupOutcome, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-1"))
		s.NoError(err)
		outcomes <- out
	}()
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.service.RequestLookup(s.ctx, mobileRequest("cand-1"))
			s.NoError(err)
			outcomes <- out
		}()
	}
	// Give the duplicates time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(outcomes)

	for out := range outcomes {
		s.Contains([]models.OutcomeKind{models.OutcomeQueued, models.OutcomeAlreadyQueued}, out.Kind)
	}
	pending, err := s.queue.IsPending(s.ctx, "cand-1", models.LookupMobile)
	s.Require().NoError(err)
	s.True(pending)
}
