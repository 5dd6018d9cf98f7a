package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports"
	"verigate/internal/lookup/providers"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// Type aliases for shared interfaces.
type (
	ResultStore  = ports.ResultStore
	JobQueue     = ports.JobQueue
	Executor     = ports.Executor
	Publisher    = ports.Publisher
	JobScheduler = ports.JobScheduler
)

// Coordinator decides, per lookup request, whether the provider needs to be
// called at all, and records what it answered.
type Coordinator struct {
	results   ResultStore
	queue     JobQueue
	executor  Executor
	publisher Publisher
	scheduler JobScheduler
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	flights   singleflight.Group
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = publisher
	}
}

// WithScheduler enables background polling of deferred jobs.
func WithScheduler(scheduler JobScheduler) Option {
	return func(c *Coordinator) {
		c.scheduler = scheduler
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

func New(results ResultStore, queue JobQueue, executor Executor, opts ...Option) (*Coordinator, error) {
	if results == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	c := &Coordinator{
		results:  results,
		queue:    queue,
		executor: executor,
		logger:   slog.Default(),
		tracer:   otel.Tracer("verigate/lookup"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestLookup runs one verification attempt. Validation failures and
// provider failures are errors; a cached negative and an existing pending job
// are outcomes.
func (c *Coordinator) RequestLookup(ctx context.Context, req models.LookupRequest) (*models.LookupOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "lookup.request", trace.WithAttributes(
		attribute.String("candidate_id", req.CandidateID),
		attribute.String("lookup_type", string(req.LookupType)),
	))
	defer span.End()

	call, err := prepare(req)
	if err != nil {
		span.SetStatus(codes.Error, "validation")
		c.metrics.IncrementOutcome(string(req.LookupType), "invalid")
		return nil, err
	}

	key := call.CandidateID + "|" + string(call.LookupType) + "|" + call.Value
	// Coalesced callers share one attempt; it must outlive the first caller.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := c.flights.Do(key, func() (any, error) {
		return c.lookup(flightCtx, call)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.IncrementOutcome(string(call.LookupType), "error")
		return nil, err
	}

	outcome := v.(*models.LookupOutcome)
	span.SetAttributes(
		attribute.String("outcome", string(outcome.Kind)),
		attribute.Bool("coalesced", shared),
	)
	c.metrics.IncrementOutcome(string(call.LookupType), string(outcome.Kind))
	logAudit(ctx, c.logger, "lookup_requested",
		"candidate_id", call.CandidateID,
		"lookup_type", call.LookupType,
		"outcome", outcome.Kind,
		"organization_id", call.OrganizationID,
		"user_id", call.UserID,
	)
	return outcome, nil
}

func (c *Coordinator) lookup(ctx context.Context, call models.ProviderCall) (*models.LookupOutcome, error) {
	negative, err := c.results.FindNegative(ctx, call.LookupType, call.Value)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check negative results")
	}
	if negative != nil {
		return models.CachedNotFound(negative), nil
	}

	pending, err := c.queue.Pending(ctx, call.CandidateID, call.LookupType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check pending lookups")
	}
	if pending != nil {
		return models.AlreadyQueued(pending), nil
	}

	call.TransactionID = models.NewTransactionID(call.CandidateID, call.LookupType, requestcontext.Now(ctx))
	answer, err := c.executor.Execute(ctx, call)
	if err != nil {
		c.logger.WarnContext(ctx, "provider call failed",
			"candidate_id", call.CandidateID,
			"lookup_type", call.LookupType,
			"transaction_id", call.TransactionID,
			"category", providers.GetCategory(err),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeProvider, providers.MessageOf(err))
	}

	if answer.Deferred {
		return c.enqueue(ctx, call, answer)
	}
	return c.complete(ctx, call, answer)
}

func (c *Coordinator) complete(ctx context.Context, call models.ProviderCall, answer *models.ProviderAnswer) (*models.LookupOutcome, error) {
	record := &models.LookupRecord{
		CandidateID:  call.CandidateID,
		LookupType:   call.LookupType,
		LookupValue:  call.Value,
		ResponseData: answer.Data,
		StatusCode:   answer.StatusCode,
		Message:      answer.Message,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := c.results.Append(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record lookup result")
	}
	publish(ctx, c.logger, c.publisher, *record)
	return models.Completed(record), nil
}

func (c *Coordinator) enqueue(ctx context.Context, call models.ProviderCall, answer *models.ProviderAnswer) (*models.LookupOutcome, error) {
	entry := &models.QueueEntry{
		CandidateID:   call.CandidateID,
		LookupType:    call.LookupType,
		LookupValue:   call.Value,
		ProviderJobID: answer.ProviderJobID,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := c.queue.Enqueue(ctx, entry); err != nil {
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue lookup")
		}
		// Another session queued the same job first.
		existing, findErr := c.queue.Pending(ctx, call.CandidateID, call.LookupType)
		if findErr != nil {
			return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to read pending lookup")
		}
		if existing == nil {
			existing = entry
		}
		return models.AlreadyQueued(existing), nil
	}

	if c.scheduler != nil && entry.ProviderJobID != "" {
		if err := c.scheduler.SchedulePoll(ctx, *entry); err != nil {
			c.logger.WarnContext(ctx, "failed to schedule status poll",
				"candidate_id", entry.CandidateID,
				"lookup_type", entry.LookupType,
				"provider_job_id", entry.ProviderJobID,
				"error", err,
			)
		}
	}
	return models.Queued(entry, answer.Message), nil
}

// prepare validates and normalizes a request into a provider call.
func prepare(req models.LookupRequest) (models.ProviderCall, error) {
	if req.CandidateID == "" {
		return models.ProviderCall{}, dErrors.New(dErrors.CodeValidation, "candidate id is required")
	}
	if !req.LookupType.IsValid() {
		return models.ProviderCall{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported lookup type %q", req.LookupType))
	}
	value, err := models.Normalize(req.LookupType, req.RawValue)
	if err != nil {
		return models.ProviderCall{}, err
	}

	call := models.ProviderCall{
		CandidateID:    req.CandidateID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		LookupType:     req.LookupType,
		Value:          value,
		EmployerName:   req.EmployerName,
	}
	if req.LookupType.RequiresCandidateMobile() {
		call.CandidateMobile = models.NormalizeMobile(req.CandidateMobile)
		if call.CandidateMobile == "" {
			return models.ProviderCall{}, dErrors.New(dErrors.CodeValidation, "candidate mobile number is required for PAN lookups")
		}
	}
	if req.LookupType.RequiresEmployer() && req.EmployerName == "" {
		return models.ProviderCall{}, dErrors.New(dErrors.CodeValidation, "employer name is required for employment history")
	}
	return call, nil
}
