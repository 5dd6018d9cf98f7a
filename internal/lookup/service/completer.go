package service

import (
	"context"
	"fmt"
	"log/slog"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/tx"
	"verigate/pkg/requestcontext"
)

// Completer records the final answer of a deferred provider job, whether it
// arrived by provider callback or by status poll.
type Completer struct {
	results   ResultStore
	queue     JobQueue
	publisher Publisher
	tx        tx.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type CompleterOption func(*Completer)

func WithCompleterLogger(logger *slog.Logger) CompleterOption {
	return func(c *Completer) {
		c.logger = logger
	}
}

func WithCompleterMetrics(m *metrics.Metrics) CompleterOption {
	return func(c *Completer) {
		c.metrics = m
	}
}

// WithTxRunner makes the record insert and queue update atomic.
func WithTxRunner(runner tx.Runner) CompleterOption {
	return func(c *Completer) {
		c.tx = runner
	}
}

func NewCompleter(results ResultStore, queue JobQueue, publisher Publisher, opts ...CompleterOption) (*Completer, error) {
	if results == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	c := &Completer{
		results:   results,
		queue:     queue,
		publisher: publisher,
		tx:        tx.NoopRunner{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete clears the pending entry and appends the record in one
// transaction, then publishes the record. When nothing was pending and the
// candidate's latest record of the type already carries the value, the
// completion is a redelivery: the existing record is returned and nothing is
// written or published.
func (c *Completer) Complete(ctx context.Context, completion models.Completion) (*models.LookupRecord, error) {
	if completion.CandidateID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "candidate id is required")
	}
	if !completion.LookupType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported lookup type %q", completion.LookupType))
	}
	value, err := models.Normalize(completion.LookupType, completion.LookupValue)
	if err != nil {
		return nil, err
	}

	record := &models.LookupRecord{
		CandidateID:  completion.CandidateID,
		LookupType:   completion.LookupType,
		LookupValue:  value,
		ResponseData: completion.Data,
		StatusCode:   completion.StatusCode,
		Message:      completion.Message,
		CreatedAt:    requestcontext.Now(ctx),
	}
	var existing *models.LookupRecord
	err = c.tx.RunInTx(ctx, func(ctx context.Context) error {
		completed, err := c.queue.MarkCompleted(ctx, record.CandidateID, record.LookupType)
		if err != nil {
			return fmt.Errorf("complete queue entry: %w", err)
		}
		if !completed {
			latest, err := c.results.FindLatest(ctx, record.CandidateID, []models.LookupType{record.LookupType})
			if err != nil {
				return fmt.Errorf("find latest record: %w", err)
			}
			if latest != nil && latest.LookupValue == record.LookupValue {
				existing = latest
				return nil
			}
		}
		if err := c.results.Append(ctx, record); err != nil {
			return fmt.Errorf("append record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record completion")
	}
	if existing != nil {
		c.logger.InfoContext(ctx, "duplicate completion ignored",
			"candidate_id", existing.CandidateID,
			"lookup_type", existing.LookupType,
			"record_id", existing.ID,
			"source", completion.Source,
		)
		return existing, nil
	}

	source := completion.Source
	if source == "" {
		source = models.SourcePush
	}
	c.metrics.IncrementCompletion(string(source))
	logAudit(ctx, c.logger, "lookup_completed",
		"candidate_id", record.CandidateID,
		"lookup_type", record.LookupType,
		"status_code", record.StatusCode,
		"source", source,
	)
	publish(ctx, c.logger, c.publisher, *record)
	return record, nil
}
