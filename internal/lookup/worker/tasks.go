// Package worker polls deferred provider jobs to completion as asynq tasks.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/providers"
)

// TypeLookupPoll polls a provider job once.
const TypeLookupPoll = "lookup:poll"

// QueueName is the asynq queue poll tasks run on.
const QueueName = "lookups"

// ExhaustedMessage is recorded when the provider never answers.
const ExhaustedMessage = "Provider did not complete the lookup in time"

var errStillPending = errors.New("provider job still pending")

// PollPayload identifies the pending entry and the provider job to poll.
type PollPayload struct {
	EntryID       string `json:"entry_id"`
	CandidateID   string `json:"candidate_id"`
	LookupType    string `json:"lookup_type"`
	LookupValue   string `json:"lookup_value"`
	ProviderJobID string `json:"provider_job_id"`
}

func NewPollTask(entry models.QueueEntry) (*asynq.Task, error) {
	payload, err := json.Marshal(PollPayload{
		EntryID:       entry.ID.String(),
		CandidateID:   entry.CandidateID,
		LookupType:    string(entry.LookupType),
		LookupValue:   entry.LookupValue,
		ProviderJobID: entry.ProviderJobID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode poll payload: %w", err)
	}
	return asynq.NewTask(TypeLookupPoll, payload), nil
}

// Poller fetches the current state of a provider job.
type Poller interface {
	Poll(ctx context.Context, jobID string) (*models.ProviderAnswer, error)
}

// Completer records a deferred job's final answer.
type Completer interface {
	Complete(ctx context.Context, completion models.Completion) (*models.LookupRecord, error)
}

// PendingChecker reports whether a deferred job still awaits its answer.
type PendingChecker interface {
	IsPending(ctx context.Context, candidateID string, lookupType models.LookupType) (bool, error)
}

// Processor handles poll tasks.
type Processor struct {
	poller    Poller
	completer Completer
	pending   PendingChecker
	logger    *slog.Logger
	// attempts reports (retries so far, max retries) for the running task.
	attempts func(ctx context.Context) (int, int)
}

type ProcessorOption func(*Processor)

// WithPendingChecker drops poll tasks whose job was already completed, for
// example by a provider callback.
func WithPendingChecker(pending PendingChecker) ProcessorOption {
	return func(p *Processor) {
		p.pending = pending
	}
}

func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

func NewProcessor(poller Poller, completer Completer, opts ...ProcessorOption) (*Processor, error) {
	if poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	p := &Processor{
		poller:    poller,
		completer: completer,
		logger:    slog.Default(),
		attempts:  taskAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func taskAttempts(ctx context.Context) (int, int) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried, maxRetry
}

// HandlePollTask polls the provider once. A pending job is retried by asynq
// until attempts run out, then recorded as a failure so the candidate is
// not left waiting.
func (p *Processor) HandlePollTask(ctx context.Context, t *asynq.Task) error {
	var payload PollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode poll payload: %v: %w", err, asynq.SkipRetry)
	}
	lookupType, err := models.ParseLookupType(payload.LookupType)
	if err != nil || payload.CandidateID == "" || payload.ProviderJobID == "" {
		return fmt.Errorf("invalid poll payload: %w", asynq.SkipRetry)
	}

	if p.pending != nil {
		pending, err := p.pending.IsPending(ctx, payload.CandidateID, lookupType)
		if err != nil {
			return fmt.Errorf("check pending job: %w", err)
		}
		if !pending {
			p.logger.InfoContext(ctx, "provider job already completed, dropping poll",
				"candidate_id", payload.CandidateID,
				"lookup_type", lookupType,
				"provider_job_id", payload.ProviderJobID,
			)
			return nil
		}
	}

	retried, maxRetry := p.attempts(ctx)
	lastAttempt := retried >= maxRetry

	answer, err := p.poller.Poll(ctx, payload.ProviderJobID)
	switch {
	case err != nil && providers.IsRetryable(err) && !lastAttempt:
		p.logger.WarnContext(ctx, "provider poll failed, will retry",
			"provider_job_id", payload.ProviderJobID,
			"attempt", retried+1,
			"error", err,
		)
		return err
	case err != nil:
		return p.exhaust(ctx, payload, lookupType, providers.MessageOf(err))
	case answer.Deferred && !lastAttempt:
		return errStillPending
	case answer.Deferred:
		return p.exhaust(ctx, payload, lookupType, ExhaustedMessage)
	}

	_, err = p.completer.Complete(ctx, models.Completion{
		CandidateID: payload.CandidateID,
		LookupType:  lookupType,
		LookupValue: payload.LookupValue,
		StatusCode:  answer.StatusCode,
		Data:        answer.Data,
		Message:     answer.Message,
		Source:      models.SourcePoll,
	})
	if err != nil {
		return fmt.Errorf("record polled answer: %w", err)
	}
	p.logger.InfoContext(ctx, "provider job completed",
		"candidate_id", payload.CandidateID,
		"lookup_type", lookupType,
		"status_code", answer.StatusCode,
	)
	return nil
}

func (p *Processor) exhaust(ctx context.Context, payload PollPayload, lookupType models.LookupType, message string) error {
	_, err := p.completer.Complete(ctx, models.Completion{
		CandidateID: payload.CandidateID,
		LookupType:  lookupType,
		LookupValue: payload.LookupValue,
		StatusCode:  models.StatusFailed,
		Message:     message,
		Source:      models.SourceExhausted,
	})
	if err != nil {
		return fmt.Errorf("record exhausted poll: %w", err)
	}
	p.logger.WarnContext(ctx, "provider job abandoned",
		"candidate_id", payload.CandidateID,
		"lookup_type", lookupType,
		"provider_job_id", payload.ProviderJobID,
		"message", message,
	)
	return nil
}

// IsStillPending reports the error a handler returns to request another poll.
func IsStillPending(err error) bool {
	return errors.Is(err, errStillPending)
}

// RetryDelay polls at a fixed interval.
func RetryDelay(interval time.Duration) asynq.RetryDelayFunc {
	return func(int, error, *asynq.Task) time.Duration {
		return interval
	}
}
