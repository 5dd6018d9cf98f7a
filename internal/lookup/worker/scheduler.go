package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports"
)

// Enqueuer is the subset of *asynq.Client the scheduler uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues the first poll of a deferred provider job.
type Scheduler struct {
	client      Enqueuer
	interval    time.Duration
	maxAttempts int
}

var _ ports.JobScheduler = (*Scheduler)(nil)

func NewScheduler(client Enqueuer, interval time.Duration, maxAttempts int) (*Scheduler, error) {
	if client == nil {
		return nil, fmt.Errorf("task client is required")
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1")
	}
	return &Scheduler{client: client, interval: interval, maxAttempts: maxAttempts}, nil
}

// SchedulePoll enqueues a poll task keyed by the queue entry id, so a
// second schedule for the same entry is a no-op.
func (s *Scheduler) SchedulePoll(ctx context.Context, entry models.QueueEntry) error {
	task, err := NewPollTask(entry)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.TaskID(entry.ID.String()),
		asynq.ProcessIn(s.interval),
		asynq.MaxRetry(s.maxAttempts-1),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue poll task: %w", err)
	}
	return nil
}

// NewServer builds the asynq server and mux that run poll tasks.
func NewServer(redisOpt asynq.RedisConnOpt, processor *Processor, interval time.Duration, concurrency int, logger *slog.Logger) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{QueueName: 1},
		RetryDelayFunc: RetryDelay(interval),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			if IsStillPending(err) {
				return
			}
			logger.ErrorContext(ctx, "poll task failed", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeLookupPoll, processor.HandlePollTask)
	return srv, mux
}
