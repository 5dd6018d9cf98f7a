// Package ports defines the interfaces the lookup module consumes.
// Interfaces live here because the coordinator, completer, worker and
// dispatcher all depend on them.
package ports

import (
	"context"

	"verigate/internal/lookup/models"
)

//go:generate mockgen -source=ports.go -destination=mocks/ports-mocks.go -package=mocks

// ResultStore persists lookup records. Records are append-only.
type ResultStore interface {
	// FindLatest returns the candidate's newest record among types, or nil.
	FindLatest(ctx context.Context, candidateID string, types []models.LookupType) (*models.LookupRecord, error)

	// FindNegative returns a permanent not-found record for (type, value)
	// regardless of candidate, or nil.
	FindNegative(ctx context.Context, lookupType models.LookupType, value string) (*models.LookupRecord, error)

	// Append inserts a new record.
	Append(ctx context.Context, record *models.LookupRecord) error

	// GroupByType returns the candidate's records per type, newest first.
	GroupByType(ctx context.Context, candidateID string, types []models.LookupType) (map[models.LookupType][]*models.LookupRecord, error)
}

// JobQueue tracks deferred provider jobs.
type JobQueue interface {
	// Enqueue inserts a pending entry. Returns sentinel.ErrConflict when a
	// pending entry already exists for the candidate and type.
	Enqueue(ctx context.Context, entry *models.QueueEntry) error

	// IsPending reports whether a pending entry exists.
	IsPending(ctx context.Context, candidateID string, lookupType models.LookupType) (bool, error)

	// Pending returns the pending entry, or nil.
	Pending(ctx context.Context, candidateID string, lookupType models.LookupType) (*models.QueueEntry, error)

	// MarkCompleted transitions the pending entry to completed and reports
	// whether one was pending. A missing entry is not an error.
	MarkCompleted(ctx context.Context, candidateID string, lookupType models.LookupType) (bool, error)
}

// Executor performs the provider interaction for one lookup type.
type Executor interface {
	Execute(ctx context.Context, call models.ProviderCall) (*models.ProviderAnswer, error)
}

// Publisher announces new lookup records to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// ProfileWriter persists a successful verification onto the candidate profile.
// The candidate profile store itself lives outside this service.
type ProfileWriter interface {
	RecordVerified(ctx context.Context, record models.LookupRecord) error
}

// JobScheduler schedules background polling of a deferred provider job.
type JobScheduler interface {
	SchedulePoll(ctx context.Context, entry models.QueueEntry) error
}
