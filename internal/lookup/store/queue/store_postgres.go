package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"verigate/internal/lookup/models"
	"verigate/pkg/platform/sentinel"
	txcontext "verigate/pkg/platform/tx"
	"verigate/pkg/requestcontext"
)

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index on pending entries.
const uniqueViolation = "23505"

// PostgresStore persists deferred jobs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Enqueue(ctx context.Context, entry *models.QueueEntry) error {
	if entry == nil {
		return fmt.Errorf("queue entry is required")
	}
	prepareEntry(ctx, entry)

	query := `
		INSERT INTO lookup_queue (id, candidate_id, lookup_type, lookup_value, provider_job_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.CandidateID,
		string(entry.LookupType),
		entry.LookupValue,
		entry.ProviderJobID,
		string(entry.Status),
		entry.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsPending(ctx context.Context, candidateID string, lookupType models.LookupType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM lookup_queue
			WHERE candidate_id = $1 AND lookup_type = $2 AND status = 'pending'
		)
	`
	var exists bool
	if err := s.execer(ctx).QueryRowContext(ctx, query, candidateID, string(lookupType)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pending queue entry: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Pending(ctx context.Context, candidateID string, lookupType models.LookupType) (*models.QueueEntry, error) {
	query := `
		SELECT id, candidate_id, lookup_type, lookup_value, provider_job_id, status, created_at, completed_at
		FROM lookup_queue
		WHERE candidate_id = $1 AND lookup_type = $2 AND status = 'pending'
	`
	var (
		entry       models.QueueEntry
		entryType   string
		status      string
		completedAt sql.NullTime
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, candidateID, string(lookupType)).Scan(
		&entry.ID,
		&entry.CandidateID,
		&entryType,
		&entry.LookupValue,
		&entry.ProviderJobID,
		&status,
		&entry.CreatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending queue entry: %w", err)
	}
	entry.LookupType = models.LookupType(entryType)
	entry.Status = models.QueueStatus(status)
	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}
	return &entry, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, candidateID string, lookupType models.LookupType) (bool, error) {
	query := `
		UPDATE lookup_queue
		SET status = 'completed', completed_at = $3
		WHERE candidate_id = $1 AND lookup_type = $2 AND status = 'pending'
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, candidateID, string(lookupType), requestcontext.Now(ctx))
	if err != nil {
		return false, fmt.Errorf("complete queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete queue entry: %w", err)
	}
	return n > 0, nil
}
