package result

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"verigate/internal/lookup/models"
	txcontext "verigate/pkg/platform/tx"
)

// PostgresStore persists lookup records in PostgreSQL. Rows are only ever
// inserted, so concurrent readers never observe partial updates.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `id, candidate_id, lookup_type, lookup_value, response_data, status_code, message, created_at`

func (s *PostgresStore) Append(ctx context.Context, record *models.LookupRecord) error {
	if record == nil {
		return fmt.Errorf("lookup record is required")
	}
	prepareRecord(ctx, record)

	var data any
	if len(record.ResponseData) > 0 {
		data = []byte(record.ResponseData)
	}
	query := `
		INSERT INTO lookup_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		record.ID,
		record.CandidateID,
		string(record.LookupType),
		record.LookupValue,
		data,
		record.StatusCode,
		record.Message,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lookup record: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindLatest(ctx context.Context, candidateID string, types []models.LookupType) (*models.LookupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM lookup_records WHERE candidate_id = $1`
	args := []any{candidateID}
	if len(types) > 0 {
		query += ` AND lookup_type = ANY($2)`
		args = append(args, pq.Array(typeStrings(types)))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	record, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest lookup record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) FindNegative(ctx context.Context, lookupType models.LookupType, value string) (*models.LookupRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM lookup_records
		WHERE lookup_type = $1 AND lookup_value = $2 AND status_code = $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	record, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, string(lookupType), value, models.StatusNotFound))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find negative lookup record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) GroupByType(ctx context.Context, candidateID string, types []models.LookupType) (map[models.LookupType][]*models.LookupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM lookup_records WHERE candidate_id = $1`
	args := []any{candidateID}
	if len(types) > 0 {
		query += ` AND lookup_type = ANY($2)`
		args = append(args, pq.Array(typeStrings(types)))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lookup records: %w", err)
	}
	defer rows.Close()

	grouped := make(map[models.LookupType][]*models.LookupRecord)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lookup record: %w", err)
		}
		grouped[record.LookupType] = append(grouped[record.LookupType], record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lookup records: %w", err)
	}
	return grouped, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.LookupRecord, error) {
	var (
		record     models.LookupRecord
		lookupType string
		data       []byte
	)
	if err := row.Scan(
		&record.ID,
		&record.CandidateID,
		&lookupType,
		&record.LookupValue,
		&data,
		&record.StatusCode,
		&record.Message,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}
	record.LookupType = models.LookupType(lookupType)
	if len(data) > 0 {
		record.ResponseData = json.RawMessage(data)
	}
	return &record, nil
}

func typeStrings(types []models.LookupType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
