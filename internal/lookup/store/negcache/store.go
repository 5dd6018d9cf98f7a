// Package negcache mirrors permanent not-found lookup records into Redis so
// repeat lookups of a known-bad value skip the database.
package negcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports"
	"verigate/pkg/platform/tx"
)

const keyPrefix = "verigate:neg:"

// Store decorates a ResultStore. Negative records never expire: a not-found
// answer for a value is permanent.
type Store struct {
	inner   ports.ResultStore
	client  redis.Cmdable
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func New(inner ports.ResultStore, client redis.Cmdable, opts ...Option) (*Store, error) {
	if inner == nil {
		return nil, errors.New("inner result store is required")
	}
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &Store{inner: inner, client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Key returns the Redis key holding the negative record for (type, value).
func Key(lookupType models.LookupType, value string) string {
	return keyPrefix + string(lookupType) + ":" + value
}

func (s *Store) FindNegative(ctx context.Context, lookupType models.LookupType, value string) (*models.LookupRecord, error) {
	raw, err := s.client.Get(ctx, Key(lookupType, value)).Bytes()
	switch {
	case err == nil:
		var record models.LookupRecord
		if jsonErr := json.Unmarshal(raw, &record); jsonErr == nil {
			s.metrics.IncrementNegativeCacheHit("redis")
			return &record, nil
		}
		s.logger.WarnContext(ctx, "discarding corrupt negative cache entry", "lookup_type", lookupType)
	case errors.Is(err, redis.Nil):
	default:
		// Redis is an accelerator; the store stays authoritative.
		s.logger.WarnContext(ctx, "negative cache read failed", "error", err, "lookup_type", lookupType)
	}

	record, err := s.inner.FindNegative(ctx, lookupType, value)
	if err != nil || record == nil {
		return record, err
	}
	s.metrics.IncrementNegativeCacheHit("store")
	s.mirror(ctx, record)
	return record, nil
}

// Append writes through to the inner store. A negative record appended
// inside a transaction is not mirrored: the transaction may still roll back,
// and FindNegative backfills Redis once the committed row is read.
func (s *Store) Append(ctx context.Context, record *models.LookupRecord) error {
	if err := s.inner.Append(ctx, record); err != nil {
		return err
	}
	if !record.IsNegative() {
		return nil
	}
	if _, inTx := tx.From(ctx); inTx {
		return nil
	}
	s.mirror(ctx, record)
	return nil
}

func (s *Store) FindLatest(ctx context.Context, candidateID string, types []models.LookupType) (*models.LookupRecord, error) {
	return s.inner.FindLatest(ctx, candidateID, types)
}

func (s *Store) GroupByType(ctx context.Context, candidateID string, types []models.LookupType) (map[models.LookupType][]*models.LookupRecord, error) {
	return s.inner.GroupByType(ctx, candidateID, types)
}

func (s *Store) mirror(ctx context.Context, record *models.LookupRecord) {
	if err := s.set(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "negative cache write failed", "error", err, "lookup_type", record.LookupType)
	}
}

func (s *Store) set(ctx context.Context, record *models.LookupRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal negative record: %w", err)
	}
	// SETNX keeps the first negative answer for the value.
	return s.client.SetNX(ctx, Key(record.LookupType, record.LookupValue), payload, 0).Err()
}
