package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"verigate/internal/lookup/models"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

type pendingKey struct {
	candidateID string
	lookupType  models.LookupType
}

// InMemoryStore tracks deferred jobs in process memory. The pending index
// enforces at most one pending entry per (candidate, type).
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*models.QueueEntry
	pending map[pendingKey]*models.QueueEntry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{pending: make(map[pendingKey]*models.QueueEntry)}
}

func (s *InMemoryStore) Enqueue(ctx context.Context, entry *models.QueueEntry) error {
	if entry == nil {
		return fmt.Errorf("queue entry is required")
	}
	prepareEntry(ctx, entry)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey{entry.CandidateID, entry.LookupType}
	if _, exists := s.pending[key]; exists {
		return sentinel.ErrConflict
	}
	stored := *entry
	s.entries = append(s.entries, &stored)
	s.pending[key] = &stored
	return nil
}

func (s *InMemoryStore) IsPending(_ context.Context, candidateID string, lookupType models.LookupType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[pendingKey{candidateID, lookupType}]
	return ok, nil
}

func (s *InMemoryStore) Pending(_ context.Context, candidateID string, lookupType models.LookupType) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.pending[pendingKey{candidateID, lookupType}]
	if !ok {
		return nil, nil
	}
	out := *entry
	return &out, nil
}

func (s *InMemoryStore) MarkCompleted(ctx context.Context, candidateID string, lookupType models.LookupType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey{candidateID, lookupType}
	entry, ok := s.pending[key]
	if !ok {
		return false, nil
	}
	completedAt := requestcontext.Now(ctx)
	entry.Status = models.QueueStatusCompleted
	entry.CompletedAt = &completedAt
	delete(s.pending, key)
	return true, nil
}

func prepareEntry(ctx context.Context, entry *models.QueueEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = requestcontext.Now(ctx)
	}
	entry.Status = models.QueueStatusPending
	entry.CompletedAt = nil
}
