package result

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"verigate/internal/lookup/models"
	"verigate/pkg/requestcontext"
)

type storedRecord struct {
	record models.LookupRecord
	seq    uint64
}

// InMemoryStore keeps lookup records in process memory. Records are copied
// on the way in and out so callers cannot mutate stored history.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []storedRecord
	seq     uint64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, record *models.LookupRecord) error {
	if record == nil {
		return fmt.Errorf("lookup record is required")
	}
	prepareRecord(ctx, record)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.records = append(s.records, storedRecord{record: cloneRecord(*record), seq: s.seq})
	return nil
}

func (s *InMemoryStore) FindLatest(_ context.Context, candidateID string, types []models.LookupType) (*models.LookupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *storedRecord
	for i := range s.records {
		r := &s.records[i]
		if r.record.CandidateID != candidateID || !matchesType(r.record.LookupType, types) {
			continue
		}
		if latest == nil || newer(r, latest) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := cloneRecord(latest.record)
	return &out, nil
}

func (s *InMemoryStore) FindNegative(_ context.Context, lookupType models.LookupType, value string) (*models.LookupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *storedRecord
	for i := range s.records {
		r := &s.records[i]
		if r.record.LookupType != lookupType || r.record.LookupValue != value || !r.record.IsNegative() {
			continue
		}
		if found == nil || newer(r, found) {
			found = r
		}
	}
	if found == nil {
		return nil, nil
	}
	out := cloneRecord(found.record)
	return &out, nil
}

func (s *InMemoryStore) GroupByType(_ context.Context, candidateID string, types []models.LookupType) (map[models.LookupType][]*models.LookupRecord, error) {
	s.mu.RLock()
	matched := make([]storedRecord, 0)
	for _, r := range s.records {
		if r.record.CandidateID == candidateID && matchesType(r.record.LookupType, types) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return newer(&matched[i], &matched[j])
	})

	grouped := make(map[models.LookupType][]*models.LookupRecord)
	for _, r := range matched {
		rec := cloneRecord(r.record)
		grouped[rec.LookupType] = append(grouped[rec.LookupType], &rec)
	}
	return grouped, nil
}

// newer orders by creation time, then by insertion order.
func newer(a, b *storedRecord) bool {
	if !a.record.CreatedAt.Equal(b.record.CreatedAt) {
		return a.record.CreatedAt.After(b.record.CreatedAt)
	}
	return a.seq > b.seq
}

func matchesType(t models.LookupType, types []models.LookupType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

func prepareRecord(ctx context.Context, record *models.LookupRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = requestcontext.Now(ctx)
	}
}

func cloneRecord(r models.LookupRecord) models.LookupRecord {
	if r.ResponseData != nil {
		r.ResponseData = append([]byte(nil), r.ResponseData...)
	}
	return r
}
