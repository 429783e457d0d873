package feedback

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory feedback store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveRecord(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.records = append(s.records, &r)
	return nil
}

func (s *MemoryStore) ListByReviewer(ctx context.Context, reviewerID string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Most recent first, up to limit.
	result := make([]*Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(result) < limit; i-- {
		if s.records[i].ReviewerID != reviewerID {
			continue
		}
		r := *s.records[i]
		result = append(result, &r)
	}
	return result, nil
}
