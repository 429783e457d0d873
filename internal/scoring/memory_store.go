package scoring

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	verdicts []*FraudVerdict
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory verdict store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, verdict *FraudVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := *verdict
	v.Explanation = append([]string(nil), verdict.Explanation...)
	s.verdicts = append(s.verdicts, &v)
	return nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int, opts ...ListOption) ([]*FraudVerdict, error) {
	o := applyListOpts(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Most recent first, up to limit.
	result := make([]*FraudVerdict, 0, limit)
	for i := len(s.verdicts) - 1; i >= 0 && len(result) < limit; i-- {
		if o.cursor != nil && !s.verdicts[i].EvaluatedAt.Before(o.cursor.CreatedAt) {
			continue
		}
		v := *s.verdicts[i]
		v.Explanation = append([]string(nil), s.verdicts[i].Explanation...)
		result = append(result, &v)
	}
	return result, nil
}
