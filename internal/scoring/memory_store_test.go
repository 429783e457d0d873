package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagepay/fraudlens/internal/pagination"
)

func storedVerdict(id string, prob float64, level RiskLevel) *FraudVerdict {
	return &FraudVerdict{
		TransactionID:    id,
		FraudProbability: prob,
		RiskLevel:        level,
		Explanation:      []string{"High amount: $6000.00"},
		Confidence:       0.8,
		EvaluatedAt:      time.Now(),
	}
}

func TestMemoryStoreRecordAndListRecent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.Record(ctx, storedVerdict(id, 0.7, RiskHigh)))
	}

	got, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t3", got[0].TransactionID, "most recent first")
	assert.Equal(t, "t2", got[1].TransactionID)

	got, err = s.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMemoryStoreCursorPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3", "t4"} {
		v := storedVerdict(id, 0.7, RiskHigh)
		v.EvaluatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Record(ctx, v))
	}

	page, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "t4", page[0].TransactionID)
	assert.Equal(t, "t3", page[1].TransactionID)

	last := page[len(page)-1]
	next, err := s.ListRecent(ctx, 2,
		WithCursor(pagination.Encode(last.EvaluatedAt, last.TransactionID)))
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "t2", next[0].TransactionID)
	assert.Equal(t, "t1", next[1].TransactionID)
}

func TestMemoryStoreIgnoresInvalidCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, storedVerdict("t1", 0.7, RiskHigh)))

	got, err := s.ListRecent(ctx, 5, WithCursor("%%%not-base64%%%"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStoreListRecentEmpty(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.ListRecent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreCopiesExplanation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v := storedVerdict("t1", 0.7, RiskHigh)
	require.NoError(t, s.Record(ctx, v))

	// Mutating the caller's slice after Record must not reach the store.
	v.Explanation[0] = "mutated"

	got, err := s.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Explanation, 1)
	assert.Equal(t, "High amount: $6000.00", got[0].Explanation[0])

	// And mutating the returned copy must not corrupt later reads.
	got[0].Explanation[0] = "also mutated"
	again, err := s.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "High amount: $6000.00", again[0].Explanation[0])
}
