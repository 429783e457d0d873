package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagepay/fraudlens/internal/pagination"
	"github.com/vantagepay/fraudlens/internal/scoring"
	"github.com/vantagepay/fraudlens/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := scoring.NewPostgresStore(db)
	ctx := context.Background()

	verdict := &scoring.FraudVerdict{
		TransactionID:         "txn_pg_1",
		FraudProbability:      0.7,
		RiskLevel:             scoring.RiskHigh,
		Explanation:           []string{"High amount: $6000.00", "Unusual transaction time: 02:00"},
		BiometricAnomalyCount: 1,
		Confidence:            0.82,
		NodeCount:             12,
		EvaluatedAt:           time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Record(ctx, verdict))

	got, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "txn_pg_1", got[0].TransactionID)
	assert.InDelta(t, 0.7, got[0].FraudProbability, 1e-3)
	assert.Equal(t, scoring.RiskHigh, got[0].RiskLevel)
	assert.Equal(t, verdict.Explanation, got[0].Explanation)
	assert.Equal(t, 1, got[0].BiometricAnomalyCount)
	assert.Equal(t, 12, got[0].NodeCount)
	assert.False(t, got[0].Degraded)
}

func TestPostgresStoreCursorPagination(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := scoring.NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)
	for i, id := range []string{"txn_1", "txn_2", "txn_3", "txn_4"} {
		require.NoError(t, store.Record(ctx, &scoring.FraudVerdict{
			TransactionID:    id,
			FraudProbability: 0.5,
			RiskLevel:        scoring.RiskMedium,
			Confidence:       0.7,
			EvaluatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "txn_4", page[0].TransactionID)
	assert.Equal(t, "txn_3", page[1].TransactionID)

	last := page[len(page)-1]
	next, err := store.ListRecent(ctx, 2,
		scoring.WithCursor(pagination.Encode(last.EvaluatedAt, last.TransactionID)))
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "txn_2", next[0].TransactionID)
	assert.Equal(t, "txn_1", next[1].TransactionID)
}
