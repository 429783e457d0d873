package feedback

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagepay/fraudlens/internal/circuitbreaker"
	"github.com/vantagepay/fraudlens/internal/domain"
	"github.com/vantagepay/fraudlens/internal/scoring"
)

func newTestLearner(opts ...Option) *Learner {
	base := []Option{WithRand(rand.New(rand.NewSource(7)))}
	return NewLearner(append(base, opts...)...)
}

func verdict(id string, prob, conf float64, level scoring.RiskLevel) *scoring.FraudVerdict {
	return &scoring.FraudVerdict{
		TransactionID:    id,
		FraudProbability: prob,
		Confidence:       conf,
		RiskLevel:        level,
		EvaluatedAt:      time.Now(),
	}
}

func record(txID, reviewer string, label Label) *Record {
	return &Record{
		TransactionID: txID,
		Label:         label,
		Confidence:    0.8,
		ReviewerID:    reviewer,
		EvidenceType:  EvidenceManualReview,
	}
}

// ---------------------------------------------------------------------------
// IdentifyUncertain
// ---------------------------------------------------------------------------

func TestIdentifyUncertainSelectsBoundaryVerdicts(t *testing.T) {
	l := newTestLearner()

	verdicts := []*scoring.FraudVerdict{
		verdict("txn_sure", 0.02, 0.95, scoring.RiskLow),      // confident, far from boundary
		verdict("txn_border", 0.5, 0.6, scoring.RiskMedium),   // on the boundary
		verdict("txn_unsure", 0.45, 0.3, scoring.RiskMedium),  // low scorer confidence
	}

	queries := l.IdentifyUncertain(verdicts, nil, nil)

	selected := map[string]bool{}
	for _, q := range queries {
		selected[q.TransactionID] = true
	}
	assert.True(t, selected["txn_border"], "boundary verdict should be selected")
	assert.True(t, selected["txn_unsure"], "low-confidence verdict should be selected")
	assert.False(t, selected["txn_sure"], "confident verdict should not be selected")
}

func TestIdentifyUncertainCapsAtTen(t *testing.T) {
	l := newTestLearner()

	var verdicts []*scoring.FraudVerdict
	for i := 0; i < 25; i++ {
		verdicts = append(verdicts, verdict("txn_"+string(rune('a'+i)), 0.5, 0.3, scoring.RiskMedium))
	}

	queries := l.IdentifyUncertain(verdicts, nil, nil)
	assert.LessOrEqual(t, len(queries), 10)

	// Sorted descending by combined score.
	for i := 1; i < len(queries); i++ {
		assert.GreaterOrEqual(t, queries[i-1].CombinedScore, queries[i].CombinedScore)
	}
}

func TestIdentifyUncertainSkipsResolvedTransactions(t *testing.T) {
	l := newTestLearner()
	require.NoError(t, l.SubmitFeedback(context.Background(), record("txn_done", "analyst_1", LabelFraud)))

	queries := l.IdentifyUncertain([]*scoring.FraudVerdict{
		verdict("txn_done", 0.5, 0.3, scoring.RiskMedium),
		verdict("txn_new", 0.5, 0.3, scoring.RiskMedium),
	}, nil, nil)

	for _, q := range queries {
		assert.NotEqual(t, "txn_done", q.TransactionID, "resolved transaction must never be re-queried")
	}
}

func TestIdentifyUncertainExplorationFloor(t *testing.T) {
	l := newTestLearner()

	// With an empty feedback pool, diversity is pinned high even for an
	// otherwise unremarkable transaction.
	queries := l.IdentifyUncertain(
		[]*scoring.FraudVerdict{verdict("txn_x", 0.5, 0.5, scoring.RiskMedium)},
		[]*domain.Transaction{{ID: "txn_x", Amount: 20}},
		nil,
	)

	require.Len(t, queries, 1)
	assert.Equal(t, 0.8, queries[0].DiversityScore)
}

func TestSuggestedReviewersEscalation(t *testing.T) {
	l := newTestLearner()

	v := verdict("txn_big", 0.5, 0.3, scoring.RiskHigh)
	v.BiometricAnomalyCount = 3
	tx := &domain.Transaction{ID: "txn_big", Amount: 20000}

	queries := l.IdentifyUncertain([]*scoring.FraudVerdict{v}, []*domain.Transaction{tx}, nil)
	require.Len(t, queries, 1)

	reviewers := queries[0].SuggestedReviewers
	assert.Contains(t, reviewers, "senior_analyst")
	assert.Contains(t, reviewers, "biometric_specialist")
	// Two least-loaded roster reviewers are always appended.
	assert.GreaterOrEqual(t, len(reviewers), 4)

	// No duplicates.
	seen := map[string]bool{}
	for _, r := range reviewers {
		assert.False(t, seen[r], "duplicate reviewer %s", r)
		seen[r] = true
	}
}

// ---------------------------------------------------------------------------
// SubmitFeedback
// ---------------------------------------------------------------------------

func TestSubmitFeedbackStoresAndResolves(t *testing.T) {
	l := newTestLearner()

	// Put the transaction in the pending queue first.
	l.IdentifyUncertain([]*scoring.FraudVerdict{verdict("txn_1", 0.5, 0.3, scoring.RiskMedium)}, nil, nil)
	require.Len(t, l.PendingReviews(), 1)

	require.NoError(t, l.SubmitFeedback(context.Background(), record("txn_1", "analyst_1", LabelFraud)))

	assert.Empty(t, l.PendingReviews(), "feedback must resolve the pending review")
	assert.True(t, l.HasFeedback("txn_1"))
	assert.Equal(t, 1, l.ReviewerWorkload()["analyst_1"])
}

func TestSubmitFeedbackValidation(t *testing.T) {
	l := newTestLearner()
	ctx := context.Background()

	cases := []*Record{
		nil,
		{Label: LabelFraud, ReviewerID: "a"},                             // no txn id
		{TransactionID: "t", ReviewerID: "a"},                            // no label
		{TransactionID: "t", Label: "bogus", ReviewerID: "a"},            // bad label
		{TransactionID: "t", Label: LabelFraud},                          // no reviewer
	}
	for _, rec := range cases {
		err := l.SubmitFeedback(ctx, rec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidInput))
	}

	// Rejection happens before any state mutation.
	assert.Empty(t, l.ReviewerWorkload())
	assert.Empty(t, l.History(0))
}

func TestSubmitFeedbackOverwritesSameTransaction(t *testing.T) {
	l := newTestLearner()
	ctx := context.Background()

	require.NoError(t, l.SubmitFeedback(ctx, record("txn_1", "analyst_1", LabelFraud)))
	require.NoError(t, l.SubmitFeedback(ctx, record("txn_1", "analyst_2", LabelLegitimate)))

	history := l.History(0)
	require.Len(t, history, 1)
	assert.Equal(t, LabelLegitimate, history[0].Label)
}

func TestBankConfirmationTriggersImmediateUpdate(t *testing.T) {
	l := newTestLearner()

	rec := record("txn_1", "analyst_1", LabelFraud)
	rec.Confidence = 0.95
	rec.EvidenceType = EvidenceBankConfirmation
	require.NoError(t, l.SubmitFeedback(context.Background(), rec))

	status := l.QueueStatus()
	require.Equal(t, 1, status.Depth)
	assert.Equal(t, 1, status.ByPriority["high"])
	assert.False(t, status.NextScheduled.After(time.Now()), "high priority updates are scheduled immediately")
}

func TestLowConfidenceBankConfirmationDoesNotTrigger(t *testing.T) {
	l := newTestLearner()

	rec := record("txn_1", "analyst_1", LabelFraud)
	rec.Confidence = 0.8
	rec.EvidenceType = EvidenceBankConfirmation
	require.NoError(t, l.SubmitFeedback(context.Background(), rec))

	assert.Equal(t, 0, l.QueueStatus().Depth)
}

func TestVolumeTriggerSchedulesUpdate(t *testing.T) {
	l := newTestLearner()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.SubmitFeedback(ctx, record(
			"txn_"+string(rune('a'+i)), "analyst_1", LabelLegitimate)))
	}

	status := l.QueueStatus()
	assert.GreaterOrEqual(t, status.ByPriority["high"], 1,
		"ten submissions within the hour should schedule a high-priority update")
}

func TestBatchFeedbackEnqueuesMediumUpdate(t *testing.T) {
	l := newTestLearner()

	var records []*Record
	for i := 0; i < 5; i++ {
		records = append(records, record("txn_"+string(rune('a'+i)), "analyst_2", LabelFraud))
	}
	require.NoError(t, l.SubmitBatchFeedback(context.Background(), records))

	status := l.QueueStatus()
	assert.GreaterOrEqual(t, status.ByPriority["medium"], 1)
	assert.Equal(t, 5, l.ReviewerWorkload()["analyst_2"])
}

func TestCapacityEvictsOldestFIFO(t *testing.T) {
	l := newTestLearner(WithCapacity(3))
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, l.SubmitFeedback(ctx, record(id, "analyst_1", LabelFraud)))
	}

	assert.False(t, l.HasFeedback("t1"), "oldest record evicted")
	assert.True(t, l.HasFeedback("t2"))
	assert.True(t, l.HasFeedback("t4"))
	assert.Len(t, l.History(0), 3)
}

// ---------------------------------------------------------------------------
// Update queue
// ---------------------------------------------------------------------------

type failingExecutor struct{ calls int }

func (f *failingExecutor) Execute(context.Context, *UpdateRequest) error {
	f.calls++
	return errors.New("training backend unavailable")
}

func TestProcessDueUpdatesAppliesAndNudgesPerformance(t *testing.T) {
	l := newTestLearner()
	before := l.Performance()

	rec := record("txn_1", "analyst_1", LabelFraud)
	rec.Confidence = 0.95
	rec.EvidenceType = EvidenceBankConfirmation
	require.NoError(t, l.SubmitFeedback(context.Background(), rec))

	n := l.ProcessDueUpdates(context.Background(), time.Now().Add(time.Second))
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, l.QueueStatus().Depth)

	after := l.Performance()
	assert.Greater(t, after.Accuracy, before.Accuracy)
	assert.Greater(t, after.Recall, before.Recall)
	assert.LessOrEqual(t, after.Accuracy, 0.99)
	assert.Equal(t, before.SampleSize+1, after.SampleSize)
}

func TestFailedUpdateIsRescheduledNotDropped(t *testing.T) {
	exec := &failingExecutor{}
	l := newTestLearner(WithExecutor(exec))

	rec := record("txn_1", "analyst_1", LabelFraud)
	rec.Confidence = 0.95
	rec.EvidenceType = EvidenceBankConfirmation
	require.NoError(t, l.SubmitFeedback(context.Background(), rec))

	now := time.Now().Add(time.Second)
	n := l.ProcessDueUpdates(context.Background(), now)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, exec.calls)

	status := l.QueueStatus()
	require.Equal(t, 1, status.Depth, "failed update stays queued")
	assert.WithinDuration(t, now.Add(10*time.Minute), status.NextScheduled, time.Second)

	// Not due yet at +5m.
	assert.Equal(t, 0, l.ProcessDueUpdates(context.Background(), now.Add(5*time.Minute)))
	// Due again at +10m; still failing, rescheduled again.
	assert.Equal(t, 0, l.ProcessDueUpdates(context.Background(), now.Add(11*time.Minute)))
	assert.Equal(t, 2, exec.calls)
	assert.Equal(t, 1, l.QueueStatus().Depth)
}

func TestBreakerParksUpdatesAfterRepeatedFailures(t *testing.T) {
	exec := &failingExecutor{}
	l := newTestLearner(WithExecutor(exec),
		WithBreaker(circuitbreaker.New(2, time.Hour)))

	rec := record("txn_1", "analyst_1", LabelFraud)
	rec.Confidence = 0.95
	rec.EvidenceType = EvidenceBankConfirmation
	require.NoError(t, l.SubmitFeedback(context.Background(), rec))

	now := time.Now()
	l.ProcessDueUpdates(context.Background(), now.Add(time.Second))
	l.ProcessDueUpdates(context.Background(), now.Add(11*time.Minute))
	require.Equal(t, 2, exec.calls)

	// Circuit is open: the update stays parked, the executor is spared.
	l.ProcessDueUpdates(context.Background(), now.Add(22*time.Minute))
	assert.Equal(t, 2, exec.calls)
	assert.Equal(t, 1, l.QueueStatus().Depth)
}

func TestMediumUpdateNotDueBeforeDelay(t *testing.T) {
	l := newTestLearner()

	var records []*Record
	for i := 0; i < 5; i++ {
		records = append(records, record("txn_"+string(rune('a'+i)), "analyst_1", LabelFraud))
	}
	require.NoError(t, l.SubmitBatchFeedback(context.Background(), records))

	assert.Equal(t, 0, l.ProcessDueUpdates(context.Background(), time.Now()),
		"medium updates wait five minutes")
	assert.Equal(t, 1, l.ProcessDueUpdates(context.Background(), time.Now().Add(6*time.Minute)))
}

// ---------------------------------------------------------------------------
// Performance
// ---------------------------------------------------------------------------

func TestApplyDriftStaysBounded(t *testing.T) {
	l := newTestLearner()
	before := l.Performance()

	l.ApplyDrift(time.Now())
	after := l.Performance()

	assert.InDelta(t, before.Accuracy, after.Accuracy, 0.005)
	assert.InDelta(t, before.Precision, after.Precision, 0.005)
	assert.InDelta(t, before.Recall, after.Recall, 0.005)
	assert.InDelta(t, 1-after.Precision, after.FalsePositiveRate, 1e-9)
	assert.InDelta(t, 1-after.Recall, after.FalseNegativeRate, 1e-9)

	// F1 is the harmonic mean of precision and recall.
	wantF1 := 2 * after.Precision * after.Recall / (after.Precision + after.Recall)
	assert.InDelta(t, wantF1, after.F1, 1e-9)
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

func TestGenerateReportAggregates(t *testing.T) {
	l := newTestLearner()
	ctx := context.Background()

	require.NoError(t, l.SubmitFeedback(ctx, record("t1", "analyst_1", LabelFraud)))
	require.NoError(t, l.SubmitFeedback(ctx, record("t2", "analyst_1", LabelFraud)))
	require.NoError(t, l.SubmitFeedback(ctx, record("t3", "analyst_2", LabelLegitimate)))

	report := l.GenerateReport(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NotNil(t, report)

	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, 2, report.ByLabel["fraud"])
	assert.Equal(t, 1, report.ByLabel["legitimate"])
	assert.InDelta(t, 2.0/3.0, report.FraudRate, 1e-9)
	assert.InDelta(t, 0.8, report.AvgConfidence, 1e-9)
}

func TestGenerateReportEmptyRange(t *testing.T) {
	l := newTestLearner()
	require.NoError(t, l.SubmitFeedback(context.Background(), record("t1", "analyst_1", LabelFraud)))

	// Window entirely in the past excludes the record.
	report := l.GenerateReport(time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	assert.Equal(t, 0, report.TotalRecords)
	assert.Equal(t, 0.0, report.FraudRate)
}
