package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/vantagepay/fraudlens/internal/biometric"
	"github.com/vantagepay/fraudlens/internal/circuitbreaker"
	"github.com/vantagepay/fraudlens/internal/domain"
	"github.com/vantagepay/fraudlens/internal/idgen"
	"github.com/vantagepay/fraudlens/internal/metrics"
	"github.com/vantagepay/fraudlens/internal/retry"
	"github.com/vantagepay/fraudlens/internal/scoring"
)

// Selection parameters.
const (
	uncertaintyWeight  = 0.4
	diversityWeight    = 0.3
	importanceWeight   = 0.3
	selectionThreshold = 0.6
	maxSelected        = 10

	// explorationFloor forces diversity while fewer than
	// explorationMinRecords feedback records exist overall.
	explorationFloor      = 0.8
	explorationMinRecords = 10

	// Volume trigger: this many submissions in the trailing hour
	// schedules an immediate incremental update.
	volumeTriggerCount  = 10
	volumeTriggerWindow = time.Hour

	// Batch feedback of at least this size enqueues a medium update.
	batchUpdateMin = 5

	// DefaultCapacity bounds feedback-history retention (FIFO eviction).
	DefaultCapacity = 10000

	driftBound = 0.005
	perfCeil   = 0.99
)

// UpdateExecutor applies a queued model update. Implementations may fail;
// failed updates are rescheduled, never dropped.
type UpdateExecutor interface {
	Execute(ctx context.Context, req *UpdateRequest) error
}

// noopExecutor stands in for a real training pipeline.
type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, *UpdateRequest) error { return nil }

// Learner owns all feedback-loop state. Every public method is safe for
// concurrent use; the update queue is drained atomically so an update is
// neither lost nor executed twice.
type Learner struct {
	mu          sync.Mutex
	history     map[string]*Record
	order       []string // insertion order of history keys, for FIFO eviction
	pending     map[string]*Query
	updates     []*UpdateRequest
	workload    map[string]int
	submissions []time.Time // trailing-window submission times
	perf        PerformanceSnapshot

	capacity   int
	reviewers  []string
	senior     string
	specialist string

	executor UpdateExecutor
	breaker  *circuitbreaker.Breaker
	store    Store
	rng      *rand.Rand
	logger   *slog.Logger
}

// Option configures the Learner.
type Option func(*Learner)

// WithCapacity bounds feedback-history retention.
func WithCapacity(n int) Option {
	return func(l *Learner) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithExecutor replaces the model-update executor.
func WithExecutor(e UpdateExecutor) Option {
	return func(l *Learner) { l.executor = e }
}

// WithBreaker replaces the circuit breaker guarding the executor.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(l *Learner) { l.breaker = b }
}

// WithStore sets an optional persistence store for feedback records
// (best-effort audit trail).
func WithStore(s Store) Option {
	return func(l *Learner) { l.store = s }
}

// WithLogger sets a structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Learner) { l.logger = lg }
}

// WithReviewers sets the reviewer roster plus the senior and specialist
// reviewers used by escalation suggestions.
func WithReviewers(roster []string, senior, specialist string) Option {
	return func(l *Learner) {
		l.reviewers = roster
		l.senior = senior
		l.specialist = specialist
	}
}

// WithRand sets the random source for performance drift (seeded in tests).
func WithRand(r *rand.Rand) Option {
	return func(l *Learner) { l.rng = r }
}

// NewLearner creates a Learner with the default roster and a plausible
// starting performance snapshot.
func NewLearner(opts ...Option) *Learner {
	l := &Learner{
		history:    make(map[string]*Record),
		pending:    make(map[string]*Query),
		workload:   make(map[string]int),
		capacity:   DefaultCapacity,
		reviewers:  []string{"analyst_1", "analyst_2", "analyst_3"},
		senior:     "senior_analyst",
		specialist: "biometric_specialist",
		executor:   noopExecutor{},
		breaker:    circuitbreaker.New(5, 5*time.Minute),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     slog.Default(),
		perf: PerformanceSnapshot{
			Accuracy:    0.87,
			Precision:   0.84,
			Recall:      0.81,
			AUC:         0.88,
			SampleSize:  1000,
			LastUpdated: time.Now(),
		},
	}
	l.perf.F1 = harmonicMean(l.perf.Precision, l.perf.Recall)
	l.perf.FalsePositiveRate = 1 - l.perf.Precision
	l.perf.FalseNegativeRate = 1 - l.perf.Recall
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ---------------------------------------------------------------------------
// Active-learning selection
// ---------------------------------------------------------------------------

// IdentifyUncertain selects the most informative verdicts for human
// review. Transactions with existing feedback are never re-selected.
// Selected items enter the pending-review queue; at most ten are
// returned, sorted descending by combined score.
func (l *Learner) IdentifyUncertain(verdicts []*scoring.FraudVerdict,
	transactions []*domain.Transaction, biometrics []*biometric.Assessment) []*Query {

	txByID := make(map[string]*domain.Transaction, len(transactions))
	for _, tx := range transactions {
		if tx != nil {
			txByID[tx.ID] = tx
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	historySize := len(l.history)
	now := time.Now()

	var selected []*Query
	for i, v := range verdicts {
		if v == nil {
			continue
		}
		if _, resolved := l.history[v.TransactionID]; resolved {
			continue
		}
		tx := txByID[v.TransactionID]

		var bio *biometric.Assessment
		if i < len(biometrics) {
			bio = biometrics[i]
		}

		u := uncertaintyScore(v)
		d := diversityScore(tx, historySize)
		imp := importanceScore(v, tx)
		combined := uncertaintyWeight*u + diversityWeight*d + importanceWeight*imp
		if combined <= selectionThreshold {
			continue
		}

		selected = append(selected, &Query{
			TransactionID:      v.TransactionID,
			UncertaintyScore:   u,
			DiversityScore:     d,
			ImportanceScore:    imp,
			CombinedScore:      combined,
			QueryReasons:       queryReasons(u, d, imp),
			SuggestedReviewers: l.suggestReviewers(v, tx, bio),
			CreatedAt:          now,
		})
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].CombinedScore > selected[j].CombinedScore
	})
	if len(selected) > maxSelected {
		selected = selected[:maxSelected]
	}

	for _, q := range selected {
		l.pending[q.TransactionID] = q
	}
	metrics.PendingReviews.Set(float64(len(l.pending)))

	return selected
}

// uncertaintyScore peaks when the probability sits at the decision
// boundary or the scorer itself is unsure.
func uncertaintyScore(v *scoring.FraudVerdict) float64 {
	boundary := 1 - 2*math.Abs(v.FraudProbability-0.5)
	return math.Max(boundary, 1-v.Confidence)
}

// diversityScore favors transactions unlike recently reviewed ones.
// While the feedback pool is small the score is pinned high to favor
// exploration over exploitation.
func diversityScore(tx *domain.Transaction, historySize int) float64 {
	if historySize < explorationMinRecords {
		return explorationFloor
	}
	score := 0.3
	if tx != nil {
		if tx.IsNightTime() {
			score += 0.2
		}
		if tx.Amount > 1000 {
			score += 0.3
		}
		if tx.MerchantCategory == "atm" {
			score += 0.2
		}
	}
	return math.Min(score, 1)
}

func importanceScore(v *scoring.FraudVerdict, tx *domain.Transaction) float64 {
	var score float64
	if tx != nil {
		switch {
		case tx.Amount > 5000:
			score += 0.4
		case tx.Amount > 1000:
			score += 0.2
		}
	}
	switch v.RiskLevel {
	case scoring.RiskHigh:
		score += 0.3
	case scoring.RiskMedium:
		score += 0.1
	}
	if len(v.Explanation) > 2 {
		score += 0.2
	}
	if tx != nil {
		switch tx.MerchantCategory {
		case "bank", "atm", "financial":
			score += 0.1
		}
	}
	return math.Min(score, 1)
}

func queryReasons(u, d, imp float64) []string {
	var reasons []string
	if u >= 0.5 {
		reasons = append(reasons, "model is uncertain about this prediction")
	}
	if d >= explorationFloor {
		reasons = append(reasons, "transaction explores a sparse region of feedback")
	}
	if imp >= 0.5 {
		reasons = append(reasons, "high business impact")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "combined informativeness above selection threshold")
	}
	return reasons
}

// suggestReviewers escalates to the senior reviewer on high risk or very
// large amounts, adds the biometric specialist when anomalies cluster,
// and always includes the two least-loaded roster reviewers. Caller
// holds l.mu.
func (l *Learner) suggestReviewers(v *scoring.FraudVerdict, tx *domain.Transaction,
	bio *biometric.Assessment) []string {

	var suggested []string
	if v.RiskLevel == scoring.RiskHigh || (tx != nil && tx.Amount > 10000) {
		suggested = append(suggested, l.senior)
	}
	anomalyCount := v.BiometricAnomalyCount
	if bio != nil && len(bio.Anomalies) > anomalyCount {
		anomalyCount = len(bio.Anomalies)
	}
	if anomalyCount > 2 {
		suggested = append(suggested, l.specialist)
	}
	suggested = append(suggested, l.leastLoaded(2)...)
	return dedupe(suggested)
}

// leastLoaded returns the n roster reviewers with the lowest workload
// counters, ties broken by name for determinism. Caller holds l.mu.
func (l *Learner) leastLoaded(n int) []string {
	roster := make([]string, len(l.reviewers))
	copy(roster, l.reviewers)
	sort.Slice(roster, func(i, j int) bool {
		wi, wj := l.workload[roster[i]], l.workload[roster[j]]
		if wi != wj {
			return wi < wj
		}
		return roster[i] < roster[j]
	})
	if n > len(roster) {
		n = len(roster)
	}
	return roster[:n]
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// ---------------------------------------------------------------------------
// Feedback submission
// ---------------------------------------------------------------------------

// SubmitFeedback validates and stores a reviewer verdict, resolves the
// pending review, bumps the reviewer's workload, and triggers an
// immediate high-priority incremental update when the evidence is a
// high-confidence bank confirmation or when submissions spike within the
// trailing hour. Validation failures reject the record before any state
// mutation.
func (l *Learner) SubmitFeedback(ctx context.Context, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	l.mu.Lock()
	now := time.Now()
	if rec.ReviewedAt.IsZero() {
		rec.ReviewedAt = now
	}

	if _, exists := l.history[rec.TransactionID]; !exists {
		l.order = append(l.order, rec.TransactionID)
	}
	l.history[rec.TransactionID] = rec
	l.evictOverCapacity()

	delete(l.pending, rec.TransactionID)
	l.workload[rec.ReviewerID]++

	l.submissions = append(l.submissions, now)
	l.pruneSubmissions(now)
	recentCount := len(l.submissions)

	if rec.Confidence > 0.9 && rec.EvidenceType == EvidenceBankConfirmation {
		l.enqueueLocked(&UpdateRequest{
			Batch:    []*Record{rec},
			Type:     UpdateIncremental,
			Priority: PriorityHigh,
		}, now)
	} else if recentCount >= volumeTriggerCount {
		l.enqueueLocked(&UpdateRequest{
			Batch:    l.recentRecordsLocked(volumeTriggerCount),
			Type:     UpdateIncremental,
			Priority: PriorityHigh,
		}, now)
	}

	metrics.PendingReviews.Set(float64(len(l.pending)))
	metrics.FeedbackSubmissionsTotal.WithLabelValues(string(rec.Label)).Inc()
	l.mu.Unlock()

	l.persist(ctx, rec)
	return nil
}

// SubmitBatchFeedback applies SubmitFeedback to each record and
// additionally enqueues a medium-priority incremental update when the
// batch holds five or more records. The first validation error is
// returned after the remaining records are processed.
func (l *Learner) SubmitBatchFeedback(ctx context.Context, records []*Record) error {
	var firstErr error
	for _, rec := range records {
		if err := l.SubmitFeedback(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(records) >= batchUpdateMin {
		l.mu.Lock()
		l.enqueueLocked(&UpdateRequest{
			Batch:    append([]*Record(nil), records...),
			Type:     UpdateIncremental,
			Priority: PriorityMedium,
		}, time.Now())
		l.mu.Unlock()
	}
	return firstErr
}

func validateRecord(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidInput)
	}
	if rec.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction id", ErrInvalidInput)
	}
	if rec.ReviewerID == "" {
		return fmt.Errorf("%w: missing reviewer id", ErrInvalidInput)
	}
	switch rec.Label {
	case LabelFraud, LabelLegitimate, LabelUnknown:
	case "":
		return fmt.Errorf("%w: missing label", ErrInvalidInput)
	default:
		return fmt.Errorf("%w: unknown label %q", ErrInvalidInput, rec.Label)
	}
	return nil
}

// evictOverCapacity drops the oldest history entries beyond the bounded
// retention limit. An evicted id may be re-selected for review later;
// the no-reselection invariant holds within the retention horizon.
// Caller holds l.mu.
func (l *Learner) evictOverCapacity() {
	for len(l.order) > l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.history, oldest)
	}
}

// pruneSubmissions drops submission timestamps outside the trailing
// window. Caller holds l.mu.
func (l *Learner) pruneSubmissions(now time.Time) {
	cutoff := now.Add(-volumeTriggerWindow)
	start := 0
	for start < len(l.submissions) && l.submissions[start].Before(cutoff) {
		start++
	}
	if start > 0 {
		l.submissions = l.submissions[start:]
	}
}

// recentRecordsLocked returns up to n most recently stored records.
// Caller holds l.mu.
func (l *Learner) recentRecordsLocked(n int) []*Record {
	start := len(l.order) - n
	if start < 0 {
		start = 0
	}
	out := make([]*Record, 0, len(l.order)-start)
	for _, id := range l.order[start:] {
		if rec, ok := l.history[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// persist writes the record to the optional store with backoff.
// Best-effort audit trail: failures are logged, not surfaced.
func (l *Learner) persist(ctx context.Context, rec *Record) {
	if l.store == nil {
		return
	}
	go func() {
		err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
			return l.store.SaveRecord(context.Background(), rec)
		})
		if err != nil {
			l.logger.Warn("feedback record persistence failed",
				"transaction", rec.TransactionID, "error", err)
		}
	}()
}

// ---------------------------------------------------------------------------
// Update queue
// ---------------------------------------------------------------------------

// enqueueLocked schedules an update by priority (high immediately,
// medium +5m, low +30m) and keeps the queue priority-sorted. Caller
// holds l.mu.
func (l *Learner) enqueueLocked(req *UpdateRequest, now time.Time) {
	if req.ID == "" {
		req.ID = idgen.WithPrefix("upd_")
	}
	if req.ScheduledAt.IsZero() {
		switch req.Priority {
		case PriorityHigh:
			req.ScheduledAt = now
		case PriorityMedium:
			req.ScheduledAt = now.Add(mediumDelay)
		default:
			req.ScheduledAt = now.Add(lowDelay)
		}
	}
	l.updates = append(l.updates, req)
	sort.SliceStable(l.updates, func(i, j int) bool {
		if l.updates[i].Priority != l.updates[j].Priority {
			return l.updates[i].Priority > l.updates[j].Priority
		}
		return l.updates[i].ScheduledAt.Before(l.updates[j].ScheduledAt)
	})
	metrics.UpdateQueueDepth.Set(float64(len(l.updates)))
}

// ProcessDueUpdates atomically dequeues every update whose scheduled
// time has elapsed and executes it. A successful execution nudges the
// performance snapshot; a failed one is rescheduled ten minutes out
// rather than dropped. Returns the number of successful executions.
func (l *Learner) ProcessDueUpdates(ctx context.Context, now time.Time) int {
	l.mu.Lock()
	var due, remaining []*UpdateRequest
	for _, req := range l.updates {
		if !req.ScheduledAt.After(now) {
			due = append(due, req)
		} else {
			remaining = append(remaining, req)
		}
	}
	l.updates = remaining
	metrics.UpdateQueueDepth.Set(float64(len(l.updates)))
	l.mu.Unlock()

	executed := 0
	for _, req := range due {
		key := string(req.Type)
		if !l.breaker.Allow(key) {
			// Training backend circuit is open; park the update without
			// burning an attempt.
			l.mu.Lock()
			req.ScheduledAt = now.Add(retryDelay)
			l.enqueueLocked(req, now)
			l.mu.Unlock()
			continue
		}

		req.Attempts++
		if err := l.executor.Execute(ctx, req); err != nil {
			l.breaker.RecordFailure(key)
			l.logger.Warn("model update failed, rescheduling",
				"update", req.ID, "attempts", req.Attempts, "error", err)
			metrics.ModelUpdatesTotal.WithLabelValues("failure").Inc()
			l.mu.Lock()
			req.ScheduledAt = now.Add(retryDelay)
			l.enqueueLocked(req, now)
			l.mu.Unlock()
			continue
		}
		l.breaker.RecordSuccess(key)

		l.mu.Lock()
		l.applyUpdateLocked(len(req.Batch), now)
		l.mu.Unlock()
		metrics.ModelUpdatesTotal.WithLabelValues("success").Inc()
		l.logger.Info("model update applied",
			"update", req.ID, "type", string(req.Type),
			"priority", req.Priority.String(), "batch", len(req.Batch))
		executed++
	}
	return executed
}

// applyUpdateLocked nudges accuracy, precision (x0.8) and recall (x1.2)
// upward by min(0.02, batch*0.001), clipped at 0.99, then recomputes the
// derived rates. Caller holds l.mu.
func (l *Learner) applyUpdateLocked(batchSize int, now time.Time) {
	delta := math.Min(0.02, float64(batchSize)*0.001)
	l.perf.Accuracy = math.Min(l.perf.Accuracy+delta, perfCeil)
	l.perf.Precision = math.Min(l.perf.Precision+0.8*delta, perfCeil)
	l.perf.Recall = math.Min(l.perf.Recall+1.2*delta, perfCeil)
	l.recomputeDerivedLocked(now)
	l.perf.SampleSize += batchSize
}

// ApplyDrift applies small bounded random drift (±0.5%) to the core
// rates to emulate natural performance variance, then recomputes the
// derived rates.
func (l *Learner) ApplyDrift(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perf.Accuracy = clampRate(l.perf.Accuracy + l.driftDelta())
	l.perf.Precision = clampRate(l.perf.Precision + l.driftDelta())
	l.perf.Recall = clampRate(l.perf.Recall + l.driftDelta())
	l.recomputeDerivedLocked(now)
}

func (l *Learner) driftDelta() float64 {
	return (l.rng.Float64()*2 - 1) * driftBound
}

// recomputeDerivedLocked refreshes F1 and the false-positive/negative
// rates from precision and recall. Caller holds l.mu.
func (l *Learner) recomputeDerivedLocked(now time.Time) {
	l.perf.F1 = harmonicMean(l.perf.Precision, l.perf.Recall)
	l.perf.FalsePositiveRate = 1 - l.perf.Precision
	l.perf.FalseNegativeRate = 1 - l.perf.Recall
	l.perf.LastUpdated = now
}

func harmonicMean(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func clampRate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > perfCeil {
		return perfCeil
	}
	return v
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// PendingReviews returns the review queue sorted descending by combined
// score.
func (l *Learner) PendingReviews() []*Query {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Query, 0, len(l.pending))
	for _, q := range l.pending {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CombinedScore > out[j].CombinedScore })
	return out
}

// History returns up to limit feedback records, newest first. A
// non-positive limit returns everything retained.
func (l *Learner) History(limit int) []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.order) {
		limit = len(l.order)
	}
	out := make([]*Record, 0, limit)
	for i := len(l.order) - 1; i >= 0 && len(out) < limit; i-- {
		if rec, ok := l.history[l.order[i]]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// HasFeedback reports whether a transaction already has a stored record.
func (l *Learner) HasFeedback(transactionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.history[transactionID]
	return ok
}

// Performance returns a copy of the current performance snapshot.
func (l *Learner) Performance() PerformanceSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perf
}

// ReviewerWorkload returns a copy of the reviewer workload counters.
func (l *Learner) ReviewerWorkload() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.workload))
	for k, v := range l.workload {
		out[k] = v
	}
	return out
}

// QueueStatus summarizes the update queue.
func (l *Learner) QueueStatus() QueueStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	status := QueueStatus{
		Depth:      len(l.updates),
		ByPriority: map[string]int{"high": 0, "medium": 0, "low": 0},
	}
	for _, req := range l.updates {
		status.ByPriority[req.Priority.String()]++
		if status.NextScheduled.IsZero() || req.ScheduledAt.Before(status.NextScheduled) {
			status.NextScheduled = req.ScheduledAt
		}
	}
	return status
}

// GenerateReport aggregates retained feedback within [from, to].
func (l *Learner) GenerateReport(from, to time.Time) *Report {
	started := time.Now()
	l.mu.Lock()
	report := &Report{
		ID:          idgen.WithPrefix("rpt_"),
		GeneratedAt: started,
		From:        from,
		To:          to,
		ByLabel:     make(map[string]int),
		ByEvidence:  make(map[string]int),
	}
	var confSum float64
	for _, rec := range l.history {
		if rec.ReviewedAt.Before(from) || rec.ReviewedAt.After(to) {
			continue
		}
		report.TotalRecords++
		report.ByLabel[string(rec.Label)]++
		report.ByEvidence[string(rec.EvidenceType)]++
		confSum += rec.Confidence
	}
	if report.TotalRecords > 0 {
		report.FraudRate = float64(report.ByLabel[string(LabelFraud)]) / float64(report.TotalRecords)
		report.AvgConfidence = confSum / float64(report.TotalRecords)
	}
	l.mu.Unlock()
	report.ElapsedMS = time.Since(started).Milliseconds()
	return report
}
