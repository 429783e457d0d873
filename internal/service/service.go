// Package service composes the graph, embedding, biometric, and scoring
// components into the end-to-end fraud evaluation pipeline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vantagepay/fraudlens/internal/biometric"
	"github.com/vantagepay/fraudlens/internal/domain"
	"github.com/vantagepay/fraudlens/internal/embedding"
	"github.com/vantagepay/fraudlens/internal/feedback"
	"github.com/vantagepay/fraudlens/internal/graph"
	"github.com/vantagepay/fraudlens/internal/metrics"
	"github.com/vantagepay/fraudlens/internal/retry"
	"github.com/vantagepay/fraudlens/internal/scoring"
	"github.com/vantagepay/fraudlens/internal/traces"
)

// DefaultWindowSize bounds the transaction window the behavioral graph
// is built from.
const DefaultWindowSize = 5000

// Service runs the scoring pipeline: transaction window -> behavioral
// graph -> node embeddings -> biometric assessment -> fraud verdict.
type Service struct {
	mu     sync.Mutex
	window []*domain.Transaction

	cache      *snapshotCache
	profiler   *biometric.Profiler
	scorer     scoring.Scorer
	learner    *feedback.Learner
	store      scoring.Store
	logger     *slog.Logger
	windowSize int
}

// Option configures the Service.
type Option func(*Service)

// WithStore sets an optional verdict audit store.
func WithStore(s scoring.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithLogger sets a structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(svc *Service) { svc.logger = lg }
}

// WithWindowSize bounds the transaction window.
func WithWindowSize(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.windowSize = n
		}
	}
}

// WithSnapshotTTL bounds embedding-snapshot staleness.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(svc *Service) { svc.cache.ttl = ttl }
}

// New wires the pipeline components together.
func New(builder *graph.Builder, propagator *embedding.Propagator,
	profiler *biometric.Profiler, scorer scoring.Scorer,
	learner *feedback.Learner, opts ...Option) *Service {

	svc := &Service{
		cache:      newSnapshotCache(builder, propagator, DefaultSnapshotTTL),
		profiler:   profiler,
		scorer:     scorer,
		learner:    learner,
		logger:     slog.Default(),
		windowSize: DefaultWindowSize,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Score evaluates a single transaction. The biometric sample is
// optional; absence simply yields no anomaly signal. A pipeline panic
// surfaces as a *ProcessingError rather than propagating; only batch
// items degrade to a neutral verdict.
func (s *Service) Score(ctx context.Context, tx *domain.Transaction, sample *biometric.Sample) (*scoring.FraudVerdict, error) {
	verdict, _, err := s.score(ctx, tx, sample)
	return verdict, err
}

func (s *Service) score(ctx context.Context, tx *domain.Transaction, sample *biometric.Sample) (verdict *scoring.FraudVerdict, assessment *biometric.Assessment, err error) {
	if err := validateTransaction(tx); err != nil {
		return nil, nil, err
	}

	ctx, span := traces.StartSpan(ctx, "fraud.score",
		traces.TransactionID(tx.ID), traces.UserID(tx.UserID))
	defer span.End()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scoring pipeline panic",
				"transaction", tx.ID, "panic", fmt.Sprint(r))
			metrics.ScoreFailuresTotal.Inc()
			verdict = nil
			err = &ProcessingError{
				TransactionID: tx.ID,
				Elapsed:       time.Since(started),
				Err:           fmt.Errorf("pipeline panic: %v", r),
			}
		}
		metrics.ScoreDuration.Observe(time.Since(started).Seconds())
	}()

	s.appendToWindow(tx)
	embeddings, nodeCount := s.cache.snapshot(s.snapshotWindow(), started)

	if sample != nil {
		// Key the sample to the transaction user without mutating the
		// caller's copy.
		keyed := *sample
		keyed.UserID = tx.UserID
		assessment, err = s.profiler.Process(&keyed)
		if err != nil {
			// Biometric failure degrades the signal, not the verdict.
			s.logger.Warn("biometric assessment failed",
				"transaction", tx.ID, "error", err)
			assessment = nil
		}
	}

	verdict, err = s.scorer.Predict(tx, assessment, embeddings)
	if err != nil {
		metrics.ScoreFailuresTotal.Inc()
		return nil, assessment, &ProcessingError{TransactionID: tx.ID, Elapsed: time.Since(started), Err: err}
	}
	verdict.NodeCount = nodeCount

	span.SetAttributes(traces.RiskLevel(string(verdict.RiskLevel)))
	metrics.VerdictsTotal.WithLabelValues(string(verdict.RiskLevel)).Inc()

	s.persistVerdict(ctx, verdict)
	return verdict, assessment, nil
}

// BatchResult summarizes a batch scoring run.
type BatchResult struct {
	Verdicts   []*scoring.FraudVerdict `json:"verdicts"`
	Scored     int                     `json:"scored"`
	Degraded   int                     `json:"degraded"`
	ByRisk     map[string]int          `json:"byRisk"`
	ElapsedMS  int64                   `json:"elapsedMs"`
	AvgMS      float64                 `json:"avgMs"`
	Throughput float64                 `json:"throughputPerSec"`
}

// ScoreBatch evaluates transactions positionally paired with biometric
// samples (a short samples slice leaves the tail unsampled). A failure
// on one item yields a degraded verdict for that item; the rest of the
// batch proceeds. Selected verdicts also feed the active-learning
// review queue.
func (s *Service) ScoreBatch(ctx context.Context, txs []*domain.Transaction, samples []*biometric.Sample) (*BatchResult, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}

	ctx, span := traces.StartSpan(ctx, "fraud.score_batch", traces.BatchSize(len(txs)))
	defer span.End()

	started := time.Now()
	result := &BatchResult{
		Verdicts: make([]*scoring.FraudVerdict, 0, len(txs)),
		ByRisk:   map[string]int{"low": 0, "medium": 0, "high": 0},
	}
	assessments := make([]*biometric.Assessment, len(txs))

	for i, tx := range txs {
		var sample *biometric.Sample
		if i < len(samples) {
			sample = samples[i]
		}

		verdict, assessment, err := s.score(ctx, tx, sample)
		assessments[i] = assessment
		if err != nil {
			id := ""
			if tx != nil {
				id = tx.ID
			}
			s.logger.Warn("batch item failed, degrading verdict", "transaction", id, "error", err)
			verdict = scoring.DegradedVerdict(id)
		}
		if verdict.Degraded {
			result.Degraded++
		} else {
			result.Scored++
		}
		result.ByRisk[string(verdict.RiskLevel)]++
		result.Verdicts = append(result.Verdicts, verdict)
	}

	if s.learner != nil {
		queries := s.learner.IdentifyUncertain(result.Verdicts, txs, assessments)
		if len(queries) > 0 {
			s.logger.Info("transactions queued for review", "count", len(queries))
		}
	}

	elapsed := time.Since(started)
	result.ElapsedMS = elapsed.Milliseconds()
	result.AvgMS = float64(elapsed.Milliseconds()) / float64(len(txs))
	if secs := elapsed.Seconds(); secs > 0 {
		result.Throughput = float64(len(txs)) / secs
	}
	return result, nil
}

func validateTransaction(tx *domain.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", ErrInvalidInput)
	}
	if tx.ID == "" {
		return fmt.Errorf("%w: missing transaction id", ErrInvalidInput)
	}
	if tx.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidInput)
	}
	if tx.Amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidInput)
	}
	return nil
}

// appendToWindow adds the transaction to the sliding window, evicting
// the oldest entries beyond the bound.
func (s *Service) appendToWindow(tx *domain.Transaction) {
	s.mu.Lock()
	s.window = append(s.window, tx)
	if over := len(s.window) - s.windowSize; over > 0 {
		s.window = s.window[over:]
	}
	s.mu.Unlock()
}

// snapshotWindow returns a copy of the current window for lock-free use
// downstream.
func (s *Service) snapshotWindow() []*domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Transaction, len(s.window))
	copy(out, s.window)
	return out
}

// persistVerdict writes the verdict to the audit store with backoff.
// Best-effort: failures are logged, never surfaced to the scoring path.
func (s *Service) persistVerdict(ctx context.Context, verdict *scoring.FraudVerdict) {
	if s.store == nil {
		return
	}
	go func() {
		err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
			return s.store.Record(context.Background(), verdict)
		})
		if err != nil {
			s.logger.Warn("verdict persistence failed",
				"transaction", verdict.TransactionID, "error", err)
		}
	}()
}
