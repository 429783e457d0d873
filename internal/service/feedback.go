package service

import (
	"context"
	"time"

	"github.com/vantagepay/fraudlens/internal/biometric"
	"github.com/vantagepay/fraudlens/internal/domain"
	"github.com/vantagepay/fraudlens/internal/feedback"
	"github.com/vantagepay/fraudlens/internal/scoring"
)

// The feedback loop is optional; a Service built without a learner
// serves scoring only. These methods expose the learner surface so
// callers hold a single pipeline handle.

// SubmitFeedback records a single analyst verdict.
func (s *Service) SubmitFeedback(ctx context.Context, rec *feedback.Record) error {
	if s.learner == nil {
		return ErrFeedbackDisabled
	}
	return s.learner.SubmitFeedback(ctx, rec)
}

// SubmitBatchFeedback records a batch of analyst verdicts atomically
// per record: invalid records reject the whole batch before mutation.
func (s *Service) SubmitBatchFeedback(ctx context.Context, records []*feedback.Record) error {
	if s.learner == nil {
		return ErrFeedbackDisabled
	}
	return s.learner.SubmitBatchFeedback(ctx, records)
}

// IdentifyUncertain selects verdicts worth human review.
func (s *Service) IdentifyUncertain(verdicts []*scoring.FraudVerdict,
	txs []*domain.Transaction, assessments []*biometric.Assessment) []*feedback.Query {
	if s.learner == nil {
		return nil
	}
	return s.learner.IdentifyUncertain(verdicts, txs, assessments)
}

// GetPendingReviews returns the review queue, highest combined score first.
func (s *Service) GetPendingReviews() []*feedback.Query {
	if s.learner == nil {
		return nil
	}
	return s.learner.PendingReviews()
}

// GetFeedbackHistory returns up to limit records, newest first.
func (s *Service) GetFeedbackHistory(limit int) []*feedback.Record {
	if s.learner == nil {
		return nil
	}
	return s.learner.History(limit)
}

// GetModelPerformance returns the current performance snapshot.
func (s *Service) GetModelPerformance() feedback.PerformanceSnapshot {
	if s.learner == nil {
		return feedback.PerformanceSnapshot{}
	}
	return s.learner.Performance()
}

// GetReviewerWorkload returns per-reviewer submission counts.
func (s *Service) GetReviewerWorkload() map[string]int {
	if s.learner == nil {
		return map[string]int{}
	}
	return s.learner.ReviewerWorkload()
}

// GetUpdateQueueStatus summarizes the pending model-update queue.
func (s *Service) GetUpdateQueueStatus() feedback.QueueStatus {
	if s.learner == nil {
		return feedback.QueueStatus{ByPriority: map[string]int{"high": 0, "medium": 0, "low": 0}}
	}
	return s.learner.QueueStatus()
}

// GenerateFeedbackReport aggregates feedback reviewed within [from, to].
func (s *Service) GenerateFeedbackReport(from, to time.Time) (*feedback.Report, error) {
	if s.learner == nil {
		return nil, ErrFeedbackDisabled
	}
	return s.learner.GenerateReport(from, to), nil
}
