// Package feedback implements the human-in-the-loop active-learning
// loop: reviewer feedback history, a prioritized review queue, reviewer
// workload tracking, and a scheduled model-update queue.
package feedback

import (
	"errors"
	"time"
)

// ErrInvalidInput rejects malformed feedback before any state mutation.
var ErrInvalidInput = errors.New("feedback: invalid input")

// Label is the reviewer-assigned ground truth.
type Label string

const (
	LabelFraud      Label = "fraud"
	LabelLegitimate Label = "legitimate"
	LabelUnknown    Label = "unknown"
)

// EvidenceType describes how the reviewer reached the label.
type EvidenceType string

const (
	EvidenceBankConfirmation EvidenceType = "bank_confirmation"
	EvidenceCustomerReport   EvidenceType = "customer_report"
	EvidenceChargeback       EvidenceType = "chargeback"
	EvidenceManualReview     EvidenceType = "manual_review"
)

// Record is one reviewer verdict for a transaction, keyed uniquely by
// transaction id (latest submission wins). Immutable once stored.
type Record struct {
	TransactionID string       `json:"transactionId"`
	Label         Label        `json:"actualLabel"`
	Confidence    float64      `json:"confidence"`
	ReviewerID    string       `json:"reviewerId"`
	ReviewedAt    time.Time    `json:"reviewTimestamp"`
	EvidenceType  EvidenceType `json:"evidenceType"`
	Notes         string       `json:"notes,omitempty"`
}

// Query is a pending-review item selected by IdentifyUncertain. It lives
// in the pending queue until feedback for its transaction arrives.
type Query struct {
	TransactionID      string    `json:"transactionId"`
	UncertaintyScore   float64   `json:"uncertaintyScore"`
	DiversityScore     float64   `json:"diversityScore"`
	ImportanceScore    float64   `json:"importanceScore"`
	CombinedScore      float64   `json:"combinedScore"`
	QueryReasons       []string  `json:"queryReasons"`
	SuggestedReviewers []string  `json:"suggestedReviewers"`
	CreatedAt          time.Time `json:"createdAt"`
}

// UpdateType is how a scheduled model update is applied.
type UpdateType string

const (
	UpdateIncremental UpdateType = "incremental"
	UpdateFullRetrain UpdateType = "full_retrain"
)

// Priority orders the update queue. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the wire name for a priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Scheduling offsets by priority: high runs immediately, medium after
// five minutes, low after thirty.
const (
	mediumDelay = 5 * time.Minute
	lowDelay    = 30 * time.Minute
	// retryDelay reschedules a failed update; failures are never dropped.
	retryDelay = 10 * time.Minute
)

// UpdateRequest is a queued model update, consumed by the periodic drain.
type UpdateRequest struct {
	ID          string     `json:"id"`
	Batch       []*Record  `json:"feedbackBatch"`
	Type        UpdateType `json:"updateType"`
	Priority    Priority   `json:"priority"`
	ScheduledAt time.Time  `json:"scheduledTime"`
	Attempts    int        `json:"attempts"`
}

// PerformanceSnapshot is the single process-wide model performance
// record, drifted by scheduled updates and periodic noise.
type PerformanceSnapshot struct {
	Accuracy          float64   `json:"accuracy"`
	Precision         float64   `json:"precision"`
	Recall            float64   `json:"recall"`
	F1                float64   `json:"f1"`
	FalsePositiveRate float64   `json:"falsePositiveRate"`
	FalseNegativeRate float64   `json:"falseNegativeRate"`
	AUC               float64   `json:"auc"`
	LastUpdated       time.Time `json:"lastUpdated"`
	SampleSize        int       `json:"sampleSize"`
}

// QueueStatus summarizes the model-update queue.
type QueueStatus struct {
	Depth         int            `json:"depth"`
	ByPriority    map[string]int `json:"byPriority"`
	NextScheduled time.Time      `json:"nextScheduled,omitempty"`
}

// Report aggregates feedback over a time range.
type Report struct {
	ID            string         `json:"id"`
	GeneratedAt   time.Time      `json:"generatedAt"`
	From          time.Time      `json:"from"`
	To            time.Time      `json:"to"`
	TotalRecords  int            `json:"totalRecords"`
	ByLabel       map[string]int `json:"byLabel"`
	ByEvidence    map[string]int `json:"byEvidence"`
	FraudRate     float64        `json:"fraudRate"`
	AvgConfidence float64        `json:"avgConfidence"`
	ElapsedMS     int64          `json:"elapsedMs"`
}
