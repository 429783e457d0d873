// Package client is a Go client for the fraudlens review-console API.
// It covers feedback submission, the pending-review queue, model
// performance, and the verdict audit trail.
package client

import (
	"fmt"
	"time"
)

// Feedback is one reviewer verdict submitted for a scored transaction.
type Feedback struct {
	TransactionID string  `json:"transactionId"`
	ActualLabel   string  `json:"actualLabel"` // "fraud", "legitimate", "unknown"
	Confidence    float64 `json:"confidence"`
	ReviewerID    string  `json:"reviewerId"`
	EvidenceType  string  `json:"evidenceType,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// Review is a pending-review item selected by the active learner.
type Review struct {
	TransactionID      string    `json:"transactionId"`
	UncertaintyScore   float64   `json:"uncertaintyScore"`
	DiversityScore     float64   `json:"diversityScore"`
	ImportanceScore    float64   `json:"importanceScore"`
	CombinedScore      float64   `json:"combinedScore"`
	QueryReasons       []string  `json:"queryReasons"`
	SuggestedReviewers []string  `json:"suggestedReviewers"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Performance is the model performance snapshot.
type Performance struct {
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

// Verdict is one entry of the fraud-verdict audit trail.
type Verdict struct {
	TransactionID         string    `json:"transactionId"`
	FraudProbability      float64   `json:"fraudProbability"`
	RiskLevel             string    `json:"riskLevel"`
	Explanation           []string  `json:"explanation"`
	BiometricAnomalyCount int       `json:"biometricAnomalyCount"`
	Confidence            float64   `json:"confidence"`
	NodeCount             int       `json:"nodeCount"`
	EvaluatedAt           time.Time `json:"evaluatedAt"`
	Degraded              bool      `json:"degraded,omitempty"`
}

// VerdictPage is one page of the verdict audit trail.
type VerdictPage struct {
	Verdicts   []*Verdict `json:"verdicts"`
	Count      int        `json:"count"`
	HasMore    bool       `json:"has_more"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// Error is an API error response.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
