// Package scoring fuses transaction features, biometric anomalies, and
// node embeddings into a fraud verdict.
//
// The Scorer interface isolates the heuristic implementation so a trained
// model can later be substituted without touching callers.
package scoring

import (
	"time"

	"github.com/vantagepay/fraudlens/internal/biometric"
	"github.com/vantagepay/fraudlens/internal/domain"
	"github.com/vantagepay/fraudlens/internal/embedding"
)

// RiskLevel is the tier derived from fraud probability.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Default probability bands for risk tiers.
const (
	DefaultHighCutoff   = 0.7
	DefaultMediumCutoff = 0.4
)

// FraudVerdict is the scoring result for one transaction. Immutable after
// creation.
type FraudVerdict struct {
	TransactionID         string    `json:"transactionId"`
	FraudProbability      float64   `json:"fraudProbability"`
	RiskLevel             RiskLevel `json:"riskLevel"`
	Explanation           []string  `json:"explanation"`
	BiometricAnomalyCount int       `json:"biometricAnomalyCount"`
	Confidence            float64   `json:"confidence"`
	NodeCount             int       `json:"nodeCount"`
	EvaluatedAt           time.Time `json:"evaluatedAt"`

	// Degraded marks a default verdict substituted after a processing
	// failure in a batch context.
	Degraded bool `json:"degraded,omitempty"`
}

// Scorer produces a verdict from the pipeline inputs. Implementations
// must be safe for concurrent use.
type Scorer interface {
	Predict(tx *domain.Transaction, bio *biometric.Assessment,
		embeddings map[string]*embedding.NodeEmbedding) (*FraudVerdict, error)
}

// DegradedVerdict is the fallback produced when scoring one item fails in
// a batch context: probability 0.5, medium risk, degraded flag set.
func DegradedVerdict(transactionID string) *FraudVerdict {
	return &FraudVerdict{
		TransactionID:    transactionID,
		FraudProbability: 0.5,
		RiskLevel:        RiskMedium,
		Explanation:      []string{"Scoring failed; default verdict substituted"},
		Confidence:       0.7,
		EvaluatedAt:      time.Now(),
		Degraded:         true,
	}
}
