package scoring

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vantagepay/fraudlens/internal/biometric"
	"github.com/vantagepay/fraudlens/internal/domain"
	"github.com/vantagepay/fraudlens/internal/embedding"
	"github.com/vantagepay/fraudlens/internal/graph"
)

// Rule contributions. Amount rules are additive, not exclusive.
const (
	highAmountCutoff     = 1000.0
	highAmountWeight     = 0.3
	veryHighAmountCutoff = 5000.0
	veryHighAmountWeight = 0.4
	nightWeight          = 0.2
	atmAmountCutoff      = 500.0
	atmWeight            = 0.3

	highAnomalyWeight   = 0.2
	mediumAnomalyWeight = 0.1

	noiseBound = 0.05

	// embeddingK is how many leading embedding dimensions enter the
	// feature vector per graph node.
	embeddingK = 10
)

// HeuristicScorer is the rule-based Scorer implementation. The noise
// source is injectable so tests can pin it to zero for determinism.
type HeuristicScorer struct {
	highCutoff   float64
	mediumCutoff float64
	noise        func() float64
}

// HeuristicOption configures the scorer.
type HeuristicOption func(*HeuristicScorer)

// WithRiskCutoffs overrides the default probability bands.
func WithRiskCutoffs(high, medium float64) HeuristicOption {
	return func(s *HeuristicScorer) {
		s.highCutoff = high
		s.mediumCutoff = medium
	}
}

// WithNoise replaces the bounded noise source.
func WithNoise(fn func() float64) HeuristicOption {
	return func(s *HeuristicScorer) { s.noise = fn }
}

// NewHeuristicScorer creates a scorer with default bands and a seeded
// noise source bounded to ±0.05.
func NewHeuristicScorer(opts ...HeuristicOption) *HeuristicScorer {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	s := &HeuristicScorer{
		highCutoff:   DefaultHighCutoff,
		mediumCutoff: DefaultMediumCutoff,
		noise: func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return (rng.Float64()*2 - 1) * noiseBound
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time check.
var _ Scorer = (*HeuristicScorer)(nil)

// Predict accumulates rule contributions over the transaction, clips to
// [0,1], adjusts for biometric anomalies, clips again, and derives the
// risk tier from the probability bands. The explanation lists triggered
// transaction rules in order, followed by one "Biometric:" entry per
// anomaly in detection order.
func (s *HeuristicScorer) Predict(tx *domain.Transaction, bio *biometric.Assessment,
	embeddings map[string]*embedding.NodeEmbedding) (*FraudVerdict, error) {

	if tx == nil || tx.ID == "" {
		return nil, fmt.Errorf("scoring: transaction missing id")
	}

	// The feature vector feeds model-based Scorer implementations; the
	// heuristic consumes only the rule-relevant slices but computes the
	// full vector so substitutes see identical inputs.
	features := s.featureVector(tx, bio, embeddings)

	var score float64
	var explanation []string

	if tx.Amount > highAmountCutoff {
		score += highAmountWeight
		explanation = append(explanation,
			fmt.Sprintf("High amount: $%.2f exceeds $%.0f", tx.Amount, highAmountCutoff))
	}
	if tx.Amount > veryHighAmountCutoff {
		score += veryHighAmountWeight
		explanation = append(explanation,
			fmt.Sprintf("Very high amount: $%.2f exceeds $%.0f", tx.Amount, veryHighAmountCutoff))
	}
	if tx.IsNightTime() {
		score += nightWeight
		explanation = append(explanation,
			fmt.Sprintf("Unusual transaction time: %02d:00", tx.Hour()))
	}
	if tx.MerchantCategory == "atm" && tx.Amount > atmAmountCutoff {
		score += atmWeight
		explanation = append(explanation,
			fmt.Sprintf("Large ATM withdrawal: $%.2f", tx.Amount))
	}

	score += s.noise()
	score = clip01(score)

	anomalyCount := 0
	if bio != nil {
		anomalyCount = len(bio.Anomalies)
		for _, a := range bio.Anomalies {
			switch a.Severity {
			case biometric.SeverityHigh:
				score += highAnomalyWeight
			case biometric.SeverityMedium:
				score += mediumAnomalyWeight
			}
			explanation = append(explanation, "Biometric: "+a.Description)
		}
		score = clip01(score)
	}

	level := RiskLow
	switch {
	case score > s.highCutoff:
		level = RiskHigh
	case score > s.mediumCutoff:
		level = RiskMedium
	}

	return &FraudVerdict{
		TransactionID:         tx.ID,
		FraudProbability:      score,
		RiskLevel:             level,
		Explanation:           explanation,
		BiometricAnomalyCount: anomalyCount,
		Confidence:            s.confidence(bio, features),
		NodeCount:             len(embeddings),
		EvaluatedAt:           time.Now(),
	}, nil
}

// featureVector assembles the model input: log-normalized amount,
// time-of-day, payment-method indicator, merchant-category indicators,
// biometric summary, and the first embeddingK dims of the user, merchant
// and device node embeddings.
func (s *HeuristicScorer) featureVector(tx *domain.Transaction, bio *biometric.Assessment,
	embeddings map[string]*embedding.NodeEmbedding) []float64 {

	features := make([]float64, 0, 12+3*embeddingK)

	features = append(features, math.Log(tx.Amount+1)/math.Log(1_000_001))
	features = append(features, float64(tx.Hour())/24.0)
	features = append(features, paymentMethodIndicator(tx.PaymentMethod))
	for _, cat := range []string{"grocery", "electronics", "atm", "travel"} {
		if tx.MerchantCategory == cat {
			features = append(features, 1)
		} else {
			features = append(features, 0)
		}
	}

	if bio != nil {
		features = append(features, bio.MeanDwell/200.0, bio.TypingSpeed/120.0,
			bio.MeanVelocity/1000.0, bio.MotionMagnitude/3.0)
	} else {
		features = append(features, 0, 0, 0, 0)
	}

	for _, key := range []string{
		string(graph.NodeUser) + "/" + tx.UserID,
		string(graph.NodeMerchant) + "/" + tx.MerchantID,
		string(graph.NodeDevice) + "/" + tx.DeviceID,
	} {
		emb := embeddings[key]
		for i := 0; i < embeddingK; i++ {
			if emb != nil && i < len(emb.Vector) {
				features = append(features, emb.Vector[i])
			} else {
				features = append(features, 0)
			}
		}
	}
	return features
}

// confidence is an independent bounded estimate of scorer certainty in
// [0.7, 1.0], distinct from the fraud probability: it rises with
// biometric profile maturity and with graph feature coverage.
func (s *HeuristicScorer) confidence(bio *biometric.Assessment, features []float64) float64 {
	conf := 0.7
	if bio != nil {
		conf += 0.2 * bio.ProfileConfidence
	}
	coverage := 0.0
	embStart := len(features) - 3*embeddingK
	if embStart >= 0 {
		nonZero := 0
		for _, v := range features[embStart:] {
			if v != 0 {
				nonZero++
			}
		}
		coverage = float64(nonZero) / float64(3*embeddingK)
	}
	conf += 0.1 * coverage
	return math.Min(conf, 1.0)
}

func paymentMethodIndicator(m domain.PaymentMethod) float64 {
	switch m {
	case domain.PaymentCard:
		return 0.25
	case domain.PaymentTransfer:
		return 0.5
	case domain.PaymentWallet:
		return 0.75
	case domain.PaymentCash:
		return 1.0
	default:
		return 0
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
