package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists fraud verdicts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed verdict store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, verdict *FraudVerdict) error {
	explanationJSON, err := json.Marshal(verdict.Explanation)
	if err != nil {
		return fmt.Errorf("failed to marshal explanation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fraud_verdicts (transaction_id, fraud_probability, risk_level, explanation,
			biometric_anomaly_count, confidence, node_count, degraded, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		verdict.TransactionID,
		verdict.FraudProbability,
		string(verdict.RiskLevel),
		explanationJSON,
		verdict.BiometricAnomalyCount,
		verdict.Confidence,
		verdict.NodeCount,
		verdict.Degraded,
		verdict.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record fraud verdict: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int, opts ...ListOption) ([]*FraudVerdict, error) {
	o := applyListOpts(opts)

	query := `
		SELECT transaction_id, fraud_probability, risk_level, explanation,
			biometric_anomaly_count, confidence, node_count, degraded, evaluated_at
		FROM fraud_verdicts`
	args := []any{limit}
	if o.cursor != nil {
		query += `
		WHERE (evaluated_at, transaction_id) < ($2, $3)`
		args = append(args, o.cursor.CreatedAt, o.cursor.ID)
	}
	query += `
		ORDER BY evaluated_at DESC, transaction_id DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud verdicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*FraudVerdict
	for rows.Next() {
		var v FraudVerdict
		var level string
		var explanationJSON []byte
		if err := rows.Scan(&v.TransactionID, &v.FraudProbability, &level, &explanationJSON,
			&v.BiometricAnomalyCount, &v.Confidence, &v.NodeCount, &v.Degraded, &v.EvaluatedAt); err != nil {
			continue
		}
		v.RiskLevel = RiskLevel(level)
		_ = json.Unmarshal(explanationJSON, &v.Explanation)
		result = append(result, &v)
	}
	return result, nil
}
