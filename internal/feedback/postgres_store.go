package feedback

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists feedback records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed feedback store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_records (transaction_id, label, confidence, reviewer_id, reviewed_at, evidence_type, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO UPDATE SET
			label = EXCLUDED.label,
			confidence = EXCLUDED.confidence,
			reviewer_id = EXCLUDED.reviewer_id,
			reviewed_at = EXCLUDED.reviewed_at,
			evidence_type = EXCLUDED.evidence_type,
			notes = EXCLUDED.notes
	`,
		rec.TransactionID,
		string(rec.Label),
		rec.Confidence,
		rec.ReviewerID,
		rec.ReviewedAt,
		string(rec.EvidenceType),
		rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByReviewer(ctx context.Context, reviewerID string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, label, confidence, reviewer_id, reviewed_at, evidence_type, notes
		FROM feedback_records
		WHERE reviewer_id = $1
		ORDER BY reviewed_at DESC
		LIMIT $2
	`, reviewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		var r Record
		var label, evidence string
		if err := rows.Scan(&r.TransactionID, &label, &r.Confidence, &r.ReviewerID, &r.ReviewedAt, &evidence, &r.Notes); err != nil {
			continue
		}
		r.Label = Label(label)
		r.EvidenceType = EvidenceType(evidence)
		result = append(result, &r)
	}
	return result, nil
}
