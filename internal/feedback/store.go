package feedback

import "context"

// Store persists feedback records for the audit trail.
type Store interface {
	SaveRecord(ctx context.Context, rec *Record) error
	ListByReviewer(ctx context.Context, reviewerID string, limit int) ([]*Record, error)
}
