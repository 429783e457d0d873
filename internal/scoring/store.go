package scoring

import (
	"context"

	"github.com/vantagepay/fraudlens/internal/pagination"
)

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor filters results to verdicts older than the given cursor
// position. Invalid cursors are ignored.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}

// Store persists fraud verdicts for audit trail.
type Store interface {
	Record(ctx context.Context, verdict *FraudVerdict) error
	ListRecent(ctx context.Context, limit int, opts ...ListOption) ([]*FraudVerdict, error)
}
