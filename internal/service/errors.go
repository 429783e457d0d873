package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput is returned when a scoring request fails validation
// before entering the pipeline.
var ErrInvalidInput = errors.New("invalid input")

// ErrFeedbackDisabled is returned from feedback operations on a
// Service constructed without a learner.
var ErrFeedbackDisabled = errors.New("feedback loop disabled")

// ProcessingError wraps a pipeline failure with the transaction it
// occurred on and the time spent before failing.
type ProcessingError struct {
	TransactionID string
	Elapsed       time.Duration
	Err           error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("scoring %s failed after %s: %v", e.TransactionID, e.Elapsed, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
