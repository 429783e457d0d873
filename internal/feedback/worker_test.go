package feedback

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateTimerStartStop(t *testing.T) {
	l := newTestLearner()
	timer := NewUpdateTimer(l, discardLogger(), 10*time.Millisecond, 50*time.Millisecond)

	assert.False(t, timer.Running())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)

	require.Eventually(t, timer.Running, time.Second, 5*time.Millisecond)

	// Second Start is a no-op while already running.
	go timer.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, timer.Running())

	timer.Stop()
	require.Eventually(t, func() bool { return !timer.Running() }, time.Second, 5*time.Millisecond)

	// Stop on a stopped timer must not block or panic.
	timer.Stop()
}

func TestUpdateTimerDrainsDueUpdates(t *testing.T) {
	l := newTestLearner()

	rec := record("txn_timer", "analyst_1", LabelFraud)
	rec.Confidence = 0.95
	rec.EvidenceType = EvidenceBankConfirmation
	require.NoError(t, l.SubmitFeedback(context.Background(), rec))
	require.Equal(t, 1, l.QueueStatus().Depth)

	timer := NewUpdateTimer(l, discardLogger(), 10*time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)
	defer timer.Stop()

	require.Eventually(t, func() bool {
		return l.QueueStatus().Depth == 0
	}, 2*time.Second, 10*time.Millisecond, "drain tick should execute the due update")
}

func TestUpdateTimerStopsOnContextCancel(t *testing.T) {
	timer := NewUpdateTimer(newTestLearner(), discardLogger(), 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go timer.Start(ctx)
	require.Eventually(t, timer.Running, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !timer.Running() }, time.Second, 5*time.Millisecond)
}
