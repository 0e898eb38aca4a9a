package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdleTrackerWaitsForWindow(t *testing.T) {
	t.Parallel()

	tracker := NewIdleTracker(0, 40*time.Millisecond)
	start := time.Now()
	require.NoError(t, tracker.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestIdleTrackerBusyUntilRequestsFinish(t *testing.T) {
	t.Parallel()

	tracker := NewIdleTracker(1, 30*time.Millisecond)
	tracker.Start("a")
	tracker.Start("b")
	tracker.Start("b")
	require.Equal(t, 2, tracker.Inflight())

	go func() {
		time.Sleep(60 * time.Millisecond)
		tracker.Finish("a")
		tracker.Finish("unknown")
	}()

	start := time.Now()
	require.NoError(t, tracker.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, tracker.Inflight())
}

func TestIdleTrackerHonoursContext(t *testing.T) {
	t.Parallel()

	tracker := NewIdleTracker(0, time.Second)
	tracker.Start("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tracker.Wait(ctx), context.DeadlineExceeded)
}

func TestIdleTrackerReset(t *testing.T) {
	t.Parallel()

	tracker := NewIdleTracker(0, 10*time.Millisecond)
	tracker.Start("a")
	tracker.Reset()
	require.Zero(t, tracker.Inflight())
	require.NoError(t, tracker.Wait(context.Background()))
}

func TestIdleTrackerDefaults(t *testing.T) {
	t.Parallel()

	tracker := NewIdleTracker(-1, 0)
	require.Equal(t, DefaultIdleMaxInflight, tracker.maxInflight)
	require.Equal(t, DefaultIdleWindow, tracker.window)
}
