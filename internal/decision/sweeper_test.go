package decision_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinguard/internal/decision"
	decisionstore "kinguard/internal/decision/store"
)

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	store := decisionstore.NewInMemory()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	for _, d := range []*decision.Decision{
		{ID: "expired", SubjectID: "kid", Timestamp: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
		{ID: "live", SubjectID: "kid", Timestamp: now, ExpiresAt: now.Add(time.Hour)},
	} {
		require.NoError(t, store.Save(ctx, d))
	}

	sw := decision.NewSweeper(store, decision.WithSweepClock(func() time.Time { return now }))
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Find(ctx, "live")
	assert.NoError(t, err)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := decisionstore.NewInMemory()
	sw := decision.NewSweeper(store, decision.WithSweepInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
