package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

func TestAddRejectsDuplicateAndBadSpec(t *testing.T) {
	metrics.Init()
	s := New(zap.NewNop())
	ctx := context.Background()

	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add(ctx, Job{Name: "scrape", Spec: "0 6 * * *", Run: noop}))
	require.Error(t, s.Add(ctx, Job{Name: "scrape", Spec: "0 7 * * *", Run: noop}))
	require.Error(t, s.Add(ctx, Job{Name: "broken", Spec: "not a cron spec", Run: noop}))
}

func TestRunNow(t *testing.T) {
	metrics.Init()
	s := New(zap.NewNop())
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, s.Add(ctx, Job{Name: "scrape", Spec: "0 6 * * *", Run: func(context.Context) error {
		calls.Add(1)
		return nil
	}}))

	ran, err := s.RunNow(ctx, "scrape")
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, int32(1), calls.Load())

	_, err = s.RunNow(ctx, "no-such-job")
	require.Error(t, err)
}

func TestRunNowPropagatesJobError(t *testing.T) {
	metrics.Init()
	s := New(zap.NewNop())
	ctx := context.Background()

	boom := errors.New("boom")
	require.NoError(t, s.Add(ctx, Job{Name: "scrape", Spec: "0 6 * * *", Run: func(context.Context) error {
		return boom
	}}))

	ran, err := s.RunNow(ctx, "scrape")
	require.True(t, ran)
	require.ErrorIs(t, err, boom)
}

func TestOverlapSuppression(t *testing.T) {
	metrics.Init()
	s := New(zap.NewNop())
	ctx := context.Background()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	first := true
	require.NoError(t, s.Add(ctx, Job{Name: "slow", Spec: "0 6 * * *", Run: func(context.Context) error {
		started <- struct{}{}
		if first {
			first = false
			<-release
		}
		return nil
	}}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ran, err := s.RunNow(ctx, "slow")
		require.NoError(t, err)
		require.True(t, ran)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	// A second firing while the first is in flight is dropped.
	ran, err := s.RunNow(ctx, "slow")
	require.NoError(t, err)
	require.False(t, ran)

	close(release)
	<-done

	// After the first run returns, the job fires again.
	ran, err = s.RunNow(ctx, "slow")
	require.NoError(t, err)
	require.True(t, ran)
}

func TestStartStopsWithContext(t *testing.T) {
	metrics.Init()
	s := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
