package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
)

func TestEnqueueDequeue(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, events.LocationChange{EventID: 1, Reason: "moved"}))
	require.NoError(t, q.Enqueue(ctx, events.LocationChange{EventID: 2, Reason: "moved"}))
	require.Equal(t, 2, q.Len())

	c, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.EventID)
}

func TestEnqueueFullDoesNotBlock(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, events.LocationChange{EventID: 1}))
	err := q.Enqueue(ctx, events.LocationChange{EventID: 2})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestDequeueHonorsContext(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
