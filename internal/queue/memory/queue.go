// Package memory provides an in-process trigger queue. Location
// changes only matter within the producing process, so a bounded
// channel is enough; a broker would add an external dependency for no
// durability gain.
package memory

import (
	"context"
	"errors"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
)

// ErrQueueFull is returned when the queue cannot accept more changes.
// Callers treat it as a soft failure: the batch geocode pass will pick
// the event up anyway.
var ErrQueueFull = errors.New("trigger queue full")

// Queue is a bounded in-memory TriggerQueue.
type Queue struct {
	ch chan events.LocationChange
}

var _ events.TriggerQueue = (*Queue)(nil)

// New creates a Queue holding at most capacity pending changes.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan events.LocationChange, capacity)}
}

// Enqueue adds a change without blocking.
func (q *Queue) Enqueue(ctx context.Context, change events.LocationChange) error {
	select {
	case q.ch <- change:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a change arrives or the context is canceled.
func (q *Queue) Dequeue(ctx context.Context) (events.LocationChange, error) {
	select {
	case change := <-q.ch:
		return change, nil
	case <-ctx.Done():
		return events.LocationChange{}, ctx.Err()
	}
}

// Len reports the number of pending changes.
func (q *Queue) Len() int {
	return len(q.ch)
}
