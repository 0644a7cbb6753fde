package geocode

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

// Worker drives geocoding: a batch pass over never-attempted events
// plus a trigger loop reacting to location changes.
type Worker struct {
	repo      events.Repository
	geocoder  events.Geocoder
	queue     events.TriggerQueue
	provider  string
	batchSize int
	log       *zap.Logger
}

// NewWorker builds a Worker. The queue may be nil when only batch mode
// is used.
func NewWorker(repo events.Repository, geocoder events.Geocoder, queue events.TriggerQueue, provider string, batchSize int, log *zap.Logger) *Worker {
	if batchSize < 1 {
		batchSize = 25
	}
	return &Worker{
		repo:      repo,
		geocoder:  geocoder,
		queue:     queue,
		provider:  provider,
		batchSize: batchSize,
		log:       log,
	}
}

// BatchResult summarizes one geocoding pass.
type BatchResult struct {
	Processed int
	Geocoded  int
	NotFound  int
	Deferred  int
}

// RunBatch geocodes events that have never been attempted. Permanent
// misses are recorded as attempted-without-coordinates so they are not
// retried; transient provider failures leave the event untouched for
// the next pass.
func (w *Worker) RunBatch(ctx context.Context) (BatchResult, error) {
	return w.RunBatchSize(ctx, w.batchSize)
}

// RunBatchSize is RunBatch with an explicit batch limit.
func (w *Worker) RunBatchSize(ctx context.Context, limit int) (BatchResult, error) {
	var res BatchResult
	if limit < 1 {
		limit = w.batchSize
	}

	batch, err := w.repo.ListForGeocoding(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list geocode candidates: %w", err)
	}

	for i := range batch {
		ev := &batch[i]
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Processed++

		query := Query(ev)
		if query == "" {
			// Nothing to send to a provider; mark attempted so the
			// event stops surfacing.
			if err := w.repo.MarkGeocoded(ctx, ev.ID, nil, nil); err != nil {
				return res, err
			}
			res.NotFound++
			metrics.ObserveGeocode(w.provider, "empty_query")
			continue
		}

		result, err := w.geocoder.Geocode(ctx, query)
		switch {
		case err == nil:
			if err := w.repo.MarkGeocoded(ctx, ev.ID, &result.Latitude, &result.Longitude); err != nil {
				return res, err
			}
			res.Geocoded++
			metrics.ObserveGeocode(w.provider, "ok")
		case events.IsPermanentGeocodeFailure(err):
			if err := w.repo.MarkGeocoded(ctx, ev.ID, nil, nil); err != nil {
				return res, err
			}
			res.NotFound++
			metrics.ObserveGeocode(w.provider, "not_found")
			w.log.Info("geocode query had no result",
				zap.Int64("event_id", ev.ID),
				zap.String("query", query))
		default:
			res.Deferred++
			metrics.ObserveGeocode(w.provider, "error")
			w.log.Warn("geocode attempt deferred",
				zap.Int64("event_id", ev.ID),
				zap.Error(err))
		}
	}

	w.log.Info("geocode batch finished",
		zap.Int("processed", res.Processed),
		zap.Int("geocoded", res.Geocoded),
		zap.Int("not_found", res.NotFound),
		zap.Int("deferred", res.Deferred))
	return res, nil
}

// RunTriggerLoop consumes location-change messages until the context
// ends. Each message prompts an immediate small batch, which picks up
// the cleared event along with anything else pending.
func (w *Worker) RunTriggerLoop(ctx context.Context) error {
	if w.queue == nil {
		return fmt.Errorf("trigger loop requires a queue")
	}
	for {
		change, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.log.Debug("location change received",
			zap.Int64("event_id", change.EventID),
			zap.String("reason", change.Reason))
		if _, err := w.RunBatch(ctx); err != nil {
			w.log.Warn("trigger-driven geocode batch failed", zap.Error(err))
		}
	}
}

var spaceRun = regexp.MustCompile(`\s+`)

// Query canonicalizes an event's location into a provider query.
// Equivalent spellings collapse to the same string so the HTTP cache
// deduplicates lookups.
func Query(ev *events.Event) string {
	parts := make([]string, 0, 3)
	if loc := strings.TrimSpace(ev.Location); loc != "" {
		parts = append(parts, loc)
	} else {
		if ev.City != "" {
			parts = append(parts, ev.City)
		}
		if ev.State != "" {
			parts = append(parts, ev.State)
		}
	}
	if ev.Country != "" {
		parts = append(parts, ev.Country)
	}
	q := strings.Join(parts, ", ")
	q = spaceRun.ReplaceAllString(q, " ")
	q = strings.Trim(q, " ,")
	return q
}
