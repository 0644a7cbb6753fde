package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/htmlnorm"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

// websiteTTL keeps ride websites cached for a day; the recheck cadence
// never asks for the same page more often than that.
const websiteTTL = 24 * time.Hour

// Worker walks events whose websites are due for a recheck, fetches
// each site, and merges extracted details into the store.
type Worker struct {
	repo      events.Repository
	fetcher   events.Fetcher
	extractor events.DetailExtractor
	clock     events.Clock
	batchSize int
	maxChars  int
	log       *zap.Logger
}

// NewWorker builds the enrichment worker.
func NewWorker(repo events.Repository, fetcher events.Fetcher, extractor events.DetailExtractor, clock events.Clock, batchSize, maxChars int, log *zap.Logger) *Worker {
	if batchSize < 1 {
		batchSize = 5
	}
	if maxChars < 1 {
		maxChars = 15000
	}
	return &Worker{
		repo:      repo,
		fetcher:   fetcher,
		extractor: extractor,
		clock:     clock,
		batchSize: batchSize,
		maxChars:  maxChars,
		log:       log,
	}
}

// BatchResult summarizes one enrichment pass.
type BatchResult struct {
	Processed int
	Enriched  int
	Failed    int
}

// RunBatch processes due events. Failures are isolated per event: a
// dead website or a confused extractor never stops the batch, and the
// check timestamp still advances so the event rotates to the back of
// the queue.
func (w *Worker) RunBatch(ctx context.Context) (BatchResult, error) {
	return w.RunBatchSize(ctx, w.batchSize)
}

// RunBatchSize is RunBatch with an explicit batch limit.
func (w *Worker) RunBatchSize(ctx context.Context, limit int) (BatchResult, error) {
	var res BatchResult
	if limit < 1 {
		limit = w.batchSize
	}
	now := w.clock.Now()

	batch, err := w.repo.ListForDetailEnrichment(ctx, now, limit)
	if err != nil {
		return res, fmt.Errorf("list enrichment candidates: %w", err)
	}

	for i := range batch {
		ev := &batch[i]
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Processed++

		patch, err := w.enrichOne(ctx, ev)
		if err != nil {
			res.Failed++
			metrics.ObserveEnrichment("error")
			w.log.Warn("enrichment failed",
				zap.Int64("event_id", ev.ID),
				zap.String("website", ev.WebsiteURL),
				zap.Error(err))
			// Advance the check time anyway so a permanently broken
			// site does not hog the batch every run.
			if uerr := w.repo.UpdateDetails(ctx, ev.ID, nil, w.clock.Now()); uerr != nil {
				return res, uerr
			}
			continue
		}

		if err := w.repo.UpdateDetails(ctx, ev.ID, patch, w.clock.Now()); err != nil {
			return res, err
		}
		res.Enriched++
		metrics.ObserveEnrichment("ok")
	}

	w.log.Info("enrichment batch finished",
		zap.Int("processed", res.Processed),
		zap.Int("enriched", res.Enriched),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (w *Worker) enrichOne(ctx context.Context, ev *events.Event) (events.Details, error) {
	fetched, err := w.fetcher.Fetch(ctx, events.FetchRequest{
		URL:         ev.WebsiteURL,
		AllowCached: true,
		TTL:         websiteTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch website: %w", err)
	}

	text, err := htmlnorm.ExtractText(string(fetched.Body))
	if err != nil {
		return nil, fmt.Errorf("extract page text: %w", err)
	}
	if len(text) > w.maxChars {
		text = text[:w.maxChars]
	}
	if text == "" {
		return nil, fmt.Errorf("website produced no text")
	}

	hints := events.ExtractionHints{
		Name:     ev.Name,
		Date:     ev.DateStart.Format("2006-01-02"),
		Location: ev.Location,
	}
	details, err := w.extractor.Extract(ctx, text, hints)
	if err != nil {
		return nil, fmt.Errorf("extract details: %w", err)
	}
	return details, nil
}
