// Package orchestrator runs the scrape pipeline end to end: fetch the
// calendar, parse and normalize the rows, upsert the results, and
// record a run report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/htmlnorm"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
	"github.com/trailblaze-app/trailblaze-scraper/internal/parser/aerc"
)

// Options tunes a single run.
type Options struct {
	CalendarURL    string
	AjaxURL        string
	PageTTL        time.Duration
	RunDeadline    time.Duration
	UpsertWorkers  int
	MaxInvalidRows int
	ValidateOnly   bool
}

// Orchestrator owns the scrape pipeline for one source.
type Orchestrator struct {
	fetcher    events.Fetcher
	parser     *aerc.Parser
	normalizer *events.Normalizer
	repo       events.Repository
	clock      events.Clock
	ids        events.IDGenerator
	opts       Options
	log        *zap.Logger

	mu             sync.Mutex
	degradedStreak int
}

// New builds an Orchestrator.
func New(fetcher events.Fetcher, parser *aerc.Parser, normalizer *events.Normalizer, repo events.Repository, clock events.Clock, ids events.IDGenerator, opts Options, log *zap.Logger) *Orchestrator {
	if opts.UpsertWorkers < 1 {
		opts.UpsertWorkers = 1
	}
	return &Orchestrator{
		fetcher:    fetcher,
		parser:     parser,
		normalizer: normalizer,
		repo:       repo,
		clock:      clock,
		ids:        ids,
		opts:       opts,
		log:        log,
	}
}

// Run executes one scrape. The returned report is always populated,
// even when the run fails; the error mirrors the report's outcome for
// callers that only care about success.
func (o *Orchestrator) Run(ctx context.Context) (events.RunReport, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return events.RunReport{}, fmt.Errorf("generate run id: %w", err)
	}

	report := events.RunReport{
		RunID:     runID,
		Source:    events.SourceAERC,
		StartedAt: o.clock.Now(),
	}
	log := o.log.With(zap.String("run_id", runID))
	log.Info("scrape run starting", zap.String("calendar", o.opts.CalendarURL))

	if o.opts.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RunDeadline)
		defer cancel()
	}

	degraded, runErr := o.run(ctx, log, &report)
	report.EndedAt = o.clock.Now()

	switch {
	case runErr == nil && !degraded:
		report.Outcome = events.RunOK
	case runErr == nil:
		report.Outcome = events.RunDegraded
	case errors.Is(runErr, context.DeadlineExceeded):
		report.Outcome = events.RunTimedOut
		report.Errors = append(report.Errors, runErr.Error())
	default:
		report.Outcome = events.RunFailed
		report.Errors = append(report.Errors, runErr.Error())
	}

	o.trackDegraded(report.Outcome)
	metrics.ObserveRun(report.Source, string(report.Outcome), report.EndedAt.Sub(report.StartedAt))

	// The report is saved even for failed runs; a save failure is only
	// logged so it cannot mask the run's own outcome.
	if err := o.repo.SaveRunReport(context.WithoutCancel(ctx), report); err != nil {
		log.Error("saving run report failed", zap.Error(err))
	}

	log.Info("scrape run finished",
		zap.String("outcome", string(report.Outcome)),
		zap.Int("parsed", report.Counts.Parsed),
		zap.Int("inserted", report.Counts.Inserted),
		zap.Int("updated", report.Counts.Updated),
		zap.Int("skipped", report.Counts.Skipped),
		zap.Int("invalid", report.Counts.Invalid))

	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

// run executes the pipeline stages. The degraded return is set when the
// page yielded no usable events or some upserts failed; row and
// validation errors are recorded in the report but leave the outcome
// alone as long as anything valid came through.
func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, report *events.RunReport) (degraded bool, err error) {
	pageHTML, err := o.fetchCalendar(ctx, log)
	if err != nil {
		metrics.ObservePage(report.Source, "error")
		metrics.ObserveError(events.ErrorCode(err))
		return false, err
	}
	report.Counts.Fetched = 1
	metrics.ObservePage(report.Source, "ok")

	normalized, err := htmlnorm.Normalize(pageHTML)
	if err != nil {
		// Normalization is best effort; the parser handles raw markup.
		log.Warn("html normalization failed, parsing raw page", zap.Error(err))
		normalized = pageHTML
	}

	raws, rowErrs, err := o.parser.Parse(normalized)
	if err != nil {
		metrics.ObserveError(events.ErrorCode(err))
		return false, err
	}
	metrics.ObserveEvents(report.Source, "rows", len(raws))

	invalidRows := 0
	for _, raw := range raws {
		if raw.Invalid {
			invalidRows++
		}
	}
	for _, rowErr := range rowErrs {
		report.Errors = append(report.Errors, rowErr.Error())
		metrics.ObserveError(events.ErrorCode(rowErr))
	}
	if o.opts.MaxInvalidRows > 0 && invalidRows > o.opts.MaxInvalidRows {
		return false, fmt.Errorf("%d invalid rows exceeds limit %d, refusing to continue", invalidRows, o.opts.MaxInvalidRows)
	}

	normalizedEvents, validationErrs := o.normalizer.Normalize(raws)
	for _, verr := range validationErrs {
		report.Errors = append(report.Errors, verr.Error())
		metrics.ObserveError(events.ErrorCode(verr))
	}
	report.Counts.Valid = len(normalizedEvents)
	report.Counts.Invalid = invalidRows + len(validationErrs)
	if report.Counts.Valid == 0 {
		// A page that parses but yields nothing usable degrades the run;
		// an empty calendar mid-season means the markup moved under us.
		report.Errors = append(report.Errors, "no valid events extracted")
		degraded = true
	}
	// Parsed counts event candidates, so inserted+updated+skipped+invalid
	// always adds back up to it even after multi-day rows merge.
	report.Counts.Parsed = report.Counts.Valid + report.Counts.Invalid
	metrics.ObserveEvents(report.Source, "valid", len(normalizedEvents))

	for i := range normalizedEvents {
		if normalizedEvents[i].IsCanceled {
			report.Counts.Canceled++
		}
	}

	if o.opts.ValidateOnly {
		report.Counts.Skipped = len(normalizedEvents)
		log.Info("validate-only run, skipping upserts",
			zap.Int("valid", len(normalizedEvents)))
		return degraded, ctx.Err()
	}

	upsertErrs := o.upsertAll(ctx, normalizedEvents, &report.Counts)
	for _, uerr := range upsertErrs {
		report.Errors = append(report.Errors, uerr.Error())
		metrics.ObserveError(events.ErrorCode(uerr))
	}
	if len(upsertErrs) > 0 {
		degraded = true
	}
	return degraded, ctx.Err()
}

// fetchCalendar loads the landing page for season discovery, then posts
// the calendar form to the AJAX endpoint and unwraps the fragment.
func (o *Orchestrator) fetchCalendar(ctx context.Context, log *zap.Logger) (string, error) {
	landing, err := o.fetcher.Fetch(ctx, events.FetchRequest{
		URL:         o.opts.CalendarURL,
		AllowCached: true,
		TTL:         o.opts.PageTTL,
	})
	if err != nil {
		return "", fmt.Errorf("fetch calendar landing page: %w", err)
	}

	seasons, err := aerc.DiscoverSeasonIDs(string(landing.Body))
	if err != nil {
		return "", err
	}
	ids := make([]string, len(seasons))
	for i, s := range seasons {
		ids[i] = s.ID
	}
	log.Debug("discovered seasons", zap.Strings("season_ids", ids))

	res, err := o.fetcher.Fetch(ctx, events.FetchRequest{
		URL:         o.opts.AjaxURL,
		Method:      http.MethodPost,
		Form:        aerc.BuildCalendarForm(ids),
		AllowCached: true,
		TTL:         o.opts.PageTTL,
		Validate:    aerc.LooksLikeCalendar,
	})
	if err != nil {
		return "", fmt.Errorf("fetch calendar fragment: %w", err)
	}
	if res.FromCache {
		log.Debug("calendar served from cache")
	}
	return aerc.DecodeCalendarResponse(res.Body)
}

// upsertAll writes events through a small worker pool. Individual
// failures are collected; they degrade the run without aborting it.
func (o *Orchestrator) upsertAll(ctx context.Context, evs []events.Event, counts *events.RunCounts) []error {
	jobs := make(chan *events.Event)
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)

	for w := 0; w < o.opts.UpsertWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range jobs {
				outcome, err := o.repo.Upsert(ctx, ev)
				mu.Lock()
				if err != nil {
					errs = append(errs, fmt.Errorf("upsert %s: %w", ev.IdentityKey(), err))
					counts.Skipped++
				} else {
					switch outcome {
					case events.UpsertInserted:
						counts.Inserted++
					case events.UpsertUpdated:
						counts.Updated++
					default:
						counts.Skipped++
					}
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range evs {
		select {
		case jobs <- &evs[i]:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return errs
}

func (o *Orchestrator) trackDegraded(outcome events.RunOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if outcome == events.RunOK {
		o.degradedStreak = 0
	} else {
		o.degradedStreak++
	}
	metrics.SetDegradedStreak(o.degradedStreak)
	if o.degradedStreak >= 2 {
		o.log.Error("consecutive non-ok runs", zap.Int("streak", o.degradedStreak))
	}
}
