package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
	"github.com/trailblaze-app/trailblaze-scraper/internal/parser/aerc"
)

const landingPage = `<html><body><form>
<label><input type="checkbox" name="season[]" value="2431" checked> 2026 Season</label>
<label><input type="checkbox" name="season[]" value="2398"> 2025 Season</label>
</form></body></html>`

const calendarRow = `
<div class="calendarRow">
  <table>
    <tr class="fix-jumpy">
      <td class="region">MT</td>
      <td class="bold">10/10/2026</td>
      <td class="bold"><span class="rideName details" tag="%s">%s</span></td>
    </tr>
    <tr class="fix-jumpy">
      <td>25/50 miles</td>
      <td>Cedar Mountain, Moab, UT</td>
      <td><a href="https://example.com/ride">website</a></td>
    </tr>
  </table>
  <table class="detailData">
    <tr><td>mgr:</td><td>Location : </td><td>Cedar Mountain, Moab, UT</td></tr>
    <tr><td></td><td>Ride Manager : </td><td>Jane Doe, 435-555-0100, (jane@example.com)</td></tr>
    <tr><td>Distances</td><td>50&nbsp;</td><td>on Oct 10, 2026 starting at 07:00 am</td></tr>
  </table>
</div>`

func calendarEnvelope(rows string) []byte {
	b, _ := json.Marshal(map[string]string{"html": rows})
	return b
}

type routeFetcher struct {
	mu     sync.Mutex
	routes map[string][]byte
	errs   map[string]error
	calls  []events.FetchRequest
}

func (f *routeFetcher) Fetch(_ context.Context, req events.FetchRequest) (events.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err, ok := f.errs[req.URL]; ok {
		return events.FetchResult{}, err
	}
	body, ok := f.routes[req.URL]
	if !ok {
		return events.FetchResult{}, &events.FetchError{Kind: events.FetchHTTPStatus, URL: req.URL, Status: 404}
	}
	return events.FetchResult{StatusCode: 200, Body: body}, nil
}

type memRepo struct {
	events.Repository
	mu       sync.Mutex
	existing map[string]bool
	upserted []events.Event
	reports  []events.RunReport
	fail     map[string]error
}

func (r *memRepo) Upsert(_ context.Context, ev *events.Event) (events.UpsertOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[ev.RideID]; ok {
		return 0, err
	}
	r.upserted = append(r.upserted, *ev)
	if r.existing[ev.IdentityKey()] {
		return events.UpsertUnchanged, nil
	}
	if r.existing == nil {
		r.existing = map[string]bool{}
	}
	r.existing[ev.IdentityKey()] = true
	return events.UpsertInserted, nil
}

func (r *memRepo) SaveRunReport(_ context.Context, report events.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("run-%04d", g.n), nil
}

func newTestOrchestrator(fetcher events.Fetcher, repo events.Repository) *Orchestrator {
	metrics.Init()
	log := zap.NewNop()
	return New(
		fetcher,
		aerc.New(log),
		events.NewNormalizer(log),
		repo,
		fixedClock{time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)},
		&seqIDs{},
		Options{
			CalendarURL:    "https://aerc.org/calendar",
			AjaxURL:        "https://aerc.org/wp-admin/admin-ajax.php",
			PageTTL:        time.Hour,
			UpsertWorkers:  2,
			MaxInvalidRows: 10,
		},
		log,
	)
}

func TestRunHappyPath(t *testing.T) {
	rows := rowWith("14112", "Moab Canyons") + rowWith("14113", "Cedar Breaks")
	fetcher := &routeFetcher{routes: map[string][]byte{
		"https://aerc.org/calendar":               []byte(landingPage),
		"https://aerc.org/wp-admin/admin-ajax.php": calendarEnvelope(rows),
	}}
	repo := &memRepo{}

	o := newTestOrchestrator(fetcher, repo)
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, events.RunOK, report.Outcome)
	require.Equal(t, events.SourceAERC, report.Source)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, 1, report.Counts.Fetched)
	require.Equal(t, 2, report.Counts.Parsed)
	require.Equal(t, 2, report.Counts.Valid)
	require.Equal(t, 2, report.Counts.Inserted)
	require.Zero(t, report.Counts.Invalid)
	require.Empty(t, report.Errors)

	require.Len(t, repo.upserted, 2)
	require.Len(t, repo.reports, 1)
	require.Equal(t, report.RunID, repo.reports[0].RunID)

	// The AJAX request carries the discovered season ids and the fixed
	// form fields.
	var ajax *events.FetchRequest
	for i := range fetcher.calls {
		if fetcher.calls[i].Method == "POST" {
			ajax = &fetcher.calls[i]
		}
	}
	require.NotNil(t, ajax)
	require.Equal(t, []string{"2431", "2398"}, ajax.Form["season[]"])
	require.Equal(t, "aerc_calendar_form", ajax.Form.Get("action"))
	require.NotNil(t, ajax.Validate)
}

func TestRunCountsInvariant(t *testing.T) {
	// One good row, one row with no date (invalid at parse time).
	badRow := `<div class="calendarRow"><table><tr class="fix-jumpy">
	  <td class="region">MT</td><td class="bold">TBA</td>
	  <td class="bold"><span class="rideName" tag="9999">Mystery Ride</span></td>
	</tr></table></div>`
	rows := rowWith("14112", "Moab Canyons") + badRow

	fetcher := &routeFetcher{routes: map[string][]byte{
		"https://aerc.org/calendar":               []byte(landingPage),
		"https://aerc.org/wp-admin/admin-ajax.php": calendarEnvelope(rows),
	}}
	repo := &memRepo{}

	o := newTestOrchestrator(fetcher, repo)
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	// Row errors are recorded and counted, but a run that still produced
	// valid events stays ok.
	require.Equal(t, events.RunOK, report.Outcome)
	require.Equal(t, 2, report.Counts.Parsed)
	require.Equal(t, 1, report.Counts.Valid)
	require.Equal(t, 1, report.Counts.Invalid)
	require.Equal(t, 1, report.Counts.Inserted)
	require.NotEmpty(t, report.Errors)

	require.Equal(t, report.Counts.Parsed,
		report.Counts.Inserted+report.Counts.Updated+report.Counts.Skipped+report.Counts.Invalid)
}

func TestRunNoValidEventsDegrades(t *testing.T) {
	// Every row is unusable, so the run degrades even though the page
	// itself fetched and parsed fine.
	badRow := `<div class="calendarRow"><table><tr class="fix-jumpy">
	  <td class="region">MT</td><td class="bold">TBA</td>
	  <td class="bold"><span class="rideName" tag="9999">Mystery Ride</span></td>
	</tr></table></div>`

	fetcher := &routeFetcher{routes: map[string][]byte{
		"https://aerc.org/calendar":               []byte(landingPage),
		"https://aerc.org/wp-admin/admin-ajax.php": calendarEnvelope(badRow),
	}}
	repo := &memRepo{}

	o := newTestOrchestrator(fetcher, repo)
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, events.RunDegraded, report.Outcome)
	require.Zero(t, report.Counts.Valid)
	require.Equal(t, 1, report.Counts.Invalid)
	require.NotEmpty(t, report.Errors)
	require.Empty(t, repo.upserted)
}

func TestRunUnchangedCountsAsSkipped(t *testing.T) {
	rows := rowWith("14112", "Moab Canyons")
	fetcher := &routeFetcher{routes: map[string][]byte{
		"https://aerc.org/calendar":               []byte(landingPage),
		"https://aerc.org/wp-admin/admin-ajax.php": calendarEnvelope(rows),
	}}
	repo := &memRepo{existing: map[string]bool{"AERC/14112": true}}

	o := newTestOrchestrator(fetcher, repo)
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Counts.Skipped)
	require.Zero(t, report.Counts.Inserted)
}

func TestRunFetchFailureFailsRun(t *testing.T) {
	fetcher := &routeFetcher{
		routes: map[string][]byte{},
		errs: map[string]error{
			"https://aerc.org/calendar": &events.FetchError{
				Kind: events.FetchExceededRetries, URL: "https://aerc.org/calendar",
				Err: errors.New("connection refused"),
			},
		},
	}
	repo := &memRepo{}

	o := newTestOrchestrator(fetcher, repo)
	report, err := o.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, events.RunFailed, report.Outcome)
	require.NotEmpty(t, report.Errors)

	// Failed runs still persist their report.
	require.Len(t, repo.reports, 1)
	require.Equal(t, events.RunFailed, repo.reports[0].Outcome)
}

func TestRunStructuralFailure(t *testing.T) {
	fetcher := &routeFetcher{routes: map[string][]byte{
		"https://aerc.org/calendar":               []byte(landingPage),
		"https://aerc.org/wp-admin/admin-ajax.php": calendarEnvelope("<div>maintenance page</div>"),
	}}
	repo := &memRepo{}

	o := newTestOrchestrator(fetcher, repo)
	report, err := o.Run(context.Background())
	require.Error(t, err)
	var structural *events.StructuralError
	require.ErrorAs(t, err, &structural)
	require.Equal(t, events.RunFailed, report.Outcome)
}

func TestRunValidateOnlySkipsUpserts(t *testing.T) {
	rows := rowWith("14112", "Moab Canyons")
	fetcher := &routeFetcher{routes: map[string][]byte{
		"https://aerc.org/calendar":               []byte(landingPage),
		"https://aerc.org/wp-admin/admin-ajax.php": calendarEnvelope(rows),
	}}
	repo := &memRepo{}

	o := newTestOrchestrator(fetcher, repo)
	o.opts.ValidateOnly = true
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, events.RunOK, report.Outcome)
	require.Equal(t, 1, report.Counts.Skipped)
	require.Empty(t, repo.upserted)
	require.Len(t, repo.reports, 1)
}

func TestRunUpsertFailureDegrades(t *testing.T) {
	rows := rowWith("14112", "Moab Canyons") + rowWith("14113", "Cedar Breaks")
	fetcher := &routeFetcher{routes: map[string][]byte{
		"https://aerc.org/calendar":               []byte(landingPage),
		"https://aerc.org/wp-admin/admin-ajax.php": calendarEnvelope(rows),
	}}
	repo := &memRepo{fail: map[string]error{"14113": errors.New("deadlock detected")}}

	o := newTestOrchestrator(fetcher, repo)
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, events.RunDegraded, report.Outcome)
	require.Equal(t, 1, report.Counts.Inserted)
	require.Equal(t, 1, report.Counts.Skipped)
	require.NotEmpty(t, report.Errors)
}

func TestDegradedStreakResets(t *testing.T) {
	rows := rowWith("14112", "Moab Canyons")
	good := map[string][]byte{
		"https://aerc.org/calendar":               []byte(landingPage),
		"https://aerc.org/wp-admin/admin-ajax.php": calendarEnvelope(rows),
	}

	fetcher := &routeFetcher{routes: map[string][]byte{}}
	repo := &memRepo{}
	o := newTestOrchestrator(fetcher, repo)

	_, err := o.Run(context.Background())
	require.Error(t, err)
	_, err = o.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, o.degradedStreak)

	fetcher.routes = good
	_, err = o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, o.degradedStreak)
}

// rowWith renders a calendar row with the given ride id and name.
func rowWith(rideID, name string) string {
	row := strings.Replace(calendarRow, "%s", rideID, 1)
	return strings.Replace(row, "%s", name, 1)
}
