package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

func TestRecoverJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"clean", `{"directions":"Take exit 9"}`},
		{"fenced", "```json\n{\"directions\":\"Take exit 9\"}\n```"},
		{"prose", "Here is the data you asked for: {\"directions\":\"Take exit 9\"} hope it helps"},
		{"trailing_comma", `{"directions":"Take exit 9",}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := RecoverJSON(tc.in)
			require.NoError(t, err)
			dir, ok := d.String("directions")
			require.True(t, ok)
			require.Equal(t, "Take exit 9", dir)
		})
	}
}

func TestRecoverJSONNested(t *testing.T) {
	d, err := RecoverJSON(`{"registration_info":"opens May 1","cost_info":"$150 per rider",}`)
	require.NoError(t, err)
	reg, _ := d.String(events.DetailRegistration)
	require.Equal(t, "opens May 1", reg)
}

func TestRecoverJSONGarbage(t *testing.T) {
	_, err := RecoverJSON("I could not find any details on this site.")
	require.Error(t, err)
	_, err = RecoverJSON(`{"unterminated": `)
	require.Error(t, err)
}

func TestGeminiExtract(t *testing.T) {
	metrics.Init()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.URL.String(), "key=test-key")

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Contains(t, req.Contents[0].Parts[0].Text, "Big Horn 100")

		out := geminiResponse{}
		out.Candidates = append(out.Candidates, struct {
			Content geminiContent `json:"content"`
		}{Content: geminiContent{Parts: []geminiPart{{Text: "```json\n{\"hazards\":\"river crossing\"}\n```"}}}})
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	g := NewGemini("test-key", "gemini-2.0-flash", 5*time.Second)
	g.baseURL = srv.URL

	details, err := g.Extract(context.Background(), "page text", events.ExtractionHints{
		Name: "Big Horn 100", Date: "2026-07-11", Location: "Shell, WY",
	})
	require.NoError(t, err)
	hz, ok := details.String(events.DetailHazards)
	require.True(t, ok)
	require.Equal(t, "river crossing", hz)
}

type enrichRepo struct {
	events.Repository
	due     []events.Event
	patches map[int64]events.Details
	stamps  map[int64]time.Time
}

func (r *enrichRepo) ListForDetailEnrichment(_ context.Context, _ time.Time, limit int) ([]events.Event, error) {
	if len(r.due) > limit {
		return r.due[:limit], nil
	}
	return r.due, nil
}

func (r *enrichRepo) UpdateDetails(_ context.Context, id int64, patch events.Details, checkedAt time.Time) error {
	if r.patches == nil {
		r.patches = map[int64]events.Details{}
		r.stamps = map[int64]time.Time{}
	}
	r.patches[id] = patch
	r.stamps[id] = checkedAt
	return nil
}

type stubFetcher struct {
	pages map[string]string
}

func (f *stubFetcher) Fetch(_ context.Context, req events.FetchRequest) (events.FetchResult, error) {
	page, ok := f.pages[req.URL]
	if !ok {
		return events.FetchResult{}, &events.FetchError{Kind: events.FetchHTTPStatus, URL: req.URL, Status: 404}
	}
	return events.FetchResult{StatusCode: 200, Body: []byte(page)}, nil
}

type stubExtractor struct {
	details events.Details
	err     error
	texts   []string
}

func (e *stubExtractor) Extract(_ context.Context, text string, _ events.ExtractionHints) (events.Details, error) {
	e.texts = append(e.texts, text)
	if e.err != nil {
		return nil, e.err
	}
	return e.details, nil
}

type tick struct{ now time.Time }

func (c tick) Now() time.Time { return c.now }

func TestRunBatchIsolatesFailures(t *testing.T) {
	metrics.Init()
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	repo := &enrichRepo{due: []events.Event{
		{ID: 1, Name: "Good Ride", WebsiteURL: "https://good.example.com", DateStart: now.AddDate(0, 1, 0)},
		{ID: 2, Name: "Dead Site Ride", WebsiteURL: "https://dead.example.com", DateStart: now.AddDate(0, 1, 0)},
	}}
	fetcher := &stubFetcher{pages: map[string]string{
		"https://good.example.com": "<html><body><p>Camp opens Friday. Water available.</p></body></html>",
	}}
	extractor := &stubExtractor{details: events.Details{"amenities": "water available"}}

	w := NewWorker(repo, fetcher, extractor, tick{now}, 10, 15000, zap.NewNop())
	res, err := w.RunBatch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.Enriched)
	require.Equal(t, 1, res.Failed)

	require.Equal(t, events.Details{"amenities": "water available"}, repo.patches[1])
	// The failed site still gets its check time advanced, with no patch.
	require.Nil(t, repo.patches[2])
	require.Equal(t, now, repo.stamps[2])
}

func TestRunBatchTrimsLongPages(t *testing.T) {
	metrics.Init()
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	long := "<html><body><p>"
	for i := 0; i < 2000; i++ {
		long += fmt.Sprintf("line %d of ride details. ", i)
	}
	long += "</p></body></html>"

	repo := &enrichRepo{due: []events.Event{
		{ID: 1, Name: "Wordy Ride", WebsiteURL: "https://wordy.example.com", DateStart: now.AddDate(0, 1, 0)},
	}}
	fetcher := &stubFetcher{pages: map[string]string{"https://wordy.example.com": long}}
	extractor := &stubExtractor{details: events.Details{}}

	w := NewWorker(repo, fetcher, extractor, tick{now}, 10, 500, zap.NewNop())
	_, err := w.RunBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, extractor.texts, 1)
	require.LessOrEqual(t, len(extractor.texts[0]), 500)
}
