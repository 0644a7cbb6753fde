// Package events defines the core types shared across the scrape and
// enrichment pipeline.
package events

import (
	"net/http"
	"net/url"
	"time"
)

// SourceAERC is the source tag for events scraped from the AERC calendar.
const SourceAERC = "AERC"

// Distance is a single advertised ride distance, tied to the day it runs.
type Distance struct {
	Label     string `json:"distance"`
	Date      string `json:"date,omitempty"`
	StartTime string `json:"start_time,omitempty"`
}

// ControlJudge is a judge assignment extracted from a calendar row.
type ControlJudge struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// Event is the canonical, source-agnostic event record persisted in the
// events table. Identity is the (Source, RideID) pair.
type Event struct {
	ID           int64
	Source       string
	RideID       string
	Name         string
	Description  string
	DateStart    time.Time
	DateEnd      time.Time
	Location     string
	City         string
	State        string
	Country      string
	Organization string
	Distances    []Distance
	RideManager  string
	ManagerEmail string
	ManagerPhone string
	WebsiteURL   string
	FlyerURL     string
	MapLink      string

	ControlJudges []ControlJudge

	IsMultiDay   bool
	IsPioneer    bool
	RideDays     int
	HasIntroRide bool
	IsCanceled   bool

	Latitude           *float64
	Longitude          *float64
	GeocodingAttempted bool
	LastWebsiteCheckAt *time.Time

	Details Details
	Notes   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdentityKey returns the stable key used to group and upsert events.
func (e *Event) IdentityKey() string {
	return e.Source + "/" + e.RideID
}

// RawEvent is the parser's per-row output. Fields may be missing or
// ambiguous; multi-day rides appear as one row per day before merging.
// RawEvents are never persisted.
type RawEvent struct {
	Source       string
	RideID       string
	Name         string
	Description  string
	DateStart    *time.Time
	DateEnd      *time.Time
	Location     string
	City         string
	State        string
	Country      string
	Organization string
	Distances    []Distance
	RideManager  string
	ManagerEmail string
	ManagerPhone string
	WebsiteURL   string
	FlyerURL     string
	MapLink      string

	ControlJudges []ControlJudge

	HasIntroRide bool
	IsCanceled   bool

	Latitude           *float64
	Longitude          *float64
	GeocodingAttempted bool

	Details Details

	// Invalid marks rows that failed extraction badly enough that they
	// cannot become events (for example an unparseable date). They are
	// still emitted so the run report can count them.
	Invalid bool
	Problem string
}

// RunOutcome classifies how a scrape run ended.
type RunOutcome string

// Run outcomes persisted in run_reports.
const (
	RunOK       RunOutcome = "ok"
	RunDegraded RunOutcome = "degraded"
	RunTimedOut RunOutcome = "timed_out"
	RunFailed   RunOutcome = "failed"
)

// RunCounts accumulates per-run pipeline counters. The invariant
// inserted+updated+skipped+invalid = parsed holds for completed runs.
type RunCounts struct {
	Fetched  int `json:"fetched"`
	Parsed   int `json:"parsed"`
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Canceled int `json:"canceled"`
}

// RunReport records the outcome of a single scrape invocation.
type RunReport struct {
	RunID     string
	Source    string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   RunOutcome
	Counts    RunCounts
	Errors    []string
}

// FetchRequest captures everything needed to retrieve one page.
type FetchRequest struct {
	URL         string
	Method      string // GET when empty
	Form        url.Values
	AllowCached bool
	TTL         time.Duration
	// Validate gates cache freshness: a cached payload failing the
	// predicate is evicted and refetched. Nil accepts anything.
	Validate func(payload []byte) bool
}

// FetchResult is the body plus metadata returned by a Fetcher.
type FetchResult struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	FromCache  bool
	Duration   time.Duration
}

// UpsertOutcome reports what an Upsert actually did.
type UpsertOutcome int

// Upsert outcomes.
const (
	UpsertInserted UpsertOutcome = iota
	UpsertUpdated
	UpsertUnchanged
)

// String returns the metrics label for the outcome.
func (o UpsertOutcome) String() string {
	switch o {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// GeocodeResult is a successful provider lookup in WGS84 decimal degrees.
type GeocodeResult struct {
	Latitude  float64
	Longitude float64
}

// ExtractionHints gives the DetailExtractor event context alongside the
// page text.
type ExtractionHints struct {
	Name     string
	Date     string
	Location string
}

// LocationChange is the trigger-hook message consumed by the geocode
// worker when a writer updates an event's location out of band.
type LocationChange struct {
	EventID int64
	Reason  string
}
