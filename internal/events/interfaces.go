package events

import (
	"context"
	"time"
)

// Fetcher retrieves a page, consulting the content cache and the rate
// limiter. Implementations must honour the context deadline.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// Repository persists canonical events and run reports. All operations
// are transactional at single-event granularity.
type Repository interface {
	// Upsert inserts or updates by (source, ride_id). Stored non-null
	// values are never overwritten by null scraped values, and
	// updated_at is touched only on an effective change.
	Upsert(ctx context.Context, ev *Event) (UpsertOutcome, error)
	GetByIdentity(ctx context.Context, source, rideID string) (*Event, error)
	ListForGeocoding(ctx context.Context, limit int) ([]Event, error)
	ListForDetailEnrichment(ctx context.Context, now time.Time, limit int) ([]Event, error)
	ListByLocation(ctx context.Context, lat, lng, radiusMiles float64) ([]Event, error)
	MarkGeocoded(ctx context.Context, id int64, lat, lng *float64) error
	ClearGeocoding(ctx context.Context, id int64) error
	UpdateDetails(ctx context.Context, id int64, patch Details, checkedAt time.Time) error
	SaveRunReport(ctx context.Context, report RunReport) error
}

// Geocoder is the opaque provider capability that resolves a free-text
// query to coordinates. Permanent failures are reported as ErrNotFound
// or ErrAmbiguous; anything else is treated as retriable.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (GeocodeResult, error)
}

// DetailExtractor is the opaque provider capability that turns page text
// into structured event details (directions, amenities, hazards, ...).
type DetailExtractor interface {
	Extract(ctx context.Context, text string, hints ExtractionHints) (Details, error)
}

// TriggerQueue delivers location-change messages to the geocode worker
// on top of its batch schedule.
type TriggerQueue interface {
	Enqueue(ctx context.Context, change LocationChange) error
	Dequeue(ctx context.Context) (LocationChange, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}
