package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
)

const eventColumns = `id, source, ride_id, name, description, date_start, date_end,
	location, city, state, country, organization, distances,
	ride_manager, manager_email, manager_phone, website_url, flyer_url, map_link,
	control_judges, is_multi_day, is_pioneer, ride_days, has_intro_ride, is_canceled,
	latitude, longitude, geocoding_attempted, last_website_check_at,
	details, notes, created_at, updated_at`

const selectByIdentitySQL = `SELECT ` + eventColumns + ` FROM events WHERE source = $1 AND ride_id = $2`

const insertEventSQL = `INSERT INTO events (
	source, ride_id, name, description, date_start, date_end,
	location, city, state, country, organization, distances,
	ride_manager, manager_email, manager_phone, website_url, flyer_url, map_link,
	control_judges, is_multi_day, is_pioneer, ride_days, has_intro_ride, is_canceled,
	latitude, longitude, geocoding_attempted, last_website_check_at,
	details, notes, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
	$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32
) RETURNING id`

const updateEventSQL = `UPDATE events SET
	name = $2, description = $3, date_start = $4, date_end = $5,
	location = $6, city = $7, state = $8, country = $9, organization = $10,
	distances = $11, ride_manager = $12, manager_email = $13, manager_phone = $14,
	website_url = $15, flyer_url = $16, map_link = $17, control_judges = $18,
	is_multi_day = $19, is_pioneer = $20, ride_days = $21, has_intro_ride = $22,
	is_canceled = $23, latitude = $24, longitude = $25, geocoding_attempted = $26,
	last_website_check_at = $27, details = $28, notes = $29, updated_at = $30
WHERE id = $1`

// WithTriggerQueue attaches the location-change queue. When an upsert
// moves an event that already had coordinates, the repository clears
// them and notifies the geocode worker.
func (r *Repository) WithTriggerQueue(q events.TriggerQueue) *Repository {
	r.triggers = q
	return r
}

// Upsert inserts or updates an event by (source, ride_id). Empty
// scraped fields never overwrite stored values, cancellation is
// sticky, and updated_at moves only when something actually changed.
func (r *Repository) Upsert(ctx context.Context, ev *events.Event) (events.UpsertOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return events.UpsertUnchanged, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanEvent(tx.QueryRow(ctx, selectByIdentitySQL+" FOR UPDATE", ev.Source, ev.RideID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return events.UpsertUnchanged, fmt.Errorf("load existing event: %w", err)
	}

	now := r.clock.Now()
	if existing == nil {
		inserted := *ev
		inserted.CreatedAt = now
		inserted.UpdatedAt = now
		args, aerr := insertArgs(&inserted)
		if aerr != nil {
			return events.UpsertUnchanged, aerr
		}
		if err := tx.QueryRow(ctx, insertEventSQL, args...).Scan(&inserted.ID); err != nil {
			return events.UpsertUnchanged, fmt.Errorf("insert event: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return events.UpsertUnchanged, fmt.Errorf("commit insert: %w", err)
		}
		*ev = inserted
		return events.UpsertInserted, nil
	}

	merged, locationMoved := mergeScraped(existing, ev)
	if eventsEffectivelyEqual(existing, merged) {
		if err := tx.Commit(ctx); err != nil {
			return events.UpsertUnchanged, fmt.Errorf("commit noop upsert: %w", err)
		}
		*ev = *existing
		return events.UpsertUnchanged, nil
	}

	merged.UpdatedAt = now
	args, aerr := updateArgs(merged)
	if aerr != nil {
		return events.UpsertUnchanged, aerr
	}
	if _, err := tx.Exec(ctx, updateEventSQL, args...); err != nil {
		return events.UpsertUnchanged, fmt.Errorf("update event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return events.UpsertUnchanged, fmt.Errorf("commit update: %w", err)
	}

	if locationMoved && r.triggers != nil {
		change := events.LocationChange{EventID: merged.ID, Reason: "location changed on upsert"}
		if err := r.triggers.Enqueue(ctx, change); err != nil {
			r.log.Warn("location change enqueue failed",
				zap.Int64("event_id", merged.ID), zap.Error(err))
		}
	}

	*ev = *merged
	return events.UpsertUpdated, nil
}

// mergeScraped folds a freshly scraped event into the stored one.
// Scraped values win where present; stored values survive where the
// scrape came back empty. Returns the merged record and whether the
// location moved away from stored coordinates.
func mergeScraped(existing, scraped *events.Event) (*events.Event, bool) {
	m := *existing

	m.Name = pick(scraped.Name, existing.Name)
	m.Description = pick(scraped.Description, existing.Description)
	m.DateStart = scraped.DateStart
	m.DateEnd = scraped.DateEnd
	m.Location = pick(scraped.Location, existing.Location)
	m.City = pick(scraped.City, existing.City)
	m.State = pick(scraped.State, existing.State)
	m.Country = pick(scraped.Country, existing.Country)
	m.Organization = pick(scraped.Organization, existing.Organization)
	m.RideManager = pick(scraped.RideManager, existing.RideManager)
	m.ManagerEmail = pick(scraped.ManagerEmail, existing.ManagerEmail)
	m.ManagerPhone = pick(scraped.ManagerPhone, existing.ManagerPhone)
	m.WebsiteURL = pick(scraped.WebsiteURL, existing.WebsiteURL)
	m.FlyerURL = pick(scraped.FlyerURL, existing.FlyerURL)
	m.MapLink = pick(scraped.MapLink, existing.MapLink)
	m.Notes = pick(scraped.Notes, existing.Notes)

	if len(scraped.Distances) > 0 {
		m.Distances = scraped.Distances
	}
	if len(scraped.ControlJudges) > 0 {
		m.ControlJudges = scraped.ControlJudges
	}

	m.IsMultiDay = scraped.IsMultiDay
	m.IsPioneer = scraped.IsPioneer
	m.RideDays = scraped.RideDays
	m.HasIntroRide = scraped.HasIntroRide
	// Cancellation is sticky: a later row without the marker does not
	// resurrect the event.
	m.IsCanceled = existing.IsCanceled || scraped.IsCanceled

	if scraped.Latitude != nil && scraped.Longitude != nil {
		m.Latitude = scraped.Latitude
		m.Longitude = scraped.Longitude
		m.GeocodingAttempted = true
	}

	merged, _ := existing.Details.Merge(scraped.Details, true)
	m.Details = merged

	locationMoved := false
	if m.Location != existing.Location && existing.Latitude != nil && scraped.Latitude == nil {
		// The venue moved and the stored pin belongs to the old one.
		m.Latitude = nil
		m.Longitude = nil
		m.GeocodingAttempted = false
		locationMoved = true
	}
	return &m, locationMoved
}

func pick(scraped, stored string) string {
	if scraped != "" {
		return scraped
	}
	return stored
}

// eventsEffectivelyEqual ignores bookkeeping fields when deciding
// whether an upsert changed anything.
func eventsEffectivelyEqual(a, b *events.Event) bool {
	ca, cb := *a, *b
	ca.ID, cb.ID = 0, 0
	ca.CreatedAt, cb.CreatedAt = time.Time{}, time.Time{}
	ca.UpdatedAt, cb.UpdatedAt = time.Time{}, time.Time{}
	if len(ca.Details) == 0 && len(cb.Details) == 0 {
		ca.Details, cb.Details = nil, nil
	}
	if len(ca.Distances) == 0 && len(cb.Distances) == 0 {
		ca.Distances, cb.Distances = nil, nil
	}
	if len(ca.ControlJudges) == 0 && len(cb.ControlJudges) == 0 {
		ca.ControlJudges, cb.ControlJudges = nil, nil
	}
	return reflect.DeepEqual(ca, cb)
}

// GetByIdentity loads one event, or nil when it does not exist.
func (r *Repository) GetByIdentity(ctx context.Context, source, rideID string) (*events.Event, error) {
	ev, err := scanEvent(r.pool.QueryRow(ctx, selectByIdentitySQL, source, rideID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s/%s: %w", source, rideID, err)
	}
	return ev, nil
}

const listForGeocodingSQL = `SELECT ` + eventColumns + ` FROM events
WHERE geocoding_attempted = FALSE AND latitude IS NULL AND location <> ''
ORDER BY date_start ASC
LIMIT $1`

// ListForGeocoding returns events that have never been geocoded.
func (r *Repository) ListForGeocoding(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := r.pool.Query(ctx, listForGeocodingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list for geocoding: %w", err)
	}
	return collectEvents(rows)
}

// Cadence tiers: events inside 90 days get rechecked daily, further
// out weekly. Past events and never-checked events with a website are
// handled by the WHERE clauses.
const listForDetailEnrichmentSQL = `SELECT ` + eventColumns + ` FROM events
WHERE website_url <> ''
  AND date_end + INTERVAL '30 days' >= $1
  AND (
	last_website_check_at IS NULL
	OR (date_start <= $1 + INTERVAL '90 days' AND last_website_check_at <= $1 - INTERVAL '24 hours')
	OR (date_start >  $1 + INTERVAL '90 days' AND last_website_check_at <= $1 - INTERVAL '7 days')
  )
ORDER BY last_website_check_at ASC NULLS FIRST, date_start ASC
LIMIT $2`

// ListForDetailEnrichment returns events whose websites are due for a
// recheck at the given time. Events stay eligible until 30 days past
// their end date, so a ride already underway still gets checked.
func (r *Repository) ListForDetailEnrichment(ctx context.Context, now time.Time, limit int) ([]events.Event, error) {
	rows, err := r.pool.Query(ctx, listForDetailEnrichmentSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list for enrichment: %w", err)
	}
	return collectEvents(rows)
}

// Haversine distance in statute miles, computed in SQL so the index on
// date_start still prunes most rows.
const listByLocationSQL = `SELECT ` + eventColumns + ` FROM events
WHERE latitude IS NOT NULL AND longitude IS NOT NULL
  AND 3959 * 2 * asin(sqrt(
	power(sin(radians(latitude - $1) / 2), 2) +
	cos(radians($1)) * cos(radians(latitude)) *
	power(sin(radians(longitude - $2) / 2), 2)
  )) <= $3
ORDER BY date_start ASC`

// ListByLocation returns events within radiusMiles of the point.
func (r *Repository) ListByLocation(ctx context.Context, lat, lng, radiusMiles float64) ([]events.Event, error) {
	rows, err := r.pool.Query(ctx, listByLocationSQL, lat, lng, radiusMiles)
	if err != nil {
		return nil, fmt.Errorf("list by location: %w", err)
	}
	return collectEvents(rows)
}

const markGeocodedSQL = `UPDATE events SET
	latitude = $2, longitude = $3, geocoding_attempted = TRUE, updated_at = $4
WHERE id = $1`

// MarkGeocoded records a geocode attempt. Nil coordinates mean the
// query failed permanently; the event will not be retried.
func (r *Repository) MarkGeocoded(ctx context.Context, id int64, lat, lng *float64) error {
	if _, err := r.pool.Exec(ctx, markGeocodedSQL, id, lat, lng, r.clock.Now()); err != nil {
		return fmt.Errorf("mark geocoded %d: %w", id, err)
	}
	return nil
}

const clearGeocodingSQL = `UPDATE events SET
	latitude = NULL, longitude = NULL, geocoding_attempted = FALSE, updated_at = $2
WHERE id = $1`

// ClearGeocoding resets an event for re-geocoding after its location
// changed.
func (r *Repository) ClearGeocoding(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, clearGeocodingSQL, id, r.clock.Now()); err != nil {
		return fmt.Errorf("clear geocoding %d: %w", id, err)
	}
	return nil
}

const selectDetailsSQL = `SELECT details FROM events WHERE id = $1 FOR UPDATE`

const updateDetailsSQL = `UPDATE events SET
	details = $2, last_website_check_at = $3, updated_at = $4
WHERE id = $1`

const touchWebsiteCheckSQL = `UPDATE events SET last_website_check_at = $2 WHERE id = $1`

// UpdateDetails deep-merges extracted details into the stored bag and
// stamps the website check time. The extractor's values win conflicts
// for the keys it writes. When the patch changes nothing, only the
// check timestamp moves, leaving updated_at alone.
func (r *Repository) UpdateDetails(ctx context.Context, id int64, patch events.Details, checkedAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin details update: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	if err := tx.QueryRow(ctx, selectDetailsSQL, id).Scan(&raw); err != nil {
		return fmt.Errorf("load details %d: %w", id, err)
	}
	var stored events.Details
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode details %d: %w", id, err)
		}
	}

	merged, _ := stored.Merge(patch, true)
	if reflect.DeepEqual(map[string]any(stored), map[string]any(merged)) {
		if _, err := tx.Exec(ctx, touchWebsiteCheckSQL, id, checkedAt); err != nil {
			return fmt.Errorf("touch website check %d: %w", id, err)
		}
		return tx.Commit(ctx)
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode details %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx, updateDetailsSQL, id, encoded, checkedAt, r.clock.Now()); err != nil {
		return fmt.Errorf("update details %d: %w", id, err)
	}
	return tx.Commit(ctx)
}

func insertArgs(ev *events.Event) ([]any, error) {
	distances, judges, details, err := encodeJSONFields(ev)
	if err != nil {
		return nil, err
	}
	return []any{
		ev.Source, ev.RideID, ev.Name, ev.Description, ev.DateStart, ev.DateEnd,
		ev.Location, ev.City, ev.State, ev.Country, ev.Organization, distances,
		ev.RideManager, ev.ManagerEmail, ev.ManagerPhone, ev.WebsiteURL, ev.FlyerURL, ev.MapLink,
		judges, ev.IsMultiDay, ev.IsPioneer, ev.RideDays, ev.HasIntroRide, ev.IsCanceled,
		ev.Latitude, ev.Longitude, ev.GeocodingAttempted, ev.LastWebsiteCheckAt,
		details, ev.Notes, ev.CreatedAt, ev.UpdatedAt,
	}, nil
}

func updateArgs(ev *events.Event) ([]any, error) {
	distances, judges, details, err := encodeJSONFields(ev)
	if err != nil {
		return nil, err
	}
	return []any{
		ev.ID, ev.Name, ev.Description, ev.DateStart, ev.DateEnd,
		ev.Location, ev.City, ev.State, ev.Country, ev.Organization,
		distances, ev.RideManager, ev.ManagerEmail, ev.ManagerPhone,
		ev.WebsiteURL, ev.FlyerURL, ev.MapLink, judges,
		ev.IsMultiDay, ev.IsPioneer, ev.RideDays, ev.HasIntroRide,
		ev.IsCanceled, ev.Latitude, ev.Longitude, ev.GeocodingAttempted,
		ev.LastWebsiteCheckAt, details, ev.Notes, ev.UpdatedAt,
	}, nil
}

func encodeJSONFields(ev *events.Event) (distances, judges, details []byte, err error) {
	if distances, err = json.Marshal(orEmptySlice(ev.Distances)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode distances: %w", err)
	}
	if judges, err = json.Marshal(orEmptySlice(ev.ControlJudges)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode control judges: %w", err)
	}
	d := ev.Details
	if d == nil {
		d = events.Details{}
	}
	if details, err = json.Marshal(d); err != nil {
		return nil, nil, nil, fmt.Errorf("encode details: %w", err)
	}
	return distances, judges, details, nil
}

func orEmptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanEvent(row pgx.Row) (*events.Event, error) {
	var (
		ev                         events.Event
		distances, judges, details []byte
		lastCheck                  *time.Time
	)
	err := row.Scan(
		&ev.ID, &ev.Source, &ev.RideID, &ev.Name, &ev.Description, &ev.DateStart, &ev.DateEnd,
		&ev.Location, &ev.City, &ev.State, &ev.Country, &ev.Organization, &distances,
		&ev.RideManager, &ev.ManagerEmail, &ev.ManagerPhone, &ev.WebsiteURL, &ev.FlyerURL, &ev.MapLink,
		&judges, &ev.IsMultiDay, &ev.IsPioneer, &ev.RideDays, &ev.HasIntroRide, &ev.IsCanceled,
		&ev.Latitude, &ev.Longitude, &ev.GeocodingAttempted, &lastCheck,
		&details, &ev.Notes, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.LastWebsiteCheckAt = lastCheck

	if len(distances) > 0 {
		if err := json.Unmarshal(distances, &ev.Distances); err != nil {
			return nil, fmt.Errorf("decode distances: %w", err)
		}
	}
	if len(judges) > 0 {
		if err := json.Unmarshal(judges, &ev.ControlJudges); err != nil {
			return nil, fmt.Errorf("decode control judges: %w", err)
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &ev.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
	}
	if len(ev.Distances) == 0 {
		ev.Distances = nil
	}
	if len(ev.ControlJudges) == 0 {
		ev.ControlJudges = nil
	}
	if len(ev.Details) == 0 {
		ev.Details = nil
	}
	return &ev, nil
}

func collectEvents(rows pgx.Rows) ([]events.Event, error) {
	defer rows.Close()
	var out []events.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
