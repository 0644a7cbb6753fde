package events

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxDescriptionLen = 2000

// Normalizer turns the parser's per-day RawEvents into canonical Events,
// merging contiguous multi-day rows that share an identity.
type Normalizer struct {
	log *zap.Logger
}

// NewNormalizer builds a Normalizer.
func NewNormalizer(log *zap.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize groups raws by identity, merges contiguous day blocks, and
// validates the result. Rows flagged invalid by the parser are dropped
// here; the orchestrator has already counted them. The returned errors
// are ValidationErrors for events that failed invariants.
func (n *Normalizer) Normalize(raws []RawEvent) ([]Event, []error) {
	type group struct {
		key  string
		rows []RawEvent
	}
	var order []string
	groups := make(map[string]*group)

	for _, raw := range raws {
		if raw.Invalid {
			continue
		}
		rideID := raw.RideID
		if rideID == "" {
			rideID = SyntheticRideID(raw.Source, raw.Name, raw.DateStart, raw.Location)
		}
		key := raw.Source + "/" + rideID
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		row := raw
		row.RideID = rideID
		g.rows = append(g.rows, row)
	}

	var out []Event
	var errs []error
	for _, key := range order {
		g := groups[key]
		sort.SliceStable(g.rows, func(i, j int) bool {
			di, dj := g.rows[i].DateStart, g.rows[j].DateStart
			if di == nil || dj == nil {
				return dj == nil && di != nil
			}
			return di.Before(*dj)
		})
		for _, block := range contiguousBlocks(g.rows) {
			ev := n.mergeBlock(block)
			if err := Validate(&ev); err != nil {
				n.log.Warn("dropping invalid event",
					zap.String("identity", ev.IdentityKey()),
					zap.Error(err))
				errs = append(errs, err)
				continue
			}
			out = append(out, ev)
		}
	}
	return out, errs
}

// contiguousBlocks splits date-sorted rows wherever the gap between
// consecutive start dates exceeds one day. Rows without dates end up in
// their own block and fail validation downstream.
func contiguousBlocks(rows []RawEvent) [][]RawEvent {
	var blocks [][]RawEvent
	var current []RawEvent
	for _, row := range rows {
		if len(current) == 0 {
			current = []RawEvent{row}
			continue
		}
		prev := current[len(current)-1].DateStart
		if row.DateStart == nil || prev == nil {
			blocks = append(blocks, current)
			current = []RawEvent{row}
			continue
		}
		// 36h instead of 24h tolerates DST transitions.
		if row.DateStart.Sub(*prev) > 36*time.Hour {
			blocks = append(blocks, current)
			current = []RawEvent{row}
			continue
		}
		current = append(current, row)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func (n *Normalizer) mergeBlock(rows []RawEvent) Event {
	first := rows[0]
	ev := Event{
		Source:       first.Source,
		RideID:       first.RideID,
		Organization: first.Organization,
	}

	days := 0
	for _, row := range rows {
		if row.DateStart != nil {
			if ev.DateStart.IsZero() || row.DateStart.Before(ev.DateStart) {
				ev.DateStart = *row.DateStart
			}
			end := *row.DateStart
			if row.DateEnd != nil && row.DateEnd.After(end) {
				end = *row.DateEnd
			}
			if end.After(ev.DateEnd) {
				ev.DateEnd = end
			}
			days++
		}

		firstNonEmpty(&ev.Name, row.Name)
		firstNonEmpty(&ev.Description, row.Description)
		firstNonEmpty(&ev.Location, row.Location)
		firstNonEmpty(&ev.City, row.City)
		firstNonEmpty(&ev.State, row.State)
		firstNonEmpty(&ev.Country, row.Country)
		firstNonEmpty(&ev.RideManager, row.RideManager)
		firstNonEmpty(&ev.ManagerEmail, row.ManagerEmail)
		firstNonEmpty(&ev.ManagerPhone, row.ManagerPhone)
		firstNonEmpty(&ev.WebsiteURL, row.WebsiteURL)
		firstNonEmpty(&ev.FlyerURL, row.FlyerURL)
		firstNonEmpty(&ev.MapLink, row.MapLink)

		// Distances concatenate across days, duplicates intact: a
		// repeated label is how multi-day rides advertise each day.
		ev.Distances = append(ev.Distances, row.Distances...)
		ev.ControlJudges = unionJudges(ev.ControlJudges, row.ControlJudges)

		ev.HasIntroRide = ev.HasIntroRide || row.HasIntroRide
		ev.IsCanceled = ev.IsCanceled || row.IsCanceled

		if row.Latitude != nil && ev.Latitude == nil {
			ev.Latitude = row.Latitude
			ev.Longitude = row.Longitude
			ev.GeocodingAttempted = row.GeocodingAttempted
		}

		merged, conflicts := ev.Details.Merge(row.Details, false)
		for _, key := range conflicts {
			n.log.Debug("event detail conflict, keeping first value",
				zap.String("identity", ev.IdentityKey()),
				zap.String("key", key))
		}
		ev.Details = merged
	}

	if !ev.DateStart.IsZero() {
		span := int(ev.DateEnd.Sub(ev.DateStart).Hours()/24) + 1
		if span > days {
			days = span
		}
	}
	if days < 1 {
		days = 1
	}
	ev.RideDays = days

	// The source sometimes collapses a pioneer ride into a single row;
	// the name is the only remaining signal.
	if strings.Contains(strings.ToLower(ev.Name), "pioneer") && ev.RideDays < 3 {
		ev.RideDays = 3
	}
	ev.IsMultiDay = ev.RideDays >= 2
	ev.IsPioneer = ev.RideDays >= 3

	if len(ev.Description) > maxDescriptionLen {
		ev.Description = ev.Description[:maxDescriptionLen-3] + "..."
	}
	ev.Notes = buildNotes(&ev)
	return ev
}

func firstNonEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func unionJudges(have, add []ControlJudge) []ControlJudge {
	seen := make(map[ControlJudge]bool, len(have))
	for _, j := range have {
		seen[j] = true
	}
	for _, j := range add {
		if !seen[j] {
			seen[j] = true
			have = append(have, j)
		}
	}
	return have
}

// buildNotes assembles the unstructured notes blob from contact and
// judge data, mirroring what the calendar renders for humans.
func buildNotes(ev *Event) string {
	var parts []string
	var contact []string
	if ev.RideManager != "" {
		contact = append(contact, ev.RideManager)
	}
	if ev.ManagerEmail != "" {
		contact = append(contact, ev.ManagerEmail)
	}
	if ev.ManagerPhone != "" {
		contact = append(contact, ev.ManagerPhone)
	}
	if len(contact) > 0 {
		parts = append(parts, "Manager contact: "+strings.Join(contact, ", "))
	}
	if len(ev.ControlJudges) > 0 {
		var judges []string
		for _, j := range ev.ControlJudges {
			judges = append(judges, fmt.Sprintf("%s: %s", j.Role, j.Name))
		}
		parts = append(parts, "Control judges: "+strings.Join(judges, "; "))
	}
	if directions, ok := ev.Details.String(DetailDirections); ok {
		parts = append(parts, "Directions: "+directions)
	}
	return strings.Join(parts, "\n\n")
}

// Validate enforces the data-model invariants on a canonical event.
func Validate(ev *Event) error {
	if ev.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if ev.DateStart.IsZero() {
		return &ValidationError{Field: "date_start", Reason: "required"}
	}
	if ev.DateEnd.Before(ev.DateStart) {
		return &ValidationError{Field: "date_end", Reason: "before date_start"}
	}
	if !ev.GeocodingAttempted && (ev.Latitude != nil || ev.Longitude != nil) {
		return &ValidationError{Field: "coordinates", Reason: "set without geocoding_attempted"}
	}
	if ev.IsPioneer && (!ev.IsMultiDay || ev.RideDays < 3) {
		return &ValidationError{Field: "is_pioneer_ride", Reason: "pioneer requires >= 3 ride days"}
	}
	if lat := ev.Latitude; lat != nil && (*lat < -90 || *lat > 90) {
		return &ValidationError{Field: "latitude", Reason: "out of range"}
	}
	if lng := ev.Longitude; lng != nil && (*lng < -180 || *lng > 180) {
		return &ValidationError{Field: "longitude", Reason: "out of range"}
	}
	return nil
}
