package events

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestNormalizeMergesContiguousDays(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	raws := []RawEvent{
		{
			Source: SourceAERC, RideID: "14576", Name: "Moab Canyons",
			DateStart: day(2025, 10, 10),
			Location:  "Jug Rock Camp, Moab, Utah",
			Distances: []Distance{{Label: "50 miles", Date: "2025-10-10"}},
		},
		{
			Source: SourceAERC, RideID: "14576", Name: "Moab Canyons",
			DateStart: day(2025, 10, 11),
			Distances: []Distance{{Label: "50 miles", Date: "2025-10-11"}},
		},
		{
			Source: SourceAERC, RideID: "14576", Name: "Moab Canyons",
			DateStart: day(2025, 10, 12),
			Distances: []Distance{{Label: "50 miles", Date: "2025-10-12"}},
		},
	}

	out, errs := n.Normalize(raws)
	require.Empty(t, errs)
	require.Len(t, out, 1)

	ev := out[0]
	require.Equal(t, "2025-10-10", ev.DateStart.Format("2006-01-02"))
	require.Equal(t, "2025-10-12", ev.DateEnd.Format("2006-01-02"))
	require.Equal(t, 3, ev.RideDays)
	require.True(t, ev.IsMultiDay)
	require.True(t, ev.IsPioneer)
	require.Len(t, ev.Distances, 3)
	require.Equal(t, "Jug Rock Camp, Moab, Utah", ev.Location)
}

func TestNormalizeSplitsNonContiguousDates(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	raws := []RawEvent{
		{Source: SourceAERC, RideID: "900", Name: "Spring Fling", DateStart: day(2026, 4, 4)},
		{Source: SourceAERC, RideID: "900", Name: "Spring Fling", DateStart: day(2026, 4, 18)},
	}

	out, errs := n.Normalize(raws)
	require.Empty(t, errs)
	require.Len(t, out, 2)
	require.False(t, out[0].IsMultiDay)
	require.False(t, out[1].IsMultiDay)
}

func TestNormalizeSynthesizesRideID(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	raws := []RawEvent{
		{Source: SourceAERC, Name: "No ID Ride", DateStart: day(2026, 6, 6), Location: "Somewhere, NV"},
	}

	out, errs := n.Normalize(raws)
	require.Empty(t, errs)
	require.Len(t, out, 1)
	require.True(t, IsSyntheticRideID(out[0].RideID))

	// Same inputs, same id.
	out2, _ := n.Normalize(raws)
	require.Equal(t, out[0].RideID, out2[0].RideID)
}

func TestNormalizePioneerNameHint(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	raws := []RawEvent{
		{Source: SourceAERC, RideID: "14576", Name: "Moab Canyons Pioneer", DateStart: day(2025, 10, 10)},
	}

	out, errs := n.Normalize(raws)
	require.Empty(t, errs)
	require.Len(t, out, 1)
	require.Equal(t, 3, out[0].RideDays)
	require.True(t, out[0].IsPioneer)
	require.True(t, out[0].IsMultiDay)
}

func TestNormalizeCancellationOrs(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	raws := []RawEvent{
		{Source: SourceAERC, RideID: "7", Name: "Gold Rush", DateStart: day(2026, 5, 1)},
		{Source: SourceAERC, RideID: "7", Name: "Gold Rush", DateStart: day(2026, 5, 2), IsCanceled: true},
	}

	out, _ := n.Normalize(raws)
	require.Len(t, out, 1)
	require.True(t, out[0].IsCanceled)
}

func TestNormalizeSkipsInvalidRows(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	raws := []RawEvent{
		{Source: SourceAERC, Invalid: true, Problem: "row 3: no date"},
		{Source: SourceAERC, RideID: "8", Name: "Good Ride", DateStart: day(2026, 7, 1)},
	}

	out, errs := n.Normalize(raws)
	require.Empty(t, errs)
	require.Len(t, out, 1)
	require.Equal(t, "Good Ride", out[0].Name)
}

func TestNormalizeMissingNameFailsValidation(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	raws := []RawEvent{
		{Source: SourceAERC, RideID: "9", DateStart: day(2026, 7, 1)},
	}

	out, errs := n.Normalize(raws)
	require.Empty(t, out)
	require.Len(t, errs, 1)
	require.Equal(t, "validation", ErrorCode(errs[0]))
}

func TestNormalizeTruncatesDescription(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	long := strings.Repeat("x", 3000)
	raws := []RawEvent{
		{Source: SourceAERC, RideID: "10", Name: "Wordy Ride", DateStart: day(2026, 8, 1), Description: long},
	}

	out, _ := n.Normalize(raws)
	require.Len(t, out, 1)
	require.Len(t, out[0].Description, 2000)
	require.True(t, strings.HasSuffix(out[0].Description, "..."))
}

func TestNormalizeBuildsNotes(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	raws := []RawEvent{
		{
			Source: SourceAERC, RideID: "11", Name: "Big Horn",
			DateStart:    day(2026, 7, 11),
			RideManager:  "Jo Rider",
			ManagerEmail: "jo@example.com",
			ManagerPhone: "555-123-4567",
			ControlJudges: []ControlJudge{
				{Role: "Head Control Judge", Name: "Pat Vet"},
			},
			Details: Details{DetailDirections: "Take exit 9"},
		},
	}

	out, _ := n.Normalize(raws)
	require.Len(t, out, 1)
	notes := out[0].Notes
	require.Contains(t, notes, "Manager contact: Jo Rider, jo@example.com, 555-123-4567")
	require.Contains(t, notes, "Control judges: Head Control Judge: Pat Vet")
	require.Contains(t, notes, "Directions: Take exit 9")
}

func TestNormalizeKeepsFirstCoordinates(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	lat1, lng1 := 38.6, -109.8
	lat2, lng2 := 40.0, -100.0
	raws := []RawEvent{
		{
			Source: SourceAERC, RideID: "12", Name: "Two Pins",
			DateStart: day(2026, 9, 5),
			Latitude:  &lat1, Longitude: &lng1, GeocodingAttempted: true,
		},
		{
			Source: SourceAERC, RideID: "12", Name: "Two Pins",
			DateStart: day(2026, 9, 6),
			Latitude:  &lat2, Longitude: &lng2, GeocodingAttempted: true,
		},
	}

	out, _ := n.Normalize(raws)
	require.Len(t, out, 1)
	require.Equal(t, lat1, *out[0].Latitude)
	require.Equal(t, lng1, *out[0].Longitude)
}

func TestValidateInvariants(t *testing.T) {
	base := func() *Event {
		return &Event{
			Name:      "Ride",
			DateStart: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			DateEnd:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	require.NoError(t, Validate(base()))

	ev := base()
	ev.DateEnd = ev.DateStart.Add(-24 * time.Hour)
	require.Error(t, Validate(ev))

	ev = base()
	lat := 45.0
	ev.Latitude = &lat
	require.Error(t, Validate(ev))
	ev.GeocodingAttempted = true
	lng := -120.0
	ev.Longitude = &lng
	require.NoError(t, Validate(ev))

	ev = base()
	ev.GeocodingAttempted = true
	bad := 91.0
	ev.Latitude = &bad
	require.Error(t, Validate(ev))

	ev = base()
	ev.IsPioneer = true
	ev.RideDays = 2
	ev.IsMultiDay = true
	require.Error(t, Validate(ev))
}

func TestSyntheticRideIDStability(t *testing.T) {
	d := day(2026, 6, 6)
	a := SyntheticRideID("AERC", "  Desert Dash ", d, "Ely, NV")
	b := SyntheticRideID("aerc", "desert dash", d, "ELY, NV")
	require.Equal(t, a, b)
	require.True(t, IsSyntheticRideID(a))

	c := SyntheticRideID("AERC", "Desert Dash", day(2026, 6, 7), "Ely, NV")
	require.NotEqual(t, a, c)
}

func TestDetailsMerge(t *testing.T) {
	existing := Details{
		"directions": "Take exit 9",
		"ride_manager_contact": map[string]any{
			"email": "jo@example.com",
		},
	}
	patch := Details{
		"directions": "Different directions",
		"amenities":  "water available",
		"ride_manager_contact": map[string]any{
			"email": "new@example.com",
			"phone": "555-123-4567",
		},
	}

	merged, conflicts := existing.Merge(patch, false)
	require.Equal(t, "Take exit 9", merged["directions"])
	require.Equal(t, "water available", merged["amenities"])
	contact := merged["ride_manager_contact"].(map[string]any)
	require.Equal(t, "jo@example.com", contact["email"])
	require.Equal(t, "555-123-4567", contact["phone"])
	require.ElementsMatch(t, []string{"directions", "ride_manager_contact.email"}, conflicts)

	// Existing map untouched.
	require.Equal(t, "Take exit 9", existing["directions"])

	merged, _ = existing.Merge(patch, true)
	require.Equal(t, "Different directions", merged["directions"])
	contact = merged["ride_manager_contact"].(map[string]any)
	require.Equal(t, "new@example.com", contact["email"])
}
