// Package geocode resolves event locations to coordinates.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

// Provider endpoints.
const (
	nominatimEndpoint = "https://nominatim.openstreetmap.org/search"
	googleEndpoint    = "https://maps.googleapis.com/maps/api/geocode/json"
)

// Nominatim is the OpenStreetMap geocoder. Free tier, strict rate
// limits; the shared fetcher's per-host bucket keeps us polite.
type Nominatim struct {
	fetcher  events.Fetcher
	endpoint string
	cacheTTL time.Duration
}

var _ events.Geocoder = (*Nominatim)(nil)

// NewNominatim creates a Nominatim geocoder on top of the fetcher.
func NewNominatim(fetcher events.Fetcher, cacheTTL time.Duration) *Nominatim {
	return &Nominatim{fetcher: fetcher, endpoint: nominatimEndpoint, cacheTTL: cacheTTL}
}

// Geocode resolves a free-text query. An empty result set is
// ErrNotFound, which the worker records as a permanent miss.
func (n *Nominatim) Geocode(ctx context.Context, query string) (events.GeocodeResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderCall("nominatim", time.Since(start)) }()

	q := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	}
	res, err := n.fetcher.Fetch(ctx, events.FetchRequest{
		URL:         n.endpoint + "?" + q.Encode(),
		AllowCached: true,
		TTL:         n.cacheTTL,
	})
	if err != nil {
		return events.GeocodeResult{}, fmt.Errorf("nominatim request: %w", err)
	}

	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(res.Body, &hits); err != nil {
		return events.GeocodeResult{}, fmt.Errorf("nominatim response: %w", err)
	}
	if len(hits) == 0 {
		return events.GeocodeResult{}, events.ErrNotFound
	}

	lat, latErr := strconv.ParseFloat(hits[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(hits[0].Lon, 64)
	if latErr != nil || lngErr != nil {
		return events.GeocodeResult{}, fmt.Errorf("nominatim returned malformed coordinates %q,%q", hits[0].Lat, hits[0].Lon)
	}
	return events.GeocodeResult{Latitude: lat, Longitude: lng}, nil
}

// Google is the Google Maps geocoder.
type Google struct {
	fetcher  events.Fetcher
	endpoint string
	apiKey   string
	cacheTTL time.Duration
}

var _ events.Geocoder = (*Google)(nil)

// NewGoogle creates a Google geocoder.
func NewGoogle(fetcher events.Fetcher, apiKey string, cacheTTL time.Duration) *Google {
	return &Google{fetcher: fetcher, endpoint: googleEndpoint, apiKey: apiKey, cacheTTL: cacheTTL}
}

// Geocode resolves a free-text query through the Google API.
func (g *Google) Geocode(ctx context.Context, query string) (events.GeocodeResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderCall("google", time.Since(start)) }()

	q := url.Values{
		"address": {query},
		"key":     {g.apiKey},
	}
	res, err := g.fetcher.Fetch(ctx, events.FetchRequest{
		URL:         g.endpoint + "?" + q.Encode(),
		AllowCached: true,
		TTL:         g.cacheTTL,
	})
	if err != nil {
		return events.GeocodeResult{}, fmt.Errorf("google geocode request: %w", err)
	}

	var payload struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
				LocationType string `json:"location_type"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return events.GeocodeResult{}, fmt.Errorf("google geocode response: %w", err)
	}

	switch payload.Status {
	case "OK":
	case "ZERO_RESULTS":
		return events.GeocodeResult{}, events.ErrNotFound
	default:
		return events.GeocodeResult{}, fmt.Errorf("google geocode status %s", payload.Status)
	}
	if len(payload.Results) == 0 {
		return events.GeocodeResult{}, events.ErrNotFound
	}
	loc := payload.Results[0].Geometry.Location
	return events.GeocodeResult{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}
