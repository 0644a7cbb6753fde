package aerc

import (
	"regexp"
	"strconv"
)

// Coordinate spellings seen in calendar map links.
var coordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[?&]q=(-?\d+\.\d+),(-?\d+\.\d+)`),
	regexp.MustCompile(`[?&]ll=(-?\d+\.\d+),(-?\d+\.\d+)`),
	regexp.MustCompile(`[?&]destination=(-?\d+\.\d+),(-?\d+\.\d+)`),
	regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)(?:,\d+\.?\d*z)?`),
}

// ExtractCoordinates pulls a lat/lng pair out of a map link.
// Out-of-range values are rejected rather than clamped.
func ExtractCoordinates(mapLink string) (lat, lng float64, ok bool) {
	for _, p := range coordPatterns {
		m := p.FindStringSubmatch(mapLink)
		if m == nil {
			continue
		}
		lat, errLat := strconv.ParseFloat(m[1], 64)
		lng, errLng := strconv.ParseFloat(m[2], 64)
		if errLat != nil || errLng != nil {
			continue
		}
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			continue
		}
		return lat, lng, true
	}
	return 0, 0, false
}
