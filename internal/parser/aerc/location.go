package aerc

import (
	"regexp"
	"strings"
)

var canadianProvinces = map[string]string{
	"AB": "Alberta",
	"BC": "British Columbia",
	"MB": "Manitoba",
	"NB": "New Brunswick",
	"NL": "Newfoundland and Labrador",
	"NS": "Nova Scotia",
	"NT": "Northwest Territories",
	"NU": "Nunavut",
	"ON": "Ontario",
	"PE": "Prince Edward Island",
	"QC": "Quebec",
	"SK": "Saskatchewan",
	"YT": "Yukon",
}

var usStates = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR",
	"CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE",
	"FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI", "IDAHO": "ID",
	"ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA", "KANSAS": "KS",
	"KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME", "MARYLAND": "MD",
	"MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN", "MISSISSIPPI": "MS",
	"MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV",
	"NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM", "NEW YORK": "NY",
	"NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH", "OKLAHOMA": "OK",
	"OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC",
	"SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT",
	"VERMONT": "VT", "VIRGINIA": "VA", "WASHINGTON": "WA", "WEST VIRGINIA": "WV",
	"WISCONSIN": "WI", "WYOMING": "WY",
}

var provinceWord = regexp.MustCompile(`\b(AB|BC|MB|NB|NL|NS|NT|NU|ON|PE|QC|SK|YT)\b`)

// SplitLocation derives city, state, and country from a free-form
// location string. Canadian provinces flip the country; any other
// non-empty location defaults to USA, matching the calendar's
// audience. An empty location gives no country at all.
func SplitLocation(location string) (city, state, country string) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", "", ""
	}
	country = "USA"

	parts := strings.Split(location, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	last := parts[len(parts)-1]
	if strings.EqualFold(last, "canada") {
		country = "Canada"
		parts = parts[:len(parts)-1]
		if len(parts) == 0 {
			return "", "", country
		}
		last = parts[len(parts)-1]
	}

	state = normalizeState(last)
	if state != last || len(last) == 2 {
		// Last segment was a recognizable state or province.
		if _, ok := canadianProvinces[state]; ok {
			country = "Canada"
		}
		if len(parts) >= 2 {
			city = parts[len(parts)-2]
		}
		return city, state, country
	}

	// Last segment is prose. Still flag Canada when a province code
	// appears anywhere in the string.
	if provinceWord.MatchString(location) || strings.Contains(location, "Canada") {
		country = "Canada"
	}
	if len(parts) >= 2 {
		state = parts[len(parts)-1]
		city = parts[len(parts)-2]
	}
	return city, state, country
}

// normalizeState maps full state and province names to their
// two-letter codes. Unrecognized input passes through.
func normalizeState(s string) string {
	trimmed := strings.TrimSpace(s)
	upper := strings.ToUpper(trimmed)

	if len(trimmed) == 2 {
		return upper
	}
	if code, ok := usStates[upper]; ok {
		return code
	}
	for code, full := range canadianProvinces {
		if strings.EqualFold(full, trimmed) {
			return code
		}
	}
	return trimmed
}
