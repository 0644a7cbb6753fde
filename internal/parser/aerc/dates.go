package aerc

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// dateLike matches the date spellings seen on the calendar:
// MM/DD/YYYY, MM/DD/YY, "Oct 10, 2025", "October 10, 2025", and
// ISO YYYY-MM-DD.
var dateLike = regexp.MustCompile(
	`\d{1,2}/\d{1,2}/\d{2,4}` +
		`|(?i:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`|\d{4}-\d{2}-\d{2}`,
)

var ordinalSuffix = regexp.MustCompile(`(\d{1,2})(?:st|nd|rd|th)`)

var dateFormats = []string{
	"1/2/2006",
	"1/2/06",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2006-01-02",
}

// ParseDate parses a calendar date string into a UTC midnight time.
func ParseDate(text string) (*time.Time, error) {
	text = strings.TrimSpace(regexp.MustCompile(`\s+`).ReplaceAllString(text, " "))
	text = ordinalSuffix.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, ".", "")

	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, text); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", text)
}

var distanceDatePattern = regexp.MustCompile(
	`(?i)on\s+((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}|\d{1,2}/\d{1,2}/\d{2,4})`,
)

// parseDistanceDate extracts the per-distance day from text like
// "on Oct 10, 2025 starting at 07:30 am", returned as YYYY-MM-DD.
func parseDistanceDate(text string) (string, bool) {
	m := distanceDatePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	t, err := ParseDate(m[1])
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

var startTimePattern = regexp.MustCompile(
	`(?i)starting\s+at\s+(\d{1,2}:\d{2}\s*(?:am|pm)|\d{1,2}\s*(?:am|pm))`,
)

// parseStartTime extracts the advertised start time, as written.
func parseStartTime(text string) (string, bool) {
	m := startTimePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
