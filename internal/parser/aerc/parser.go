// Package aerc extracts event rows from AERC calendar HTML.
//
// The calendar is served by a WordPress AJAX endpoint as one large
// fragment of div.calendarRow blocks. Each block carries a summary
// table and a hidden detailData table with distances, contacts, and
// prose.
package aerc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
)

// Endpoint defaults for the AERC calendar.
const (
	DefaultCalendarURL = "https://aerc.org/calendar"
	DefaultAjaxURL     = "https://aerc.org/wp-admin/admin-ajax.php"
)

var (
	canceledMarker = regexp.MustCompile(`(?i)\s*\*+\s*cancell?ed\s*\*+\s*`)
	canceledWords  = regexp.MustCompile(`(?i)\b(cancell?ed|postponed)\b`)
	directionsText = regexp.MustCompile(`(?i)click here for directions.*`)
)

// Parser turns calendar HTML into RawEvents.
type Parser struct {
	log *zap.Logger
}

// New creates a Parser.
func New(log *zap.Logger) *Parser {
	return &Parser{log: log}
}

// Parse extracts one RawEvent per calendarRow. A page without any
// calendarRow container is a structural failure. Individual bad rows
// are returned as invalid RawEvents alongside per-row errors, so the
// caller can count them without losing the rest of the page.
func (p *Parser) Parse(pageHTML string) ([]events.RawEvent, []error, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, nil, &events.StructuralError{Page: "calendar", Err: err}
	}

	rows := doc.Find("div.calendarRow")
	if rows.Length() == 0 {
		return nil, nil, &events.StructuralError{
			Page: "calendar",
			Err:  fmt.Errorf("no calendarRow containers found"),
		}
	}

	var (
		raws    []events.RawEvent
		rowErrs []error
	)
	rows.Each(func(i int, row *goquery.Selection) {
		raw, err := p.parseRow(row)
		if err != nil {
			rowErr := &events.RowParseError{Row: i, Err: err}
			rowErrs = append(rowErrs, rowErr)
			p.log.Warn("row extraction failed", zap.Int("row", i), zap.Error(err))
			raws = append(raws, events.RawEvent{
				Source:  events.SourceAERC,
				Invalid: true,
				Problem: rowErr.Error(),
			})
			return
		}
		raws = append(raws, raw)
	})
	return raws, rowErrs, nil
}

func (p *Parser) parseRow(row *goquery.Selection) (events.RawEvent, error) {
	raw := events.RawEvent{
		Source:  events.SourceAERC,
		Details: events.Details{},
	}

	nameElem := row.Find("span.rideName").First()
	if nameElem.Length() == 0 {
		return raw, fmt.Errorf("no rideName element")
	}
	name := strings.TrimSpace(nameElem.Text())
	if canceledMarker.MatchString(name) {
		name = strings.TrimSpace(canceledMarker.ReplaceAllString(name, " "))
	}
	raw.Name = name

	// The numeric ride id rides along as a tag attribute on the name
	// span and on the detail toggles.
	if id, ok := nameElem.Attr("tag"); ok && strings.TrimSpace(id) != "" {
		raw.RideID = strings.TrimSpace(id)
	}

	raw.IsCanceled = canceledWords.MatchString(row.Text())

	if region := strings.TrimSpace(row.Find("td.region").First().Text()); region != "" {
		raw.Organization = region
	}

	if date, err := p.extractDate(row); err == nil {
		raw.DateStart = date
	} else {
		return raw, fmt.Errorf("date: %w", err)
	}

	raw.Location = p.extractLocation(row)
	raw.City, raw.State, raw.Country = SplitLocation(raw.Location)

	website, flyer, mapLink := extractLinks(row)
	raw.WebsiteURL = website
	raw.FlyerURL = flyer
	raw.MapLink = mapLink
	if mapLink != "" {
		if lat, lng, ok := ExtractCoordinates(mapLink); ok {
			raw.Latitude = &lat
			raw.Longitude = &lng
			raw.GeocodingAttempted = true
		}
	}

	manager, email, phone := extractManagerContact(row)
	raw.RideManager = manager
	raw.ManagerEmail = email
	raw.ManagerPhone = phone

	raw.ControlJudges = extractControlJudges(row)
	raw.Distances = p.extractDistances(row)
	raw.HasIntroRide = hasIntroRide(row, raw.Distances)

	desc, directions := extractDescriptive(row)
	raw.Description = desc
	if directions != "" {
		raw.Details[events.DetailDirections] = directions
	}

	return raw, nil
}

// extractDate reads the bold summary date cell, falling back to any
// date-shaped text in the row.
func (p *Parser) extractDate(row *goquery.Selection) (*time.Time, error) {
	var text string
	row.Find("tr").First().Find("td.bold").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := strings.TrimSpace(s.Text())
		if dateLike.MatchString(t) {
			text = dateLike.FindString(t)
			return false
		}
		return true
	})
	if text == "" {
		text = dateLike.FindString(row.Text())
	}
	if text == "" {
		return nil, fmt.Errorf("no date text found")
	}
	return ParseDate(text)
}

func (p *Parser) extractLocation(row *goquery.Selection) string {
	// Preferred source: the detailData "Location : " row.
	var loc string
	row.Find("table.detailData tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() >= 3 && strings.Contains(cells.Eq(1).Text(), "Location :") {
			loc = cleanLocationCell(cells.Eq(2))
			return loc == ""
		}
		return true
	})
	if loc != "" {
		return loc
	}

	// Fallback: the second summary row's middle cell.
	summaryRows := row.Find("tr.fix-jumpy")
	if summaryRows.Length() > 1 {
		cell := summaryRows.Eq(1).Find("td").Eq(1)
		if cell.Length() > 0 {
			if v := cleanLocationCell(cell); v != "" && !looksLikeLinkLabel(v) {
				return v
			}
		}
	}
	return ""
}

func cleanLocationCell(cell *goquery.Selection) string {
	text := cell.Text()
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = directionsText.ReplaceAllString(text, "")
	text = canceledMarker.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func looksLikeLinkLabel(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "website") || strings.Contains(l, "entry") || strings.Contains(l, "flyer")
}

// extractLinks categorizes anchors into website, flyer, and map links.
func extractLinks(row *goquery.Selection) (website, flyer, mapLink string) {
	row.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		href = CanonicalURL(href)
		text := strings.ToLower(strings.TrimSpace(a.Text()))

		switch {
		case strings.Contains(href, "maps.google") ||
			strings.Contains(href, "google.com/maps") ||
			strings.Contains(text, "directions") ||
			strings.Contains(text, "map"):
			if mapLink == "" {
				mapLink = href
			}
		case strings.HasSuffix(strings.ToLower(href), ".pdf") ||
			strings.Contains(text, "entry") ||
			strings.Contains(text, "flyer") ||
			strings.Contains(text, "form"):
			if flyer == "" {
				flyer = href
			}
		case strings.Contains(text, "website") ||
			strings.Contains(text, "follow this link") ||
			strings.Contains(text, "site") ||
			strings.Contains(text, "info"):
			if website == "" {
				website = href
			}
		}
	})
	return website, flyer, mapLink
}

// CanonicalURL trims whitespace, adds a scheme to schemeless links,
// and drops fragments. Invalid URLs pass through trimmed so downstream
// consumers can still show them.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "www.") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	return u.String()
}

// extractDistances reads the detailData Distances rows, falling back
// to the summary distances cell.
func (p *Parser) extractDistances(row *goquery.Selection) []events.Distance {
	var out []events.Distance
	row.Find("table.detailData tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 3 || strings.TrimSpace(cells.Eq(0).Text()) != "Distances" {
			return
		}
		label := NormalizeDistance(cells.Eq(1).Text())
		if label == "" {
			return
		}
		d := events.Distance{Label: label}
		when := cells.Eq(2).Text()
		if date, ok := parseDistanceDate(when); ok {
			d.Date = date
		}
		if st, ok := parseStartTime(when); ok {
			d.StartTime = st
		}
		out = append(out, d)
	})
	if len(out) > 0 {
		return out
	}

	// Summary form, e.g. "25/50 miles".
	summaryRows := row.Find("tr.fix-jumpy")
	if summaryRows.Length() > 1 {
		text := summaryRows.Eq(1).Find("td").First().Text()
		for _, part := range splitSummaryDistances(text) {
			out = append(out, events.Distance{Label: part})
		}
	}
	return out
}

var summaryDistance = regexp.MustCompile(`(\d{1,3})(?:/(\d{1,3}))*\s*miles?`)

func splitSummaryDistances(text string) []string {
	m := summaryDistance.FindString(text)
	if m == "" {
		return nil
	}
	m = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(m, "miles"), "mile"))
	var out []string
	for _, part := range strings.Split(m, "/") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil && n >= 5 && n <= 200 {
			out = append(out, fmt.Sprintf("%d miles", n))
		}
	}
	return out
}

// hasIntroRide checks the red intro marker and the distance labels.
func hasIntroRide(row *goquery.Selection, distances []events.Distance) bool {
	marker := false
	row.Find("span").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if strings.Contains(style, "color: red") && strings.Contains(strings.ToLower(s.Text()), "intro") {
			marker = true
		}
	})
	if marker {
		return true
	}
	text := strings.ToLower(row.Text())
	for _, kw := range []string{"intro ride", "introductory ride", "intro distance", "novice ride", "fun ride"} {
		if strings.Contains(text, kw) {
			return true
		}
	}
	for _, d := range distances {
		if DistanceIsIntro(d.Label) {
			return true
		}
	}
	return false
}

// extractDescriptive splits the Descriptive cell into description and
// directions prose.
func extractDescriptive(row *goquery.Selection) (description, directions string) {
	var text string
	row.Find("table.detailData tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() >= 2 && strings.TrimSpace(cells.Eq(0).Text()) == "Descriptive" {
			text, _ = cells.Eq(cells.Length() - 1).Html()
			return false
		}
		return true
	})
	if text == "" {
		return "", ""
	}

	// <br> separates lines; section headers label what follows.
	text = regexp.MustCompile(`(?i)<br\s*/?>`).ReplaceAllString(text, "\n")
	text = stripTags(text)

	section := ""
	var descLines, dirLines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "description:"):
			section = "description"
			if rest := strings.TrimSpace(line[len("description:"):]); rest != "" {
				descLines = append(descLines, rest)
			}
		case strings.HasPrefix(lower, "directions:"):
			section = "directions"
			if rest := strings.TrimSpace(line[len("directions:"):]); rest != "" {
				dirLines = append(dirLines, rest)
			}
		default:
			switch section {
			case "directions":
				dirLines = append(dirLines, line)
			default:
				descLines = append(descLines, line)
			}
		}
	}
	return strings.Join(descLines, "\n"), strings.Join(dirLines, "\n")
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

// SeasonOption is one season checkbox scraped from the calendar page.
type SeasonOption struct {
	ID   string
	Year int
}

// DiscoverSeasonIDs scrapes the season checkbox inputs from the
// calendar landing page. The calendar form wants the wordpress-side
// season ids, not years, and they change annually.
func DiscoverSeasonIDs(pageHTML string) ([]SeasonOption, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, &events.StructuralError{Page: "calendar_landing", Err: err}
	}

	yearPattern := regexp.MustCompile(`20\d{2}`)
	var seasons []SeasonOption
	doc.Find(`input[name="season[]"]`).Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("value")
		if !ok || strings.TrimSpace(id) == "" {
			return
		}
		ctx := s.Parent().Text()
		m := yearPattern.FindString(ctx)
		if m == "" {
			return
		}
		year, _ := strconv.Atoi(m)
		seasons = append(seasons, SeasonOption{ID: strings.TrimSpace(id), Year: year})
	})

	if len(seasons) == 0 {
		return nil, &events.StructuralError{
			Page: "calendar_landing",
			Err:  fmt.Errorf("no season inputs found"),
		}
	}
	if len(seasons) > 2 {
		seasons = seasons[:2]
	}
	return seasons, nil
}

// BuildCalendarForm builds the AJAX POST body that returns the full
// season calendar.
func BuildCalendarForm(seasonIDs []string) url.Values {
	form := url.Values{
		"action":        {"aerc_calendar_form"},
		"calendar":      {"calendar"},
		"country[]":     {"United States", "Canada"},
		"within":        {""},
		"zip":           {""},
		"span[]":        {"#cal-span-season"},
		"daterangefrom": {""},
		"daterangeto":   {""},
		"distance[]":    {"any"},
	}
	for _, id := range seasonIDs {
		form.Add("season[]", id)
	}
	return form
}

// DecodeCalendarResponse unwraps the AJAX JSON envelope. Some error
// pages come back as raw HTML, which is passed through for the
// structural check to reject.
func DecodeCalendarResponse(body []byte) (string, error) {
	var envelope struct {
		HTML string `json:"html"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return string(body), nil
	}
	if envelope.HTML == "" {
		return "", &events.StructuralError{
			Page: "calendar_ajax",
			Err:  fmt.Errorf("response envelope has no html field"),
		}
	}
	return envelope.HTML, nil
}

// LooksLikeCalendar is the cache validator for calendar payloads.
func LooksLikeCalendar(body []byte) bool {
	return strings.Contains(string(body), "calendarRow")
}
