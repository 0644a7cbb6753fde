package aerc

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
)

var (
	emailPattern = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	mgrPattern   = regexp.MustCompile(`(?i)(?:^|\b)(?:mgr|RM|Ride ?Manager)\s*:\s*([^,\n(]+)`)
)

// extractManagerContact reads the detailData "Ride Manager : " cell,
// falling back to the summary "mgr:" line. The detail cell packs name,
// phone, and a parenthesized email into one string.
func extractManagerContact(row *goquery.Selection) (name, email, phone string) {
	var cell string
	row.Find("table.detailData tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() >= 3 && strings.Contains(cells.Eq(1).Text(), "Ride Manager :") {
			cell = strings.TrimSpace(cells.Eq(2).Text())
			return false
		}
		return true
	})

	if cell != "" {
		if m := emailPattern.FindString(cell); m != "" {
			email = m
		}
		if m := phonePattern.FindString(cell); m != "" {
			phone = strings.TrimSpace(m)
		}
		name = cell
		if i := strings.IndexByte(name, ','); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimSpace(name)
		if name != "" {
			return name, email, phone
		}
	}

	text := row.Text()
	if m := mgrPattern.FindStringSubmatch(text); m != nil {
		name = strings.TrimSpace(m[1])
	}
	if email == "" {
		email = emailPattern.FindString(text)
	}
	if phone == "" {
		phone = strings.TrimSpace(phonePattern.FindString(text))
	}
	return name, email, phone
}

// judgeRoles are the labeled roles pulled out of the detail table.
var judgeRoles = []string{
	"Head Control Judge",
	"Control Judge",
	"Vet Judge",
	"Technical Delegate",
	"Steward",
}

// extractControlJudges reads the detailData judge rows. Each judge
// sits in its own row with the role label in the middle cell.
func extractControlJudges(row *goquery.Selection) []events.ControlJudge {
	var judges []events.ControlJudge
	seen := map[string]bool{}

	row.Find("table.detailData tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 3 {
			return
		}
		label := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cells.Eq(1).Text()), ":"))
		for _, role := range judgeRoles {
			if !strings.EqualFold(label, role) {
				continue
			}
			name := strings.TrimSpace(cells.Eq(2).Text())
			if name == "" || seen[role+"/"+name] {
				break
			}
			seen[role+"/"+name] = true
			judges = append(judges, events.ControlJudge{Role: role, Name: name})
			break
		}
	})
	if len(judges) > 0 {
		return judges
	}

	// Fallback: "Control Judge: Name" in the summary rows.
	text := row.Text()
	pattern := regexp.MustCompile(`(?i)Control Judge(?:s)?\s*:\s*([^\n]+)`)
	if m := pattern.FindStringSubmatch(text); m != nil {
		for _, name := range strings.Split(m[1], ",") {
			name = strings.TrimSpace(name)
			if name == "" || seen["Control Judge/"+name] {
				continue
			}
			seen["Control Judge/"+name] = true
			judges = append(judges, events.ControlJudge{Role: "Control Judge", Name: name})
		}
	}
	return judges
}
