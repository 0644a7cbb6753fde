// Package htmlnorm reduces raw calendar HTML to a stable, parseable
// core. Normalization is idempotent, so re-normalizing cached output
// is harmless.
package htmlnorm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Elements that never carry event data.
var strippedSelectors = []string{
	"script",
	"style",
	"noscript",
	"iframe",
	"nav",
	"header",
	"footer",
	"form",
	"svg",
}

// Attributes preserved on remaining elements. Everything else
// (inline styles, event handlers, tracking attributes) is dropped.
var keptAttrs = map[string]bool{
	"href":  true,
	"src":   true,
	"id":    true,
	"class": true,
	"name":  true,
	"value": true,
	"type":  true,
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

// Normalize strips scripts, styles, comments, chrome elements, and
// tracking pixels from the document and collapses runs of whitespace,
// returning cleaned HTML.
func Normalize(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	for _, sel := range strippedSelectors {
		doc.Find(sel).Remove()
	}

	// 1x1 images are tracking pixels.
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		w, _ := s.Attr("width")
		h, _ := s.Attr("height")
		if (w == "1" && h == "1") || (w == "0" && h == "0") {
			s.Remove()
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			kept := n.Attr[:0]
			for _, a := range n.Attr {
				if keptAttrs[a.Key] || strings.HasPrefix(a.Key, "data-") {
					kept = append(kept, a)
				}
			}
			n.Attr = kept
		}
	})

	for _, n := range doc.Nodes {
		removeComments(n)
	}

	out, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		// Fragment input has no body wrapper.
		out, err = doc.Html()
		if err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return collapseWhitespace(out), nil
}

// ExtractText flattens normalized HTML to plain text for the detail
// extractor, preserving paragraph breaks.
func ExtractText(rawHTML string) (string, error) {
	cleaned, err := Normalize(rawHTML)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleaned))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	// Block boundaries become newlines so sentences from adjacent
	// elements do not run together.
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return collapseWhitespace(doc.Text()), nil
}

func removeComments(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
			continue
		}
		removeComments(c)
	}
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = multiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
