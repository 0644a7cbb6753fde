package aerc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const introDistanceMaxMiles = 15

var leadingNumber = regexp.MustCompile(`\d+`)

// NormalizeDistance canonicalizes a distance label to "N miles".
// Non-numeric labels (for example "Intro") pass through trimmed.
func NormalizeDistance(label string) string {
	label = strings.ReplaceAll(label, "\u00a0", " ")
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	m := leadingNumber.FindString(label)
	if m == "" {
		return label
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 || n > 200 {
		return label
	}
	return fmt.Sprintf("%d miles", n)
}

// DistanceIsIntro reports whether a distance counts as an intro ride:
// an explicit intro label or a short distance.
func DistanceIsIntro(label string) bool {
	if strings.Contains(strings.ToLower(label), "intro") {
		return true
	}
	m := leadingNumber.FindString(label)
	if m == "" {
		return false
	}
	n, err := strconv.Atoi(m)
	return err == nil && n > 0 && n <= introDistanceMaxMiles
}
