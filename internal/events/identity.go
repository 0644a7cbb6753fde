package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// syntheticIDVersion is bumped whenever the derivation below changes, so
// previously stored synthetic ids stay distinguishable.
const syntheticIDVersion = "v1"

// SyntheticRideID derives a deterministic identifier for rows whose
// source omits a ride id. The function is pure: the same inputs always
// produce the same id across runs and processes.
func SyntheticRideID(source, name string, dateStart *time.Time, location string) string {
	day := ""
	if dateStart != nil {
		day = dateStart.Format("2006-01-02")
	}
	seed := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(source)),
		strings.ToLower(strings.TrimSpace(name)),
		day,
		strings.ToLower(strings.TrimSpace(location)),
	}, "|")
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%s:%s", syntheticIDVersion, hex.EncodeToString(sum[:])[:12])
}

// IsSyntheticRideID reports whether the id was derived rather than
// extracted from the source.
func IsSyntheticRideID(id string) bool {
	return strings.HasPrefix(id, syntheticIDVersion+":")
}
