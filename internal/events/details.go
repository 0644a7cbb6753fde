package events

// Details is the open map of source-specific event fields. A subset of
// keys is recognized by the system; unknown keys round-trip untouched.
type Details map[string]any

// Recognized detail keys. Enrichment and the parser both write into the
// same bag, so keys are shared constants rather than scattered strings.
const (
	DetailDirections     = "directions"
	DetailAmenities      = "amenities"
	DetailHazards        = "hazards"
	DetailVeterinarians  = "veterinarians"
	DetailDescription    = "description"
	DetailCoordinates    = "coordinates"
	DetailMapLink        = "map_link"
	DetailFlyerURL       = "flyer_url"
	DetailHasIntroRide   = "has_intro_ride"
	DetailLocation       = "location_details"
	DetailControlJudges  = "control_judges"
	DetailManagerContact = "ride_manager_contact"
	DetailRegistration   = "registration_info"
	DetailCostInfo       = "cost_info"
	DetailRequirements   = "requirements"
)

// Clone returns a copy one level deep: nested maps are copied, other
// values are shared.
func (d Details) Clone() Details {
	if d == nil {
		return nil
	}
	out := make(Details, len(d))
	for k, v := range d {
		if m, ok := v.(map[string]any); ok {
			nested := make(map[string]any, len(m))
			for nk, nv := range m {
				nested[nk] = nv
			}
			out[k] = nested
			continue
		}
		out[k] = v
	}
	return out
}

// Merge deep-merges patch into d and returns the result along with the
// keys whose scalar values conflicted. When patchWins is true the patch
// value replaces the existing one on conflict; otherwise the existing
// value is kept (first-write-wins). d is not mutated.
func (d Details) Merge(patch Details, patchWins bool) (Details, []string) {
	if len(patch) == 0 {
		return d.Clone(), nil
	}
	out := d.Clone()
	if out == nil {
		out = make(Details, len(patch))
	}
	var conflicts []string
	for k, pv := range patch {
		ev, exists := out[k]
		if !exists || ev == nil {
			out[k] = pv
			continue
		}
		em, eIsMap := ev.(map[string]any)
		pm, pIsMap := pv.(map[string]any)
		if eIsMap && pIsMap {
			merged, nested := Details(em).Merge(Details(pm), patchWins)
			out[k] = map[string]any(merged)
			for _, n := range nested {
				conflicts = append(conflicts, k+"."+n)
			}
			continue
		}
		if !equalScalar(ev, pv) {
			conflicts = append(conflicts, k)
			if patchWins {
				out[k] = pv
			}
		}
	}
	return out, conflicts
}

func equalScalar(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	}
	return false
}

// String returns the non-empty string value for a key, if present.
func (d Details) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Bool returns the boolean value for a key, if present.
func (d Details) Bool(key string) (bool, bool) {
	v, ok := d[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
