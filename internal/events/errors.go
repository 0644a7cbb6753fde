package events

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout         FetchErrorKind = "timeout"
	FetchNetwork         FetchErrorKind = "network"
	FetchHTTPStatus      FetchErrorKind = "http_status"
	FetchExceededRetries FetchErrorKind = "exceeded_retries"
)

// FetchError is returned by a Fetcher when a page could not be
// retrieved. The orchestrator treats it as a page-level skip.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Code returns the stable error code logged for dashboards.
func (e *FetchError) Code() string { return "fetch_" + string(e.Kind) }

// StructuralError means the parser could not locate the expected page
// container. The page is skipped; the run may still succeed.
type StructuralError struct {
	Page string
	Err  error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural failure on %s: %v", e.Page, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *StructuralError) Code() string { return "structural" }

// RowParseError is a single-row extraction failure. The row is skipped
// and counted; the run is unaffected in outcome.
type RowParseError struct {
	Row int
	Err error
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowParseError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *RowParseError) Code() string { return "row_parse" }

// ValidationError means a normalized event failed a data-model
// invariant. The event is skipped and counted as invalid.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

// Code returns the stable error code.
func (e *ValidationError) Code() string { return "validation" }

// Provider failures with a permanent/retriable distinction. Geocoders
// return ErrNotFound or ErrAmbiguous for permanent misses; everything
// else is retried with backoff.
var (
	ErrNotFound  = errors.New("geocoder: no result for query")
	ErrAmbiguous = errors.New("geocoder: ambiguous result for query")
)

// IsPermanentGeocodeFailure reports whether the geocode attempt should
// be recorded as attempted-unknown rather than retried.
func IsPermanentGeocodeFailure(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous)
}

// ErrorCode extracts the stable dashboard code from any pipeline error.
func ErrorCode(err error) string {
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return "internal"
}
