package colly

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy decides whether a failed attempt should be retried and
// how long to wait before the next one.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// ShouldRetry reports whether attempt (zero-based) may be retried.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}

// Delay returns the backoff before the given attempt: exponential with
// a +/-25% jitter, capped at MaxDelay. A Retry-After header on a 429
// or 503 response takes precedence when it is longer.
func (p RetryPolicy) Delay(attempt int, resp *http.Response) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := 0.75 + rand.Float64()*0.5
	d = time.Duration(float64(d) * jitter)

	if ra := retryAfter(resp); ra > d {
		d = ra
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether a response status warrants a retry.
// Client errors other than 429 are permanent.
func Retryable(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
