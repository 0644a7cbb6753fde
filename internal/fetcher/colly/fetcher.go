// Package colly implements the pipeline's Fetcher on top of the colly
// collector, adding per-host rate limiting, an on-disk cache, and
// retry with exponential backoff.
package colly

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	colly "github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/cache"
	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
	"github.com/trailblaze-app/trailblaze-scraper/internal/ratelimit"
)

// Options configures a Fetcher.
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	Policy         RetryPolicy
	// ForceRefresh bypasses cache reads; responses are still written
	// back so the cache converges on fresh content.
	ForceRefresh bool
}

// Fetcher performs rate-limited, cached, retried HTTP fetches.
type Fetcher struct {
	base    *colly.Collector
	cache   *cache.Store
	limiter *ratelimit.HostLimiter
	opts    Options
	log     *zap.Logger
}

var _ events.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher. The cache may be nil, which disables caching
// entirely.
func New(store *cache.Store, limiter *ratelimit.HostLimiter, opts Options, log *zap.Logger) *Fetcher {
	base := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	base.SetRequestTimeout(opts.RequestTimeout)
	return &Fetcher{
		base:    base,
		cache:   store,
		limiter: limiter,
		opts:    opts,
		log:     log,
	}
}

// Fetch executes the request, consulting the cache first when allowed
// and retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, req events.FetchRequest) (events.FetchResult, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	host := hostLabel(req.URL)

	if f.cache != nil && req.AllowCached && !f.opts.ForceRefresh {
		if body, ok := f.cache.Get(req); ok {
			metrics.ObserveFetch(host, "cache", 0)
			return events.FetchResult{
				StatusCode: http.StatusOK,
				Body:       body,
				FromCache:  true,
			}, nil
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx, req.URL); err != nil {
			return events.FetchResult{}, &events.FetchError{
				Kind: events.FetchTimeout,
				URL:  req.URL,
				Err:  err,
			}
		}

		res, err := f.attempt(ctx, req)
		if err == nil {
			if f.cache != nil && req.AllowCached && req.TTL > 0 {
				if cerr := f.cache.Put(req, res.Body, req.TTL); cerr != nil {
					f.log.Warn("cache write failed", zap.String("url", req.URL), zap.Error(cerr))
				}
			}
			metrics.ObserveFetch(host, "network", res.Duration)
			return res, nil
		}
		lastErr = err

		var fe *events.FetchError
		if errors.As(err, &fe) && fe.Kind == events.FetchHTTPStatus && !Retryable(fe.Status) {
			metrics.ObserveFetch(host, "error", 0)
			return events.FetchResult{}, err
		}
		if !f.opts.Policy.ShouldRetry(attempt) {
			break
		}

		var retryResp *http.Response
		if res.StatusCode > 0 {
			retryResp = &http.Response{StatusCode: res.StatusCode, Header: res.Header}
		}
		delay := f.opts.Policy.Delay(attempt, retryResp)
		f.log.Debug("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			metrics.ObserveFetch(host, "error", 0)
			return events.FetchResult{}, &events.FetchError{
				Kind: events.FetchTimeout,
				URL:  req.URL,
				Err:  ctx.Err(),
			}
		}
	}

	metrics.ObserveFetch(host, "error", 0)
	return events.FetchResult{}, &events.FetchError{
		Kind: events.FetchExceededRetries,
		URL:  req.URL,
		Err:  lastErr,
	}
}

// attempt runs a single request on a collector clone and classifies
// the outcome.
func (f *Fetcher) attempt(ctx context.Context, req events.FetchRequest) (events.FetchResult, error) {
	c := f.base.Clone()

	var (
		result  events.FetchResult
		httpErr error
	)

	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.Body = r.Body
		if r.Headers != nil {
			result.Header = *r.Headers
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			hdr := http.Header{}
			if r.Headers != nil {
				hdr = *r.Headers
			}
			result.StatusCode = r.StatusCode
			result.Header = hdr
			httpErr = &events.FetchError{
				Kind:   events.FetchHTTPStatus,
				URL:    req.URL,
				Status: r.StatusCode,
				Err:    err,
			}
			return
		}
		httpErr = classifyTransportError(req.URL, err)
	})

	var body *strings.Reader
	hdr := http.Header{}
	if req.Method == http.MethodPost {
		body = strings.NewReader(req.Form.Encode())
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		var err error
		if body != nil {
			err = c.Request(req.Method, req.URL, body, nil, hdr)
		} else {
			err = c.Visit(req.URL)
		}
		if err == nil {
			c.Wait()
		}
		done <- err
	}()

	select {
	case err := <-done:
		result.Duration = time.Since(start)
		if httpErr != nil {
			return result, httpErr
		}
		if err != nil {
			return events.FetchResult{}, classifyTransportError(req.URL, err)
		}
		return result, nil
	case <-ctx.Done():
		return events.FetchResult{}, &events.FetchError{
			Kind: events.FetchTimeout,
			URL:  req.URL,
			Err:  ctx.Err(),
		}
	}
}

func classifyTransportError(rawURL string, err error) error {
	kind := events.FetchNetwork
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = events.FetchTimeout
	} else if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		kind = events.FetchTimeout
	}
	return &events.FetchError{Kind: kind, URL: rawURL, Err: err}
}

func hostLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid"
	}
	h := strings.ToLower(u.Hostname())
	if h == "" {
		return "invalid"
	}
	return h
}
