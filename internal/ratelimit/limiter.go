// Package ratelimit provides a per-host token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

// HostLimiter throttles outbound requests per host. Every host gets
// its own bucket with the same rate and burst, created on first use.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	log      *zap.Logger
}

// New creates a HostLimiter allowing rps requests per second with the
// given burst per host.
func New(rps float64, burst int, log *zap.Logger) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
	}
}

// Wait blocks until a token is available for the host of rawURL or the
// context is canceled.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return err
	}
	lim := l.limiterFor(host)

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	waited := time.Since(start)
	if waited > time.Millisecond {
		metrics.ObserveRateLimitWait(host, waited)
		l.log.Debug("rate limited",
			zap.String("host", host),
			zap.Duration("waited", waited),
		)
	}
	return nil
}

// Allow reports whether a token is immediately available for the host
// without consuming one when it is not.
func (l *HostLimiter) Allow(rawURL string) bool {
	host, err := hostOf(rawURL)
	if err != nil {
		return false
	}
	return l.limiterFor(host).Allow()
}

func (l *HostLimiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[host] = lim
	}
	return lim
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url for rate limit: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("rate limit url %q has no host", rawURL)
	}
	return host, nil
}
