package worker

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces remote table downloads per origin (scheme://host).
// A robots.txt crawl delay lowers an origin's rate to one request per delay;
// it never raises it.
type Limiter struct {
	mu           sync.Mutex
	origins      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter giving every origin requestsPerSecond with burst
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		origins:      make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait blocks until a request to rawURL's origin is allowed
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	return l.WaitWithDelay(ctx, rawURL, 0)
}

// WaitWithDelay is Wait for an origin that asked for crawlDelay between requests
func (l *Limiter) WaitWithDelay(ctx context.Context, rawURL string, crawlDelay time.Duration) error {
	origin, err := Origin(rawURL)
	if err != nil {
		return err
	}

	lim := l.limiter(origin)
	if crawlDelay > 0 {
		l.mu.Lock()
		if every := rate.Every(crawlDelay); every < lim.Limit() {
			lim.SetLimit(every)
			lim.SetBurst(1)
		}
		l.mu.Unlock()
	}

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", origin, err)
	}
	return nil
}

// Allow reports whether a request may happen now without waiting
func (l *Limiter) Allow(rawURL string) bool {
	origin, err := Origin(rawURL)
	if err != nil {
		return false
	}
	return l.limiter(origin).Allow()
}

// SetOriginRate overrides the rate of one origin
func (l *Limiter) SetOriginRate(origin string, requestsPerSecond float64, burst int) {
	if burst <= 0 {
		burst = l.defaultBurst
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.origins[origin] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (l *Limiter) limiter(origin string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.origins[origin]
	if !ok {
		lim = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.origins[origin] = lim
	}
	return lim
}

// Origin returns scheme://host of an http(s) URL
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("not an http(s) URL: %q", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
