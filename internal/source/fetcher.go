package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ppiankov/pollcast/internal/cache"
	"github.com/ppiankov/pollcast/internal/model"
	"github.com/ppiankov/pollcast/internal/util"
	"github.com/ppiankov/pollcast/internal/worker"
)

const maxFetchAttempts = 3

// fetchSleepFunc is swapped out by tests
var fetchSleepFunc = time.Sleep

// ErrDisallowed is returned when robots.txt forbids fetching a table
var ErrDisallowed = errors.New("disallowed by robots.txt")

// StatusError is a non-2xx response
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, e.Status)
}

// Fetcher downloads remote input tables politely: robots.txt, per-host rate
// limits, bounded bodies and retries on transient failures.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *util.RobotsChecker
	limiter    *worker.Limiter
	cache      cache.Cache
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher; c may be nil to always hit the network
func NewFetcher(cfg model.SourceConfig, c cache.Cache, logger *slog.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	proxy, err := util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy)
	if err != nil {
		return nil, fmt.Errorf("configure proxy: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxy
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after 3 redirects")
			}
			return nil
		},
	}

	f := &Fetcher{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		maxBytes:   cfg.MaxBodyBytes,
		limiter:    worker.NewLimiter(cfg.RequestsPerSecond, cfg.BurstSize),
		cache:      c,
		logger:     logger,
	}
	if cfg.RespectRobots {
		f.robots = util.NewRobotsChecker(cfg.UserAgent, client)
	}
	return f, nil
}

// FetchResult is a downloaded table body
type FetchResult struct {
	Body        []byte
	URL         string
	ContentType string
	Cached      bool
}

// Fetch downloads rawURL once
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	var delay time.Duration
	if f.robots != nil {
		allowed, crawlDelay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("check robots.txt: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
		delay = crawlDelay
	}
	if err := f.limiter.WaitWithDelay(ctx, rawURL, delay); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/csv,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("read body: table larger than %d bytes", f.maxBytes)
	}

	return &FetchResult{
		Body:        body,
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// FetchWithRetry serves rawURL from the cache or downloads it, retrying
// transient failures with exponential backoff.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	key := cache.URLKey(rawURL)
	if f.cache != nil {
		if body, ok := f.cache.Get(key); ok {
			f.logger.Debug("table served from cache", "url", rawURL, "bytes", len(body))
			return &FetchResult{Body: body, URL: rawURL, Cached: true}, nil
		}
	}

	var lastErr error
	backoff := time.Second
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		result, err := f.Fetch(ctx, rawURL)
		if err == nil {
			if f.cache != nil {
				if err := f.cache.Set(key, result.Body, 0); err != nil {
					f.logger.Debug("cache table", "url", rawURL, "error", err)
				}
			}
			return result, nil
		}
		lastErr = err

		if !isRetryableFetchError(err) || attempt == maxFetchAttempts || ctx.Err() != nil {
			break
		}
		f.logger.Debug("retrying table fetch", "url", rawURL, "attempt", attempt, "error", err)
		fetchSleepFunc(backoff)
		backoff *= 2
	}
	return nil, lastErr
}

// isRetryableFetchError reports transport failures, 5xx and 429 as transient
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500 || status.Code == http.StatusTooManyRequests
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
