// Package util holds the HTTP politeness helpers used when input tables are
// loaded from remote hosts.
package util

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsChecker answers whether a table URL may be fetched. Each origin's
// robots.txt is downloaded once; concurrent first lookups share the download.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	token     string // product token matched against robots groups

	mu      sync.RWMutex
	origins map[string]*robotstxt.RobotsData
	group   singleflight.Group
}

// NewRobotsChecker uses client for robots.txt requests, or a 10s-timeout client when nil
func NewRobotsChecker(userAgent string, client *http.Client) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		token:     NormalizeUserAgent(userAgent),
		origins:   make(map[string]*robotstxt.RobotsData),
	}
}

// CanFetch reports whether rawURL is allowed and the origin's crawl delay.
// An unreachable robots.txt allows the fetch.
func (r *RobotsChecker) CanFetch(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, 0, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, 0, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	rules, err := r.rules(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		return true, 0, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	var delay time.Duration
	if g := rules.FindGroup(r.token); g != nil {
		delay = g.CrawlDelay
	}
	return rules.TestAgent(path, r.token), delay, nil
}

func (r *RobotsChecker) rules(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	rules, ok := r.origins[origin]
	r.mu.RUnlock()
	if ok {
		return rules, nil
	}

	v, err, _ := r.group.Do(origin, func() (interface{}, error) {
		rules, err := r.download(ctx, origin)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.origins[origin] = rules
		r.mu.Unlock()
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotstxt.RobotsData), nil
}

// download treats 4xx as allow-all and 5xx as disallow-all
func (r *RobotsChecker) download(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rules, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return rules, nil
}

// Clear forgets every downloaded robots.txt
func (r *RobotsChecker) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origins = make(map[string]*robotstxt.RobotsData)
}

// NormalizeUserAgent returns the product token of a user agent ("pollcast/0.3 (+url)" -> "pollcast")
func NormalizeUserAgent(ua string) string {
	fields := strings.Fields(ua)
	if len(fields) == 0 {
		return ua
	}
	token, _, _ := strings.Cut(fields[0], "/")
	return token
}
