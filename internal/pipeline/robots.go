package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

const robotsTTL = time.Hour

// RobotsChecker answers robots.txt questions, caching each host's rules
type RobotsChecker struct {
	cache      *gocache.Cache
	httpClient *http.Client
	userAgent  string
}

// NewRobotsChecker creates a checker. client may be nil.
func NewRobotsChecker(userAgent string, client *http.Client) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{
		cache:      gocache.New(robotsTTL, 10*time.Minute),
		httpClient: client,
		userAgent:  NormalizeUserAgent(userAgent),
	}
}

// CanFetch reports whether rawURL may be fetched and the host's crawl
// delay. An unreachable robots.txt allows everything.
func (r *RobotsChecker) CanFetch(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, 0, fmt.Errorf("parse URL: %w", err)
	}

	data, err := r.rules(ctx, parsed)
	if err != nil {
		return true, 0, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	allowed := data.TestAgent(path, r.userAgent)

	var crawlDelay time.Duration
	if group := data.FindGroup(r.userAgent); group != nil {
		crawlDelay = group.CrawlDelay
	}

	return allowed, crawlDelay, nil
}

func (r *RobotsChecker) rules(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(u.Host)
	if cached, ok := r.cache.Get(host); ok {
		return cached.(*robotstxt.RobotsData), nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	r.cache.SetDefault(host, data)
	return data, nil
}

// Clear drops every cached rule set
func (r *RobotsChecker) Clear() {
	r.cache.Flush()
}

// NormalizeUserAgent reduces a UA string to its product token for
// robots.txt group matching
func NormalizeUserAgent(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) > 0 {
		return strings.Split(parts[0], "/")[0]
	}
	return ua
}
