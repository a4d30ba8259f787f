package pipeline

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/worker"
	"go.uber.org/zap"
)

// ErrDisallowed is returned when robots.txt forbids fetching a URL
var ErrDisallowed = errors.New("disallowed by robots.txt")

const (
	maxFetchAttempts = 3
	retryBaseDelay   = 500 * time.Millisecond
)

// fetchSleepFunc is swapped out in tests
var fetchSleepFunc = time.Sleep

// Fetcher retrieves pages over HTTP or from disk
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *RobotsChecker
	limiter    *worker.Limiter
	logger     *zap.Logger
}

// NewFetcher creates a fetcher from the HTTP settings. limiter and logger
// may be nil.
func NewFetcher(cfg model.HTTPConfig, limiter *worker.Limiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2_000_000
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in flag
	}

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
		maxBytes:   maxBytes,
		limiter:    limiter,
		logger:     logger,
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(cfg.UserAgent, client)
	}
	return f
}

// FetchResult is a loaded page
type FetchResult struct {
	HTML     string
	Meta     model.FetchMeta
	Subject  string
	FinalURL string
}

// Fetch retrieves one URL, honoring robots.txt and the per-host limiter
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	var crawlDelay time.Duration
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("robots: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
		crawlDelay = delay
	}

	if f.limiter != nil {
		if err := f.limiter.WaitWithDelay(ctx, rawURL, crawlDelay); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	meta := model.FetchMeta{
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
		Headers:      make(map[string]string),
	}
	for _, key := range []string{"Content-Length", "Server", "Cache-Control"} {
		if val := resp.Header.Get(key); val != "" {
			meta.Headers[key] = val
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	finalURL := resp.Request.URL.String()
	return &FetchResult{
		HTML:     string(body),
		Meta:     meta,
		Subject:  extractSubject(finalURL),
		FinalURL: finalURL,
	}, nil
}

// FetchWithRetry retries transient failures (5xx, 429, connection errors)
// with exponential backoff
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			f.logger.Debug("retrying fetch",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			fetchSleepFunc(delay)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		result, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxFetchAttempts, lastErr)
}

// LoadSource loads an http(s) URL through the fetcher or reads a local
// file for anything else
func (f *Fetcher) LoadSource(ctx context.Context, source string) (*FetchResult, error) {
	if isRemote(source) {
		return f.FetchWithRetry(ctx, source)
	}

	path := strings.TrimPrefix(source, "file://")
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	if info.Size() > f.maxBytes {
		return nil, fmt.Errorf("source %s is %d bytes, limit is %d", path, info.Size(), f.maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fileURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()

	return &FetchResult{
		HTML:     string(data),
		Meta:     model.FetchMeta{StatusCode: http.StatusOK, ContentType: "text/html"},
		Subject:  extractSubject(fileURL),
		FinalURL: fileURL,
	}, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// isRetryableFetchError classifies errors by the prefixes Fetch produces
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if code, ok := strings.CutPrefix(msg, "unexpected status: "); ok {
		return strings.HasPrefix(code, "5") || strings.HasPrefix(code, "429")
	}
	return strings.HasPrefix(msg, "fetch: ")
}

// extractSubject derives a human-readable subject from the URL's last path
// segment
func extractSubject(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return parsed.Host
	}

	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]

	last = strings.ReplaceAll(last, "_", " ")
	last = strings.ReplaceAll(last, "-", " ")

	if idx := strings.LastIndex(last, "."); idx > 0 {
		last = last[:idx]
	}

	return last
}
