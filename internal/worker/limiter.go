package worker

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"golang.org/x/time/rate"
)

// Limiter paces requests per host. Page fetches and analysis calls share
// one Limiter so a batch never floods a single server.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter allowing requestsPerSecond per host with the
// given burst. A non-positive rate means unlimited.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}

	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// NewLimiterFromConfig creates a limiter with the configured default rate
// and per-host overrides
func NewLimiterFromConfig(cfg model.RateLimitingConfig) *Limiter {
	l := NewLimiter(cfg.RequestsPerSecond, cfg.BurstSize)
	for _, d := range cfg.Domains {
		if d.Host == "" {
			continue
		}
		l.SetDomainRate(d.Host, d.RequestsPerSecond, d.BurstSize)
	}
	return l
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host, err := extractDomain(rawURL)
	if err != nil {
		return err
	}
	return l.limiterFor(host).Wait(ctx)
}

// Allow reports whether a request may go now, consuming a token if so
func (l *Limiter) Allow(rawURL string) bool {
	host, err := extractDomain(rawURL)
	if err != nil {
		return false
	}
	return l.limiterFor(host).Allow()
}

// WaitWithDelay waits for the limiter and then for an extra delay
func (l *Limiter) WaitWithDelay(ctx context.Context, rawURL string, additionalDelay time.Duration) error {
	if err := l.Wait(ctx, rawURL); err != nil {
		return err
	}
	if additionalDelay <= 0 {
		return nil
	}

	t := time.NewTimer(additionalDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetDomainRate overrides the rate for one host. A non-positive rate means
// unlimited.
func (l *Limiter) SetDomainRate(domain string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}
	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}
	l.limiters[strings.ToLower(domain)] = rate.NewLimiter(r, burst)
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[host] = limiter
	return limiter
}

// extractDomain returns the lowercased host[:port] of rawURL
func extractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Host), nil
}
