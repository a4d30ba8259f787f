package analysis

import (
	"context"
	"time"

	"github.com/ppiankov/factmark/internal/cache"
	"github.com/ppiankov/factmark/internal/model"
	"go.uber.org/zap"
)

// Cached serves repeated analyses of the same content from a cache.
// Responses carrying a service error are never stored.
type Cached struct {
	next   Analyzer
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next. A zero ttl uses the cache's default.
func NewCached(next Analyzer, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: c, ttl: ttl, logger: logger}
}

// Name returns the wrapped analyzer's name
func (c *Cached) Name() string {
	return c.next.Name()
}

// Analyze returns a cached response or delegates and stores the result
func (c *Cached) Analyze(ctx context.Context, content string) (*model.AnalysisResponse, error) {
	key := cache.AnalysisKey(c.next.Name(), content)

	var hit model.AnalysisResponse
	if cache.GetJSON(c.cache, key, &hit) {
		c.logger.Debug("analysis cache hit", zap.Int("claims", len(hit.Claims)))
		return &hit, nil
	}

	resp, err := c.next.Analyze(ctx, content)
	if err != nil {
		return nil, err
	}

	if resp != nil && resp.Error == "" {
		if err := cache.SetJSON(c.cache, key, resp, c.ttl); err != nil {
			c.logger.Warn("analysis cache write failed", zap.Error(err))
		}
	}
	return resp, nil
}
