// Package analysis talks to the external claim analysis service.
package analysis

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ppiankov/factmark/internal/cache"
	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/worker"
	"go.uber.org/zap"
)

// Analyzer turns page content into a claim list
type Analyzer interface {
	// Name identifies the backend, used in cache keys and logs
	Name() string

	// Analyze submits content and returns the service response. Errors
	// reported by the service in the response body are returned in
	// AnalysisResponse.Error, transport failures as err.
	Analyze(ctx context.Context, content string) (*model.AnalysisResponse, error)
}

// Deps are the shared collaborators analyzers may use
type Deps struct {
	Client  *http.Client
	Limiter *worker.Limiter
	Cache   cache.Cache
	Logger  *zap.Logger
}

// NewAnalyzer builds the analyzer selected by cfg.Provider, wrapped in the
// response cache when deps.Cache is set
func NewAnalyzer(cfg model.AnalysisConfig, deps Deps) (Analyzer, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	var (
		a   Analyzer
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "http":
		a, err = NewHTTPAnalyzer(cfg, deps)
	case "openai":
		a, err = NewOpenAIAnalyzer(cfg, deps.Logger)
	default:
		return nil, fmt.Errorf("unknown analysis provider: %s (supported: http, openai)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if deps.Cache != nil {
		a = NewCached(a, deps.Cache, 0, deps.Logger)
	}
	return a, nil
}

// normalize gives every claim an ID and clamps scores into [0, 1]
func normalize(resp *model.AnalysisResponse) *model.AnalysisResponse {
	if resp == nil {
		return &model.AnalysisResponse{}
	}
	for i := range resp.Claims {
		c := &resp.Claims[i]
		if c.ID == "" {
			c.ID = fmt.Sprintf("claim-%d", i+1)
		}
		if c.CredibilityScore != nil {
			s := *c.CredibilityScore
			switch {
			case s < 0:
				s = 0
			case s > 1:
				s = 1
			}
			c.CredibilityScore = &s
		}
	}
	return resp
}
