package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/worker"
	"go.uber.org/zap"
)

const maxResponseBytes = 10 << 20

// ErrEndpointRequired is returned when the http provider has no endpoint
var ErrEndpointRequired = errors.New("analysis endpoint is required")

// HTTPAnalyzer posts content to the analysis service as {"content": ...}
// and decodes {"claims": [...], "error": "..."}
type HTTPAnalyzer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *worker.Limiter
	logger   *zap.Logger
}

type analyzeRequest struct {
	Content string `json:"content"`
}

// NewHTTPAnalyzer creates the default analyzer
func NewHTTPAnalyzer(cfg model.AnalysisConfig, deps Deps) (*HTTPAnalyzer, error) {
	if cfg.Endpoint == "" {
		return nil, ErrEndpointRequired
	}

	client := deps.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPAnalyzer{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		limiter:  deps.Limiter,
		logger:   logger,
	}, nil
}

// Name returns the provider name
func (a *HTTPAnalyzer) Name() string {
	return "http"
}

// Analyze posts content and decodes the claim list
func (a *HTTPAnalyzer) Analyze(ctx context.Context, content string) (*model.AnalysisResponse, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, a.endpoint); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	body, err := json.Marshal(analyzeRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out model.AnalysisResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != "" {
			return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("analysis service returned %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}

	a.logger.Debug("analysis response",
		zap.String("endpoint", a.endpoint),
		zap.Int("claims", len(out.Claims)),
		zap.Duration("took", time.Since(start)))

	return normalize(&out), nil
}
