package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = `You identify factual claims in web page text and rate how credible each one is.

Return a JSON object of the form:
{"claims":[{"id":"1","text":"...","credibilityScore":0.0,"sources":[{"url":"...","title":"..."}]}]}

Rules:
1. "text" MUST be copied verbatim from the input, character for character, so it can be found in the page.
2. "credibilityScore" is between 0 and 1. Omit it when you cannot judge.
3. Only list sources you are confident exist. An empty list is allowed.
4. Return {"claims":[]} when the text makes no checkable claims.`

// OpenAIAnalyzer extracts claims with an OpenAI-compatible chat model
type OpenAIAnalyzer struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewOpenAIAnalyzer creates an OpenAI-backed analyzer
func NewOpenAIAnalyzer(cfg model.AnalysisConfig, logger *zap.Logger) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	m := cfg.Model
	if m == "" {
		m = openai.GPT4oMini
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIAnalyzer{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     m,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Name returns the provider name
func (a *OpenAIAnalyzer) Name() string {
	return "openai:" + a.model
}

// Analyze asks the model for claims in JSON mode
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, content string) (*model.AnalysisResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens:   a.maxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	var out model.AnalysisResponse
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &out); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}

	a.logger.Debug("openai analysis",
		zap.String("model", a.model),
		zap.Int("claims", len(out.Claims)),
		zap.Int("tokens", resp.Usage.TotalTokens))

	return normalize(&out), nil
}

// stripFences removes a surrounding markdown code fence some models add
// even in JSON mode
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
