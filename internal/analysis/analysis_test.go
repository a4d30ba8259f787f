package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/factmark/internal/cache"
	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/worker"
	"github.com/sashabaranov/go-openai"
)

func TestHTTPAnalyzer_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}

		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Decode request: %v", err)
		}
		if body.Content != "Vaccines are safe." {
			t.Errorf("Unexpected content %q", body.Content)
		}

		_, _ = w.Write([]byte(`{"claims":[
			{"id":"c1","text":"Vaccines are safe.","credibilityScore":0.9,"sources":[{"url":"https://who.int","title":"WHO"}]},
			{"text":"Unscored claim."},
			{"id":"c3","text":"Out of range.","credibilityScore":1.7}
		]}`))
	}))
	defer server.Close()

	a, err := NewHTTPAnalyzer(model.AnalysisConfig{Endpoint: server.URL, APIKey: "secret"}, Deps{})
	if err != nil {
		t.Fatalf("NewHTTPAnalyzer: %v", err)
	}

	resp, err := a.Analyze(context.Background(), "Vaccines are safe.")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(resp.Claims) != 3 {
		t.Fatalf("Expected 3 claims, got %d", len(resp.Claims))
	}
	if resp.Claims[0].Tier() != model.TierHigh || resp.Claims[0].Sources[0].Title != "WHO" {
		t.Errorf("Unexpected first claim: %+v", resp.Claims[0])
	}
	if resp.Claims[1].ID != "claim-2" || resp.Claims[1].CredibilityScore != nil {
		t.Errorf("Expected generated ID and nil score, got %+v", resp.Claims[1])
	}
	if *resp.Claims[2].CredibilityScore != 1 {
		t.Errorf("Expected score clamped to 1, got %v", *resp.Claims[2].CredibilityScore)
	}
}

func TestHTTPAnalyzer_ServiceErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"claims":[],"error":"quota exceeded"}`))
	}))
	defer server.Close()

	a, _ := NewHTTPAnalyzer(model.AnalysisConfig{Endpoint: server.URL}, Deps{})
	resp, err := a.Analyze(context.Background(), "text")
	if err != nil {
		t.Fatalf("Expected service error in body, got transport error %v", err)
	}
	if resp.Error != "quota exceeded" {
		t.Errorf("Expected error field, got %q", resp.Error)
	}
}

func TestHTTPAnalyzer_HTTPErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"error body", http.StatusUnauthorized, `{"error":"not signed in"}`, "not signed in"},
		{"plain body", http.StatusBadGateway, `upstream down`, "502"},
		{"malformed ok", http.StatusOK, `{claims`, "decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			a, _ := NewHTTPAnalyzer(model.AnalysisConfig{Endpoint: server.URL}, Deps{})
			_, err := a.Analyze(context.Background(), "text")
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestHTTPAnalyzer_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	a, _ := NewHTTPAnalyzer(model.AnalysisConfig{Endpoint: server.URL}, Deps{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := a.Analyze(ctx, "text"); err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

func TestHTTPAnalyzer_UsesLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"claims":[]}`))
	}))
	defer server.Close()

	limiter := worker.NewLimiter(0.001, 1)
	a, _ := NewHTTPAnalyzer(model.AnalysisConfig{Endpoint: server.URL}, Deps{Limiter: limiter})

	if _, err := a.Analyze(context.Background(), "first"); err != nil {
		t.Fatalf("First request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.Analyze(ctx, "second"); err == nil {
		t.Error("Expected second request to be held back by the limiter")
	}
}

func TestNewHTTPAnalyzer_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPAnalyzer(model.AnalysisConfig{}, Deps{}); !errors.Is(err, ErrEndpointRequired) {
		t.Errorf("Expected ErrEndpointRequired, got %v", err)
	}
}

func TestOpenAIAnalyzer_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}

		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
			t.Errorf("Expected JSON response format, got %+v", req.ResponseFormat)
		}

		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: "```json\n{\"claims\":[{\"text\":\"The sky is blue.\",\"credibilityScore\":0.5}]}\n```",
				},
				FinishReason: "stop",
			}},
			Usage: openai.Usage{TotalTokens: 42},
		})
	}))
	defer server.Close()

	a, err := NewOpenAIAnalyzer(model.AnalysisConfig{APIKey: "test-key", BaseURL: server.URL}, nil)
	if err != nil {
		t.Fatalf("NewOpenAIAnalyzer: %v", err)
	}

	resp, err := a.Analyze(context.Background(), "The sky is blue.")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(resp.Claims) != 1 || resp.Claims[0].Text != "The sky is blue." || resp.Claims[0].ID != "claim-1" {
		t.Errorf("Unexpected claims: %+v", resp.Claims)
	}
	if resp.Claims[0].Tier() != model.TierMedium {
		t.Errorf("Expected medium tier, got %s", resp.Claims[0].Tier())
	}
}

func TestOpenAIAnalyzer_Errors(t *testing.T) {
	if _, err := NewOpenAIAnalyzer(model.AnalysisConfig{}, nil); err == nil {
		t.Error("Expected error without API key")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit exceeded", "type": "rate_limit_error"}}`))
	}))
	defer server.Close()

	a, _ := NewOpenAIAnalyzer(model.AnalysisConfig{APIKey: "k", BaseURL: server.URL}, nil)
	if _, err := a.Analyze(context.Background(), "text"); err == nil {
		t.Fatal("Expected API error, got nil")
	}
}

type countingAnalyzer struct {
	calls atomic.Int32
	resp  model.AnalysisResponse
}

func (c *countingAnalyzer) Name() string { return "counting" }

func (c *countingAnalyzer) Analyze(ctx context.Context, content string) (*model.AnalysisResponse, error) {
	c.calls.Add(1)
	resp := c.resp
	return &resp, nil
}

func TestCached(t *testing.T) {
	inner := &countingAnalyzer{resp: model.AnalysisResponse{Claims: []model.Claim{{ID: "1", Text: "x"}}}}
	a := NewCached(inner, cache.NewMemoryCache(time.Minute, time.Minute), 0, nil)

	for i := 0; i < 3; i++ {
		resp, err := a.Analyze(context.Background(), "same content")
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if len(resp.Claims) != 1 {
			t.Fatalf("Expected 1 claim, got %d", len(resp.Claims))
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("Expected 1 upstream call, got %d", got)
	}

	_, _ = a.Analyze(context.Background(), "other content")
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("Expected different content to miss, got %d calls", got)
	}
}

func TestCached_SkipsServiceErrors(t *testing.T) {
	inner := &countingAnalyzer{resp: model.AnalysisResponse{Error: "busy"}}
	a := NewCached(inner, cache.NewMemoryCache(time.Minute, time.Minute), 0, nil)

	_, _ = a.Analyze(context.Background(), "content")
	_, _ = a.Analyze(context.Background(), "content")

	if got := inner.calls.Load(); got != 2 {
		t.Errorf("Expected error responses to bypass the cache, got %d calls", got)
	}
}

func TestNewAnalyzer(t *testing.T) {
	a, err := NewAnalyzer(model.AnalysisConfig{Provider: "http", Endpoint: "http://localhost/analyze"}, Deps{})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	if _, ok := a.(*HTTPAnalyzer); !ok {
		t.Errorf("Expected *HTTPAnalyzer, got %T", a)
	}

	a, err = NewAnalyzer(model.AnalysisConfig{Provider: "OpenAI", APIKey: "k"}, Deps{Cache: cache.Nop{}})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	if _, ok := a.(*Cached); !ok {
		t.Errorf("Expected cache wrapper, got %T", a)
	}
	if !strings.HasPrefix(a.Name(), "openai:") {
		t.Errorf("Unexpected name %q", a.Name())
	}

	if _, err := NewAnalyzer(model.AnalysisConfig{Provider: "ollama"}, Deps{}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
