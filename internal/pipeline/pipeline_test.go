package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/factmark/internal/extract"
	"github.com/ppiankov/factmark/internal/model"
)

type fakeAnalyzer struct {
	resp    *model.AnalysisResponse
	err     error
	content string
}

func (f *fakeAnalyzer) Name() string { return "fake" }

func (f *fakeAnalyzer) Analyze(ctx context.Context, content string) (*model.AnalysisResponse, error) {
	f.content = content
	return f.resp, f.err
}

const articlePage = `<html><head><title>Bees</title></head><body>
<nav>Home | About</nav>
<article><h1>Bees</h1><p>Bees make honey. Honey never spoils.</p></article>
</body></html>`

func newTestPipeline(t *testing.T, a *fakeAnalyzer, outDir string) *Pipeline {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Output.Dir = outDir

	ex, err := extract.NewContentExtractor(cfg.Extract, nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, newTestFetcher(), ex, a, nil)
}

func TestPipeline_HighlightURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, articlePage)
	}))
	defer server.Close()

	a := &fakeAnalyzer{resp: &model.AnalysisResponse{Claims: []model.Claim{
		{ID: "1", Text: "Bees make honey.", CredibilityScore: model.Score(0.95)},
		{ID: "2", Text: "Honey never spoils.", CredibilityScore: model.Score(0.4)},
		{ID: "3", Text: "Wasps make honey too."},
	}}}

	out := t.TempDir()
	p := newTestPipeline(t, a, out)

	report, err := p.HighlightURL(context.Background(), server.URL+"/bees")
	if err != nil {
		t.Fatalf("HighlightURL: %v", err)
	}

	if a.content != "Bees Bees make honey. Honey never spoils." {
		t.Errorf("Expected article text to be analyzed, got %q", a.content)
	}
	if got := strings.Join(report.Highlighted, ","); got != "1,2" {
		t.Errorf("Expected claims 1,2 highlighted, got %s", got)
	}
	if len(report.Missing) != 1 || report.Missing[0] != "3" {
		t.Errorf("Expected claim 3 missing, got %v", report.Missing)
	}

	htmlOut, err := os.ReadFile(filepath.Join(out, "bees.html"))
	if err != nil {
		t.Fatalf("Expected annotated HTML: %v", err)
	}
	if strings.Count(string(htmlOut), `class="factmark-highlight`) != 2 {
		t.Errorf("Expected two markers in output, got:\n%s", htmlOut)
	}
	if !strings.Contains(string(htmlOut), "factmark-high") || !strings.Contains(string(htmlOut), "factmark-medium") {
		t.Error("Expected tier classes in output")
	}
	if report.OutputPath != filepath.Join(out, "bees.html") {
		t.Errorf("Unexpected output path %q", report.OutputPath)
	}

	var saved model.Report
	data, err := os.ReadFile(filepath.Join(out, "bees.json"))
	if err != nil {
		t.Fatalf("Expected JSON report: %v", err)
	}
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("Decode report: %v", err)
	}
	if len(saved.Claims) != 3 {
		t.Errorf("Expected 3 claims in saved report, got %d", len(saved.Claims))
	}
}

func TestPipeline_EmptyPageIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.html")
	if err := os.WriteFile(path, []byte("<html><body>  </body></html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := &fakeAnalyzer{}
	res, err := newTestPipeline(t, a, "").Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.content != "" {
		t.Error("Expected no analysis request for an empty page")
	}
	if len(res.Report.Claims) != 0 || len(res.Report.Highlighted) != 0 {
		t.Errorf("Expected empty report, got %+v", res.Report)
	}
}

func TestPipeline_HighlightSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(articlePage), 0o644); err != nil {
		t.Fatal(err)
	}

	a := &fakeAnalyzer{resp: &model.AnalysisResponse{Claims: []model.Claim{
		{ID: "1", Text: "Honey never spoils.", CredibilityScore: model.Score(0.5)},
	}}}
	report, err := newTestPipeline(t, a, "").HighlightSelection(context.Background(), path, "Honey never spoils.")
	if err != nil {
		t.Fatalf("HighlightSelection: %v", err)
	}
	if a.content != "Honey never spoils." {
		t.Errorf("Expected the selection to be analyzed, got %q", a.content)
	}
	if got := strings.Join(report.Highlighted, ","); got != "1" {
		t.Errorf("Expected claim 1 highlighted, got %s", got)
	}
	if report.ContentSize != len("Honey never spoils.") {
		t.Errorf("Expected content size of the selection, got %d", report.ContentSize)
	}
}

func TestPipeline_EmptySelectionSkipsAnalysis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(articlePage), 0o644); err != nil {
		t.Fatal(err)
	}

	a := &fakeAnalyzer{}
	report, err := newTestPipeline(t, a, "").HighlightSelection(context.Background(), path, "   ")
	if err != nil {
		t.Fatalf("HighlightSelection: %v", err)
	}
	if a.content != "" {
		t.Error("Expected no analysis request for an empty selection")
	}
	if len(report.Highlighted) != 0 {
		t.Errorf("Expected nothing highlighted, got %v", report.Highlighted)
	}
}

func TestPipeline_AnalysisFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(articlePage), 0o644); err != nil {
		t.Fatal(err)
	}

	a := &fakeAnalyzer{err: errors.New("service down")}
	if _, err := newTestPipeline(t, a, "").Run(context.Background(), path); err == nil {
		t.Fatal("Expected analysis error to propagate")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Climate change": "climate-change",
		"  ":             "page",
		"Über/Straße!":   "ber-stra-e",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	RenderSummary(&buf, &model.Report{
		SourceURL:   "https://example.org",
		FetchedAt:   time.Now(),
		Claims:      []model.Claim{{ID: "1", CredibilityScore: model.Score(0.1)}, {ID: "2"}},
		Highlighted: []string{"1"},
		Missing:     []string{"2"},
	})

	out := buf.String()
	if !strings.Contains(out, "highlighted: 1 (high 0, medium 0, low 1, unknown 0)") {
		t.Errorf("Unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "not found:   1") {
		t.Errorf("Expected missing count in summary:\n%s", out)
	}
}
