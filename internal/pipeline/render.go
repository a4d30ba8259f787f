package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ppiankov/factmark/internal/model"
)

// Renderer writes highlighted pages and their reports
type Renderer struct {
	dir string
}

// NewRenderer creates a renderer writing under dir. An empty dir disables
// file output.
func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// Enabled reports whether an output directory is configured
func (r *Renderer) Enabled() bool {
	return r.dir != ""
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a report subject into a file name stem
func Slug(subject string) string {
	s := slugUnsafe.ReplaceAllString(strings.ToLower(subject), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "page"
	}
	if len(s) > 80 {
		s = strings.TrimRight(s[:80], "-")
	}
	return s
}

// Write stores <slug>.html and <slug>.json and records the HTML path in the
// report
func (r *Renderer) Write(res *Result) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	stem := filepath.Join(r.dir, Slug(res.Report.Subject))
	htmlPath := stem + ".html"
	if err := os.WriteFile(htmlPath, []byte(res.HTML), 0o644); err != nil {
		return "", fmt.Errorf("write html: %w", err)
	}
	res.Report.OutputPath = htmlPath

	if err := r.RenderJSON(res.Report, stem+".json"); err != nil {
		return "", err
	}
	return htmlPath, nil
}

// RenderJSON writes the report as indented JSON
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// RenderSummary prints a short human-readable summary
func RenderSummary(w io.Writer, report *model.Report) {
	counts := report.TierCounts()

	fmt.Fprintf(w, "%s\n", report.SourceURL)
	fmt.Fprintf(w, "  claims:      %d\n", len(report.Claims))
	fmt.Fprintf(w, "  highlighted: %d (high %d, medium %d, low %d, unknown %d)\n",
		len(report.Highlighted),
		counts[model.TierHigh], counts[model.TierMedium], counts[model.TierLow], counts[model.TierUnknown])
	if len(report.Missing) > 0 {
		fmt.Fprintf(w, "  not found:   %d\n", len(report.Missing))
	}
	if report.OutputPath != "" {
		fmt.Fprintf(w, "  output:      %s\n", report.OutputPath)
	}
}
