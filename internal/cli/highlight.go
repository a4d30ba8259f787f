package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	highlightTimeout time.Duration
	noCache          bool
	printJSON        bool
	selection        string
)

// highlightCmd represents the highlight command
var highlightCmd = &cobra.Command{
	Use:   "highlight <url|file>",
	Short: "Mark the claims of a single page",
	Long: `Highlight loads a page, extracts its main content, sends it to the
analysis service and wraps every reported claim found in the page in a
credibility marker.

The annotated page and a JSON report are written to the output directory.

Example:
  factmark highlight https://example.com/article
  factmark highlight ./saved-page.html --out-dir ./marked
  factmark highlight https://example.com --provider openai --model gpt-4o-mini
  factmark highlight https://example.com --selection "The bridge opened in 1932."`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"out-dir":   "output.dir",
			"ua":        "http.user_agent",
			"insecure":  "http.insecure_tls",
			"provider":  "analysis.provider",
			"endpoint":  "analysis.endpoint",
			"model":     "analysis.model",
			"strategy":  "extract.strategy",
			"max-bytes": "http.max_body_bytes",
		})
	},
	RunE: runHighlight,
}

func init() {
	rootCmd.AddCommand(highlightCmd)

	// Output flags
	highlightCmd.Flags().String("out-dir", "./factmark-out", "output directory for the annotated page and report (empty: no files)")
	highlightCmd.Flags().BoolVar(&printJSON, "json", false, "print the report as JSON instead of a summary")
	highlightCmd.Flags().StringVar(&selection, "selection", "", "analyze this text instead of the page's main content")

	// HTTP flags
	highlightCmd.Flags().DurationVar(&highlightTimeout, "timeout", 2*time.Minute, "overall timeout")
	highlightCmd.Flags().String("ua", "factmark/0.1 (+https://github.com/ppiankov/factmark)", "HTTP User-Agent")
	highlightCmd.Flags().Int64("max-bytes", 2_000_000, "max response bytes to read")
	highlightCmd.Flags().Bool("insecure", false, "skip TLS certificate verification (use for self-signed certs)")
	highlightCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the analysis cache")

	// Analysis flags
	highlightCmd.Flags().String("provider", "http", "analysis provider (http, openai)")
	highlightCmd.Flags().String("endpoint", "http://localhost:3000/api/analyze", "analysis service endpoint (http provider)")
	highlightCmd.Flags().String("model", "", "model name (openai provider)")
	highlightCmd.Flags().String("strategy", "selectors", "content extraction strategy (selectors, readability)")
}

func runHighlight(cmd *cobra.Command, args []string) error {
	source := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), highlightTimeout)
	defer cancel()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if noCache {
		cfg.Cache.Enabled = false
	}

	logger.Debug("highlighting",
		zap.String("source", source),
		zap.Duration("timeout", highlightTimeout),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.String("provider", cfg.Analysis.Provider))

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	var report *model.Report
	if cmd.Flags().Changed("selection") {
		report, err = p.HighlightSelection(ctx, source, selection)
	} else {
		report, err = p.HighlightURL(ctx, source)
	}
	if err != nil {
		return fmt.Errorf("highlight failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if printJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	pipeline.RenderSummary(out, report)
	return nil
}
