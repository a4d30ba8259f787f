package cli

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ppiankov/factmark/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchTimeout time.Duration

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Highlight many pages from a file in parallel",
	Long: `Batch highlights every URL in a file (one per line, # for comments)
with a pool of workers and writes one annotated page and report per URL.

Example:
  factmark batch urls.txt
  factmark batch urls.txt --concurrency 10 --out-dir ./marked
  factmark batch urls.txt --timeout 30m`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"concurrency": "concurrency.workers",
			"out-dir":     "output.dir",
			"ua":          "http.user_agent",
			"http-proxy":  "http.http_proxy",
			"https-proxy": "http.https_proxy",
			"provider":    "analysis.provider",
			"endpoint":    "analysis.endpoint",
			"model":       "analysis.model",
		})
	},
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Concurrency flags
	batchCmd.Flags().Int("concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().String("out-dir", "./factmark-out", "output directory for annotated pages and reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")

	// HTTP flags
	batchCmd.Flags().String("ua", "factmark/0.1 (+https://github.com/ppiankov/factmark)", "HTTP User-Agent")
	batchCmd.Flags().String("http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	batchCmd.Flags().String("https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the analysis cache")

	// Analysis flags
	batchCmd.Flags().String("provider", "http", "analysis provider (http, openai)")
	batchCmd.Flags().String("endpoint", "http://localhost:3000/api/analyze", "analysis service endpoint (http provider)")
	batchCmd.Flags().String("model", "", "model name (openai provider)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if noCache {
		cfg.Cache.Enabled = false
	}

	logger.Info("batch started",
		zap.String("file", file),
		zap.Int("workers", cfg.Concurrency.Workers),
		zap.String("out_dir", cfg.Output.Dir),
		zap.Duration("timeout", batchTimeout))

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	processor := worker.NewBatchProcessor(p, cfg.Concurrency.Workers, logger)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		if r.Error != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", r.URL, r.Error)
			continue
		}
		fmt.Fprintf(out, "✓ %s (%d/%d claims marked)\n", r.URL, len(r.Report.Highlighted), len(r.Report.Claims))
	}

	s := worker.Summarize(results)
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "  Total:     %d URLs\n", s.Total)
	fmt.Fprintf(out, "  Success:   %d\n", s.Succeeded)
	fmt.Fprintf(out, "  Failures:  %d\n", s.Failed)
	fmt.Fprintf(out, "  Markers:   %d\n", s.Highlighted)
	fmt.Fprintf(out, "  Output:    %s\n", cfg.Output.Dir)

	if s.Total > 0 && s.Failed == s.Total {
		return fmt.Errorf("all %d URLs failed", s.Total)
	}
	return nil
}
