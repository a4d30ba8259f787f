package cli

import (
	"context"
	"fmt"

	"github.com/ppiankov/factmark/internal/extract"
	"github.com/ppiankov/factmark/internal/pipeline"
	"github.com/ppiankov/factmark/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract <url|file>",
	Short: "Print the main content of a page",
	Long: `Extract prints the text that would be sent to the analysis service:
the first matching content region (article, main, ...) or the page body.

Example:
  factmark extract https://example.com/article
  factmark extract ./page.html --strategy readability`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"strategy":  "extract.strategy",
			"max-chars": "extract.max_chars",
		})
	},
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().String("strategy", "selectors", "content extraction strategy (selectors, readability)")
	extractCmd.Flags().Int("max-chars", 50_000, "truncate output to this many characters (0: no limit)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HTTP.Timeout)
	defer cancel()

	limiter := worker.NewLimiterFromConfig(cfg.RateLimiting)
	page, err := pipeline.NewFetcher(cfg.HTTP, limiter, logger).LoadSource(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	extractor, err := extract.NewContentExtractor(cfg.Extract, logger)
	if err != nil {
		return err
	}
	text, err := extractor.ExtractHTML(page.HTML, page.FinalURL)
	if err != nil {
		return err
	}

	logger.Debug("extracted", zap.String("url", page.FinalURL), zap.Int("chars", len(text)))
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
