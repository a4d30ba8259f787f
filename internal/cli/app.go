package cli

import (
	"fmt"

	"github.com/ppiankov/factmark/internal/analysis"
	"github.com/ppiankov/factmark/internal/cache"
	"github.com/ppiankov/factmark/internal/extract"
	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/pipeline"
	"github.com/ppiankov/factmark/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// bindFlags binds a command's flags to config keys. Called from PreRunE so
// commands sharing a key do not overwrite each other's binding.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func buildAnalyzer(cfg *model.Config, limiter *worker.Limiter, log *zap.Logger) (analysis.Analyzer, error) {
	deps := analysis.Deps{Limiter: limiter, Logger: log}
	if cfg.Cache.Enabled {
		deps.Cache = cache.New(cfg.Cache)
	}
	return analysis.NewAnalyzer(cfg.Analysis, deps)
}

func buildPipeline(cfg *model.Config, log *zap.Logger) (*pipeline.Pipeline, error) {
	limiter := worker.NewLimiterFromConfig(cfg.RateLimiting)

	extractor, err := extract.NewContentExtractor(cfg.Extract, log)
	if err != nil {
		return nil, err
	}
	analyzer, err := buildAnalyzer(cfg, limiter, log)
	if err != nil {
		return nil, err
	}

	fetcher := pipeline.NewFetcher(cfg.HTTP, limiter, log)
	return pipeline.New(cfg, fetcher, extractor, analyzer, log), nil
}
