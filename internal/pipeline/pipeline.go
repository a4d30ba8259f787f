// Package pipeline loads pages and runs them through extraction, analysis
// and highlighting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/factmark/internal/analysis"
	"github.com/ppiankov/factmark/internal/dom"
	"github.com/ppiankov/factmark/internal/extract"
	"github.com/ppiankov/factmark/internal/highlight"
	"github.com/ppiankov/factmark/internal/model"
	"go.uber.org/zap"
)

// Pipeline runs fetch -> extract -> analyze -> highlight -> render
type Pipeline struct {
	fetcher   *Fetcher
	extractor *extract.ContentExtractor
	analyzer  analysis.Analyzer
	renderer  *Renderer
	config    *model.Config
	logger    *zap.Logger
}

// New assembles a pipeline from its parts
func New(cfg *model.Config, fetcher *Fetcher, extractor *extract.ContentExtractor, analyzer analysis.Analyzer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		analyzer:  analyzer,
		renderer:  NewRenderer(cfg.Output.Dir),
		config:    cfg,
		logger:    logger,
	}
}

// Result is a highlighted page
type Result struct {
	Report *model.Report
	HTML   string // Annotated document
}

// HighlightURL loads source, highlights it and writes the annotated page
// and JSON report to the output directory. It satisfies
// worker.Highlighter.
func (p *Pipeline) HighlightURL(ctx context.Context, source string) (*model.Report, error) {
	res, err := p.Run(ctx, source)
	if err != nil {
		return nil, err
	}
	return p.write(res)
}

// HighlightSelection is HighlightURL with the user's selected text sent
// for analysis in place of the page's main content. Claims are still
// marked wherever they occur in the page.
func (p *Pipeline) HighlightSelection(ctx context.Context, source, selection string) (*model.Report, error) {
	page, err := p.fetcher.LoadSource(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	res, err := p.highlight(ctx, page, &selection)
	if err != nil {
		return nil, err
	}
	return p.write(res)
}

func (p *Pipeline) write(res *Result) (*model.Report, error) {
	if p.renderer.Enabled() {
		if _, err := p.renderer.Write(res); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}
	}
	return res.Report, nil
}

// Run loads and highlights source without writing anything
func (p *Pipeline) Run(ctx context.Context, source string) (*Result, error) {
	page, err := p.fetcher.LoadSource(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return p.Highlight(ctx, page)
}

// Highlight runs an already loaded page through the controller
func (p *Pipeline) Highlight(ctx context.Context, page *FetchResult) (*Result, error) {
	return p.highlight(ctx, page, nil)
}

// highlight analyzes selection when set, the extracted content otherwise
func (p *Pipeline) highlight(ctx context.Context, page *FetchResult, selection *string) (*Result, error) {
	doc, err := dom.Parse(page.HTML)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	notices := highlight.NewNotices(p.logNotice(page.FinalURL))
	defer notices.Close()

	capture := &capturingAnalyzer{next: p.analyzer}
	ctrl := highlight.NewController(doc, notices, highlight.Options{
		NoticeTTL:   p.config.Highlight.NoticeTTL,
		ClassPrefix: p.config.Highlight.ClassPrefix,
		Logger:      p.logger.With(zap.String("url", page.FinalURL)),
	})

	var content string
	if selection != nil {
		content = *selection
		_, err = ctrl.AnalyzeSelection(ctx, capture, content)
	} else {
		content = p.extractor.Extract(doc, page.FinalURL)
		_, err = ctrl.Analyze(ctx, capture, content)
	}
	if err != nil && !errors.Is(err, highlight.ErrNoContent) {
		return nil, err
	}

	report := &model.Report{
		Subject:     page.Subject,
		SourceURL:   page.FinalURL,
		FetchedAt:   time.Now().UTC(),
		FetchMeta:   page.Meta,
		ContentSize: len(content),
		Highlighted: []string{},
	}
	if capture.resp != nil {
		report.Claims = capture.resp.Claims
	}

	seen := make(map[string]bool)
	for _, m := range ctrl.Markers() {
		seen[m.ClaimID] = true
		report.Highlighted = append(report.Highlighted, m.ClaimID)
	}
	for _, c := range report.Claims {
		if !seen[c.ID] {
			report.Missing = append(report.Missing, c.ID)
		}
	}

	rendered, err := dom.Render(doc)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	return &Result{Report: report, HTML: rendered}, nil
}

func (p *Pipeline) logNotice(url string) func(highlight.Notice) {
	return func(n highlight.Notice) {
		p.logger.Debug("notice",
			zap.String("url", url),
			zap.String("kind", string(n.Kind)),
			zap.String("message", n.Message))
	}
}

// capturingAnalyzer keeps the last response so the report can list claims
// that were not found in the page
type capturingAnalyzer struct {
	next analysis.Analyzer
	resp *model.AnalysisResponse
}

func (c *capturingAnalyzer) Analyze(ctx context.Context, content string) (*model.AnalysisResponse, error) {
	resp, err := c.next.Analyze(ctx, content)
	c.resp = resp
	return resp, err
}
