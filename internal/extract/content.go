// Package extract selects the main readable text of a page for analysis.
package extract

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"github.com/ppiankov/factmark/internal/dom"
	"github.com/ppiankov/factmark/internal/model"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Extraction strategies
const (
	StrategySelectors   = "selectors"
	StrategyReadability = "readability"
)

// ContentExtractor picks the main content region of a document and returns
// its visible text
type ContentExtractor struct {
	strategy  string
	selectors []selector
	maxChars  int
	logger    *zap.Logger
}

type selector struct {
	raw     string
	matcher cascadia.Selector
}

// NewContentExtractor compiles the configured selector chain. An empty
// selector list falls back to model.DefaultSelectors.
func NewContentExtractor(cfg model.ExtractConfig, logger *zap.Logger) (*ContentExtractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	raw := cfg.Selectors
	if len(raw) == 0 {
		raw = model.DefaultSelectors
	}

	compiled := make([]selector, 0, len(raw))
	for _, s := range raw {
		m, err := cascadia.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid selector %q: %w", s, err)
		}
		compiled = append(compiled, selector{raw: s, matcher: m})
	}

	strategy := cfg.Strategy
	switch strategy {
	case "":
		strategy = StrategySelectors
	case StrategySelectors, StrategyReadability:
	default:
		return nil, fmt.Errorf("unknown extract strategy: %s", strategy)
	}

	return &ContentExtractor{
		strategy:  strategy,
		selectors: compiled,
		maxChars:  cfg.MaxChars,
		logger:    logger,
	}, nil
}

// Extract returns the trimmed main text of doc. pageURL is only used by the
// readability strategy and may be empty.
func (e *ContentExtractor) Extract(doc *html.Node, pageURL string) string {
	if doc == nil {
		return ""
	}

	var text string
	if e.strategy == StrategyReadability {
		text = e.readable(doc, pageURL)
	}
	if text == "" {
		text = e.bySelectors(doc)
	}
	return truncate(strings.TrimSpace(text), e.maxChars)
}

// ExtractHTML parses htmlContent and extracts from it
func (e *ContentExtractor) ExtractHTML(htmlContent, pageURL string) (string, error) {
	doc, err := dom.Parse(htmlContent)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return e.Extract(doc, pageURL), nil
}

// bySelectors returns the text of every match of the first selector that
// matches at all, or the body text when none does
func (e *ContentExtractor) bySelectors(doc *html.Node) string {
	gq := goquery.NewDocumentFromNode(doc)

	for _, sel := range e.selectors {
		matches := gq.FindMatcher(sel.matcher)
		if matches.Length() == 0 {
			continue
		}

		parts := make([]string, 0, matches.Length())
		matches.Each(func(_ int, s *goquery.Selection) {
			if t := dom.VisibleText(s.Get(0)); t != "" {
				parts = append(parts, t)
			}
		})
		e.logger.Debug("content selector matched",
			zap.String("selector", sel.raw),
			zap.Int("matches", matches.Length()))
		return strings.Join(parts, "\n")
	}

	body := dom.Body(doc)
	if body == nil {
		return dom.VisibleText(doc)
	}
	return dom.VisibleText(body)
}

func (e *ContentExtractor) readable(doc *html.Node, pageURL string) string {
	rendered, err := dom.Render(doc)
	if err != nil {
		e.logger.Debug("render for readability failed", zap.Error(err))
		return ""
	}

	var u *url.URL
	if pageURL != "" {
		u, _ = url.Parse(pageURL)
	}

	article, err := readability.FromReader(strings.NewReader(rendered), u)
	if err != nil {
		e.logger.Debug("readability failed, using selectors", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

// truncate cuts s to at most max runes; max <= 0 disables the limit
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
