package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"go.uber.org/zap"
)

// Highlighter annotates a single page
type Highlighter interface {
	HighlightURL(ctx context.Context, url string) (*model.Report, error)
}

// HighlightJob highlights one page of a batch
type HighlightJob struct {
	Index       int
	URL         string
	Highlighter Highlighter
}

// Execute runs the job
func (j *HighlightJob) Execute(ctx context.Context) Result {
	start := time.Now()
	report, err := j.Highlighter.HighlightURL(ctx, j.URL)
	return &HighlightResult{
		Index:    j.Index,
		URL:      j.URL,
		Report:   report,
		Error:    err,
		Duration: time.Since(start),
	}
}

// HighlightResult is the outcome of one HighlightJob
type HighlightResult struct {
	Index    int
	URL      string
	Report   *model.Report
	Error    error
	Duration time.Duration
}

// GetError returns the job error
func (r *HighlightResult) GetError() error {
	return r.Error
}

// BatchSummary totals a batch run
type BatchSummary struct {
	Total       int `json:"total"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Claims      int `json:"claims"`
	Highlighted int `json:"highlighted"`
}

// Summarize totals results
func Summarize(results []*HighlightResult) BatchSummary {
	s := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Error != nil || r.Report == nil {
			s.Failed++
			continue
		}
		s.Succeeded++
		s.Claims += len(r.Report.Claims)
		s.Highlighted += len(r.Report.Highlighted)
	}
	return s
}

// BatchProcessor highlights many pages concurrently
type BatchProcessor struct {
	highlighter Highlighter
	concurrency int
	logger      *zap.Logger
}

// NewBatchProcessor creates a batch processor running concurrency jobs at
// a time
func NewBatchProcessor(h Highlighter, concurrency int, logger *zap.Logger) *BatchProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchProcessor{
		highlighter: h,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ProcessURLs highlights every URL and returns results in input order
func (b *BatchProcessor) ProcessURLs(ctx context.Context, urls []string) []*HighlightResult {
	if len(urls) == 0 {
		return []*HighlightResult{}
	}

	pool := NewPoolWithContext(ctx, b.concurrency)
	pool.Start()

	for i, u := range urls {
		if !pool.Submit(&HighlightJob{Index: i, URL: u, Highlighter: b.highlighter}) {
			break
		}
	}

	results := pool.Wait()

	out := make([]*HighlightResult, 0, len(results))
	for _, r := range results {
		hr := r.(*HighlightResult)
		if hr.Error != nil {
			b.logger.Warn("highlight failed", zap.String("url", hr.URL), zap.Error(hr.Error))
		} else {
			b.logger.Debug("highlight done", zap.String("url", hr.URL), zap.Duration("took", hr.Duration))
		}
		out = append(out, hr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out
}

// ProcessFile reads URLs from a file and highlights them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*HighlightResult, error) {
	urls, err := ReadURLsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read URLs: %w", err)
	}

	return b.ProcessURLs(ctx, urls), nil
}

// ReadURLsFromFile reads one URL or file path per line, skipping blanks,
// comments and duplicates
func ReadURLsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			urls = append(urls, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return urls, nil
}
