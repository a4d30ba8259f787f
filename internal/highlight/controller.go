// Package highlight locates claims in a document, wraps them in markers and
// opens detail views for them.
package highlight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/factmark/internal/dom"
	"github.com/ppiankov/factmark/internal/model"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var (
	// ErrAnalysisInFlight is returned when an analysis is requested while one is running
	ErrAnalysisInFlight = errors.New("analysis already in progress")

	// ErrNotAnalyzing is returned when results arrive without a pending request
	ErrNotAnalyzing = errors.New("no analysis in progress")

	// ErrAnalysisFailed wraps errors reported by the analysis service
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrNoContent is returned when there is nothing to analyze
	ErrNoContent = errors.New("no content to analyze")

	// ErrUnknownClaim is returned when activating a claim with no live marker
	ErrUnknownClaim = errors.New("no marker for claim")
)

// State is the controller's position in its analyze/highlight cycle
type State int

const (
	StateIdle State = iota
	StateAnalyzing
	StateHighlighting
)

func (s State) String() string {
	switch s {
	case StateAnalyzing:
		return "analyzing"
	case StateHighlighting:
		return "highlighting"
	default:
		return "idle"
	}
}

// Analyzer turns page content into claims
type Analyzer interface {
	Analyze(ctx context.Context, content string) (*model.AnalysisResponse, error)
}

// Options configures a Controller
type Options struct {
	NoticeTTL   time.Duration
	ClassPrefix string
	Viewport    Size
	DetailSize  Size
	Logger      *zap.Logger
}

// Controller runs highlighting passes over one document. The document is
// only mutated by the controller.
type Controller struct {
	mu        sync.Mutex
	doc       *html.Node
	state     State
	markers   []*Marker
	indicator string

	notices Notifier
	opts    Options
	logger  *zap.Logger
}

// NewController creates a controller for doc
func NewController(doc *html.Node, notices Notifier, opts Options) *Controller {
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = 5 * time.Second
	}
	if opts.ClassPrefix == "" {
		opts.ClassPrefix = "factmark"
	}
	if opts.Viewport == (Size{}) {
		opts.Viewport = DefaultViewport
	}
	if opts.DetailSize == (Size{}) {
		opts.DetailSize = DefaultDetailSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if notices == nil {
		notices = NewNotices(nil)
	}

	return &Controller{
		doc:     doc,
		notices: notices,
		opts:    opts,
		logger:  logger,
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Markers returns the live markers in insertion order
func (c *Controller) Markers() []*Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Marker, len(c.markers))
	copy(out, c.markers)
	return out
}

// BeginAnalysis moves Idle -> Analyzing and shows the analyzing indicator.
// A second request while one is pending is rejected, not queued.
func (c *Controller) BeginAnalysis() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrAnalysisInFlight
	}
	c.state = StateAnalyzing
	c.indicator = c.notices.Show(NoticeAnalyzing, "Analyzing content...", 0)
	c.logger.Debug("analysis started")
	return nil
}

// HandleAnalysisResults highlights the claims of a finished analysis and
// returns how many were wrapped in a marker. The controller is Idle again
// when it returns, whatever the outcome.
func (c *Controller) HandleAnalysisResults(resp *model.AnalysisResponse) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAnalyzing {
		return 0, ErrNotAnalyzing
	}

	c.dismissIndicator()
	defer func() { c.state = StateIdle }()

	if resp == nil {
		resp = &model.AnalysisResponse{}
	}
	if resp.Error != "" {
		c.notices.Show(NoticeError, "Analysis failed: "+resp.Error, c.opts.NoticeTTL)
		return 0, fmt.Errorf("%w: %s", ErrAnalysisFailed, resp.Error)
	}

	c.state = StateHighlighting
	count := c.highlightLocked(resp.Claims)

	if len(resp.Claims) == 0 {
		c.notices.Show(NoticeNoClaims, "No claims found on this page", c.opts.NoticeTTL)
	} else {
		c.notices.Show(NoticeClaimsFound, fmt.Sprintf("Found %d claims", len(resp.Claims)), c.opts.NoticeTTL)
	}

	c.logger.Info("highlighting complete",
		zap.Int("claims", len(resp.Claims)),
		zap.Int("highlighted", count))
	return count, nil
}

// Analyze runs a full cycle: request, analysis call, highlighting
func (c *Controller) Analyze(ctx context.Context, analyzer Analyzer, content string) (int, error) {
	if strings.TrimSpace(content) == "" {
		c.notices.Show(NoticeNoContent, "No content found to analyze", c.opts.NoticeTTL)
		return 0, ErrNoContent
	}
	return c.run(ctx, analyzer, content)
}

// AnalyzeSelection is Analyze for user-selected text
func (c *Controller) AnalyzeSelection(ctx context.Context, analyzer Analyzer, selection string) (int, error) {
	if strings.TrimSpace(selection) == "" {
		c.notices.Show(NoticeNoSelection, "Select some text to analyze first", c.opts.NoticeTTL)
		return 0, ErrNoContent
	}
	return c.run(ctx, analyzer, selection)
}

func (c *Controller) run(ctx context.Context, analyzer Analyzer, content string) (int, error) {
	if err := c.BeginAnalysis(); err != nil {
		return 0, err
	}

	resp, err := analyzer.Analyze(ctx, content)
	if err != nil {
		c.abort(err)
		return 0, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	return c.HandleAnalysisResults(resp)
}

// abort returns an Analyzing controller to Idle after a transport failure
func (c *Controller) abort(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dismissIndicator()
	c.state = StateIdle
	c.notices.Show(NoticeError, "Analysis failed: "+err.Error(), c.opts.NoticeTTL)
	c.logger.Warn("analysis request failed", zap.Error(err))
}

// ClearHighlights unwraps every marker back to plain text
func (c *Controller) ClearHighlights() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

// Activate opens the detail view of the first marker for claimID, placed
// next to the pointer
func (c *Controller) Activate(claimID string, at Point) (*DetailView, error) {
	c.mu.Lock()
	var target *Marker
	for _, m := range c.markers {
		if m.ClaimID == claimID {
			target = m
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClaim, claimID)
	}
	return target.Activate(at)
}

func (c *Controller) highlightLocked(claims []model.Claim) int {
	c.clearLocked()

	isMarker := func(parent *html.Node) bool {
		return dom.HasClass(parent, markerClass(c.opts.ClassPrefix))
	}

	// Only rendered body text can carry a marker
	root := dom.Body(c.doc)
	if root == nil {
		root = c.doc
	}

	for _, claim := range claims {
		if claim.Text == "" {
			continue
		}

		markerID := newMarkerID()
		for node := range dom.TextNodesFunc(root, isMarker) {
			spliced, ok := dom.Splice(node, claim.Text, func() *html.Node {
				return newMarkerElement(c.opts.ClassPrefix, markerID, claim)
			})
			if !ok {
				continue
			}

			c.markers = append(c.markers, c.bind(markerID, claim, spliced.Marker))
			break
		}
	}
	return len(c.markers)
}

// bind creates the tracked marker and its activation handler
func (c *Controller) bind(markerID string, claim model.Claim, node *html.Node) *Marker {
	m := &Marker{
		ID:               markerID,
		ClaimID:          claim.ID,
		CredibilityScore: claim.CredibilityScore,
		Node:             node,
	}
	m.onActivate = func(at Point) (*DetailView, error) {
		markup, err := RenderDetail(claim, c.opts.ClassPrefix)
		if err != nil {
			return nil, fmt.Errorf("render detail: %w", err)
		}
		return &DetailView{
			ClaimID:  claim.ID,
			HTML:     markup,
			Position: Place(at, c.opts.DetailSize, c.opts.Viewport),
		}, nil
	}
	return m
}

func (c *Controller) clearLocked() {
	for _, m := range c.markers {
		dom.Unwrap(m.Node)
	}
	c.markers = nil
}

func (c *Controller) dismissIndicator() {
	if c.indicator != "" {
		c.notices.Dismiss(c.indicator)
		c.indicator = ""
	}
}
