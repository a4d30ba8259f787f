package highlight

import (
	"fmt"

	"github.com/ppiankov/factmark/internal/dom"
	"github.com/ppiankov/factmark/internal/model"
	"golang.org/x/net/html"
)

// Point is a position in viewport pixels
type Point struct {
	X, Y int
}

// Size is a width and height in pixels
type Size struct {
	W, H int
}

const (
	detailOffset = 10 // Gap between pointer and popup
	detailMargin = 10 // Minimum distance from the viewport edge
)

// DefaultViewport is used when the caller does not know the real one
var DefaultViewport = Size{W: 1280, H: 800}

// DefaultDetailSize approximates the rendered popup
var DefaultDetailSize = Size{W: 320, H: 240}

// DetailView is the popup opened when a marker is activated
type DetailView struct {
	ClaimID  string `json:"claimId"`
	HTML     string `json:"html"`
	Position Point  `json:"position"`
}

// Place positions a popup of the given size next to the pointer, keeping
// it inside the viewport
func Place(pointer Point, size Size, viewport Size) Point {
	return Point{
		X: clampAxis(pointer.X+detailOffset, size.W, viewport.W),
		Y: clampAxis(pointer.Y+detailOffset, size.H, viewport.H),
	}
}

func clampAxis(pos, extent, limit int) int {
	if pos+extent > limit-detailMargin {
		pos = limit - extent - detailMargin
	}
	if pos < detailMargin {
		pos = detailMargin
	}
	return pos
}

// RenderDetail renders the popup markup for a claim: its text, the
// credibility label and the source list as external links
func RenderDetail(claim model.Claim, prefix string) (string, error) {
	tier := claim.Tier()

	root := dom.Element("div",
		html.Attribute{Key: "class", Val: prefix + "-detail"},
		html.Attribute{Key: "data-claim-id", Val: claim.ID},
	)

	text := dom.Element("p", html.Attribute{Key: "class", Val: prefix + "-detail-text"})
	text.AppendChild(textNode(claim.Text))
	root.AppendChild(text)

	label := dom.Element("span", html.Attribute{Key: "class", Val: fmt.Sprintf("%s-credibility %s-%s", prefix, prefix, tier)})
	caption := tier.Label()
	if claim.CredibilityScore != nil {
		caption = fmt.Sprintf("%s (%.0f%%)", caption, *claim.CredibilityScore*100)
	}
	label.AppendChild(textNode(caption))
	root.AppendChild(label)

	list := dom.Element("ul", html.Attribute{Key: "class", Val: prefix + "-sources"})
	for _, src := range claim.Sources {
		title := src.Title
		if title == "" {
			title = src.URL
		}
		a := dom.Element("a",
			html.Attribute{Key: "href", Val: src.URL},
			html.Attribute{Key: "target", Val: "_blank"},
			html.Attribute{Key: "rel", Val: "noopener noreferrer"},
		)
		a.AppendChild(textNode(title))
		li := dom.Element("li")
		li.AppendChild(a)
		list.AppendChild(li)
	}
	root.AppendChild(list)

	return dom.Render(root)
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
