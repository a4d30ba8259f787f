package highlight

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/ppiankov/factmark/internal/dom"
	"github.com/ppiankov/factmark/internal/model"
	"golang.org/x/net/html"
)

// Marker is an inserted annotation wrapping the matched text of one claim
type Marker struct {
	ID               string
	ClaimID          string
	CredibilityScore *float64
	Node             *html.Node

	onActivate func(at Point) (*DetailView, error)
}

// Activate runs the marker's bound activation handler, returning the
// detail view it opens
func (m *Marker) Activate(at Point) (*DetailView, error) {
	if m.onActivate == nil {
		return nil, ErrUnknownClaim
	}
	return m.onActivate(at)
}

// Tier returns the credibility tier the marker was rendered with
func (m *Marker) Tier() model.CredibilityTier {
	return model.TierFor(m.CredibilityScore)
}

func markerClass(prefix string) string {
	return prefix + "-highlight"
}

// newMarkerElement builds the empty marker element for a claim
func newMarkerElement(prefix, markerID string, claim model.Claim) *html.Node {
	attrs := []html.Attribute{
		{Key: "class", Val: markerClass(prefix) + " " + prefix + "-" + claim.Tier().String()},
		{Key: "data-" + prefix + "-id", Val: markerID},
		{Key: "data-claim-id", Val: claim.ID},
		{Key: "role", Val: "button"},
		{Key: "tabindex", Val: "0"},
	}
	if claim.CredibilityScore != nil {
		attrs = append(attrs, html.Attribute{
			Key: "data-credibility-score",
			Val: strconv.FormatFloat(*claim.CredibilityScore, 'f', -1, 64),
		})
	}
	return dom.Element("span", attrs...)
}

func newMarkerID() string {
	return uuid.NewString()
}
