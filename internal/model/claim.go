package model

import "math"

// Claim represents a fact-checked statement returned by the analysis service
type Claim struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`                       // Literal text to locate in the page
	CredibilityScore *float64 `json:"credibilityScore,omitempty"` // 0..1, nil when the service gave no score
	Sources          []Source `json:"sources,omitempty"`
}

// Source is a supporting reference attached to a claim
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Tier returns the credibility tier of the claim
func (c Claim) Tier() CredibilityTier {
	return TierFor(c.CredibilityScore)
}

// Score returns a pointer to s, for building claims in code and tests
func Score(s float64) *float64 {
	return &s
}

// CredibilityTier is the three-band classification of a credibility score
type CredibilityTier int

const (
	TierUnknown CredibilityTier = 0 // No score available
	TierLow     CredibilityTier = 1 // score < 0.3
	TierMedium  CredibilityTier = 2 // 0.3 <= score < 0.7
	TierHigh    CredibilityTier = 3 // score >= 0.7
)

const (
	lowThreshold    = 0.3
	mediumThreshold = 0.7
)

// TierFor classifies a credibility score
func TierFor(score *float64) CredibilityTier {
	if score == nil || math.IsNaN(*score) {
		return TierUnknown
	}
	switch {
	case *score < lowThreshold:
		return TierLow
	case *score < mediumThreshold:
		return TierMedium
	default:
		return TierHigh
	}
}

func (t CredibilityTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Label returns the human-readable label shown in the detail view
func (t CredibilityTier) Label() string {
	switch t {
	case TierLow:
		return "Low credibility"
	case TierMedium:
		return "Medium credibility"
	case TierHigh:
		return "High credibility"
	default:
		return "Unknown credibility"
	}
}
