package model

import "time"

// AnalysisResponse is the shape returned by the external analysis service
type AnalysisResponse struct {
	Claims []Claim `json:"claims"`
	Error  string  `json:"error,omitempty"`
}

// Report summarizes one highlighting run over a page
type Report struct {
	Subject     string    `json:"subject"`
	SourceURL   string    `json:"source_url"`
	FetchedAt   time.Time `json:"fetched_at"`
	FetchMeta   FetchMeta `json:"fetch_meta"`
	ContentSize int       `json:"content_size"` // Bytes of extracted main content sent for analysis

	Claims      []Claim  `json:"claims"`
	Highlighted []string `json:"highlighted"`       // Claim IDs wrapped in a marker
	Missing     []string `json:"missing,omitempty"` // Claim IDs not found in the page text

	OutputPath string `json:"output_path,omitempty"` // Annotated HTML location
}

// FetchMeta contains HTTP metadata from fetching the source
type FetchMeta struct {
	StatusCode   int               `json:"status_code"`
	ContentType  string            `json:"content_type,omitempty"`
	LastModified string            `json:"last_modified,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// TierCounts tallies highlighted claims per credibility tier
func (r *Report) TierCounts() map[CredibilityTier]int {
	highlighted := make(map[string]bool, len(r.Highlighted))
	for _, id := range r.Highlighted {
		highlighted[id] = true
	}

	counts := make(map[CredibilityTier]int)
	for _, c := range r.Claims {
		if highlighted[c.ID] {
			counts[c.Tier()]++
		}
	}
	return counts
}
