package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candidate is the normalized shape every discovery provider must return.
// All provider-specific parsing happens behind the provider clients; from
// the merge stage onward only this shape exists.
type Candidate struct {
	Title        string          `json:"title"`
	Funder       string          `json:"funder"`
	AmountMin    decimal.Decimal `json:"amount_min"`
	AmountMax    decimal.Decimal `json:"amount_max"`
	Deadline     *time.Time      `json:"deadline,omitempty"`
	Eligibility  []string        `json:"eligibility,omitempty"`
	Categories   []string        `json:"categories,omitempty"`
	Geography    string          `json:"geography,omitempty"`
	Description  string          `json:"description,omitempty"`
	SourceURL    string          `json:"source_url,omitempty"`
	Requirements []string        `json:"requirements,omitempty"`
}

// Grant is a discovered funding opportunity attributed to exactly one
// SearchRun. Score is in [0,100]. Grants are created in bulk when a run
// completes and are only mutated afterwards by bookmarking.
type Grant struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	Candidate
	Score     float64   `json:"score"`
	Saved     bool      `json:"saved"`
	CreatedAt time.Time `json:"created_at"`
}
