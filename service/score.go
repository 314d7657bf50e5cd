package service

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/model"
)

// Scoring weights. The composite score is
//
//	WeightRelevance*relevance + WeightDeadline*deadline + WeightAmountFit*amountFit
//
// with each component in [0,100], so the composite is too. Tests assert on
// score ordering, never on exact values, so the weights may be tuned as
// long as they stay documented here and sum to 1.
const (
	WeightRelevance = 0.5
	WeightDeadline  = 0.3
	WeightAmountFit = 0.2

	// neutralScore is the component score when an input gives no signal
	// (no deadline, no declared funding range, no focus areas).
	neutralScore = 60.0

	// deadlineHorizonDays: deadlines further out than this score neutrally.
	deadlineHorizonDays = 180
	// urgentWindowDays: deadlines inside this window are practically
	// unreachable and score near zero.
	urgentWindowDays = 7
	// urgentCeiling is the component score at exactly urgentWindowDays;
	// inside the window the score decays linearly to 0 at day 0.
	urgentCeiling = 15.0
)

// MergeAndScore turns raw candidate lists into the final ranked grant set:
// dedupe, score against the profile, stable-sort by descending score.
// Grants come back without IDs or run attribution; the orchestrator
// assigns those. Empty input yields empty output.
func MergeAndScore(candidates []model.Candidate, profile model.SearchProfile, now time.Time) []model.Grant {
	deduped := Deduplicate(candidates)

	grants := make([]model.Grant, 0, len(deduped))
	for _, c := range deduped {
		grants = append(grants, model.Grant{
			Candidate: c,
			Score:     Score(c, profile, now),
		})
	}

	// Stable: ties keep original discovery order.
	sort.SliceStable(grants, func(i, j int) bool {
		return grants[i].Score > grants[j].Score
	})
	return grants
}

// Deduplicate collapses candidates that describe the same grant: same
// normalized title and funder, or same source URL. On conflict the
// candidate with more populated fields wins; ties keep the first seen.
func Deduplicate(candidates []model.Candidate) []model.Candidate {
	type slot struct{ idx int }
	byTitle := make(map[string]slot)
	byURL := make(map[string]slot)

	var out []model.Candidate
	replaceIfMoreComplete := func(s slot, c model.Candidate) {
		if completeness(c) > completeness(out[s.idx]) {
			out[s.idx] = c
		}
	}

	for _, c := range candidates {
		titleKey := normalizeTitle(c.Title) + "\x00" + normalizeTitle(c.Funder)
		urlKey := c.SourceURL

		if urlKey != "" {
			if s, ok := byURL[urlKey]; ok {
				replaceIfMoreComplete(s, c)
				continue
			}
		}
		if s, ok := byTitle[titleKey]; ok {
			replaceIfMoreComplete(s, c)
			continue
		}

		out = append(out, c)
		s := slot{idx: len(out) - 1}
		byTitle[titleKey] = s
		if urlKey != "" {
			byURL[urlKey] = s
		}
	}
	return out
}

// normalizeTitle lowercases and collapses all whitespace runs to single
// spaces so formatting differences don't defeat deduplication.
func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// completeness counts populated fields; used to pick the richer of two
// duplicate candidates.
func completeness(c model.Candidate) int {
	n := 0
	for _, s := range []string{c.Title, c.Funder, c.Geography, c.Description, c.SourceURL} {
		if s != "" {
			n++
		}
	}
	for _, l := range [][]string{c.Eligibility, c.Categories, c.Requirements} {
		if len(l) > 0 {
			n++
		}
	}
	if !c.AmountMin.IsZero() || !c.AmountMax.IsZero() {
		n++
	}
	if c.Deadline != nil {
		n++
	}
	return n
}

// Score computes the weighted composite in [0,100].
func Score(c model.Candidate, profile model.SearchProfile, now time.Time) float64 {
	s := WeightRelevance*relevanceScore(c, profile) +
		WeightDeadline*deadlineScore(c.Deadline, now) +
		WeightAmountFit*amountFitScore(c, profile)
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// relevanceScore measures keyword overlap between the user's focus areas
// and the candidate's title, description and categories. No declared focus
// areas gives a neutral score.
func relevanceScore(c model.Candidate, profile model.SearchProfile) float64 {
	if len(profile.FocusAreas) == 0 {
		return neutralScore
	}

	haystack := strings.ToLower(c.Title + " " + c.Description + " " + strings.Join(c.Categories, " "))
	matched := 0
	for _, area := range profile.FocusAreas {
		terms := strings.Fields(strings.ToLower(area))
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched++
				break
			}
		}
	}
	return 100 * float64(matched) / float64(len(profile.FocusAreas))
}

// deadlineScore decays monotonically as the deadline approaches. No
// deadline (or one beyond the horizon) is neutral, never "expired".
func deadlineScore(deadline *time.Time, now time.Time) float64 {
	if deadline == nil {
		return neutralScore
	}
	days := deadline.Sub(now).Hours() / 24
	switch {
	case days > deadlineHorizonDays:
		return neutralScore
	case days <= 0:
		return 0
	case days <= urgentWindowDays:
		return urgentCeiling * days / urgentWindowDays
	default:
		// Linear from urgentCeiling at the window edge up to 100 at the
		// horizon.
		return urgentCeiling + (100-urgentCeiling)*(days-urgentWindowDays)/(deadlineHorizonDays-urgentWindowDays)
	}
}

// amountFitScore compares the grant's funding range to the user's declared
// range: full score when the grant sits entirely inside it, linear decay
// with relative distance outside it.
func amountFitScore(c model.Candidate, profile model.SearchProfile) float64 {
	if profile.AmountMin.IsZero() && profile.AmountMax.IsZero() {
		return neutralScore
	}
	if c.AmountMin.IsZero() && c.AmountMax.IsZero() {
		return neutralScore
	}

	gMin, gMax := c.AmountMin, c.AmountMax
	if gMin.IsZero() {
		gMin = gMax
	}
	if gMax.IsZero() {
		gMax = gMin
	}
	uMin, uMax := profile.AmountMin, profile.AmountMax
	noUpper := uMax.IsZero() // only a minimum declared: nothing is "too large"

	if gMin.GreaterThanOrEqual(uMin) && (noUpper || gMax.LessThanOrEqual(uMax)) {
		return 100
	}

	// Distance between the intervals, relative to the user's range span.
	span := uMax.Sub(uMin)
	if noUpper || !span.IsPositive() {
		span = uMin
	}
	if !span.IsPositive() {
		return neutralScore
	}

	var gap decimal.Decimal
	switch {
	case gMax.LessThan(uMin):
		gap = uMin.Sub(gMax)
	case !noUpper && gMin.GreaterThan(uMax):
		gap = gMin.Sub(uMax)
	default:
		// Overlapping but not contained: partial fit.
		return 80
	}

	ratio, _ := gap.Div(span).Float64()
	score := 80 * (1 - ratio)
	if score < 0 {
		return 0
	}
	return score
}
