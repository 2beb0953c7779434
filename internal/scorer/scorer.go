// Package scorer implements the multi-factor match scorer: a pure,
// deterministic weighted scoring function over candidate transaction
// pairs. Given identical inputs and an identical pattern set it always
// produces the same breakdown; it performs no I/O and uses no
// randomness.
package scorer

import (
	"fmt"
	"strings"

	"ap-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Score evaluates a (source, target) candidate pair against the
// optional learned pattern set and returns the fixed-shape breakdown.
func Score(source, target *models.Transaction, patterns []*models.Pattern) models.ScoreBreakdown {
	breakdown := models.ScoreBreakdown{}

	breakdown.AmountScore, breakdown.AmountReason = scoreAmount(source.Amount.Amount, target.Amount.Amount)
	breakdown.DateScore, breakdown.DateReason = scoreDate(source.DayDifference(target))
	breakdown.DescriptionScore, breakdown.DescriptionReason = scoreDescription(source.Description, target.Description)
	breakdown.ReferenceScore, breakdown.ReferenceReason = scoreReference(source.Reference, target.Reference)
	breakdown.PatternBoost, breakdown.PatternReason, breakdown.MatchedPatternID =
		scorePatternBoost(source.Description, target.Description, patterns)

	breakdown.Saturate()
	return breakdown
}

// scoreAmount grades amount proximity on a 0-40 scale. Exact equality
// means within 0.01 of a major unit; below that, graded bands by
// percentage difference. Zero or missing amounts score 0.
func scoreAmount(a, b decimal.Decimal) (int, string) {
	if a.IsZero() || b.IsZero() {
		return 0, "zero or missing amount"
	}

	if models.WithinMajorUnitCent(a, b) {
		return models.MaxAmountScore, "exact amount match"
	}

	diffPct := models.PercentDifference(a, b)
	switch {
	case diffPct.LessThanOrEqual(decimal.NewFromFloat(0.5)):
		return 35, fmt.Sprintf("amounts within 0.5%% (%s%%)", diffPct.Round(3))
	case diffPct.LessThanOrEqual(decimal.NewFromInt(1)):
		return 30, fmt.Sprintf("amounts within 1%% (%s%%)", diffPct.Round(3))
	case diffPct.LessThanOrEqual(decimal.NewFromInt(2)):
		return 20, fmt.Sprintf("amounts within 2%% (%s%%)", diffPct.Round(3))
	case diffPct.LessThanOrEqual(decimal.NewFromInt(5)):
		return 10, fmt.Sprintf("amounts within 5%% (%s%%)", diffPct.Round(3))
	default:
		return 0, fmt.Sprintf("amount difference %s%% too large", diffPct.Round(1))
	}
}

// scoreDate grades calendar-day proximity on a 0-30 scale
func scoreDate(dayDiff int) (int, string) {
	switch {
	case dayDiff == 0:
		return models.MaxDateScore, "same day"
	case dayDiff == 1:
		return 25, "1 day apart"
	case dayDiff == 2:
		return 20, "2 days apart"
	case dayDiff == 3:
		return 15, "3 days apart"
	case dayDiff <= 5:
		return 10, fmt.Sprintf("%d days apart", dayDiff)
	case dayDiff <= 7:
		return 5, fmt.Sprintf("%d days apart", dayDiff)
	default:
		return 0, fmt.Sprintf("%d days apart, outside window", dayDiff)
	}
}

// scoreDescription grades normalized description similarity on a 0-20
// scale: full marks when one description's tokens contain the other's
// (bank feeds often inject extra words around the same payout text),
// then Levenshtein distance relative to the longer string, with a
// keyword-overlap fallback.
func scoreDescription(a, b string) (int, string) {
	normA := NormalizeDescription(a)
	normB := NormalizeDescription(b)

	if normA == "" || normB == "" {
		return 0, "missing description"
	}

	if tokensContain(normA, normB) || tokensContain(normB, normA) {
		return models.MaxDescriptionScore, "one description contains the other"
	}

	maxLen := len(normA)
	if len(normB) > maxLen {
		maxLen = len(normB)
	}

	distance := levenshtein(normA, normB)
	distancePct := float64(distance) / float64(maxLen) * 100

	switch {
	case distancePct < 10:
		return models.MaxDescriptionScore, fmt.Sprintf("descriptions %.0f%% apart", distancePct)
	case distancePct < 20:
		return 15, fmt.Sprintf("descriptions %.0f%% apart", distancePct)
	case distancePct < 30:
		return 10, fmt.Sprintf("descriptions %.0f%% apart", distancePct)
	}

	if hasKeywordOverlap(normA, normB) {
		return 5, "shared description keyword"
	}

	return 0, "descriptions unrelated"
}

// scoreReference grades structured reference similarity on a 0-10 scale
func scoreReference(a, b string) (int, string) {
	normA := normalizeAlphanumeric(a)
	normB := normalizeAlphanumeric(b)

	if normA == "" || normB == "" {
		return 0, "missing reference"
	}

	if normA == normB {
		return models.MaxReferenceScore, "exact reference match"
	}

	if contains(normA, normB) || contains(normB, normA) {
		return 7, "one reference contains the other"
	}

	shorter := len(normA)
	if len(normB) < shorter {
		shorter = len(normB)
	}
	if longestCommonSubstring(normA, normB) > shorter/2 {
		return 5, "references share a long common substring"
	}

	return 0, "references unrelated"
}

// scorePatternBoost applies the learned pattern boost: a pattern fires
// when its source substring appears in the normalized source
// description and its target substring appears in the normalized
// target description. The boost is the highest-confidence firing
// pattern's confidence scaled to the 0-20 range, and the firing
// pattern's ID is reported so its usage counter can be bumped.
func scorePatternBoost(sourceDesc, targetDesc string, patterns []*models.Pattern) (int, string, string) {
	if len(patterns) == 0 {
		return 0, "", ""
	}

	normSource := NormalizeDescription(sourceDesc)
	normTarget := NormalizeDescription(targetDesc)

	var best *models.Pattern
	for _, p := range patterns {
		if contains(normSource, NormalizeDescription(p.SourcePattern)) &&
			contains(normTarget, NormalizeDescription(p.TargetPattern)) {
			if best == nil || p.Confidence > best.Confidence ||
				(p.Confidence == best.Confidence && p.ID < best.ID) {
				best = p
			}
		}
	}

	if best == nil {
		return 0, "", ""
	}

	boost := int(best.Confidence * float64(models.MaxPatternBoost))
	if boost > models.MaxPatternBoost {
		boost = models.MaxPatternBoost
	}

	reason := fmt.Sprintf("learned pattern %q -> %q (confidence %.2f)",
		best.SourcePattern, best.TargetPattern, best.Confidence)
	return boost, reason, best.ID
}

func contains(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, needle)
}

// hasKeywordOverlap reports whether the two normalized descriptions
// share any word token of length >= 3
func hasKeywordOverlap(a, b string) bool {
	tokensA := make(map[string]bool)
	for _, tok := range splitWords(a) {
		if len(tok) >= 3 {
			tokensA[tok] = true
		}
	}

	for _, tok := range splitWords(b) {
		if len(tok) >= 3 && tokensA[tok] {
			return true
		}
	}

	return false
}
