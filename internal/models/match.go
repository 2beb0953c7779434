package models

import (
	"fmt"
	"time"
)

// Component score ceilings and the overall cap. The total of a
// breakdown is a saturating sum capped at ScoreCap.
const (
	MaxAmountScore      = 40
	MaxDateScore        = 30
	MaxDescriptionScore = 20
	MaxReferenceScore   = 10
	MaxPatternBoost     = 20
	ScoreCap            = 100
)

// ScoreBreakdown is the fixed-shape result of scoring one candidate
// pair. Each component carries a short explanation for transparency.
type ScoreBreakdown struct {
	AmountScore      int    `json:"amount_score"`
	DateScore        int    `json:"date_score"`
	DescriptionScore int    `json:"description_score"`
	ReferenceScore   int    `json:"reference_score"`
	PatternBoost     int    `json:"pattern_boost"`
	Total            int    `json:"total"`
	AmountReason     string `json:"amount_reason,omitempty"`
	DateReason       string `json:"date_reason,omitempty"`
	DescriptionReason string `json:"description_reason,omitempty"`
	ReferenceReason  string `json:"reference_reason,omitempty"`
	PatternReason    string `json:"pattern_reason,omitempty"`

	// MatchedPatternID reports which learned pattern contributed the
	// boost so the learning service can bump its usage counter.
	MatchedPatternID string `json:"matched_pattern_id,omitempty"`
}

// Saturate recomputes Total as the component sum capped at ScoreCap
func (sb *ScoreBreakdown) Saturate() {
	total := sb.AmountScore + sb.DateScore + sb.DescriptionScore + sb.ReferenceScore + sb.PatternBoost
	if total > ScoreCap {
		total = ScoreCap
	}
	if total < 0 {
		total = 0
	}
	sb.Total = total
}

// MatchCandidate pairs a source and target transaction with their
// score breakdown, before assignment.
type MatchCandidate struct {
	SourceTxnID string         `json:"source_txn_id"`
	TargetTxnID string         `json:"target_txn_id"`
	Breakdown   ScoreBreakdown `json:"breakdown"`
}

// MatchType distinguishes how a match was confirmed
type MatchType string

const (
	MatchTypeAuto   MatchType = "auto"
	MatchTypeManual MatchType = "manual"
	MatchTypeAI     MatchType = "ai"
)

// IsValid checks if the match type is valid
func (m MatchType) IsValid() bool {
	return m == MatchTypeAuto || m == MatchTypeManual || m == MatchTypeAI
}

// Match is a confirmed assignment between one source transaction and
// one or more target transactions (more than one only for split
// matches). A transaction appears in at most one confirmed match per
// reconciliation run.
type Match struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	SourceTxnID    string         `json:"source_txn_id"`
	TargetTxnIDs   []string       `json:"target_txn_ids"`
	InternalTxnID  string         `json:"internal_txn_id,omitempty"`
	Score          int            `json:"score"`
	Breakdown      ScoreBreakdown `json:"breakdown"`
	Type           MatchType      `json:"type"`
	NeedsReview    bool           `json:"needs_review"`
	IsSplit        bool           `json:"is_split"`
	DetectedFee    *Money         `json:"detected_fee,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate performs basic validation on the Match
func (m *Match) Validate() error {
	if m.SourceTxnID == "" {
		return fmt.Errorf("match source transaction ID cannot be empty")
	}

	if len(m.TargetTxnIDs) == 0 {
		return fmt.Errorf("match must reference at least one target transaction")
	}

	if len(m.TargetTxnIDs) > 1 && !m.IsSplit {
		return fmt.Errorf("multi-target match must be flagged as split")
	}

	if !m.Type.IsValid() {
		return fmt.Errorf("invalid match type: %s", m.Type)
	}

	if m.Score < 0 || m.Score > ScoreCap {
		return fmt.Errorf("match score %d outside [0, %d]", m.Score, ScoreCap)
	}

	return nil
}

// TransactionIDs returns every transaction referenced by the match
func (m *Match) TransactionIDs() []string {
	ids := make([]string, 0, len(m.TargetTxnIDs)+2)
	ids = append(ids, m.SourceTxnID)
	ids = append(ids, m.TargetTxnIDs...)
	if m.InternalTxnID != "" {
		ids = append(ids, m.InternalTxnID)
	}
	return ids
}

// String returns a string representation of the Match
func (m *Match) String() string {
	return fmt.Sprintf("Match{Source: %s, Targets: %v, Score: %d, Type: %s}",
		m.SourceTxnID, m.TargetTxnIDs, m.Score, m.Type)
}
