package models

import (
	"fmt"
	"strings"
	"time"
)

// Pattern is a learned (source substring, target substring) pair that
// boosts scoring. Confidence increases with reinforcement and is
// clamped to [0,1]; a matching pattern contributes up to
// MaxPatternBoost points.
type Pattern struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	SourcePattern  string    `json:"source_pattern" db:"source_pattern"`
	TargetPattern  string    `json:"target_pattern" db:"target_pattern"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	MatchCount     int64     `json:"match_count" db:"match_count"`
	LastUsed       time.Time `json:"last_used" db:"last_used"`
	LastUpdated    time.Time `json:"last_updated" db:"last_updated"`
}

// Validate performs basic validation on the Pattern
func (p *Pattern) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("pattern ID cannot be empty")
	}

	if strings.TrimSpace(p.SourcePattern) == "" {
		return fmt.Errorf("pattern source substring cannot be empty")
	}

	if strings.TrimSpace(p.TargetPattern) == "" {
		return fmt.Errorf("pattern target substring cannot be empty")
	}

	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("pattern confidence %f outside [0,1]", p.Confidence)
	}

	if p.MatchCount < 0 {
		return fmt.Errorf("pattern match count cannot be negative")
	}

	return nil
}

// ClampConfidence forces confidence into [0,1]
func (p *Pattern) ClampConfidence() {
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
}

// String returns a string representation of the Pattern
func (p *Pattern) String() string {
	return fmt.Sprintf("Pattern{ID: %s, %q -> %q, Confidence: %.2f, Used: %d}",
		p.ID, p.SourcePattern, p.TargetPattern, p.Confidence, p.MatchCount)
}
