package reconciler

import (
	"fmt"

	"ap-reconciliation-engine/internal/assign"
	"ap-reconciliation-engine/internal/exceptions"
	"ap-reconciliation-engine/internal/journal"
)

// Default thresholds on the 0-100 score scale
const (
	DefaultAutoMatchThreshold = 80
	DefaultReviewThreshold    = 60
	DefaultAutoJEThreshold    = journal.AutoJEThreshold
)

// Config controls one reconciliation batch
type Config struct {
	// AmountTolerancePct is the hard gate on candidate amounts.
	AmountTolerancePct float64 `json:"amount_tolerance_pct"`

	// DateWindowDays is the hard gate on candidate dates.
	DateWindowDays int `json:"date_window_days"`

	// AutoMatchThreshold is the score at or above which a match is
	// confirmed automatically.
	AutoMatchThreshold int `json:"auto_match_threshold"`

	// ReviewThreshold is the score at or above which a match is kept
	// but flagged for review. Below it, transactions stay unmatched.
	ReviewThreshold int `json:"review_threshold"`

	// AutoJEThreshold is the score at or above which a draft journal
	// entry is generated.
	AutoJEThreshold int `json:"auto_je_threshold"`

	// LLMEnabled gates AI explanations on exceptions.
	LLMEnabled bool `json:"llm_enabled"`

	// WorkerCount bounds scoring parallelism within the batch.
	WorkerCount int `json:"worker_count"`

	// MaxMatrixPairs caps N*M; larger batches are refused with an
	// over-size exception.
	MaxMatrixPairs int `json:"max_matrix_pairs"`

	// NearMatchLimit is how many near-match references an exception
	// carries.
	NearMatchLimit int `json:"near_match_limit"`

	// Bands sets the exception priority thresholds.
	Bands exceptions.Bands `json:"bands"`

	// Accounts maps GL roles for draft generation.
	Accounts journal.AccountMapping `json:"accounts"`

	// SplitPenalty and MaxSplitTargets control the split-match pass.
	SplitPenalty    int `json:"split_penalty"`
	MaxSplitTargets int `json:"max_split_targets"`
}

// DefaultConfig returns the standard reconciliation configuration
func DefaultConfig() *Config {
	return &Config{
		AmountTolerancePct: 5.0,
		DateWindowDays:     7,
		AutoMatchThreshold: DefaultAutoMatchThreshold,
		ReviewThreshold:    DefaultReviewThreshold,
		AutoJEThreshold:    DefaultAutoJEThreshold,
		LLMEnabled:         false,
		WorkerCount:        4,
		MaxMatrixPairs:     1000000,
		NearMatchLimit:     3,
		Bands:              exceptions.DefaultBands(),
		Accounts:           journal.DefaultAccountMapping(),
		SplitPenalty:       5,
		MaxSplitTargets:    3,
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.AutoMatchThreshold < 0 || c.AutoMatchThreshold > 100 {
		return fmt.Errorf("auto-match threshold %d outside [0,100]", c.AutoMatchThreshold)
	}

	if c.ReviewThreshold < 0 || c.ReviewThreshold > c.AutoMatchThreshold {
		return fmt.Errorf("review threshold %d must be within [0, auto-match threshold]", c.ReviewThreshold)
	}

	if c.AutoJEThreshold < c.AutoMatchThreshold {
		return fmt.Errorf("auto-JE threshold %d cannot be below the auto-match threshold %d",
			c.AutoJEThreshold, c.AutoMatchThreshold)
	}

	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	if err := c.Bands.Validate(); err != nil {
		return err
	}

	return c.Accounts.Validate()
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// assignConfig derives the assignment engine settings
func (c *Config) assignConfig() *assign.Config {
	return &assign.Config{
		MatchThreshold:     c.ReviewThreshold,
		AmountTolerancePct: c.AmountTolerancePct,
		DateWindowDays:     c.DateWindowDays,
		MaxMatrixPairs:     c.MaxMatrixPairs,
		SplitPenalty:       c.SplitPenalty,
		MaxSplitTargets:    c.MaxSplitTargets,
		DenseRatio:         0.5,
	}
}
