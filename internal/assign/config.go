package assign

import "fmt"

// Config controls eligibility gating, thresholding and solver choice
// for the assignment engine.
type Config struct {
	// MatchThreshold is the minimum score (0-100) for an assigned pair
	// to become a match.
	MatchThreshold int `json:"match_threshold"`

	// AmountTolerancePct is the hard gate on amount difference: pairs
	// further apart than this percentage are never scored as eligible.
	AmountTolerancePct float64 `json:"amount_tolerance_pct"`

	// DateWindowDays is the hard gate on calendar-day distance.
	DateWindowDays int `json:"date_window_days"`

	// MaxMatrixPairs caps N*M. Batches above the cap are refused with
	// an over_capacity error.
	MaxMatrixPairs int `json:"max_matrix_pairs"`

	// SplitPenalty is subtracted from the minimum component score when
	// forming a group match.
	SplitPenalty int `json:"split_penalty"`

	// MaxSplitTargets bounds how many targets a split match may absorb.
	MaxSplitTargets int `json:"max_split_targets"`

	// DenseRatio is the eligible-pair density above which the engine
	// switches from greedy selection to the Hungarian solver.
	DenseRatio float64 `json:"dense_ratio"`
}

// DefaultConfig returns the standard assignment configuration
func DefaultConfig() *Config {
	return &Config{
		MatchThreshold:     80,
		AmountTolerancePct: 5.0,
		DateWindowDays:     7,
		MaxMatrixPairs:     1000000,
		SplitPenalty:       5,
		MaxSplitTargets:    3,
		DenseRatio:         0.5,
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.MatchThreshold < 0 || c.MatchThreshold > 100 {
		return fmt.Errorf("match threshold %d outside [0,100]", c.MatchThreshold)
	}

	if c.AmountTolerancePct < 0 {
		return fmt.Errorf("amount tolerance cannot be negative")
	}

	if c.DateWindowDays < 0 {
		return fmt.Errorf("date window cannot be negative")
	}

	if c.MaxMatrixPairs <= 0 {
		return fmt.Errorf("matrix cap must be positive")
	}

	if c.MaxSplitTargets < 2 {
		return fmt.Errorf("split matches need at least two targets")
	}

	if c.DenseRatio < 0 || c.DenseRatio > 1 {
		return fmt.Errorf("dense ratio %f outside [0,1]", c.DenseRatio)
	}

	return nil
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
