// Package assign turns a pairwise score matrix over source and target
// transactions into an optimal 1:1 assignment, respecting confidence
// thresholds and supporting split (1:N) group matches.
package assign

import (
	"sort"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// ScoreFunc scores one candidate pair. The engine treats it as a black
// box; the orchestrator wires in the multi-factor scorer with its
// pattern snapshot.
type ScoreFunc func(source, target *models.Transaction) models.ScoreBreakdown

// AssignedPair is one accepted 1:1 assignment
type AssignedPair struct {
	Source    *models.Transaction
	Target    *models.Transaction
	Breakdown models.ScoreBreakdown
}

// GroupMatch is one accepted 1:N split assignment
type GroupMatch struct {
	Source  *models.Transaction
	Targets []*models.Transaction
	Score   int
}

// Result is the complete output of one assignment run
type Result struct {
	Pairs            []AssignedPair
	Groups           []GroupMatch
	UnmatchedSources []*models.Transaction
	UnmatchedTargets []*models.Transaction
}

// Engine solves the assignment problem for one batch
type Engine struct {
	config *Config
}

// NewEngine creates an assignment engine with the given configuration
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

type scoredPair struct {
	sourceIdx int
	targetIdx int
	breakdown models.ScoreBreakdown
}

// Assign produces 1:1 matches above the threshold from the N x M score
// matrix, then runs the split pass over the leftovers. The emitted set
// never references a transaction twice; a violation fails the batch
// with an invariant error.
func (e *Engine) Assign(sources, targets []*models.Transaction, score ScoreFunc) (*Result, error) {
	if len(sources) == 0 || len(targets) == 0 {
		return &Result{
			UnmatchedSources: sources,
			UnmatchedTargets: targets,
		}, nil
	}

	pairCount := len(sources) * len(targets)
	if pairCount > e.config.MaxMatrixPairs {
		return nil, errors.OverCapacityError(pairCount, e.config.MaxMatrixPairs)
	}

	// Deterministic iteration order regardless of caller ordering.
	sources = sortedByID(sources)
	targets = sortedByID(targets)

	eligible := e.scoreEligiblePairs(sources, targets, score)

	var chosen []scoredPair
	density := float64(len(eligible)) / float64(pairCount)
	if density > e.config.DenseRatio && len(sources) > 1 && len(targets) > 1 {
		chosen = solveHungarian(len(sources), len(targets), eligible)
	} else {
		chosen = solveGreedy(len(sources), len(targets), eligible)
	}

	// Reject assigned pairs below the threshold; those transactions
	// return to the unmatched pool.
	matchedSources := make(map[int]bool)
	matchedTargets := make(map[int]bool)
	result := &Result{}

	for _, p := range chosen {
		if p.breakdown.Total < e.config.MatchThreshold {
			continue
		}

		if matchedSources[p.sourceIdx] || matchedTargets[p.targetIdx] {
			return nil, errors.InvariantViolation(
				errors.CodeCardinalityViolation,
				"assignment emitted a transaction in more than one match",
			)
		}
		matchedSources[p.sourceIdx] = true
		matchedTargets[p.targetIdx] = true

		result.Pairs = append(result.Pairs, AssignedPair{
			Source:    sources[p.sourceIdx],
			Target:    targets[p.targetIdx],
			Breakdown: p.breakdown,
		})
	}

	for i, s := range sources {
		if !matchedSources[i] {
			result.UnmatchedSources = append(result.UnmatchedSources, s)
		}
	}
	for j, tgt := range targets {
		if !matchedTargets[j] {
			result.UnmatchedTargets = append(result.UnmatchedTargets, tgt)
		}
	}

	e.splitPass(result, score)

	return result, nil
}

// scoreEligiblePairs applies the hard gates and scores the survivors.
// Gated-out pairs are simply absent, which the solvers treat as
// infinite cost.
func (e *Engine) scoreEligiblePairs(sources, targets []*models.Transaction, score ScoreFunc) []scoredPair {
	tolerance := decimal.NewFromFloat(e.config.AmountTolerancePct)
	var eligible []scoredPair

	for i, src := range sources {
		for j, tgt := range targets {
			if !src.Amount.SameCurrency(tgt.Amount) {
				continue
			}

			if src.DayDifference(tgt) > e.config.DateWindowDays {
				continue
			}

			diffPct := models.PercentDifference(src.Amount.Amount, tgt.Amount.Amount)
			if diffPct.GreaterThan(tolerance) {
				continue
			}

			breakdown := safeScore(score, src, tgt)
			eligible = append(eligible, scoredPair{
				sourceIdx: i,
				targetIdx: j,
				breakdown: breakdown,
			})
		}
	}

	return eligible
}

// safeScore treats a panicking score call as a 0-score non-match for
// that pair only, per the batch failure semantics.
func safeScore(score ScoreFunc, src, tgt *models.Transaction) (breakdown models.ScoreBreakdown) {
	defer func() {
		if r := recover(); r != nil {
			breakdown = models.ScoreBreakdown{}
		}
	}()
	return score(src, tgt)
}

// solveGreedy picks pairs highest-score-first. Ties break by source
// index then target index, which is source_id then target_id order
// because the inputs are pre-sorted.
func solveGreedy(numSources, numTargets int, eligible []scoredPair) []scoredPair {
	ordered := make([]scoredPair, len(eligible))
	copy(ordered, eligible)

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].breakdown.Total != ordered[j].breakdown.Total {
			return ordered[i].breakdown.Total > ordered[j].breakdown.Total
		}
		if ordered[i].sourceIdx != ordered[j].sourceIdx {
			return ordered[i].sourceIdx < ordered[j].sourceIdx
		}
		return ordered[i].targetIdx < ordered[j].targetIdx
	})

	usedSource := make(map[int]bool, numSources)
	usedTarget := make(map[int]bool, numTargets)
	var chosen []scoredPair

	for _, p := range ordered {
		if usedSource[p.sourceIdx] || usedTarget[p.targetIdx] {
			continue
		}
		usedSource[p.sourceIdx] = true
		usedTarget[p.targetIdx] = true
		chosen = append(chosen, p)
	}

	return chosen
}

// splitPass finds 1:N group matches among the leftovers: an unmatched
// source whose amount equals the sum of two or more unmatched targets
// of the same currency inside the date window. The group score is the
// minimum component pair score minus the configured penalty.
func (e *Engine) splitPass(result *Result, score ScoreFunc) {
	if len(result.UnmatchedSources) == 0 || len(result.UnmatchedTargets) < 2 {
		return
	}

	remainingTargets := append([]*models.Transaction(nil), result.UnmatchedTargets...)
	var remainingSources []*models.Transaction

	for _, src := range result.UnmatchedSources {
		group := e.findSplitGroup(src, remainingTargets)
		if group == nil {
			remainingSources = append(remainingSources, src)
			continue
		}

		minScore := models.ScoreCap
		for _, tgt := range group {
			s := safeScore(score, src, tgt)
			if s.Total < minScore {
				minScore = s.Total
			}
		}
		groupScore := minScore - e.config.SplitPenalty
		if groupScore < 0 {
			groupScore = 0
		}

		result.Groups = append(result.Groups, GroupMatch{
			Source:  src,
			Targets: group,
			Score:   groupScore,
		})

		remainingTargets = removeAll(remainingTargets, group)
	}

	result.UnmatchedSources = remainingSources
	result.UnmatchedTargets = remainingTargets
}

// findSplitGroup searches combinations of 2..MaxSplitTargets candidate
// targets summing exactly (within a cent) to the source amount.
// Candidates and combinations are visited in ID order so the first
// exact group found is deterministic.
func (e *Engine) findSplitGroup(src *models.Transaction, targets []*models.Transaction) []*models.Transaction {
	var candidates []*models.Transaction
	for _, tgt := range targets {
		if !src.Amount.SameCurrency(tgt.Amount) {
			continue
		}
		if src.DayDifference(tgt) > e.config.DateWindowDays {
			continue
		}
		if tgt.Amount.Amount.GreaterThan(src.Amount.Amount) {
			continue
		}
		candidates = append(candidates, tgt)
	}

	if len(candidates) < 2 {
		return nil
	}

	target := src.Amount.Amount
	var found []*models.Transaction

	var search func(start int, current []*models.Transaction, sum decimal.Decimal) bool
	search = func(start int, current []*models.Transaction, sum decimal.Decimal) bool {
		if len(current) >= 2 && models.WithinMajorUnitCent(sum, target) {
			found = append([]*models.Transaction(nil), current...)
			return true
		}
		if len(current) == e.config.MaxSplitTargets {
			return false
		}
		for i := start; i < len(candidates); i++ {
			next := sum.Add(candidates[i].Amount.Amount)
			if next.GreaterThan(target.Add(decimal.NewFromFloat(0.01))) {
				continue
			}
			if search(i+1, append(current, candidates[i]), next) {
				return true
			}
		}
		return false
	}

	if search(0, nil, decimal.Zero) {
		return found
	}
	return nil
}

func sortedByID(txns []*models.Transaction) []*models.Transaction {
	out := make([]*models.Transaction, len(txns))
	copy(out, txns)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func removeAll(txns []*models.Transaction, toRemove []*models.Transaction) []*models.Transaction {
	removed := make(map[string]bool, len(toRemove))
	for _, t := range toRemove {
		removed[t.ID] = true
	}

	var out []*models.Transaction
	for _, t := range txns {
		if !removed[t.ID] {
			out = append(out, t)
		}
	}
	return out
}
