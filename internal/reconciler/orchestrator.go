// Package reconciler runs the end-to-end reconciliation batch: scoring
// candidate pairs against the learned pattern snapshot, solving the
// assignment, detecting processor fees, generating draft journal
// entries for high-confidence matches and routing everything unmatched
// into the exception queue. All writes for a batch are committed
// atomically through a Sink.
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ap-reconciliation-engine/internal/assign"
	"ap-reconciliation-engine/internal/journal"
	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/patterns"
	"ap-reconciliation-engine/internal/scorer"
	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

// Result is the report of one reconciliation batch
type Result struct {
	BatchID        string                     `json:"batch_id"`
	OrganizationID string                     `json:"organization_id"`
	Matches        []*models.Match            `json:"matches"`
	Drafts         []*models.DraftJournalEntry `json:"drafts"`
	Exceptions     []*models.Exception        `json:"exceptions"`
	Unmatched      []*models.Transaction      `json:"unmatched"`
	TotalTxns      int                        `json:"total_txns"`
	MatchedTxns    int                        `json:"matched_txns"`
	MatchRate      float64                    `json:"match_rate"`
	StartedAt      time.Time                  `json:"started_at"`
	CompletedAt    time.Time                  `json:"completed_at"`
}

// Orchestrator coordinates one reconciliation batch end to end
type Orchestrator struct {
	config    *Config
	patterns  patterns.Store
	sink      Sink
	generator *journal.Generator
	log       logger.Logger
	now       func() time.Time
}

// NewOrchestrator creates a reconciliation orchestrator. A nil config
// uses the defaults; a nil sink makes the batch a dry run that only
// returns its result.
func NewOrchestrator(config *Config, patternStore patterns.Store, sink Sink) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeValidationError, "config", "", err.Error())
	}

	return &Orchestrator{
		config:    config,
		patterns:  patternStore,
		sink:      sink,
		generator: journal.NewGenerator(config.Accounts),
		log:       logger.WithComponent("reconciler"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Reconcile matches gateway transactions (sources, the gross side)
// against bank transactions (targets, the net side), optionally
// annotating matches with their internal-record counterparts. The
// returned result reflects exactly what was committed; a sink failure
// aborts the batch and leaves every transaction untouched.
func (o *Orchestrator) Reconcile(ctx context.Context, organizationID string, sources, targets, internals []*models.Transaction) (*Result, error) {
	if organizationID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "organization_id", "", "organization ID is required")
	}
	for _, txn := range concat(sources, targets, internals) {
		if err := txn.Validate(); err != nil {
			return nil, errors.ValidationError(errors.CodeValidationError, "transaction", txn.ID, err.Error())
		}
		if txn.OrganizationID != organizationID {
			return nil, errors.ValidationError(errors.CodeValidationError, "transaction", txn.ID,
				"transaction belongs to a different organization")
		}
	}

	result := &Result{
		BatchID:        uuid.NewString(),
		OrganizationID: organizationID,
		TotalTxns:      len(sources) + len(targets),
		StartedAt:      o.now(),
	}

	o.log.WithFields(logger.Fields{
		"batch_id": result.BatchID,
		"sources":  len(sources),
		"targets":  len(targets),
	}).Info("Starting reconciliation batch")

	if len(sources) == 0 || len(targets) == 0 {
		// With one side empty nothing can match, but the populated side
		// still gets its no-match exceptions at amount-band priority.
		for _, src := range sources {
			o.routeException(result, src, nil,
				fmt.Sprintf("no bank transaction matches %s %s", src.Amount, src.ValueDate.Format("2006-01-02")))
		}
		for _, tgt := range targets {
			o.routeException(result, tgt, nil,
				fmt.Sprintf("no gateway transaction matches %s %s", tgt.Amount, tgt.ValueDate.Format("2006-01-02")))
		}
		result.Unmatched = append(result.Unmatched, sources...)
		result.Unmatched = append(result.Unmatched, targets...)

		return o.finishDegenerate(ctx, result,
			fmt.Sprintf("nothing to reconcile: %d source and %d target transactions", len(sources), len(targets)))
	}

	if pairs := len(sources) * len(targets); pairs > o.config.MaxMatrixPairs {
		return o.finishDegenerate(ctx, result,
			fmt.Sprintf("batch of %d candidate pairs exceeds the %d pair capacity; split the batch",
				pairs, o.config.MaxMatrixPairs))
	}

	snapshot, err := o.snapshotPatterns(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	scores, err := o.scoreAllPairs(ctx, sources, targets, snapshot)
	if err != nil {
		return nil, err
	}

	scoreFn := func(src, tgt *models.Transaction) models.ScoreBreakdown {
		if b, ok := scores[pairKey(src.ID, tgt.ID)]; ok {
			return b
		}
		return scoreSafely(src, tgt, snapshot)
	}

	assignment, err := assign.NewEngine(o.config.assignConfig()).Assign(sources, targets, scoreFn)
	if err != nil {
		return nil, err
	}

	txnByID := indexByID(concat(sources, targets, internals))

	o.buildMatches(result, assignment)
	internalLeftovers := o.annotateInternal(result, internals, txnByID, snapshot)

	if err := o.generateDrafts(result, txnByID); err != nil {
		return nil, err
	}

	o.routeUnmatched(result, assignment, scores)
	o.routeUnmatchedInternal(result, internalLeftovers)
	sortExceptions(result.Exceptions)

	batch := o.assembleBatch(result, txnByID)

	if o.sink != nil {
		if err := o.sink.CommitBatch(ctx, batch); err != nil {
			return nil, errors.StorageError(errors.CodeStorageError, "commit reconciliation batch", err)
		}
	}

	o.bumpPatternUsage(ctx, result.Matches)

	result.CompletedAt = o.now()
	o.log.WithFields(logger.Fields{
		"batch_id":   result.BatchID,
		"matches":    len(result.Matches),
		"exceptions": len(result.Exceptions),
		"match_rate": result.MatchRate,
	}).Info("Reconciliation batch complete")

	return result, nil
}

// finishDegenerate commits a batch that could not be matched. When the
// run routed no per-transaction exceptions (over-capacity, or both
// sides empty) it records one informational exception instead.
func (o *Orchestrator) finishDegenerate(ctx context.Context, result *Result, description string) (*Result, error) {
	if len(result.Exceptions) == 0 {
		result.Exceptions = append(result.Exceptions, &models.Exception{
			ID:             fmt.Sprintf("exc-batch-%s", result.BatchID),
			OrganizationID: result.OrganizationID,
			Type:           models.ExceptionMissingData,
			Priority:       models.PriorityLow,
			Description:    description,
			Status:         models.ExceptionOpen,
			CreatedAt:      o.now(),
		})
	}
	sortExceptions(result.Exceptions)

	batch := o.assembleBatch(result, indexByID(result.Unmatched))

	if o.sink != nil {
		if err := o.sink.CommitBatch(ctx, batch); err != nil {
			return nil, errors.StorageError(errors.CodeStorageError, "commit reconciliation batch", err)
		}
	}

	result.CompletedAt = o.now()
	o.log.WithField("batch_id", result.BatchID).Warn(description)
	return result, nil
}

func (o *Orchestrator) snapshotPatterns(ctx context.Context, organizationID string) ([]*models.Pattern, error) {
	if o.patterns == nil {
		return nil, nil
	}
	snapshot, err := o.patterns.List(ctx, organizationID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageError, "load pattern snapshot", err)
	}
	return snapshot, nil
}

// scoreAllPairs computes every pairwise breakdown up front with a
// bounded worker pool, so the assignment solvers see a precomputed
// matrix. A panicking score call poisons only its own pair.
func (o *Orchestrator) scoreAllPairs(ctx context.Context, sources, targets []*models.Transaction, snapshot []*models.Pattern) (map[string]models.ScoreBreakdown, error) {
	scores := make(map[string]models.ScoreBreakdown, len(sources)*len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.WorkerCount)

	for _, src := range sources {
		src := src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			row := make(map[string]models.ScoreBreakdown, len(targets))
			for _, tgt := range targets {
				row[pairKey(src.ID, tgt.ID)] = scoreSafely(src, tgt, snapshot)
			}

			mu.Lock()
			for k, v := range row {
				scores[k] = v
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// scoreSafely contains a panicking scorer to a 0-score non-match for
// that single pair.
func scoreSafely(src, tgt *models.Transaction, snapshot []*models.Pattern) (breakdown models.ScoreBreakdown) {
	defer func() {
		if r := recover(); r != nil {
			breakdown = models.ScoreBreakdown{}
		}
	}()
	return scorer.Score(src, tgt, snapshot)
}

// buildMatches converts accepted assignments into match records,
// classifying each as auto-confirmed or needs-review and detecting
// processor fees on 1:1 pairs.
func (o *Orchestrator) buildMatches(result *Result, assignment *assign.Result) {
	now := o.now()

	for _, pair := range assignment.Pairs {
		match := &models.Match{
			ID:             uuid.NewString(),
			OrganizationID: result.OrganizationID,
			SourceTxnID:    pair.Source.ID,
			TargetTxnIDs:   []string{pair.Target.ID},
			Score:          pair.Breakdown.Total,
			Breakdown:      pair.Breakdown,
			Type:           o.matchType(pair.Breakdown.Total),
			NeedsReview:    pair.Breakdown.Total < o.config.AutoMatchThreshold,
			CreatedAt:      now,
		}

		o.detectFee(match, pair.Source, pair.Target)
		result.Matches = append(result.Matches, match)
	}

	for _, group := range assignment.Groups {
		targetIDs := make([]string, 0, len(group.Targets))
		for _, tgt := range group.Targets {
			targetIDs = append(targetIDs, tgt.ID)
		}

		result.Matches = append(result.Matches, &models.Match{
			ID:             uuid.NewString(),
			OrganizationID: result.OrganizationID,
			SourceTxnID:    group.Source.ID,
			TargetTxnIDs:   targetIDs,
			Score:          group.Score,
			Breakdown:      models.ScoreBreakdown{Total: group.Score},
			Type:           o.matchType(group.Score),
			NeedsReview:    group.Score < o.config.AutoMatchThreshold,
			IsSplit:        true,
			CreatedAt:      now,
		})
	}
}

// matchType classifies a confirmed match by score: at or above the
// auto-match threshold it is auto-confirmed, below it the match stands
// but requires a human sign-off.
func (o *Orchestrator) matchType(score int) models.MatchType {
	if score < o.config.AutoMatchThreshold {
		return models.MatchTypeManual
	}
	return models.MatchTypeAuto
}

// detectFee marks the gross/net difference as a processor fee when the
// source exceeds the target in the same currency. The fee is what the
// draft generator later books against the fee account.
func (o *Orchestrator) detectFee(match *models.Match, source, target *models.Transaction) {
	if !source.Amount.SameCurrency(target.Amount) {
		return
	}

	diff := source.Amount.Amount.Sub(target.Amount.Amount)
	if !diff.IsPositive() {
		return
	}

	fee, err := models.NewMoney(diff, source.Amount.Currency)
	if err != nil {
		return
	}
	match.DetectedFee = &fee
}

// annotateInternal pairs each 2-way match with its best internal
// counterpart, yielding 3-way matches. An internal record attaches to
// at most one match; the rest are returned for exception routing.
func (o *Orchestrator) annotateInternal(result *Result, internals []*models.Transaction, txnByID map[string]*models.Transaction, snapshot []*models.Pattern) []*models.Transaction {
	if len(internals) == 0 {
		return nil
	}

	sorted := make([]*models.Transaction, len(internals))
	copy(sorted, internals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	used := make(map[string]bool, len(sorted))

	for _, match := range result.Matches {
		source := txnByID[match.SourceTxnID]
		if source == nil {
			continue
		}

		var best *models.Transaction
		bestScore := 0
		for _, internal := range sorted {
			if used[internal.ID] || !source.Amount.SameCurrency(internal.Amount) {
				continue
			}
			if source.DayDifference(internal) > o.config.DateWindowDays {
				continue
			}
			score := scoreSafely(source, internal, snapshot).Total
			if score >= o.config.ReviewThreshold && score > bestScore {
				best, bestScore = internal, score
			}
		}

		if best != nil {
			match.InternalTxnID = best.ID
			used[best.ID] = true
		}
	}

	var leftovers []*models.Transaction
	for _, internal := range sorted {
		if !used[internal.ID] {
			leftovers = append(leftovers, internal)
		}
	}
	return leftovers
}

// generateDrafts produces a balanced draft journal entry for every
// match at or above the auto-JE threshold. An unbalanced draft fails
// the whole batch.
func (o *Orchestrator) generateDrafts(result *Result, txnByID map[string]*models.Transaction) error {
	for _, match := range result.Matches {
		if match.Score < o.config.AutoJEThreshold {
			continue
		}

		source := txnByID[match.SourceTxnID]
		targets := make([]*models.Transaction, 0, len(match.TargetTxnIDs))
		for _, id := range match.TargetTxnIDs {
			if tgt, ok := txnByID[id]; ok {
				targets = append(targets, tgt)
			}
		}

		draft, err := o.generator.Generate(match, source, targets)
		if err != nil {
			return err
		}
		if draft != nil {
			result.Drafts = append(result.Drafts, draft)
		}
	}
	return nil
}

// routeUnmatched turns every unmatched source and target into a
// no-match exception whose priority follows the amount bands, carrying
// the closest-scoring counterparts as near-match references.
func (o *Orchestrator) routeUnmatched(result *Result, assignment *assign.Result, scores map[string]models.ScoreBreakdown) {
	for _, src := range assignment.UnmatchedSources {
		near := o.nearMatches(src.ID, assignment.UnmatchedTargets, func(other string) (models.ScoreBreakdown, bool) {
			b, ok := scores[pairKey(src.ID, other)]
			return b, ok
		})
		o.routeException(result, src, near,
			fmt.Sprintf("no bank transaction matches %s %s", src.Amount, src.ValueDate.Format("2006-01-02")))
	}

	for _, tgt := range assignment.UnmatchedTargets {
		near := o.nearMatches(tgt.ID, assignment.UnmatchedSources, func(other string) (models.ScoreBreakdown, bool) {
			b, ok := scores[pairKey(other, tgt.ID)]
			return b, ok
		})
		o.routeException(result, tgt, near,
			fmt.Sprintf("no gateway transaction matches %s %s", tgt.Amount, tgt.ValueDate.Format("2006-01-02")))
	}

	result.Unmatched = append(result.Unmatched, assignment.UnmatchedSources...)
	result.Unmatched = append(result.Unmatched, assignment.UnmatchedTargets...)
}

func (o *Orchestrator) routeUnmatchedInternal(result *Result, leftovers []*models.Transaction) {
	for _, txn := range leftovers {
		o.routeException(result, txn, nil, "internal record is not represented in any match")
	}
	result.Unmatched = append(result.Unmatched, leftovers...)
}

func (o *Orchestrator) routeException(result *Result, txn *models.Transaction, nearMatchIDs []string, description string) {
	result.Exceptions = append(result.Exceptions, &models.Exception{
		ID:             fmt.Sprintf("exc-%s-%s", txn.ID, result.BatchID[:8]),
		OrganizationID: result.OrganizationID,
		TransactionID:  txn.ID,
		Type:           models.ExceptionNoMatch,
		Priority:       o.config.Bands.PriorityFor(txn.Amount.Amount),
		Description:    description,
		NearMatchIDs:   nearMatchIDs,
		Status:         models.ExceptionOpen,
		CreatedAt:      o.now(),
	})
}

// nearMatches returns up to NearMatchLimit counterpart IDs with a
// non-zero score, best first.
func (o *Orchestrator) nearMatches(id string, counterparts []*models.Transaction, lookup func(string) (models.ScoreBreakdown, bool)) []string {
	type scored struct {
		id    string
		total int
	}
	var candidates []scored
	for _, other := range counterparts {
		if b, ok := lookup(other.ID); ok && b.Total > 0 {
			candidates = append(candidates, scored{other.ID, b.Total})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].total != candidates[j].total {
			return candidates[i].total > candidates[j].total
		}
		return candidates[i].id < candidates[j].id
	})

	limit := o.config.NearMatchLimit
	if limit > len(candidates) {
		limit = len(candidates)
	}

	ids := make([]string, 0, limit)
	for _, c := range candidates[:limit] {
		ids = append(ids, c.id)
	}
	return ids
}

// assembleBatch clones and re-statuses the touched transactions and
// collects one audit event per material decision. The originals stay
// untouched so a failed commit has no side effects.
func (o *Orchestrator) assembleBatch(result *Result, txnByID map[string]*models.Transaction) *BatchWrite {
	batch := &BatchWrite{
		BatchID:    result.BatchID,
		Matches:    result.Matches,
		Drafts:     result.Drafts,
		Exceptions: result.Exceptions,
	}

	matchedWith := make(map[string][]string)
	for _, match := range result.Matches {
		ids := match.TransactionIDs()
		for _, id := range ids {
			for _, other := range ids {
				if other != id {
					matchedWith[id] = append(matchedWith[id], other)
				}
			}
		}
		batch.Events = append(batch.Events,
			o.auditEvent(result, "match", match.ID, "match_confirmed",
				fmt.Sprintf("score %d", match.Score)))
	}

	for id, others := range matchedWith {
		if txn, ok := txnByID[id]; ok {
			clone := *txn
			clone.Status = models.TxStatusMatched
			clone.MatchedWith = others
			clone.UpdatedAt = o.now()
			batch.Transactions = append(batch.Transactions, &clone)
		}
	}

	for _, txn := range result.Unmatched {
		clone := *txn
		clone.Status = models.TxStatusException
		clone.UpdatedAt = o.now()
		batch.Transactions = append(batch.Transactions, &clone)
	}

	sort.Slice(batch.Transactions, func(i, j int) bool {
		return batch.Transactions[i].ID < batch.Transactions[j].ID
	})

	for _, draft := range result.Drafts {
		batch.Events = append(batch.Events,
			o.auditEvent(result, "draft", draft.ID, "draft_created",
				fmt.Sprintf("for match %s", draft.MatchID)))
	}
	for _, exc := range result.Exceptions {
		batch.Events = append(batch.Events,
			o.auditEvent(result, "exception", exc.ID, "exception_routed", exc.Description))
	}
	batch.Events = append(batch.Events,
		o.auditEvent(result, "batch", result.BatchID, "batch_completed",
			fmt.Sprintf("%d matches, %d exceptions", len(result.Matches), len(result.Exceptions))))

	// Internal annotations count toward matched IDs but not the rate
	// denominator, which covers only the two reconciled sides.
	if result.TotalTxns > 0 {
		sideMatched := 0
		for _, match := range result.Matches {
			sideMatched += 1 + len(match.TargetTxnIDs)
		}
		result.MatchedTxns = sideMatched
		result.MatchRate = float64(sideMatched) / float64(result.TotalTxns)
	}

	return batch
}

func (o *Orchestrator) auditEvent(result *Result, entityType, entityID, action, reason string) *models.AuditEvent {
	event := models.NewAuditEvent(result.OrganizationID, result.BatchID, entityType, entityID, action)
	event.ActorType = models.ActorSystem
	event.ActorID = "reconciler"
	event.Reason = reason
	event.OccurredAt = o.now()
	return event
}

// bumpPatternUsage credits the learned patterns that contributed to
// committed matches. Usage counters are advisory; failures are logged
// and do not affect the batch.
func (o *Orchestrator) bumpPatternUsage(ctx context.Context, matches []*models.Match) {
	if o.patterns == nil {
		return
	}
	for _, match := range matches {
		if match.Breakdown.MatchedPatternID == "" {
			continue
		}
		if err := o.patterns.IncrementUsage(ctx, match.Breakdown.MatchedPatternID); err != nil {
			o.log.WithError(err).WithField("pattern_id", match.Breakdown.MatchedPatternID).
				Warn("Failed to bump pattern usage")
		}
	}
}

// sortExceptions orders the batch exception list the way the reviewer
// queue serves it: critical first, newest first within a band.
func sortExceptions(excs []*models.Exception) {
	sort.SliceStable(excs, func(i, j int) bool {
		if excs[i].Priority.Rank() != excs[j].Priority.Rank() {
			return excs[i].Priority.Rank() < excs[j].Priority.Rank()
		}
		return excs[i].CreatedAt.After(excs[j].CreatedAt)
	})
}

func pairKey(sourceID, targetID string) string {
	return sourceID + "\x00" + targetID
}

func indexByID(txns []*models.Transaction) map[string]*models.Transaction {
	out := make(map[string]*models.Transaction, len(txns))
	for _, txn := range txns {
		out[txn.ID] = txn
	}
	return out
}

func concat(slices ...[]*models.Transaction) []*models.Transaction {
	var out []*models.Transaction
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}
