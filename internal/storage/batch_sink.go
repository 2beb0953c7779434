package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/reconciler"
	"ap-reconciliation-engine/pkg/logger"
)

// BatchSink commits the output of a reconciliation batch in a single
// database transaction: status updates, matches, drafts, exceptions
// and audit events all land together or not at all.
type BatchSink struct {
	db      *sqlx.DB
	timeout time.Duration
	log     logger.Logger
}

// NewBatchSink creates a batch sink over an open pool
func NewBatchSink(db *sqlx.DB, timeout time.Duration) *BatchSink {
	return &BatchSink{
		db:      db,
		timeout: timeout,
		log:     logger.WithComponent("storage"),
	}
}

// CommitBatch applies the batch atomically
func (s *BatchSink) CommitBatch(ctx context.Context, batch *reconciler.BatchWrite) error {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapQueryError("begin batch commit", err)
	}
	defer tx.Rollback()

	for _, txn := range batch.Transactions {
		if err := s.upsertTransaction(ctx, tx, txn); err != nil {
			return err
		}
	}
	for _, match := range batch.Matches {
		if err := s.insertMatch(ctx, tx, match); err != nil {
			return err
		}
	}
	for _, draft := range batch.Drafts {
		if err := s.insertDraft(ctx, tx, draft); err != nil {
			return err
		}
	}
	for _, exc := range batch.Exceptions {
		if err := s.insertException(ctx, tx, exc); err != nil {
			return err
		}
	}
	for _, event := range batch.Events {
		if err := InsertAuditEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return mapQueryError("commit batch", err)
	}

	s.log.WithFields(logger.Fields{
		"batch_id":   batch.BatchID,
		"matches":    len(batch.Matches),
		"exceptions": len(batch.Exceptions),
	}).Debug("Committed reconciliation batch")

	return nil
}

func (s *BatchSink) upsertTransaction(ctx context.Context, tx *sqlx.Tx, txn *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO transactions (id, organization_id, amount, currency, direction, value_date,
	description, reference, counterparty, source, source_id, status, matched_with, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	status       = EXCLUDED.status,
	matched_with = EXCLUDED.matched_with,
	updated_at   = EXCLUDED.updated_at`,
		txn.ID, txn.OrganizationID, txn.Amount.Amount, txn.Amount.Currency, string(txn.Direction),
		txn.ValueDate, txn.Description, txn.Reference, txn.Counterparty, string(txn.Source),
		txn.SourceID, string(txn.Status), pq.StringArray(txn.MatchedWith), txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return mapQueryError("upsert transaction", err)
	}
	return nil
}

func (s *BatchSink) insertMatch(ctx context.Context, tx *sqlx.Tx, match *models.Match) error {
	breakdown, err := json.Marshal(match.Breakdown)
	if err != nil {
		return mapQueryError("encode match breakdown", err)
	}

	var feeAmount interface{}
	var feeCurrency interface{}
	if match.DetectedFee != nil {
		feeAmount = match.DetectedFee.Amount
		feeCurrency = match.DetectedFee.Currency
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO matches (id, organization_id, source_txn_id, target_txn_ids, internal_txn_id,
	score, breakdown, match_type, needs_review, is_split, fee_amount, fee_currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		match.ID, match.OrganizationID, match.SourceTxnID, pq.StringArray(match.TargetTxnIDs),
		match.InternalTxnID, match.Score, breakdown, string(match.Type), match.NeedsReview,
		match.IsSplit, feeAmount, feeCurrency, match.CreatedAt)
	if err != nil {
		return mapQueryError("insert match", err)
	}
	return nil
}

func (s *BatchSink) insertDraft(ctx context.Context, tx *sqlx.Tx, draft *models.DraftJournalEntry) error {
	lines, err := json.Marshal(draft.Lines)
	if err != nil {
		return mapQueryError("encode draft lines", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO draft_journal_entries (id, organization_id, match_id, lines, status, erp_document_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())`,
		draft.ID, draft.OrganizationID, draft.MatchID, lines, string(draft.Status), draft.ErpDocumentRef)
	if err != nil {
		return mapQueryError("insert draft", err)
	}
	return nil
}

func (s *BatchSink) insertException(ctx context.Context, tx *sqlx.Tx, exc *models.Exception) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO exceptions (`+exceptionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		exc.ID, exc.OrganizationID, exc.TransactionID, string(exc.Type), string(exc.Priority),
		exc.Description, pq.StringArray(exc.NearMatchIDs), exc.AIExplanation, exc.SuggestedAction,
		string(exc.Status), exc.ResolvedBy, exc.ResolutionNotes, exc.ResolvedAt, exc.CreatedAt)
	if err != nil {
		return mapQueryError("insert exception", err)
	}
	return nil
}

// InsertAuditEvent appends one event to the audit log. The table is
// append-only; nothing in the engine updates or deletes audit rows.
func InsertAuditEvent(ctx context.Context, tx *sqlx.Tx, event *models.AuditEvent) error {
	var metadata interface{}
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return mapQueryError("encode audit metadata", err)
		}
		metadata = encoded
	}

	_, err := tx.ExecContext(ctx, `
INSERT INTO audit_events (id, organization_id, operation_id, entity_type, entity_id, action,
	from_state, to_state, actor_type, actor_id, reason, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		event.ID, event.OrganizationID, event.OperationID, event.EntityType, event.EntityID,
		event.Action, event.FromState, event.ToState, string(event.ActorType), event.ActorID,
		event.Reason, metadata, event.OccurredAt)
	if err != nil {
		return mapQueryError("insert audit event", err)
	}
	return nil
}
