package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// ExceptionStore is the PostgreSQL-backed exception store
type ExceptionStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewExceptionStore creates an exception store over an open pool
func NewExceptionStore(db *sqlx.DB, timeout time.Duration) *ExceptionStore {
	return &ExceptionStore{db: db, timeout: timeout}
}

type exceptionRow struct {
	ID              string         `db:"id"`
	OrganizationID  string         `db:"organization_id"`
	TransactionID   string         `db:"transaction_id"`
	Type            string         `db:"type"`
	Priority        string         `db:"priority"`
	Description     string         `db:"description"`
	NearMatchIDs    pq.StringArray `db:"near_match_ids"`
	AIExplanation   string         `db:"ai_explanation"`
	SuggestedAction string         `db:"suggested_action"`
	Status          string         `db:"status"`
	ResolvedBy      string         `db:"resolved_by"`
	ResolutionNotes string         `db:"resolution_notes"`
	ResolvedAt      *time.Time     `db:"resolved_at"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r exceptionRow) toModel() *models.Exception {
	return &models.Exception{
		ID:              r.ID,
		OrganizationID:  r.OrganizationID,
		TransactionID:   r.TransactionID,
		Type:            models.ExceptionType(r.Type),
		Priority:        models.ExceptionPriority(r.Priority),
		Description:     r.Description,
		NearMatchIDs:    []string(r.NearMatchIDs),
		AIExplanation:   r.AIExplanation,
		SuggestedAction: r.SuggestedAction,
		Status:          models.ExceptionStatus(r.Status),
		ResolvedBy:      r.ResolvedBy,
		ResolutionNotes: r.ResolutionNotes,
		ResolvedAt:      r.ResolvedAt,
		CreatedAt:       r.CreatedAt,
	}
}

const exceptionColumns = `id, organization_id, transaction_id, type, priority, description,
near_match_ids, ai_explanation, suggested_action, status, resolved_by, resolution_notes,
resolved_at, created_at`

// Create persists a new exception record
func (s *ExceptionStore) Create(ctx context.Context, exc *models.Exception) error {
	if err := exc.Validate(); err != nil {
		return errors.ValidationError(errors.CodeValidationError, "exception", exc.ID, err.Error())
	}

	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO exceptions (`+exceptionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		exc.ID, exc.OrganizationID, exc.TransactionID, string(exc.Type), string(exc.Priority),
		exc.Description, pq.StringArray(exc.NearMatchIDs), exc.AIExplanation, exc.SuggestedAction,
		string(exc.Status), exc.ResolvedBy, exc.ResolutionNotes, exc.ResolvedAt, exc.CreatedAt)
	if err != nil {
		return mapQueryError("create exception", err)
	}
	return nil
}

// Get returns one exception by ID
func (s *ExceptionStore) Get(ctx context.Context, id string) (*models.Exception, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var row exceptionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+exceptionColumns+` FROM exceptions WHERE id = $1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.NotFoundError("exception", id)
		}
		return nil, mapQueryError("get exception", err)
	}
	return row.toModel(), nil
}

// List returns the organization's exceptions
func (s *ExceptionStore) List(ctx context.Context, organizationID string) ([]*models.Exception, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var rows []exceptionRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+exceptionColumns+` FROM exceptions
WHERE organization_id = $1 OR $1 = ''`, organizationID)
	if err != nil {
		return nil, mapQueryError("list exceptions", err)
	}

	out := make([]*models.Exception, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Update overwrites an existing exception record
func (s *ExceptionStore) Update(ctx context.Context, exc *models.Exception) error {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
UPDATE exceptions SET
	status = $2, resolved_by = $3, resolution_notes = $4, resolved_at = $5,
	ai_explanation = $6, suggested_action = $7
WHERE id = $1`,
		exc.ID, string(exc.Status), exc.ResolvedBy, exc.ResolutionNotes,
		exc.ResolvedAt, exc.AIExplanation, exc.SuggestedAction)
	if err != nil {
		return mapQueryError("update exception", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return mapQueryError("update exception", err)
	}
	if affected == 0 {
		return errors.NotFoundError("exception", exc.ID)
	}
	return nil
}
