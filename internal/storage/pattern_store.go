package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// PatternStore is the PostgreSQL-backed pattern store
type PatternStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPatternStore creates a pattern store over an open connection pool
func NewPatternStore(db *sqlx.DB, timeout time.Duration) *PatternStore {
	return &PatternStore{db: db, timeout: timeout}
}

type patternRow struct {
	ID             string    `db:"id"`
	OrganizationID string    `db:"organization_id"`
	SourcePattern  string    `db:"source_pattern"`
	TargetPattern  string    `db:"target_pattern"`
	Confidence     float64   `db:"confidence"`
	MatchCount     int64     `db:"match_count"`
	LastUsed       time.Time `db:"last_used"`
	LastUpdated    time.Time `db:"last_updated"`
}

func (r patternRow) toModel() *models.Pattern {
	return &models.Pattern{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		SourcePattern:  r.SourcePattern,
		TargetPattern:  r.TargetPattern,
		Confidence:     r.Confidence,
		MatchCount:     r.MatchCount,
		LastUsed:       r.LastUsed,
		LastUpdated:    r.LastUpdated,
	}
}

// Upsert inserts or overwrites a pattern and refreshes LastUpdated
func (s *PatternStore) Upsert(ctx context.Context, pattern *models.Pattern) error {
	if err := pattern.Validate(); err != nil {
		return errors.ValidationError(errors.CodeValidationError, "pattern", pattern.ID, err.Error())
	}

	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO patterns (id, organization_id, source_pattern, target_pattern, confidence, match_count, last_used, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())
ON CONFLICT (id) DO UPDATE SET
	source_pattern = EXCLUDED.source_pattern,
	target_pattern = EXCLUDED.target_pattern,
	confidence     = EXCLUDED.confidence,
	last_updated   = now()`,
		pattern.ID, pattern.OrganizationID, pattern.SourcePattern,
		pattern.TargetPattern, pattern.Confidence, pattern.MatchCount)
	if err != nil {
		return mapQueryError("upsert pattern", err)
	}
	return nil
}

// List returns a snapshot of the organization's patterns ordered by ID
func (s *PatternStore) List(ctx context.Context, organizationID string) ([]*models.Pattern, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var rows []patternRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT id, organization_id, source_pattern, target_pattern, confidence, match_count, last_used, last_updated
FROM patterns
WHERE organization_id = $1 OR $1 = ''
ORDER BY id`, organizationID)
	if err != nil {
		return nil, mapQueryError("list patterns", err)
	}

	out := make([]*models.Pattern, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Get returns a single pattern by ID
func (s *PatternStore) Get(ctx context.Context, id string) (*models.Pattern, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var row patternRow
	err := s.db.GetContext(ctx, &row, `
SELECT id, organization_id, source_pattern, target_pattern, confidence, match_count, last_used, last_updated
FROM patterns WHERE id = $1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.NotFoundError("pattern", id)
		}
		return nil, mapQueryError("get pattern", err)
	}
	return row.toModel(), nil
}

// IncrementUsage atomically bumps MatchCount and sets LastUsed
func (s *PatternStore) IncrementUsage(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
UPDATE patterns SET match_count = match_count + 1, last_used = now() WHERE id = $1`, id)
	if err != nil {
		return mapQueryError("increment pattern usage", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return mapQueryError("increment pattern usage", err)
	}
	if affected == 0 {
		return errors.NotFoundError("pattern", id)
	}
	return nil
}
