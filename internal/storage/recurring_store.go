package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// RecurringStore is the PostgreSQL-backed recurring-rule store
type RecurringStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRecurringStore creates a recurring-rule store over an open pool
func NewRecurringStore(db *sqlx.DB, timeout time.Duration) *RecurringStore {
	return &RecurringStore{db: db, timeout: timeout}
}

type recurringRow struct {
	ID                 string          `db:"id"`
	OrganizationID     string          `db:"organization_id"`
	Vendor             string          `db:"vendor"`
	VendorAliases      pq.StringArray  `db:"vendor_aliases"`
	ExpectedFrequency  string          `db:"expected_frequency"`
	ExpectedAmount     decimal.Decimal `db:"expected_amount"`
	ExpectedCurrency   string          `db:"expected_currency"`
	TolerancePct       float64         `db:"tolerance_pct"`
	RequireAmountMatch bool            `db:"require_amount_match"`
	Action             string          `db:"action"`
	DefaultGLCode      string          `db:"default_gl_code"`
	Enabled            bool            `db:"enabled"`
	LastInvoiceDate    *time.Time      `db:"last_invoice_date"`
	NextExpectedDate   *time.Time      `db:"next_expected_date"`
	TotalInvoices      int64           `db:"total_invoices"`
	TotalAmount        decimal.Decimal `db:"total_amount"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r recurringRow) toModel() *models.RecurringRule {
	return &models.RecurringRule{
		ID:                 r.ID,
		OrganizationID:     r.OrganizationID,
		Vendor:             r.Vendor,
		VendorAliases:      []string(r.VendorAliases),
		ExpectedFrequency:  models.RecurringFrequency(r.ExpectedFrequency),
		ExpectedAmount:     models.Money{Amount: r.ExpectedAmount, Currency: r.ExpectedCurrency},
		TolerancePct:       r.TolerancePct,
		RequireAmountMatch: r.RequireAmountMatch,
		Action:             models.RecurringAction(r.Action),
		DefaultGLCode:      r.DefaultGLCode,
		Enabled:            r.Enabled,
		LastInvoiceDate:    r.LastInvoiceDate,
		NextExpectedDate:   r.NextExpectedDate,
		TotalInvoices:      r.TotalInvoices,
		TotalAmount:        r.TotalAmount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

const recurringColumns = `id, organization_id, vendor, vendor_aliases, expected_frequency,
expected_amount, expected_currency, tolerance_pct, require_amount_match, action,
default_gl_code, enabled, last_invoice_date, next_expected_date, total_invoices,
total_amount, created_at, updated_at`

// Create persists a new rule
func (s *RecurringStore) Create(ctx context.Context, rule *models.RecurringRule) error {
	if err := rule.Validate(); err != nil {
		return errors.ValidationError(errors.CodeValidationError, "recurring_rule", rule.ID, err.Error())
	}

	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO recurring_rules (`+recurringColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())`,
		rule.ID, rule.OrganizationID, rule.Vendor, pq.StringArray(rule.VendorAliases),
		string(rule.ExpectedFrequency), rule.ExpectedAmount.Amount, rule.ExpectedAmount.Currency,
		rule.TolerancePct, rule.RequireAmountMatch, string(rule.Action), rule.DefaultGLCode,
		rule.Enabled, rule.LastInvoiceDate, rule.NextExpectedDate, rule.TotalInvoices, rule.TotalAmount)
	if err != nil {
		return mapQueryError("create recurring rule", err)
	}
	return nil
}

// Update overwrites an existing rule
func (s *RecurringStore) Update(ctx context.Context, rule *models.RecurringRule) error {
	if err := rule.Validate(); err != nil {
		return errors.ValidationError(errors.CodeValidationError, "recurring_rule", rule.ID, err.Error())
	}

	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
UPDATE recurring_rules SET
	vendor = $2, vendor_aliases = $3, expected_frequency = $4, expected_amount = $5,
	expected_currency = $6, tolerance_pct = $7, require_amount_match = $8, action = $9,
	default_gl_code = $10, enabled = $11, last_invoice_date = $12, next_expected_date = $13,
	total_invoices = $14, total_amount = $15, updated_at = now()
WHERE id = $1`,
		rule.ID, rule.Vendor, pq.StringArray(rule.VendorAliases), string(rule.ExpectedFrequency),
		rule.ExpectedAmount.Amount, rule.ExpectedAmount.Currency, rule.TolerancePct,
		rule.RequireAmountMatch, string(rule.Action), rule.DefaultGLCode, rule.Enabled,
		rule.LastInvoiceDate, rule.NextExpectedDate, rule.TotalInvoices, rule.TotalAmount)
	if err != nil {
		return mapQueryError("update recurring rule", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return mapQueryError("update recurring rule", err)
	}
	if affected == 0 {
		return errors.NotFoundError("recurring rule", rule.ID)
	}
	return nil
}

// Delete removes a rule
func (s *RecurringStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = $1`, id)
	if err != nil {
		return mapQueryError("delete recurring rule", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return mapQueryError("delete recurring rule", err)
	}
	if affected == 0 {
		return errors.NotFoundError("recurring rule", id)
	}
	return nil
}

// Get returns one rule by ID
func (s *RecurringStore) Get(ctx context.Context, id string) (*models.RecurringRule, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var row recurringRow
	err := s.db.GetContext(ctx, &row, `SELECT `+recurringColumns+` FROM recurring_rules WHERE id = $1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.NotFoundError("recurring rule", id)
		}
		return nil, mapQueryError("get recurring rule", err)
	}
	return row.toModel(), nil
}

// List returns the organization's rules in creation order
func (s *RecurringStore) List(ctx context.Context, organizationID string) ([]*models.RecurringRule, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var rows []recurringRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+recurringColumns+` FROM recurring_rules
WHERE organization_id = $1 OR $1 = ''
ORDER BY created_at, id`, organizationID)
	if err != nil {
		return nil, mapQueryError("list recurring rules", err)
	}

	out := make([]*models.RecurringRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
