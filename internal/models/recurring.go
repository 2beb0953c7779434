package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RecurringFrequency is the expected cadence of a recurring vendor
// invoice
type RecurringFrequency string

const (
	FrequencyWeekly    RecurringFrequency = "weekly"
	FrequencyBiweekly  RecurringFrequency = "biweekly"
	FrequencyMonthly   RecurringFrequency = "monthly"
	FrequencyQuarterly RecurringFrequency = "quarterly"
	FrequencyAnnual    RecurringFrequency = "annual"
)

// IsValid checks if the frequency is valid
func (f RecurringFrequency) IsValid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly,
		FrequencyQuarterly, FrequencyAnnual:
		return true
	}
	return false
}

// Period returns the nominal duration of one cycle
func (f RecurringFrequency) Period() time.Duration {
	switch f {
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyBiweekly:
		return 14 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	case FrequencyQuarterly:
		return 91 * 24 * time.Hour
	case FrequencyAnnual:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// AddPeriod advances a date by one cycle, using calendar-aware
// arithmetic for monthly and longer frequencies.
func (f RecurringFrequency) AddPeriod(t time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return t.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyQuarterly:
		return t.AddDate(0, 3, 0)
	case FrequencyAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// RecurringAction is what the rule engine does when a rule matches
type RecurringAction string

const (
	ActionAutoApprove     RecurringAction = "auto_approve"
	ActionSendForApproval RecurringAction = "send_for_approval"
	ActionFlagForReview   RecurringAction = "flag_for_review"
	ActionIgnore          RecurringAction = "ignore"
)

// IsValid checks if the action is valid
func (a RecurringAction) IsValid() bool {
	switch a {
	case ActionAutoApprove, ActionSendForApproval, ActionFlagForReview, ActionIgnore:
		return true
	}
	return false
}

// RecurringRule matches incoming invoices to a user-defined recurring
// pattern and carries rolling statistics about the series.
type RecurringRule struct {
	ID                string             `json:"id" db:"id"`
	OrganizationID    string             `json:"organization_id" db:"organization_id"`
	Vendor            string             `json:"vendor" db:"vendor"`
	VendorAliases     []string           `json:"vendor_aliases,omitempty"`
	ExpectedFrequency RecurringFrequency `json:"expected_frequency" db:"expected_frequency"`
	ExpectedAmount    Money              `json:"expected_amount"`
	TolerancePct      float64            `json:"tolerance_pct" db:"tolerance_pct"`
	RequireAmountMatch bool              `json:"require_amount_match" db:"require_amount_match"`
	Action            RecurringAction    `json:"action" db:"action"`
	DefaultGLCode     string             `json:"default_gl_code,omitempty" db:"default_gl_code"`
	Enabled           bool               `json:"enabled" db:"enabled"`

	// Rolling stats
	LastInvoiceDate  *time.Time      `json:"last_invoice_date,omitempty" db:"last_invoice_date"`
	NextExpectedDate *time.Time      `json:"next_expected_date,omitempty" db:"next_expected_date"`
	TotalInvoices    int64           `json:"total_invoices" db:"total_invoices"`
	TotalAmount      decimal.Decimal `json:"total_amount" db:"total_amount"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate performs basic validation on the RecurringRule
func (r *RecurringRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("recurring rule ID cannot be empty")
	}

	if r.Vendor == "" {
		return fmt.Errorf("recurring rule vendor cannot be empty")
	}

	if !r.ExpectedFrequency.IsValid() {
		return fmt.Errorf("invalid recurring frequency: %s", r.ExpectedFrequency)
	}

	if err := r.ExpectedAmount.Validate(); err != nil {
		return fmt.Errorf("recurring rule expected amount invalid: %w", err)
	}

	if r.TolerancePct < 0 || r.TolerancePct > 100 {
		return fmt.Errorf("tolerance percent %f outside [0,100]", r.TolerancePct)
	}

	if !r.Action.IsValid() {
		return fmt.Errorf("invalid recurring action: %s", r.Action)
	}

	return nil
}

// MatchesVendor reports whether the rule covers the given vendor name,
// case-insensitively, via the canonical name or any alias.
func (r *RecurringRule) MatchesVendor(vendor string) bool {
	vendor = strings.TrimSpace(vendor)
	if strings.EqualFold(r.Vendor, vendor) {
		return true
	}
	for _, alias := range r.VendorAliases {
		if strings.EqualFold(alias, vendor) {
			return true
		}
	}
	return false
}
