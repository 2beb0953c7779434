// Package recurring matches incoming invoices against user-defined
// recurring vendor rules and proposes new rules from invoice history.
package recurring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

// Invoice is the slice of an AP item the rule engine inspects
type Invoice struct {
	Vendor      string       `json:"vendor"`
	Total       models.Money `json:"total"`
	InvoiceDate time.Time    `json:"invoice_date"`
}

// Outcome is the engine's verdict for one invoice
type Outcome struct {
	RuleID      string                 `json:"rule_id"`
	Action      models.RecurringAction `json:"action"`
	Reason      string                 `json:"reason,omitempty"`
	VariancePct float64                `json:"variance_pct"`
	GLCode      string                 `json:"gl_code,omitempty"`
}

// Store is the persistence contract for recurring rules
type Store interface {
	Create(ctx context.Context, rule *models.RecurringRule) error
	Update(ctx context.Context, rule *models.RecurringRule) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.RecurringRule, error)
	List(ctx context.Context, organizationID string) ([]*models.RecurringRule, error)
}

// Engine evaluates invoices against the rule set
type Engine struct {
	store Store
	log   logger.Logger
	now   func() time.Time
}

// NewEngine creates a recurring-rule engine over the given store
func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		log:   logger.WithComponent("recurring"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Process finds the first enabled rule covering the invoice's vendor
// and applies it. A nil outcome means no rule matched and the invoice
// proceeds through the normal AP flow. Matching a rule updates its
// rolling statistics.
func (e *Engine) Process(ctx context.Context, organizationID string, invoice *Invoice) (*Outcome, error) {
	rules, err := e.store.List(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	var rule *models.RecurringRule
	for _, r := range rules {
		if r.Enabled && r.MatchesVendor(invoice.Vendor) {
			rule = r
			break
		}
	}
	if rule == nil {
		return nil, nil
	}

	variance := variancePct(invoice.Total.Amount, rule.ExpectedAmount.Amount)

	outcome := &Outcome{
		RuleID:      rule.ID,
		Action:      rule.Action,
		VariancePct: variance,
		GLCode:      rule.DefaultGLCode,
	}

	if invoice.Total.Currency != rule.ExpectedAmount.Currency {
		outcome.Action = models.ActionFlagForReview
		outcome.Reason = fmt.Sprintf("invoice currency %s differs from expected %s",
			invoice.Total.Currency, rule.ExpectedAmount.Currency)
	} else if rule.RequireAmountMatch && variance > rule.TolerancePct {
		outcome.Action = models.ActionFlagForReview
		outcome.Reason = fmt.Sprintf("amount %s deviates %.1f%% from expected %s (tolerance %.1f%%)",
			invoice.Total, variance, rule.ExpectedAmount, rule.TolerancePct)
	}

	e.updateRollingStats(ctx, rule, invoice)

	e.log.WithFields(logger.Fields{
		"rule_id": rule.ID,
		"vendor":  invoice.Vendor,
		"action":  string(outcome.Action),
	}).Debug("Recurring rule applied")

	return outcome, nil
}

func (e *Engine) updateRollingStats(ctx context.Context, rule *models.RecurringRule, invoice *Invoice) {
	date := invoice.InvoiceDate
	rule.LastInvoiceDate = &date
	next := rule.ExpectedFrequency.AddPeriod(date)
	rule.NextExpectedDate = &next
	rule.TotalInvoices++
	rule.TotalAmount = rule.TotalAmount.Add(invoice.Total.Amount)
	rule.UpdatedAt = e.now()

	if err := e.store.Update(ctx, rule); err != nil {
		// Stats are advisory; a failed update must not block the
		// invoice flow.
		e.log.WithError(err).WithField("rule_id", rule.ID).
			Warn("Failed to update recurring rule stats")
	}
}

// variancePct is |actual-expected| / expected * 100, or 0 when the
// expected amount is zero.
func variancePct(actual, expected decimal.Decimal) float64 {
	if expected.IsZero() {
		return 0
	}
	pct, _ := actual.Sub(expected).Abs().Div(expected).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Proposal is a detected-but-unconfirmed recurring pattern
type Proposal struct {
	Vendor            string                    `json:"vendor"`
	ExpectedFrequency models.RecurringFrequency `json:"expected_frequency"`
	ExpectedAmount    models.Money              `json:"expected_amount"`
	SampleCount       int                       `json:"sample_count"`
	Confidence        float64                   `json:"confidence"`
}

// frequency bands in mean inter-arrival days
var frequencyBands = []struct {
	frequency models.RecurringFrequency
	min, max  float64
}{
	{models.FrequencyWeekly, 6, 8},
	{models.FrequencyBiweekly, 12, 16},
	{models.FrequencyMonthly, 27, 33},
	{models.FrequencyQuarterly, 85, 97},
	{models.FrequencyAnnual, 350, 380},
}

// maxAmountVariancePct is the sample spread above which no rule is
// proposed.
const maxAmountVariancePct = 20.0

// DetectRule inspects a vendor's invoice history and proposes a new
// recurring rule when the inter-arrival intervals fall into a known
// frequency band and the amounts are stable. Returns nil when no
// pattern is detectable.
func DetectRule(vendor string, history []Invoice) (*Proposal, error) {
	if len(history) < 3 {
		return nil, nil
	}

	currency := history[0].Total.Currency
	for _, inv := range history[1:] {
		if inv.Total.Currency != currency {
			return nil, errors.ValidationError(errors.CodeInvalidCurrency, "history", inv.Total.Currency,
				"recurring detection requires a single-currency history")
		}
	}

	sorted := append([]Invoice(nil), history...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].InvoiceDate.Before(sorted[j].InvoiceDate)
	})

	var intervalSum float64
	for i := 1; i < len(sorted); i++ {
		intervalSum += sorted[i].InvoiceDate.Sub(sorted[i-1].InvoiceDate).Hours() / 24
	}
	meanInterval := intervalSum / float64(len(sorted)-1)

	var frequency models.RecurringFrequency
	for _, band := range frequencyBands {
		if meanInterval >= band.min && meanInterval <= band.max {
			frequency = band.frequency
			break
		}
	}
	if frequency == "" {
		return nil, nil
	}

	mean := decimal.Zero
	for _, inv := range sorted {
		mean = mean.Add(inv.Total.Amount)
	}
	mean = mean.Div(decimal.NewFromInt(int64(len(sorted))))

	for _, inv := range sorted {
		if variancePct(inv.Total.Amount, mean) > maxAmountVariancePct {
			return nil, nil
		}
	}

	confidence := float64(len(sorted)) * 0.15
	if confidence > 0.9 {
		confidence = 0.9
	}

	expected, err := models.NewMoney(mean.Round(2), currency)
	if err != nil {
		return nil, err
	}

	return &Proposal{
		Vendor:            vendor,
		ExpectedFrequency: frequency,
		ExpectedAmount:    expected,
		SampleCount:       len(sorted),
		Confidence:        confidence,
	}, nil
}
