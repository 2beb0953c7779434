// Package journal turns high-confidence match groups into balanced
// draft journal entries following the standard payment-reconciliation
// template: debit cash for the bank net, debit processing fees for any
// detected fee, credit accounts receivable for the gross.
package journal

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// AutoJEThreshold is the minimum match score for draft generation
const AutoJEThreshold = 90

// AccountMapping maps GL account roles to the organization's account
// codes.
type AccountMapping struct {
	CashAccount           string `json:"cash_account"`
	ProcessingFeesAccount string `json:"processing_fees_account"`
	ReceivablesAccount    string `json:"receivables_account"`
}

// DefaultAccountMapping returns the standard chart positions used when
// an organization has not configured its own.
func DefaultAccountMapping() AccountMapping {
	return AccountMapping{
		CashAccount:           "1000",
		ProcessingFeesAccount: "6200",
		ReceivablesAccount:    "1200",
	}
}

// Validate checks that every role has an account code
func (m AccountMapping) Validate() error {
	if m.CashAccount == "" || m.ProcessingFeesAccount == "" || m.ReceivablesAccount == "" {
		return fmt.Errorf("account mapping must name cash, processing-fees and receivables accounts")
	}
	return nil
}

// Generator builds draft journal entries from confirmed matches
type Generator struct {
	accounts AccountMapping
}

// NewGenerator creates a generator with the given account mapping
func NewGenerator(accounts AccountMapping) *Generator {
	return &Generator{accounts: accounts}
}

// Generate produces a balanced draft entry for the match, or (nil, nil)
// when the match score is below the auto-JE threshold. The source is
// the gross side (gateway), targets are the net side (bank). An
// unbalanced result is a fatal invariant violation, never silently
// downgraded.
func (g *Generator) Generate(match *models.Match, source *models.Transaction, targets []*models.Transaction) (*models.DraftJournalEntry, error) {
	if match.Score < AutoJEThreshold {
		return nil, nil
	}

	if err := g.accounts.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "accounts", "", err.Error())
	}

	if source == nil || len(targets) == 0 {
		return nil, errors.ValidationError(errors.CodeValidationError, "match", match.ID,
			"draft generation requires the source and at least one target transaction")
	}

	currency := source.Amount.Currency
	gross := source.Amount.Amount

	net := decimal.Zero
	for _, tgt := range targets {
		if tgt.Amount.Currency != currency {
			return nil, errors.ValidationError(errors.CodeValidationError, "match", match.ID,
				fmt.Sprintf("mixed currencies in match group: %s vs %s", currency, tgt.Amount.Currency))
		}
		net = net.Add(tgt.Amount.Amount)
	}

	lines := []models.JournalLine{
		{
			GLAccount:   g.accounts.CashAccount,
			Side:        models.SideDebit,
			Amount:      net,
			Currency:    currency,
			Description: fmt.Sprintf("Bank deposit for %s", source.Reference),
		},
	}

	if match.DetectedFee != nil && !match.DetectedFee.IsZero() {
		if match.DetectedFee.Currency != currency {
			return nil, errors.ValidationError(errors.CodeValidationError, "match", match.ID,
				"detected fee currency differs from match currency")
		}
		lines = append(lines, models.JournalLine{
			GLAccount:   g.accounts.ProcessingFeesAccount,
			Side:        models.SideDebit,
			Amount:      match.DetectedFee.Amount,
			Currency:    currency,
			Description: "Payment processing fee",
		})
	}

	lines = append(lines, models.JournalLine{
		GLAccount:   g.accounts.ReceivablesAccount,
		Side:        models.SideCredit,
		Amount:      gross,
		Currency:    currency,
		Description: fmt.Sprintf("Settlement of %s", source.Reference),
	})

	draft := &models.DraftJournalEntry{
		ID:             uuid.NewString(),
		OrganizationID: source.OrganizationID,
		MatchID:        match.ID,
		Lines:          lines,
		Status:         models.DraftStatusDraft,
	}

	if !draft.IsBalanced() {
		return nil, errors.InvariantViolation(errors.CodeUnbalancedDraft,
			fmt.Sprintf("draft for match %s is unbalanced: debits %s, credits %s",
				match.ID, draft.TotalDebits(currency), draft.TotalCredits(currency)))
	}

	return draft, nil
}
