package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntrySide distinguishes debit from credit lines
type EntrySide string

const (
	SideDebit  EntrySide = "debit"
	SideCredit EntrySide = "credit"
)

// IsValid checks if the entry side is valid
func (s EntrySide) IsValid() bool {
	return s == SideDebit || s == SideCredit
}

// DraftStatus tracks a draft journal entry's approval lifecycle
type DraftStatus string

const (
	DraftStatusDraft    DraftStatus = "draft"
	DraftStatusApproved DraftStatus = "approved"
	DraftStatusRejected DraftStatus = "rejected"
	DraftStatusPosted   DraftStatus = "posted"
)

// IsValid checks if the draft status is valid
func (s DraftStatus) IsValid() bool {
	switch s {
	case DraftStatusDraft, DraftStatusApproved, DraftStatusRejected, DraftStatusPosted:
		return true
	}
	return false
}

// JournalLine is one debit or credit line of a draft entry
type JournalLine struct {
	GLAccount   string          `json:"gl_account" db:"gl_account"`
	Side        EntrySide       `json:"side" db:"side"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Currency    string          `json:"currency" db:"currency"`
	Description string          `json:"description" db:"description"`
}

// DraftJournalEntry is a balanced set of debit/credit lines generated
// from a high-confidence match group. Posting requires an external ERP
// document reference.
type DraftJournalEntry struct {
	ID             string        `json:"id" db:"id"`
	OrganizationID string        `json:"organization_id" db:"organization_id"`
	MatchID        string        `json:"match_id" db:"match_id"`
	Lines          []JournalLine `json:"lines"`
	Status         DraftStatus   `json:"status" db:"status"`
	ErpDocumentRef string        `json:"erp_document_ref,omitempty" db:"erp_document_ref"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// Validate checks structural validity and the balance invariant: per
// currency, the sum of debits must equal the sum of credits.
func (d *DraftJournalEntry) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("draft ID cannot be empty")
	}

	if len(d.Lines) < 2 {
		return fmt.Errorf("draft must have at least two lines, got %d", len(d.Lines))
	}

	if !d.Status.IsValid() {
		return fmt.Errorf("invalid draft status: %s", d.Status)
	}

	if d.Status == DraftStatusPosted && d.ErpDocumentRef == "" {
		return fmt.Errorf("posted draft requires an ERP document reference")
	}

	for i, line := range d.Lines {
		if line.GLAccount == "" {
			return fmt.Errorf("line %d: GL account cannot be empty", i)
		}
		if !line.Side.IsValid() {
			return fmt.Errorf("line %d: invalid side %q", i, line.Side)
		}
		if line.Amount.IsNegative() {
			return fmt.Errorf("line %d: amount cannot be negative", i)
		}
	}

	if !d.IsBalanced() {
		return fmt.Errorf("draft is unbalanced: debits must equal credits per currency")
	}

	return nil
}

// IsBalanced reports whether debits equal credits for every currency
func (d *DraftJournalEntry) IsBalanced() bool {
	debits := make(map[string]decimal.Decimal)
	credits := make(map[string]decimal.Decimal)

	for _, line := range d.Lines {
		switch line.Side {
		case SideDebit:
			debits[line.Currency] = debits[line.Currency].Add(line.Amount)
		case SideCredit:
			credits[line.Currency] = credits[line.Currency].Add(line.Amount)
		}
	}

	for currency, debit := range debits {
		if !debit.Equal(credits[currency]) {
			return false
		}
	}
	for currency, credit := range credits {
		if !credit.Equal(debits[currency]) {
			return false
		}
	}

	return true
}

// TotalDebits returns the sum of debit lines in the given currency
func (d *DraftJournalEntry) TotalDebits(currency string) decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		if line.Side == SideDebit && line.Currency == currency {
			total = total.Add(line.Amount)
		}
	}
	return total
}

// TotalCredits returns the sum of credit lines in the given currency
func (d *DraftJournalEntry) TotalCredits(currency string) decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		if line.Side == SideCredit && line.Currency == currency {
			total = total.Add(line.Amount)
		}
	}
	return total
}
