package models

import (
	"fmt"
	"strings"
	"time"
)

// TransactionSource identifies where a financial event came from
type TransactionSource string

const (
	SourceGateway  TransactionSource = "gateway"
	SourceBank     TransactionSource = "bank"
	SourceInternal TransactionSource = "internal"
	SourceEmail    TransactionSource = "email"
	SourceManual   TransactionSource = "manual"
)

// String returns the string representation of TransactionSource
func (s TransactionSource) String() string {
	return string(s)
}

// IsValid checks if the transaction source is valid
func (s TransactionSource) IsValid() bool {
	switch s {
	case SourceGateway, SourceBank, SourceInternal, SourceEmail, SourceManual:
		return true
	}
	return false
}

// TransactionStatus tracks where a transaction is in the
// reconciliation lifecycle
type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusMatched   TransactionStatus = "matched"
	TxStatusPartial   TransactionStatus = "partial"
	TxStatusException TransactionStatus = "exception"
	TxStatusResolved  TransactionStatus = "resolved"
	TxStatusIgnored   TransactionStatus = "ignored"
)

// IsValid checks if the transaction status is valid
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TxStatusPending, TxStatusMatched, TxStatusPartial,
		TxStatusException, TxStatusResolved, TxStatusIgnored:
		return true
	}
	return false
}

// Transaction represents one financial event from any source. Identity
// is stable within (source, organization). Transactions are created by
// ingestion and mutated only by the reconciliation orchestrator while a
// batch runs; they are never deleted, only marked ignored.
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	Amount         Money             `json:"amount"`
	Direction      FlowDirection     `json:"direction" db:"direction"`
	ValueDate      time.Time         `json:"value_date" db:"value_date"`
	Description    string            `json:"description" db:"description"`
	Reference      string            `json:"reference,omitempty" db:"reference"`
	Counterparty   string            `json:"counterparty,omitempty" db:"counterparty"`
	Source         TransactionSource `json:"source" db:"source"`
	SourceID       string            `json:"source_id" db:"source_id"`
	Status         TransactionStatus `json:"status" db:"status"`
	MatchedWith    []string          `json:"matched_with,omitempty"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// NewTransaction creates a pending transaction
func NewTransaction(id, orgID string, amount Money, date time.Time, source TransactionSource) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:             id,
		OrganizationID: orgID,
		Amount:         amount,
		Direction:      FlowInbound,
		ValueDate:      date,
		Source:         source,
		Status:         TxStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if strings.TrimSpace(t.OrganizationID) == "" {
		return fmt.Errorf("transaction organization ID cannot be empty")
	}

	if err := t.Amount.Validate(); err != nil {
		return fmt.Errorf("transaction amount invalid: %w", err)
	}

	if !t.Direction.IsValid() {
		return fmt.Errorf("invalid flow direction: %s", t.Direction)
	}

	if t.ValueDate.IsZero() {
		return fmt.Errorf("transaction value date cannot be zero")
	}

	if !t.Source.IsValid() {
		return fmt.Errorf("invalid transaction source: %s", t.Source)
	}

	if !t.Status.IsValid() {
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}

	return nil
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Amount: %s, Date: %s, Source: %s, Status: %s}",
		t.ID, t.Amount.String(), t.ValueDate.Format("2006-01-02"), t.Source, t.Status)
}

// DayDifference returns the absolute difference in calendar days
// between the value dates of two transactions.
func (t *Transaction) DayDifference(other *Transaction) int {
	a := truncateToDay(t.ValueDate)
	b := truncateToDay(other.ValueDate)
	diff := int(a.Sub(b).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
