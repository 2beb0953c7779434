package models

import (
	"fmt"
	"time"
)

// ExceptionType classifies why an item needs human review
type ExceptionType string

const (
	ExceptionNoMatch        ExceptionType = "no_match"
	ExceptionAmountVariance ExceptionType = "amount_variance"
	ExceptionDateMismatch   ExceptionType = "date_mismatch"
	ExceptionDuplicate      ExceptionType = "duplicate"
	ExceptionMissingData    ExceptionType = "missing_data"
)

// IsValid checks if the exception type is valid
func (e ExceptionType) IsValid() bool {
	switch e {
	case ExceptionNoMatch, ExceptionAmountVariance, ExceptionDateMismatch,
		ExceptionDuplicate, ExceptionMissingData:
		return true
	}
	return false
}

// ExceptionPriority orders exceptions for reviewer attention
type ExceptionPriority string

const (
	PriorityCritical ExceptionPriority = "critical"
	PriorityHigh     ExceptionPriority = "high"
	PriorityMedium   ExceptionPriority = "medium"
	PriorityLow      ExceptionPriority = "low"
)

// Rank returns a sortable rank, lower is more urgent
func (p ExceptionPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// IsValid checks if the priority is valid
func (p ExceptionPriority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ExceptionStatus tracks the exception lifecycle. Resolved and ignored
// are terminal.
type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "open"
	ExceptionResolved ExceptionStatus = "resolved"
	ExceptionIgnored  ExceptionStatus = "ignored"
)

// IsTerminal reports whether the status permits no further changes
func (s ExceptionStatus) IsTerminal() bool {
	return s == ExceptionResolved || s == ExceptionIgnored
}

// Exception is a typed description of a reconciliation problem routed
// to a reviewer. The record stays in the store forever for audit.
type Exception struct {
	ID              string            `json:"id" db:"id"`
	OrganizationID  string            `json:"organization_id" db:"organization_id"`
	TransactionID   string            `json:"transaction_id" db:"transaction_id"`
	Type            ExceptionType     `json:"type" db:"type"`
	Priority        ExceptionPriority `json:"priority" db:"priority"`
	Description     string            `json:"description" db:"description"`
	NearMatchIDs    []string          `json:"near_match_ids,omitempty"`
	AIExplanation   string            `json:"ai_explanation,omitempty" db:"ai_explanation"`
	SuggestedAction string            `json:"suggested_action,omitempty" db:"suggested_action"`
	Status          ExceptionStatus   `json:"status" db:"status"`
	ResolvedBy      string            `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolutionNotes string            `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// Validate performs basic validation on the Exception
func (e *Exception) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("exception ID cannot be empty")
	}

	if !e.Type.IsValid() {
		return fmt.Errorf("invalid exception type: %s", e.Type)
	}

	if !e.Priority.IsValid() {
		return fmt.Errorf("invalid exception priority: %s", e.Priority)
	}

	return nil
}

// String returns a string representation of the Exception
func (e *Exception) String() string {
	return fmt.Sprintf("Exception{ID: %s, Type: %s, Priority: %s, Status: %s}",
		e.ID, e.Type, e.Priority, e.Status)
}
