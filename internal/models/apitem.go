package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APState is one state of the AP item lifecycle
type APState string

const (
	StateReceived      APState = "received"
	StateValidated     APState = "validated"
	StateNeedsInfo     APState = "needs_info"
	StateNeedsApproval APState = "needs_approval"
	StateApproved      APState = "approved"
	StateReadyToPost   APState = "ready_to_post"
	StatePostedToErp   APState = "posted_to_erp"
	StateFailedPost    APState = "failed_post"
	StateClosed        APState = "closed"
	StateRejected      APState = "rejected"

	// StateMerged is the terminal pseudo-state an item enters when it
	// is absorbed into another item. It is reachable only through the
	// merge operation, never through a regular transition request.
	StateMerged APState = "merged"
)

// IsValid checks if the state is valid
func (s APState) IsValid() bool {
	switch s {
	case StateReceived, StateValidated, StateNeedsInfo, StateNeedsApproval,
		StateApproved, StateReadyToPost, StatePostedToErp, StateFailedPost,
		StateClosed, StateRejected, StateMerged:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions may leave the state
func (s APState) IsTerminal() bool {
	return s == StateClosed || s == StateRejected || s == StateMerged
}

// ActorType identifies who requested a transition
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
	ActorAI     ActorType = "ai"
)

// IsValid checks if the actor type is valid
func (a ActorType) IsValid() bool {
	return a == ActorHuman || a == ActorSystem || a == ActorAI
}

// SourceType identifies what kind of external evidence a source link
// points at
type SourceType string

const (
	SourceTypeEmailThread  SourceType = "email_thread"
	SourceTypeEmailMessage SourceType = "email_message"
	SourceTypeProcurement  SourceType = "procurement"
	SourceTypeBankTxn      SourceType = "bank_transaction"
	SourceTypeCardLine     SourceType = "card_statement_line"
	SourceTypeSpreadsheet  SourceType = "spreadsheet_cell"
	SourceTypeDMSDocument  SourceType = "dms_document"
	SourceTypePortalEvent  SourceType = "portal_event"
)

// IsValid checks if the source type is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeEmailThread, SourceTypeEmailMessage, SourceTypeProcurement,
		SourceTypeBankTxn, SourceTypeCardLine, SourceTypeSpreadsheet,
		SourceTypeDMSDocument, SourceTypePortalEvent:
		return true
	}
	return false
}

// SourceLink attaches one external evidence record to an AP item. At
// most one link may exist per (ap_item, source_type, source_ref).
// Links move with merges and duplicate with splits.
type SourceLink struct {
	APItemID   string     `json:"ap_item_id" db:"ap_item_id"`
	SourceType SourceType `json:"source_type" db:"source_type"`
	SourceRef  string     `json:"source_ref" db:"source_ref"`
	Subject    string     `json:"subject,omitempty" db:"subject"`
	Sender     string     `json:"sender,omitempty" db:"sender"`
	DetectedAt time.Time  `json:"detected_at" db:"detected_at"`
}

// Key returns the uniqueness key of the link within its AP item
func (l SourceLink) Key() string {
	return string(l.SourceType) + "|" + l.SourceRef
}

// Validate performs basic validation on the SourceLink
func (l SourceLink) Validate() error {
	if !l.SourceType.IsValid() {
		return fmt.Errorf("invalid source link type: %s", l.SourceType)
	}
	if l.SourceRef == "" {
		return fmt.Errorf("source link ref cannot be empty")
	}
	return nil
}

// InvoiceLineItem is one extracted line of an invoice
type InvoiceLineItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity,omitempty"`
	UnitPrice   string `json:"unit_price,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

// MergeRecord documents one absorb operation in an item's history
type MergeRecord struct {
	SourceItemID string    `json:"source_item_id"`
	Actor        string    `json:"actor"`
	Reason       string    `json:"reason,omitempty"`
	MergedAt     time.Time `json:"merged_at"`
}

// APItem is a unit of accounts-payable work, typically backed by an
// invoice, with a lifecycle owned exclusively by the state machine.
// A closed item is immutable except for audit-only metadata; merged
// items carry a back-pointer to the absorbing item.
type APItem struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	Vendor         string            `json:"vendor" db:"vendor"`
	InvoiceNumber  string            `json:"invoice_number,omitempty" db:"invoice_number"`
	InvoiceDate    *time.Time        `json:"invoice_date,omitempty" db:"invoice_date"`
	DueDate        *time.Time        `json:"due_date,omitempty" db:"due_date"`
	Total          Money             `json:"total"`
	SuggestedGL    string            `json:"suggested_gl,omitempty" db:"suggested_gl"`
	GLConfidence   float64           `json:"gl_confidence" db:"gl_confidence"`
	LineItems      []InvoiceLineItem `json:"line_items,omitempty"`
	SourceLinks    []SourceLink      `json:"source_links,omitempty"`
	State          APState           `json:"state" db:"state"`
	MergedInto     string            `json:"merged_into,omitempty" db:"merged_into"`
	MergeHistory   []MergeRecord     `json:"merge_history,omitempty"`
	ExtraMetadata  map[string]string `json:"extra_metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// NewAPItem creates an AP item in the received state
func NewAPItem(orgID, vendor string, total Money) *APItem {
	now := time.Now().UTC()
	return &APItem{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Vendor:         vendor,
		Total:          total,
		State:          StateReceived,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate performs basic validation on the APItem
func (a *APItem) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("AP item ID cannot be empty")
	}

	if a.OrganizationID == "" {
		return fmt.Errorf("AP item organization ID cannot be empty")
	}

	if err := a.Total.Validate(); err != nil {
		return fmt.Errorf("AP item total invalid: %w", err)
	}

	if !a.State.IsValid() {
		return fmt.Errorf("invalid AP state: %s", a.State)
	}

	if a.State == StateMerged && a.MergedInto == "" {
		return fmt.Errorf("merged AP item must carry a merged_into back-pointer")
	}

	if a.State != StateMerged && a.MergedInto != "" {
		return fmt.Errorf("non-merged AP item must not carry merged_into")
	}

	seen := make(map[string]bool, len(a.SourceLinks))
	for _, link := range a.SourceLinks {
		if err := link.Validate(); err != nil {
			return err
		}
		if seen[link.Key()] {
			return fmt.Errorf("duplicate source link %s on AP item %s", link.Key(), a.ID)
		}
		seen[link.Key()] = true
	}

	return nil
}

// HasSourceLink reports whether the item already holds a link with the
// same (source_type, source_ref)
func (a *APItem) HasSourceLink(sourceType SourceType, sourceRef string) bool {
	for _, link := range a.SourceLinks {
		if link.SourceType == sourceType && link.SourceRef == sourceRef {
			return true
		}
	}
	return false
}

// String returns a string representation of the APItem
func (a *APItem) String() string {
	return fmt.Sprintf("APItem{ID: %s, Vendor: %s, Total: %s, State: %s}",
		a.ID, a.Vendor, a.Total.String(), a.State)
}

// AuditEvent is one append-only record of a material decision. Events
// for one logical operation share an OperationID and are appended in a
// single batch so they read contiguously.
type AuditEvent struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	OperationID    string            `json:"operation_id" db:"operation_id"`
	EntityType     string            `json:"entity_type" db:"entity_type"`
	EntityID       string            `json:"entity_id" db:"entity_id"`
	Action         string            `json:"action" db:"action"`
	FromState      string            `json:"from_state,omitempty" db:"from_state"`
	ToState        string            `json:"to_state,omitempty" db:"to_state"`
	ActorType      ActorType         `json:"actor_type" db:"actor_type"`
	ActorID        string            `json:"actor_id" db:"actor_id"`
	Reason         string            `json:"reason,omitempty" db:"reason"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at" db:"occurred_at"`
}

// NewAuditEvent creates an audit event with a fresh identity
func NewAuditEvent(orgID, operationID, entityType, entityID, action string) *AuditEvent {
	return &AuditEvent{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		OperationID:    operationID,
		EntityType:     entityType,
		EntityID:       entityID,
		Action:         action,
		OccurredAt:     time.Now().UTC(),
	}
}
