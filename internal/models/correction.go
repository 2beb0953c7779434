package models

import (
	"fmt"
	"time"
)

// CorrectionType classifies what a human corrected
type CorrectionType string

const (
	CorrectionGLCode         CorrectionType = "gl_code"
	CorrectionVendorAlias    CorrectionType = "vendor_alias"
	CorrectionAmount         CorrectionType = "amount"
	CorrectionClassification CorrectionType = "classification"
	CorrectionApproval       CorrectionType = "approval"
)

// IsValid checks if the correction type is valid
func (c CorrectionType) IsValid() bool {
	switch c {
	case CorrectionGLCode, CorrectionVendorAlias, CorrectionAmount,
		CorrectionClassification, CorrectionApproval:
		return true
	}
	return false
}

// CorrectionContext carries the situational facts a correction was
// made in. Rules derived from corrections key off these fields.
type CorrectionContext struct {
	Vendor    string `json:"vendor,omitempty" db:"vendor"`
	Amount    string `json:"amount,omitempty" db:"amount"`
	Sender    string `json:"sender,omitempty" db:"sender"`
	InvoiceID string `json:"invoice_id,omitempty" db:"invoice_id"`
}

// Correction is one human correction. Immutable once written;
// derivations live in the learning service's rule table.
type Correction struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	Type           CorrectionType    `json:"type" db:"type"`
	Original       string            `json:"original" db:"original"`
	Corrected      string            `json:"corrected" db:"corrected"`
	Context        CorrectionContext `json:"context"`
	UserID         string            `json:"user_id" db:"user_id"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Validate performs basic validation on the Correction
func (c *Correction) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("correction ID cannot be empty")
	}

	if !c.Type.IsValid() {
		return fmt.Errorf("invalid correction type: %s", c.Type)
	}

	if c.Corrected == "" {
		return fmt.Errorf("corrected value cannot be empty")
	}

	if c.UserID == "" {
		return fmt.Errorf("correction user ID cannot be empty")
	}

	return nil
}
