// Package erp is the port to the downstream accounting system. The
// engine never posts final documents; it parks drafts and invoices for
// review inside the ERP, and in dry-run mode the park calls are
// simulated.
package erp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

// Vendor is one ERP vendor master record
type Vendor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id,omitempty"`
}

// GLAccount is one chart-of-accounts entry as the ERP knows it
type GLAccount struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// OpenInvoice is an unpaid invoice already known to the ERP
type OpenInvoice struct {
	DocumentRef string       `json:"document_ref"`
	Vendor      string       `json:"vendor"`
	Total       models.Money `json:"total"`
	DueDate     time.Time    `json:"due_date"`
}

// Adapter is the contract a concrete ERP integration fulfils. Park
// operations return the ERP document reference.
type Adapter interface {
	ListVendors(ctx context.Context, organizationID string) ([]Vendor, error)
	ListGLAccounts(ctx context.Context, organizationID string) ([]GLAccount, error)
	ListOpenInvoices(ctx context.Context, organizationID string) ([]OpenInvoice, error)
	ValidateDocument(ctx context.Context, organizationID, documentRef string) error
	ParkInvoice(ctx context.Context, item *models.APItem) (string, error)
	ParkJournalEntry(ctx context.Context, draft *models.DraftJournalEntry) (string, error)
}

// MemoryAdapter is the in-memory Adapter used for tests and dry runs.
// With DryRun set, park calls return simulated references and record
// nothing.
type MemoryAdapter struct {
	DryRun bool

	mu           sync.Mutex
	vendors      []Vendor
	glAccounts   []GLAccount
	openInvoices []OpenInvoice
	parked       map[string]string
	parkErr      error
	seq          int
	log          logger.Logger
}

// NewMemoryAdapter creates an empty in-memory adapter
func NewMemoryAdapter(dryRun bool) *MemoryAdapter {
	return &MemoryAdapter{
		DryRun: dryRun,
		parked: make(map[string]string),
		log:    logger.WithComponent("erp"),
	}
}

// Seed loads master data into the adapter
func (a *MemoryAdapter) Seed(vendors []Vendor, accounts []GLAccount, invoices []OpenInvoice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vendors = vendors
	a.glAccounts = accounts
	a.openInvoices = invoices
}

// FailParks makes every subsequent park call fail with the given error
func (a *MemoryAdapter) FailParks(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parkErr = err
}

// ListVendors returns the vendor master records
func (a *MemoryAdapter) ListVendors(ctx context.Context, organizationID string) ([]Vendor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Vendor(nil), a.vendors...), nil
}

// ListGLAccounts returns the chart of accounts
func (a *MemoryAdapter) ListGLAccounts(ctx context.Context, organizationID string) ([]GLAccount, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]GLAccount(nil), a.glAccounts...), nil
}

// ListOpenInvoices returns the unpaid invoices
func (a *MemoryAdapter) ListOpenInvoices(ctx context.Context, organizationID string) ([]OpenInvoice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]OpenInvoice(nil), a.openInvoices...), nil
}

// ValidateDocument checks that the reference is known to the ERP
func (a *MemoryAdapter) ValidateDocument(ctx context.Context, organizationID, documentRef string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, inv := range a.openInvoices {
		if inv.DocumentRef == documentRef {
			return nil
		}
	}
	for _, ref := range a.parked {
		if ref == documentRef {
			return nil
		}
	}
	return errors.NotFoundError("erp document", documentRef)
}

// ParkInvoice parks an AP item as a preliminary invoice document
func (a *MemoryAdapter) ParkInvoice(ctx context.Context, item *models.APItem) (string, error) {
	return a.park("ap_item", item.ID, "INV")
}

// ParkJournalEntry parks a draft journal entry for review
func (a *MemoryAdapter) ParkJournalEntry(ctx context.Context, draft *models.DraftJournalEntry) (string, error) {
	return a.park("draft_journal_entry", draft.ID, "JE")
}

func (a *MemoryAdapter) park(entityType, entityID, docPrefix string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.parkErr != nil {
		return "", errors.ExternalError(errors.CodeExternalFailure, "erp", a.parkErr)
	}

	// Parking the same entity twice returns the original reference.
	if ref, ok := a.parked[entityType+"|"+entityID]; ok {
		return ref, nil
	}

	a.seq++
	if a.DryRun {
		ref := fmt.Sprintf("SIM-%s-%06d", docPrefix, a.seq)
		a.log.WithField("ref", ref).Debug("Dry run, park simulated")
		return ref, nil
	}

	ref := fmt.Sprintf("ERP-%s-%06d", docPrefix, a.seq)
	a.parked[entityType+"|"+entityID] = ref
	return ref, nil
}

// Parked returns the document reference recorded for an entity, if any
func (a *MemoryAdapter) Parked(entityType, entityID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ref, ok := a.parked[entityType+"|"+entityID]
	return ref, ok
}
