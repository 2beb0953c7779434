package apstate

import (
	"context"
	"fmt"
	"sync"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// MemoryStore is the in-memory Store implementation. Commit holds one
// lock across all writes, so items, idempotency records and audit
// events land atomically and the audit log stays contiguous per
// operation.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]*models.APItem
	records map[string]*IdempotencyRecord
	audit   []*models.AuditEvent
}

// NewMemoryStore creates an empty in-memory AP item store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]*models.APItem),
		records: make(map[string]*IdempotencyRecord),
	}
}

// CreateItem seeds a new AP item into the store
func (s *MemoryStore) CreateItem(ctx context.Context, item *models.APItem) error {
	if err := item.Validate(); err != nil {
		return errors.ValidationError(errors.CodeValidationError, "ap_item", item.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; ok {
		return errors.ConflictError(errors.CodeConflict,
			fmt.Sprintf("AP item %s already exists", item.ID))
	}

	s.items[item.ID] = cloneItem(item)
	return nil
}

// GetItem returns a copy of an AP item
func (s *MemoryStore) GetItem(ctx context.Context, id string) (*models.APItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, errors.NotFoundError("ap_item", id)
	}
	return cloneItem(item), nil
}

// GetIdempotency returns a previously committed idempotency record
func (s *MemoryStore) GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return nil, errors.NotFoundError("idempotency record", key)
	}
	clone := *record
	return &clone, nil
}

// Commit atomically persists items, the idempotency record and the
// audit events.
func (s *MemoryStore) Commit(ctx context.Context, items []*models.APItem, record *IdempotencyRecord, events []*models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.items[item.ID] = cloneItem(item)
	}

	if record != nil {
		clone := *record
		s.records[record.Key] = &clone
	}

	s.audit = append(s.audit, events...)
	return nil
}

// AuditEvents returns the audit log entries for one entity in append
// order.
func (s *MemoryStore) AuditEvents(ctx context.Context, entityID string) []*models.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AuditEvent
	for _, event := range s.audit {
		if entityID == "" || event.EntityID == entityID {
			out = append(out, event)
		}
	}
	return out
}

func cloneItem(item *models.APItem) *models.APItem {
	clone := *item
	clone.LineItems = append([]models.InvoiceLineItem(nil), item.LineItems...)
	clone.SourceLinks = append([]models.SourceLink(nil), item.SourceLinks...)
	clone.MergeHistory = append([]models.MergeRecord(nil), item.MergeHistory...)
	if item.ExtraMetadata != nil {
		clone.ExtraMetadata = make(map[string]string, len(item.ExtraMetadata))
		for k, v := range item.ExtraMetadata {
			clone.ExtraMetadata[k] = v
		}
	}
	if item.InvoiceDate != nil {
		t := *item.InvoiceDate
		clone.InvoiceDate = &t
	}
	if item.DueDate != nil {
		t := *item.DueDate
		clone.DueDate = &t
	}
	return &clone
}
