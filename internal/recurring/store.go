package recurring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// MemoryStore is the in-memory Store implementation. List returns
// rules ordered by creation time so "first matching rule" stays
// deterministic.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*models.RecurringRule
}

// NewMemoryStore creates an empty in-memory rule store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]*models.RecurringRule)}
}

// Create persists a new rule
func (s *MemoryStore) Create(ctx context.Context, rule *models.RecurringRule) error {
	if err := rule.Validate(); err != nil {
		return errors.ValidationError(errors.CodeValidationError, "recurring_rule", rule.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; ok {
		return errors.ConflictError(errors.CodeConflict,
			fmt.Sprintf("recurring rule %s already exists", rule.ID))
	}

	clone := cloneRule(rule)
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.rules[rule.ID] = clone
	return nil
}

// Update overwrites an existing rule
func (s *MemoryStore) Update(ctx context.Context, rule *models.RecurringRule) error {
	if err := rule.Validate(); err != nil {
		return errors.ValidationError(errors.CodeValidationError, "recurring_rule", rule.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok {
		return errors.NotFoundError("recurring rule", rule.ID)
	}

	clone := cloneRule(rule)
	clone.CreatedAt = existing.CreatedAt
	s.rules[rule.ID] = clone
	return nil
}

// Delete removes a rule
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return errors.NotFoundError("recurring rule", id)
	}
	delete(s.rules, id)
	return nil
}

// Get returns a copy of one rule
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, errors.NotFoundError("recurring rule", id)
	}
	return cloneRule(rule), nil
}

// List returns copies of an organization's rules in creation order
func (s *MemoryStore) List(ctx context.Context, organizationID string) ([]*models.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RecurringRule
	for _, rule := range s.rules {
		if organizationID == "" || rule.OrganizationID == organizationID {
			out = append(out, cloneRule(rule))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func cloneRule(rule *models.RecurringRule) *models.RecurringRule {
	clone := *rule
	clone.VendorAliases = append([]string(nil), rule.VendorAliases...)
	if rule.LastInvoiceDate != nil {
		t := *rule.LastInvoiceDate
		clone.LastInvoiceDate = &t
	}
	if rule.NextExpectedDate != nil {
		t := *rule.NextExpectedDate
		clone.NextExpectedDate = &t
	}
	return &clone
}
