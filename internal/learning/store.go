package learning

import (
	"context"
	"strings"
	"sync"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// MemoryStore is the in-memory Store implementation. Rule lookups are
// case-insensitive on vendor and alias names.
type MemoryStore struct {
	mu          sync.RWMutex
	corrections []*models.Correction
	glRules     map[string]*GLRule
	aliasRules  map[string]*AliasRule
	biases      map[string]*ApprovalBias
}

// NewMemoryStore creates an empty in-memory learning store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		glRules:    make(map[string]*GLRule),
		aliasRules: make(map[string]*AliasRule),
		biases:     make(map[string]*ApprovalBias),
	}
}

func ruleKey(organizationID, name string) string {
	return organizationID + "|" + strings.ToLower(strings.TrimSpace(name))
}

// AppendCorrection appends to the immutable correction log
func (s *MemoryStore) AppendCorrection(ctx context.Context, correction *models.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *correction
	s.corrections = append(s.corrections, &clone)
	return nil
}

// ListCorrections returns the correction log in append order
func (s *MemoryStore) ListCorrections(ctx context.Context, organizationID string) ([]*models.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Correction
	for _, c := range s.corrections {
		if organizationID == "" || c.OrganizationID == organizationID {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

// GetGLRule returns the learned GL rule for a vendor
func (s *MemoryStore) GetGLRule(ctx context.Context, organizationID, vendor string) (*GLRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.glRules[ruleKey(organizationID, vendor)]
	if !ok {
		return nil, errors.NotFoundError("gl rule", vendor)
	}
	clone := *rule
	return &clone, nil
}

// UpsertGLRule inserts or overwrites a GL rule
func (s *MemoryStore) UpsertGLRule(ctx context.Context, rule *GLRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rule
	s.glRules[ruleKey(rule.OrganizationID, rule.Vendor)] = &clone
	return nil
}

// GetAliasRule returns the alias rule for an observed spelling
func (s *MemoryStore) GetAliasRule(ctx context.Context, organizationID, alias string) (*AliasRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.aliasRules[ruleKey(organizationID, alias)]
	if !ok {
		return nil, errors.NotFoundError("alias rule", alias)
	}
	clone := *rule
	return &clone, nil
}

// UpsertAliasRule inserts or overwrites an alias rule
func (s *MemoryStore) UpsertAliasRule(ctx context.Context, rule *AliasRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rule
	s.aliasRules[ruleKey(rule.OrganizationID, rule.Alias)] = &clone
	return nil
}

// GetApprovalBias returns a vendor's approval adjustment
func (s *MemoryStore) GetApprovalBias(ctx context.Context, organizationID, vendor string) (*ApprovalBias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bias, ok := s.biases[ruleKey(organizationID, vendor)]
	if !ok {
		return nil, errors.NotFoundError("approval bias", vendor)
	}
	clone := *bias
	return &clone, nil
}

// UpsertApprovalBias inserts or overwrites an approval adjustment
func (s *MemoryStore) UpsertApprovalBias(ctx context.Context, bias *ApprovalBias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *bias
	s.biases[ruleKey(bias.OrganizationID, bias.Vendor)] = &clone
	return nil
}
