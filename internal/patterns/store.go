// Package patterns holds learned (source substring, target substring)
// scoring boosts. The store is shared-read, single-writer: the learning
// service serializes writes, reconciliation batches take a snapshot at
// batch start and use it for the whole batch.
package patterns

import (
	"context"
	"sort"
	"sync"
	"time"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// Store is the pattern store contract consumed by the scorer (via
// snapshots) and the learning service (writes).
type Store interface {
	// Upsert inserts or overwrites a pattern and refreshes LastUpdated.
	Upsert(ctx context.Context, pattern *models.Pattern) error

	// List returns a snapshot of all active patterns, ordered by ID so
	// batch results stay deterministic.
	List(ctx context.Context, organizationID string) ([]*models.Pattern, error)

	// Get returns a single pattern by ID.
	Get(ctx context.Context, id string) (*models.Pattern, error)

	// IncrementUsage atomically bumps MatchCount and sets LastUsed.
	IncrementUsage(ctx context.Context, id string) error
}

// MemoryStore is the in-memory Store implementation. List hands out
// deep copies, so a snapshot taken at batch start stays valid for the
// whole batch regardless of concurrent writes.
type MemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]*models.Pattern
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory pattern store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patterns: make(map[string]*models.Pattern),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts or overwrites a pattern
func (s *MemoryStore) Upsert(ctx context.Context, pattern *models.Pattern) error {
	if err := pattern.Validate(); err != nil {
		return errors.ValidationError(errors.CodeValidationError, "pattern", pattern.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := clonePattern(pattern)
	stored.ClampConfidence()
	stored.LastUpdated = s.now()

	// match_count is monotonically non-decreasing, even across
	// overwrites of the same pattern ID.
	if existing, ok := s.patterns[pattern.ID]; ok && existing.MatchCount > stored.MatchCount {
		stored.MatchCount = existing.MatchCount
	}

	s.patterns[pattern.ID] = stored
	return nil
}

// List returns a deep-copied snapshot of all patterns for the
// organization, ordered by ID.
func (s *MemoryStore) List(ctx context.Context, organizationID string) ([]*models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]*models.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if organizationID == "" || p.OrganizationID == organizationID {
			snapshot = append(snapshot, clonePattern(p))
		}
	}

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ID < snapshot[j].ID
	})

	return snapshot, nil
}

// Get returns a copy of a single pattern
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, errors.NotFoundError("pattern", id)
	}

	return clonePattern(p), nil
}

// IncrementUsage atomically bumps the usage counter
func (s *MemoryStore) IncrementUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return errors.NotFoundError("pattern", id)
	}

	p.MatchCount++
	p.LastUsed = s.now()
	return nil
}

func clonePattern(p *models.Pattern) *models.Pattern {
	clone := *p
	return &clone
}
