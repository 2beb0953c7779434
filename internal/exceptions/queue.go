// Package exceptions prioritizes reconciliation problems and manages
// the reviewer queue. Exception records are never deleted; resolution
// and ignoring are terminal status changes kept for audit.
package exceptions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/notify"
	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

// Bands holds the per-organization amount thresholds that drive
// exception priority.
type Bands struct {
	CriticalAmount decimal.Decimal `json:"critical_amount"`
	HighAmount     decimal.Decimal `json:"high_amount"`
	MediumAmount   decimal.Decimal `json:"medium_amount"`
}

// DefaultBands returns the standard priority thresholds
func DefaultBands() Bands {
	return Bands{
		CriticalAmount: decimal.NewFromInt(10000),
		HighAmount:     decimal.NewFromInt(5000),
		MediumAmount:   decimal.NewFromInt(1000),
	}
}

// Validate checks that the bands are ordered
func (b Bands) Validate() error {
	if b.CriticalAmount.LessThan(b.HighAmount) || b.HighAmount.LessThan(b.MediumAmount) {
		return fmt.Errorf("priority bands must be ordered critical >= high >= medium")
	}
	if b.MediumAmount.IsNegative() {
		return fmt.Errorf("priority bands cannot be negative")
	}
	return nil
}

// PriorityFor maps an absolute amount onto a priority band
func (b Bands) PriorityFor(amount decimal.Decimal) models.ExceptionPriority {
	abs := amount.Abs()
	switch {
	case abs.GreaterThanOrEqual(b.CriticalAmount):
		return models.PriorityCritical
	case abs.GreaterThanOrEqual(b.HighAmount):
		return models.PriorityHigh
	case abs.GreaterThanOrEqual(b.MediumAmount):
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// Store is the persistence contract for exception records
type Store interface {
	Create(ctx context.Context, exc *models.Exception) error
	Get(ctx context.Context, id string) (*models.Exception, error)
	List(ctx context.Context, organizationID string) ([]*models.Exception, error)
	Update(ctx context.Context, exc *models.Exception) error
}

// Queue routes exceptions through priority bands into a store and
// serves the reviewer-facing list and resolution operations.
type Queue struct {
	store    Store
	bands    Bands
	notifier notify.Notifier
	log      logger.Logger
	now      func() time.Time
}

// NewQueue creates an exception queue over the given store
func NewQueue(store Store, bands Bands) *Queue {
	return &Queue{
		store:    store,
		bands:    bands,
		notifier: notify.NopNotifier{},
		log:      logger.WithComponent("exceptions"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AttachNotifier wires an outbound notifier for critical exceptions
func (q *Queue) AttachNotifier(notifier notify.Notifier) {
	if notifier != nil {
		q.notifier = notifier
	}
}

// Route builds and persists an exception for an unmatched transaction,
// deriving its priority from the transaction amount.
func (q *Queue) Route(ctx context.Context, txn *models.Transaction, excType models.ExceptionType, description string, nearMatchIDs []string) (*models.Exception, error) {
	exc := &models.Exception{
		ID:             fmt.Sprintf("exc-%s-%s", txn.ID, q.now().Format("20060102150405")),
		OrganizationID: txn.OrganizationID,
		TransactionID:  txn.ID,
		Type:           excType,
		Priority:       q.bands.PriorityFor(txn.Amount.Amount),
		Description:    description,
		NearMatchIDs:   nearMatchIDs,
		Status:         models.ExceptionOpen,
		CreatedAt:      q.now(),
	}

	if err := exc.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeValidationError, "exception", exc.ID, err.Error())
	}

	if err := q.store.Create(ctx, exc); err != nil {
		return nil, err
	}

	if exc.Priority == models.PriorityCritical {
		if err := q.notifier.Notify(ctx, &notify.Event{
			OrganizationID: exc.OrganizationID,
			Kind:           notify.KindCriticalException,
			EntityType:     "exception",
			EntityID:       exc.ID,
			Subject:        fmt.Sprintf("Critical %s exception for transaction %s", exc.Type, exc.TransactionID),
			Detail:         exc.Description,
			OccurredAt:     exc.CreatedAt,
		}); err != nil {
			q.log.WithError(err).Warn("Critical-exception notification not delivered")
		}
	}

	q.log.WithFields(logger.Fields{
		"exception_id": exc.ID,
		"type":         string(exc.Type),
		"priority":     string(exc.Priority),
	}).Debug("Routed exception to queue")

	return exc, nil
}

// List returns the organization's exceptions sorted by priority
// (critical first), then creation time descending.
func (q *Queue) List(ctx context.Context, organizationID string) ([]*models.Exception, error) {
	excs, err := q.store.List(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(excs, func(i, j int) bool {
		if excs[i].Priority.Rank() != excs[j].Priority.Rank() {
			return excs[i].Priority.Rank() < excs[j].Priority.Rank()
		}
		return excs[i].CreatedAt.After(excs[j].CreatedAt)
	})

	return excs, nil
}

// Resolve marks an open exception resolved. Terminal exceptions reject
// further changes.
func (q *Queue) Resolve(ctx context.Context, id, resolverID, notes string) (*models.Exception, error) {
	return q.close(ctx, id, resolverID, notes, models.ExceptionResolved)
}

// Ignore marks an open exception ignored
func (q *Queue) Ignore(ctx context.Context, id, resolverID, notes string) (*models.Exception, error) {
	return q.close(ctx, id, resolverID, notes, models.ExceptionIgnored)
}

func (q *Queue) close(ctx context.Context, id, resolverID, notes string, status models.ExceptionStatus) (*models.Exception, error) {
	exc, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if exc.Status.IsTerminal() {
		return nil, errors.ConflictError(errors.CodeConflict,
			fmt.Sprintf("exception %s is already %s", id, exc.Status))
	}

	resolvedAt := q.now()
	exc.Status = status
	exc.ResolvedBy = resolverID
	exc.ResolutionNotes = notes
	exc.ResolvedAt = &resolvedAt

	if err := q.store.Update(ctx, exc); err != nil {
		return nil, err
	}

	return exc, nil
}

// MemoryStore is the in-memory Store implementation
type MemoryStore struct {
	mu         sync.RWMutex
	exceptions map[string]*models.Exception
}

// NewMemoryStore creates an empty in-memory exception store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{exceptions: make(map[string]*models.Exception)}
}

// Create persists a new exception record
func (s *MemoryStore) Create(ctx context.Context, exc *models.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exceptions[exc.ID]; ok {
		return errors.ConflictError(errors.CodeConflict,
			fmt.Sprintf("exception %s already exists", exc.ID))
	}

	s.exceptions[exc.ID] = cloneException(exc)
	return nil
}

// Get returns a copy of a single exception
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exc, ok := s.exceptions[id]
	if !ok {
		return nil, errors.NotFoundError("exception", id)
	}
	return cloneException(exc), nil
}

// List returns copies of all exceptions for an organization
func (s *MemoryStore) List(ctx context.Context, organizationID string) ([]*models.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Exception
	for _, exc := range s.exceptions {
		if organizationID == "" || exc.OrganizationID == organizationID {
			out = append(out, cloneException(exc))
		}
	}
	return out, nil
}

// Update overwrites an existing exception record
func (s *MemoryStore) Update(ctx context.Context, exc *models.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exceptions[exc.ID]; !ok {
		return errors.NotFoundError("exception", exc.ID)
	}

	s.exceptions[exc.ID] = cloneException(exc)
	return nil
}

func cloneException(exc *models.Exception) *models.Exception {
	clone := *exc
	clone.NearMatchIDs = append([]string(nil), exc.NearMatchIDs...)
	if exc.ResolvedAt != nil {
		t := *exc.ResolvedAt
		clone.ResolvedAt = &t
	}
	return &clone
}
