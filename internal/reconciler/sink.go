package reconciler

import (
	"context"
	"sync"

	"ap-reconciliation-engine/internal/models"
)

// BatchWrite is everything one reconciliation batch wants to persist.
// A sink applies it atomically: on error nothing is visible, and the
// transactions keep their pre-batch status.
type BatchWrite struct {
	BatchID      string
	Transactions []*models.Transaction
	Matches      []*models.Match
	Drafts       []*models.DraftJournalEntry
	Exceptions   []*models.Exception
	Events       []*models.AuditEvent
}

// Sink receives the output of a reconciliation batch
type Sink interface {
	CommitBatch(ctx context.Context, batch *BatchWrite) error
}

// MemorySink is the in-memory Sink implementation used by tests and
// dry runs. It keeps every committed batch.
type MemorySink struct {
	mu      sync.Mutex
	batches []*BatchWrite
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// CommitBatch records the batch
func (s *MemorySink) CommitBatch(ctx context.Context, batch *BatchWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

// Batches returns every committed batch in commit order
func (s *MemorySink) Batches() []*BatchWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*BatchWrite(nil), s.batches...)
}

// LastBatch returns the most recent committed batch, or nil
func (s *MemorySink) LastBatch() *BatchWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil
	}
	return s.batches[len(s.batches)-1]
}
