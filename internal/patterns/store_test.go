package patterns

import (
	"context"
	"testing"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

func createTestPattern(id string, confidence float64) *models.Pattern {
	return &models.Pattern{
		ID:             id,
		OrganizationID: "org-1",
		SourcePattern:  "stripe",
		TargetPattern:  "stripe payout",
		Confidence:     confidence,
	}
}

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, createTestPattern("p1", 0.7)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if got.Confidence != 0.7 {
		t.Errorf("Expected confidence 0.7, got %f", got.Confidence)
	}

	if got.LastUpdated.IsZero() {
		t.Error("Expected LastUpdated to be set on upsert")
	}
}

func TestMemoryStoreUpsertValidates(t *testing.T) {
	store := NewMemoryStore()

	bad := createTestPattern("p1", 1.5)
	if err := store.Upsert(context.Background(), bad); err == nil {
		t.Error("Expected validation error for confidence > 1")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("Expected not_found error, got %v", err)
	}
}

func TestMemoryStoreMatchCountMonotonic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p := createTestPattern("p1", 0.5)
	p.MatchCount = 10
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Overwriting with a lower count must not decrease it
	p2 := createTestPattern("p1", 0.8)
	p2.MatchCount = 3
	if err := store.Upsert(ctx, p2); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, _ := store.Get(ctx, "p1")
	if got.MatchCount != 10 {
		t.Errorf("Expected match count to stay at 10, got %d", got.MatchCount)
	}

	if got.Confidence != 0.8 {
		t.Errorf("Expected confidence updated to 0.8, got %f", got.Confidence)
	}
}

func TestMemoryStoreIncrementUsage(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Upsert(ctx, createTestPattern("p1", 0.5))

	for i := 0; i < 3; i++ {
		if err := store.IncrementUsage(ctx, "p1"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	got, _ := store.Get(ctx, "p1")
	if got.MatchCount != 3 {
		t.Errorf("Expected match count 3, got %d", got.MatchCount)
	}

	if got.LastUsed.IsZero() {
		t.Error("Expected LastUsed to be set")
	}

	if err := store.IncrementUsage(ctx, "missing"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("Expected not_found error, got %v", err)
	}
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Upsert(ctx, createTestPattern("p1", 0.5))

	snapshot, err := store.List(ctx, "org-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 pattern, got %d", len(snapshot))
	}

	// Mutating the store after the snapshot must not change the snapshot
	updated := createTestPattern("p1", 0.9)
	store.Upsert(ctx, updated)
	store.IncrementUsage(ctx, "p1")

	if snapshot[0].Confidence != 0.5 {
		t.Errorf("Expected snapshot confidence to stay 0.5, got %f", snapshot[0].Confidence)
	}

	if snapshot[0].MatchCount != 0 {
		t.Errorf("Expected snapshot match count to stay 0, got %d", snapshot[0].MatchCount)
	}
}

func TestMemoryStoreListOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"p3", "p1", "p2"} {
		store.Upsert(ctx, createTestPattern(id, 0.5))
	}

	snapshot, _ := store.List(ctx, "org-1")
	expected := []string{"p1", "p2", "p3"}
	for i, p := range snapshot {
		if p.ID != expected[i] {
			t.Errorf("Expected ID %s at position %d, got %s", expected[i], i, p.ID)
		}
	}
}

func TestMemoryStoreListFiltersOrganization(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Upsert(ctx, createTestPattern("p1", 0.5))
	other := createTestPattern("p2", 0.5)
	other.OrganizationID = "org-2"
	store.Upsert(ctx, other)

	snapshot, _ := store.List(ctx, "org-1")
	if len(snapshot) != 1 || snapshot[0].ID != "p1" {
		t.Errorf("Expected only org-1 patterns, got %d", len(snapshot))
	}
}
