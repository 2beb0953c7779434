package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/patterns"
	"ap-reconciliation-engine/pkg/errors"
)

func createTestTxn(id, amount, desc, ref string, date time.Time, source models.TransactionSource) *models.Transaction {
	txn := models.NewTransaction(id, "org-1", models.MustMoney(amount, "USD"), date, source)
	txn.Description = desc
	txn.Reference = ref
	return txn
}

func createTestOrchestrator(t *testing.T, sink Sink) (*Orchestrator, patterns.Store) {
	t.Helper()
	store := patterns.NewMemoryStore()
	orch, err := NewOrchestrator(DefaultConfig(), store, sink)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return orch, store
}

func TestReconcileExactMatch(t *testing.T) {
	sink := NewMemorySink()
	orch, _ := createTestOrchestrator(t, sink)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	sources := []*models.Transaction{
		createTestTxn("gw-1", "1500.00", "Stripe payout 789", "789", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "1500.00", "Stripe payout 789", "789", date, models.SourceBank),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}

	match := result.Matches[0]
	if match.Score < DefaultAutoJEThreshold {
		t.Errorf("Expected score >= %d for an exact match, got %d", DefaultAutoJEThreshold, match.Score)
	}
	if match.NeedsReview {
		t.Error("Expected an auto-confirmed match")
	}
	if match.DetectedFee != nil {
		t.Error("Expected no fee on equal amounts")
	}

	if len(result.Drafts) != 1 {
		t.Errorf("Expected 1 draft journal entry, got %d", len(result.Drafts))
	}
	if len(result.Exceptions) != 0 {
		t.Errorf("Expected no exceptions, got %d", len(result.Exceptions))
	}
	if result.MatchRate != 1.0 {
		t.Errorf("Expected match rate 1.0, got %f", result.MatchRate)
	}

	batch := sink.LastBatch()
	if batch == nil {
		t.Fatal("Expected a committed batch")
	}
	for _, txn := range batch.Transactions {
		if txn.Status != models.TxStatusMatched {
			t.Errorf("Expected %s marked matched, got %s", txn.ID, txn.Status)
		}
		if len(txn.MatchedWith) == 0 {
			t.Errorf("Expected %s to record its counterpart", txn.ID)
		}
	}
}

func TestReconcileFeeDetection(t *testing.T) {
	sink := NewMemorySink()
	orch, store := createTestOrchestrator(t, sink)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	store.Upsert(context.Background(), &models.Pattern{
		ID:             "pat-1",
		OrganizationID: "org-1",
		SourcePattern:  "stripe",
		TargetPattern:  "stripe",
		Confidence:     1.0,
	})

	sources := []*models.Transaction{
		createTestTxn("gw-1", "1000.00", "Stripe payout 555", "555", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "970.00", "Stripe payout 555", "555", date, models.SourceBank),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}

	match := result.Matches[0]
	if match.DetectedFee == nil {
		t.Fatal("Expected a detected fee")
	}
	if match.DetectedFee.Amount.StringFixed(2) != "30.00" {
		t.Errorf("Expected fee 30.00, got %s", match.DetectedFee.Amount)
	}

	// Gross - net - fee must be zero, expressed through the draft
	// balance: 1000 gross credit against 970 cash + 30 fee debits.
	if len(result.Drafts) != 1 {
		t.Fatalf("Expected 1 draft, got %d", len(result.Drafts))
	}
	draft := result.Drafts[0]
	if !draft.IsBalanced() {
		t.Error("Expected a balanced draft")
	}
	if len(draft.Lines) != 3 {
		t.Errorf("Expected cash, fee and receivables lines, got %d", len(draft.Lines))
	}

	// The firing pattern's usage counter is bumped after commit
	pattern, _ := store.Get(context.Background(), "pat-1")
	if pattern.MatchCount != 1 {
		t.Errorf("Expected pattern usage 1, got %d", pattern.MatchCount)
	}
}

func TestReconcileNoMatchCriticalException(t *testing.T) {
	sink := NewMemorySink()
	orch, _ := createTestOrchestrator(t, sink)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	sources := []*models.Transaction{
		createTestTxn("gw-1", "25000.00", "Wire settlement", "W-1", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "10.00", "Card fee", "F-9", date, models.SourceBank),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 0 {
		t.Fatalf("Expected no matches, got %d", len(result.Matches))
	}
	if result.MatchRate != 0 {
		t.Errorf("Expected match rate 0, got %f", result.MatchRate)
	}
	if len(result.Exceptions) != 2 {
		t.Fatalf("Expected 2 exceptions, got %d", len(result.Exceptions))
	}

	priorities := make(map[string]models.ExceptionPriority)
	for _, exc := range result.Exceptions {
		if exc.Type != models.ExceptionNoMatch {
			t.Errorf("Expected no_match exception, got %s", exc.Type)
		}
		priorities[exc.TransactionID] = exc.Priority
	}

	if priorities["gw-1"] != models.PriorityCritical {
		t.Errorf("Expected critical priority for the 25000 transaction, got %s", priorities["gw-1"])
	}
	if priorities["bk-1"] != models.PriorityLow {
		t.Errorf("Expected low priority for the 10.00 transaction, got %s", priorities["bk-1"])
	}

	batch := sink.LastBatch()
	for _, txn := range batch.Transactions {
		if txn.Status != models.TxStatusException {
			t.Errorf("Expected %s marked exception, got %s", txn.ID, txn.Status)
		}
	}
}

func TestReconcileSplitMatch(t *testing.T) {
	sink := NewMemorySink()
	orch, _ := createTestOrchestrator(t, sink)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	sources := []*models.Transaction{
		createTestTxn("gw-1", "300.00", "Payout batch 42", "INV-300", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "100.00", "Payout batch 42", "INV-300", date, models.SourceBank),
		createTestTxn("bk-2", "200.00", "Payout batch 42", "INV-300", date, models.SourceBank),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 split match, got %d", len(result.Matches))
	}

	match := result.Matches[0]
	if !match.IsSplit {
		t.Error("Expected the match flagged as split")
	}
	if len(match.TargetTxnIDs) != 2 {
		t.Errorf("Expected 2 targets, got %d", len(match.TargetTxnIDs))
	}
	if len(result.Exceptions) != 0 {
		t.Errorf("Expected no exceptions, got %d", len(result.Exceptions))
	}
	if result.MatchRate != 1.0 {
		t.Errorf("Expected match rate 1.0, got %f", result.MatchRate)
	}
}

func TestReconcileInternalAnnotation(t *testing.T) {
	sink := NewMemorySink()
	orch, _ := createTestOrchestrator(t, sink)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	sources := []*models.Transaction{
		createTestTxn("gw-1", "500.00", "Invoice 1001 payment", "1001", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "500.00", "Invoice 1001 payment", "1001", date, models.SourceBank),
	}
	internals := []*models.Transaction{
		createTestTxn("in-1", "500.00", "Invoice 1001 payment", "1001", date, models.SourceInternal),
		createTestTxn("in-2", "42.00", "Unrelated ledger entry", "", date, models.SourceInternal),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, internals)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if result.Matches[0].InternalTxnID != "in-1" {
		t.Errorf("Expected internal counterpart in-1, got %q", result.Matches[0].InternalTxnID)
	}

	// The unattached internal record becomes its own exception
	if len(result.Exceptions) != 1 {
		t.Fatalf("Expected 1 exception, got %d", len(result.Exceptions))
	}
	if result.Exceptions[0].TransactionID != "in-2" {
		t.Errorf("Expected exception for in-2, got %s", result.Exceptions[0].TransactionID)
	}
}

func TestReconcileEmptySide(t *testing.T) {
	sink := NewMemorySink()
	orch, _ := createTestOrchestrator(t, sink)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	sources := []*models.Transaction{
		createTestTxn("gw-1", "100.00", "Payout", "", date, models.SourceGateway),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The populated side still gets its no-match exception at the
	// amount-band priority.
	if len(result.Exceptions) != 1 {
		t.Fatalf("Expected 1 exception, got %d", len(result.Exceptions))
	}
	exc := result.Exceptions[0]
	if exc.Type != models.ExceptionNoMatch {
		t.Errorf("Expected no_match type, got %s", exc.Type)
	}
	if exc.Priority != models.PriorityLow {
		t.Errorf("Expected low priority for 100.00, got %s", exc.Priority)
	}
	if exc.TransactionID != "gw-1" {
		t.Errorf("Expected exception for gw-1, got %s", exc.TransactionID)
	}

	batch := sink.LastBatch()
	if len(batch.Transactions) != 1 {
		t.Fatalf("Expected 1 transaction update, got %d", len(batch.Transactions))
	}
	if batch.Transactions[0].Status != models.TxStatusException {
		t.Errorf("Expected gw-1 marked exception, got %s", batch.Transactions[0].Status)
	}
}

func TestReconcileEmptyBankCriticalAmount(t *testing.T) {
	sink := NewMemorySink()
	orch, _ := createTestOrchestrator(t, sink)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	sources := []*models.Transaction{
		createTestTxn("gw-1", "25000.00", "Wire settlement", "W-1", date, models.SourceGateway),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Exceptions) != 1 {
		t.Fatalf("Expected exactly 1 exception, got %d", len(result.Exceptions))
	}
	exc := result.Exceptions[0]
	if exc.Type != models.ExceptionNoMatch {
		t.Errorf("Expected no_match type, got %s", exc.Type)
	}
	if exc.Priority != models.PriorityCritical {
		t.Errorf("Expected critical priority for 25000.00, got %s", exc.Priority)
	}

	batch := sink.LastBatch()
	if len(batch.Transactions) != 1 || batch.Transactions[0].Status != models.TxStatusException {
		t.Error("Expected the unmatched transaction committed with exception status")
	}
	if result.MatchRate != 0 {
		t.Errorf("Expected match rate 0, got %f", result.MatchRate)
	}
}

func TestReconcileMidScoreMatchIsManual(t *testing.T) {
	orch, _ := createTestOrchestrator(t, NewMemorySink())
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// Exact amount and same day, but unrelated descriptions and no
	// references: 40 + 30 = 70, above the review threshold but below
	// the auto-match threshold.
	sources := []*models.Transaction{
		createTestTxn("gw-1", "450.00", "alpha beta", "", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "450.00", "gamma delta", "", date, models.SourceBank),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}

	match := result.Matches[0]
	if match.Score < DefaultReviewThreshold || match.Score >= DefaultAutoMatchThreshold {
		t.Fatalf("Expected a score in the review band, got %d", match.Score)
	}
	if match.Type != models.MatchTypeManual {
		t.Errorf("Expected manual match type below the auto threshold, got %s", match.Type)
	}
	if !match.NeedsReview {
		t.Error("Expected the match flagged for review")
	}
}

func TestReconcileExceptionsOrderedByPriority(t *testing.T) {
	orch, _ := createTestOrchestrator(t, NewMemorySink())
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// Routed low-band first (source side), critical second (target
	// side); the result must still lead with critical.
	sources := []*models.Transaction{
		createTestTxn("gw-1", "10.00", "Card fee", "F-9", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "25000.00", "Wire settlement", "W-1", date, models.SourceBank),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Exceptions) != 2 {
		t.Fatalf("Expected 2 exceptions, got %d", len(result.Exceptions))
	}
	if result.Exceptions[0].Priority != models.PriorityCritical {
		t.Errorf("Expected critical exception first, got %s", result.Exceptions[0].Priority)
	}
	if result.Exceptions[1].Priority != models.PriorityLow {
		t.Errorf("Expected low exception last, got %s", result.Exceptions[1].Priority)
	}
	for i := 1; i < len(result.Exceptions); i++ {
		if result.Exceptions[i].Priority.Rank() < result.Exceptions[i-1].Priority.Rank() {
			t.Fatal("Expected exceptions in non-increasing priority order")
		}
	}
}

func TestReconcileOverCapacity(t *testing.T) {
	config := DefaultConfig()
	config.MaxMatrixPairs = 1
	orch, err := NewOrchestrator(config, patterns.NewMemoryStore(), NewMemorySink())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	sources := []*models.Transaction{
		createTestTxn("gw-1", "100.00", "a", "", date, models.SourceGateway),
		createTestTxn("gw-2", "200.00", "b", "", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "100.00", "a", "", date, models.SourceBank),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 0 {
		t.Error("Expected no matching on an over-capacity batch")
	}
	if len(result.Exceptions) != 1 {
		t.Fatalf("Expected 1 over-size exception, got %d", len(result.Exceptions))
	}
}

type failingSink struct{}

func (failingSink) CommitBatch(ctx context.Context, batch *BatchWrite) error {
	return fmt.Errorf("connection reset")
}

func TestReconcileSinkFailureAbortsBatch(t *testing.T) {
	orch, _ := createTestOrchestrator(t, failingSink{})
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	src := createTestTxn("gw-1", "100.00", "Payout", "", date, models.SourceGateway)
	tgt := createTestTxn("bk-1", "100.00", "Payout", "", date, models.SourceBank)

	_, err := orch.Reconcile(context.Background(), "org-1",
		[]*models.Transaction{src}, []*models.Transaction{tgt}, nil)
	if err == nil {
		t.Fatal("Expected an error from the failing sink")
	}
	if !errors.HasCode(err, errors.CodeStorageError) {
		t.Errorf("Expected storage_error code, got %v", err)
	}

	// Inputs keep their pre-batch status
	if src.Status != models.TxStatusPending || tgt.Status != models.TxStatusPending {
		t.Error("Expected transactions untouched after an aborted batch")
	}
}

func TestReconcileNearMatchReferences(t *testing.T) {
	orch, _ := createTestOrchestrator(t, NewMemorySink())
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// 15% apart fails the amount gate but still scores on date and
	// description, so it surfaces as a near match.
	sources := []*models.Transaction{
		createTestTxn("gw-1", "100.00", "Vendor payout March", "", date, models.SourceGateway),
	}
	targets := []*models.Transaction{
		createTestTxn("bk-1", "115.00", "Vendor payout March", "", date, models.SourceBank),
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Exceptions) != 2 {
		t.Fatalf("Expected 2 exceptions, got %d", len(result.Exceptions))
	}
	for _, exc := range result.Exceptions {
		if len(exc.NearMatchIDs) != 1 {
			t.Errorf("Expected 1 near-match reference on %s, got %d", exc.TransactionID, len(exc.NearMatchIDs))
		}
	}
}

func TestReconcileTransactionAppearsOnce(t *testing.T) {
	orch, _ := createTestOrchestrator(t, NewMemorySink())
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	var sources, targets []*models.Transaction
	for i := 0; i < 5; i++ {
		amount := fmt.Sprintf("%d00.00", i+1)
		desc := fmt.Sprintf("Payout series %d", i)
		sources = append(sources, createTestTxn(fmt.Sprintf("gw-%d", i), amount, desc, "", date, models.SourceGateway))
		targets = append(targets, createTestTxn(fmt.Sprintf("bk-%d", i), amount, desc, "", date, models.SourceBank))
	}

	result, err := orch.Reconcile(context.Background(), "org-1", sources, targets, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	seen := make(map[string]int)
	for _, match := range result.Matches {
		for _, id := range match.TransactionIDs() {
			seen[id]++
		}
	}
	for id, count := range seen {
		if count > 1 {
			t.Errorf("Transaction %s appears in %d matches", id, count)
		}
	}

	covered := len(seen) + len(result.Unmatched)
	if covered != 10 {
		t.Errorf("Expected every transaction matched or unmatched, covered %d of 10", covered)
	}
}

func TestReconcileRejectsForeignTransaction(t *testing.T) {
	orch, _ := createTestOrchestrator(t, NewMemorySink())
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	foreign := createTestTxn("gw-1", "100.00", "Payout", "", date, models.SourceGateway)
	foreign.OrganizationID = "org-2"

	_, err := orch.Reconcile(context.Background(), "org-1",
		[]*models.Transaction{foreign}, nil, nil)
	if err == nil {
		t.Fatal("Expected a validation error")
	}
	if !errors.HasCode(err, errors.CodeValidationError) {
		t.Errorf("Expected validation_error code, got %v", err)
	}
}
