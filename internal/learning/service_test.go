package learning

import (
	"context"
	"testing"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/patterns"
)

func createTestService() *Service {
	return NewService(NewMemoryStore(), patterns.NewMemoryStore())
}

func TestRecordGLCodeCorrection(t *testing.T) {
	svc := createTestService()
	ctx := context.Background()

	result, err := svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
		"6100", "6150", models.CorrectionContext{Vendor: "Stripe"}, "user-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.RulesCreated != 1 {
		t.Errorf("Expected 1 rule created, got %d", result.RulesCreated)
	}

	suggestion, err := svc.SuggestGLCode(ctx, "org-1", "Stripe")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if suggestion == nil {
		t.Fatal("Expected a suggestion")
	}

	if suggestion.Value != "6150" {
		t.Errorf("Expected GL 6150, got %s", suggestion.Value)
	}
	if suggestion.Confidence != 0.7 {
		t.Errorf("Expected confidence 0.7 after one correction, got %f", suggestion.Confidence)
	}
	if suggestion.Message != "learned from 1 previous correction(s)" {
		t.Errorf("Unexpected message: %q", suggestion.Message)
	}
}

func TestGLRuleReinforcement(t *testing.T) {
	svc := createTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
			"6100", "6150", models.CorrectionContext{Vendor: "Stripe"}, "user-1"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	suggestion, _ := svc.SuggestGLCode(ctx, "org-1", "Stripe")
	if suggestion.LearnedFrom != 5 {
		t.Errorf("Expected 5 reinforcements, got %d", suggestion.LearnedFrom)
	}

	// 0.7 + 0.1*4 = 1.1, capped at 0.99
	if suggestion.Confidence != 0.99 {
		t.Errorf("Expected confidence capped at 0.99, got %f", suggestion.Confidence)
	}
}

func TestGLRuleVendorCaseInsensitive(t *testing.T) {
	svc := createTestService()
	ctx := context.Background()

	svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
		"", "6150", models.CorrectionContext{Vendor: "Stripe"}, "user-1")

	suggestion, _ := svc.SuggestGLCode(ctx, "org-1", "STRIPE")
	if suggestion == nil || suggestion.Value != "6150" {
		t.Error("Expected vendor lookup to be case-insensitive")
	}
}

func TestGLCodeChangeResetsRule(t *testing.T) {
	svc := createTestService()
	ctx := context.Background()

	svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
		"6100", "6150", models.CorrectionContext{Vendor: "Stripe"}, "user-1")
	svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
		"6100", "6150", models.CorrectionContext{Vendor: "Stripe"}, "user-1")

	// Correcting to a different code restarts confidence but counts as
	// an update of the existing vendor rule, not a new one
	result, err := svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
		"6150", "6200", models.CorrectionContext{Vendor: "Stripe"}, "user-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.RulesCreated != 0 {
		t.Errorf("Expected no rule created on GL code overwrite, got %d", result.RulesCreated)
	}
	if result.RulesUpdated != 1 {
		t.Errorf("Expected 1 rule updated on GL code overwrite, got %d", result.RulesUpdated)
	}

	suggestion, _ := svc.SuggestGLCode(ctx, "org-1", "Stripe")
	if suggestion.Value != "6200" {
		t.Errorf("Expected new GL code 6200, got %s", suggestion.Value)
	}
	if suggestion.Confidence != 0.7 {
		t.Errorf("Expected fresh rule confidence 0.7, got %f", suggestion.Confidence)
	}
}

func TestVendorAliasRule(t *testing.T) {
	svc := createTestService()
	ctx := context.Background()

	result, err := svc.RecordCorrection(ctx, "org-1", models.CorrectionVendorAlias,
		"STRIPE PAYMENTS UK LTD", "Stripe", models.CorrectionContext{}, "user-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.RulesCreated != 1 {
		t.Errorf("Expected 1 rule created, got %d", result.RulesCreated)
	}

	suggestion, _ := svc.SuggestCanonicalVendor(ctx, "org-1", "STRIPE PAYMENTS UK LTD")
	if suggestion == nil || suggestion.Value != "Stripe" {
		t.Fatalf("Expected canonical vendor Stripe, got %+v", suggestion)
	}
	if suggestion.Confidence != 0.9 {
		t.Errorf("Expected alias confidence 0.9, got %f", suggestion.Confidence)
	}
}

func TestAliasResolvesInGLSuggestion(t *testing.T) {
	svc := createTestService()
	ctx := context.Background()

	svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
		"", "6150", models.CorrectionContext{Vendor: "Stripe"}, "user-1")
	svc.RecordCorrection(ctx, "org-1", models.CorrectionVendorAlias,
		"STRIPE PAYMENTS UK LTD", "Stripe", models.CorrectionContext{}, "user-1")

	suggestion, _ := svc.SuggestGLCode(ctx, "org-1", "STRIPE PAYMENTS UK LTD")
	if suggestion == nil || suggestion.Value != "6150" {
		t.Errorf("Expected alias to resolve to the canonical vendor's GL rule, got %+v", suggestion)
	}
}

func TestApprovalBiasBounded(t *testing.T) {
	svc := createTestService()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := svc.RecordCorrection(ctx, "org-1", models.CorrectionApproval,
			"", "approved", models.CorrectionContext{Vendor: "AWS"}, "user-1"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	adj, err := svc.ApprovalAdjustment(ctx, "org-1", "AWS")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 6 * +0.1 bounded to +0.3
	if adj != 0.3 {
		t.Errorf("Expected adjustment bounded to 0.3, got %f", adj)
	}

	// Rejections shift the other way
	for i := 0; i < 2; i++ {
		svc.RecordCorrection(ctx, "org-1", models.CorrectionApproval,
			"", "rejected", models.CorrectionContext{Vendor: "AWS"}, "user-1")
	}
	adj, _ = svc.ApprovalAdjustment(ctx, "org-1", "AWS")
	if adj < 0.09 || adj > 0.11 {
		t.Errorf("Expected adjustment near 0.1 after two rejections, got %f", adj)
	}
}

func TestClassificationCorrectionCreatesPattern(t *testing.T) {
	patternStore := patterns.NewMemoryStore()
	svc := NewService(NewMemoryStore(), patternStore)
	ctx := context.Background()

	result, err := svc.RecordCorrection(ctx, "org-1", models.CorrectionClassification,
		"STRIPE PAYOUT 12345", "Stripe settlement batch", models.CorrectionContext{}, "user-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.RulesCreated != 1 {
		t.Errorf("Expected 1 pattern created, got %d", result.RulesCreated)
	}

	snapshot, _ := patternStore.List(ctx, "org-1")
	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 learned pattern, got %d", len(snapshot))
	}

	p := snapshot[0]
	if p.Confidence != 0.6 {
		t.Errorf("Expected initial pattern confidence 0.6, got %f", p.Confidence)
	}

	// Repeating the correction reinforces the same pattern
	svc.RecordCorrection(ctx, "org-1", models.CorrectionClassification,
		"STRIPE PAYOUT 12345", "Stripe settlement batch", models.CorrectionContext{}, "user-1")

	snapshot, _ = patternStore.List(ctx, "org-1")
	if len(snapshot) != 1 {
		t.Fatalf("Expected reinforcement, not a second pattern, got %d", len(snapshot))
	}
	if snapshot[0].Confidence < 0.69 || snapshot[0].Confidence > 0.71 {
		t.Errorf("Expected reinforced confidence 0.7, got %f", snapshot[0].Confidence)
	}
}

func TestCorrectionLogImmutable(t *testing.T) {
	svc := createTestService()
	ctx := context.Background()

	svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
		"6100", "6150", models.CorrectionContext{Vendor: "Stripe"}, "user-1")
	svc.RecordCorrection(ctx, "org-1", models.CorrectionGLCode,
		"6150", "6200", models.CorrectionContext{Vendor: "Stripe"}, "user-2")

	log, err := svc.store.ListCorrections(ctx, "org-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(log) != 2 {
		t.Fatalf("Expected both corrections retained, got %d", len(log))
	}
	if log[0].Corrected != "6150" || log[1].Corrected != "6200" {
		t.Error("Expected corrections in append order with original values")
	}
}

func TestSuggestUnknownVendor(t *testing.T) {
	svc := createTestService()

	suggestion, err := svc.SuggestGLCode(context.Background(), "org-1", "Nobody")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if suggestion != nil {
		t.Errorf("Expected no suggestion for unknown vendor, got %+v", suggestion)
	}
}
