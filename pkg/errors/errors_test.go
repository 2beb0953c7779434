package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CategoryValidation, CodeInvalidAmount, "amount is negative")

	if err.Category != CategoryValidation {
		t.Errorf("Expected category %s, got %s", CategoryValidation, err.Category)
	}

	if err.Code != CodeInvalidAmount {
		t.Errorf("Expected code %s, got %s", CodeInvalidAmount, err.Code)
	}

	if err.Error() != "amount is negative" {
		t.Errorf("Unexpected error message: %s", err.Error())
	}

	if err.StackTrace == nil {
		t.Error("Expected stack trace to be captured")
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, CategoryStorage, CodeStorageError, "failed to write drafts")

	if err.Cause != cause {
		t.Error("Expected cause to be preserved")
	}

	if err.Unwrap() != cause {
		t.Error("Expected Unwrap to return the cause")
	}

	if Wrap(nil, CategoryStorage, CodeStorageError, "noop") != nil {
		t.Error("Wrapping nil should return nil")
	}
}

func TestErrorWithSuggestion(t *testing.T) {
	err := New(CategoryCapacity, CodeOverCapacity, "batch too large").
		WithSuggestion("chunk the batch")

	if !strings.Contains(err.Error(), "suggestion: chunk the batch") {
		t.Errorf("Expected suggestion in message, got: %s", err.Error())
	}
}

func TestTransitionError(t *testing.T) {
	err := TransitionError("received", "closed")

	if err.Code != CodeInvalidTransition {
		t.Errorf("Expected code %s, got %s", CodeInvalidTransition, err.Code)
	}

	if err.Context["from_state"] != "received" {
		t.Errorf("Expected from_state context, got %v", err.Context["from_state"])
	}

	if err.Context["to_state"] != "closed" {
		t.Errorf("Expected to_state context, got %v", err.Context["to_state"])
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError(CodeInvalidCurrency, "currency", "EURO", "")

	if err.Category != CategoryValidation {
		t.Errorf("Expected validation category, got %s", err.Category)
	}

	if err.Context["field"] != "currency" {
		t.Errorf("Expected field context, got %v", err.Context["field"])
	}
}

func TestOverCapacityError(t *testing.T) {
	err := OverCapacityError(2000000, 1000000)

	if err.Code != CodeOverCapacity {
		t.Errorf("Expected over_capacity code, got %s", err.Code)
	}

	if err.Context["pairs"] != 2000000 {
		t.Errorf("Expected pairs context, got %v", err.Context["pairs"])
	}
}

func TestExternalError(t *testing.T) {
	timeout := ExternalError(CodeExternalTimeout, "llm", nil)
	if !strings.Contains(timeout.Message, "timed out") {
		t.Errorf("Expected timeout message, got: %s", timeout.Message)
	}

	failure := ExternalError(CodeExternalFailure, "erp", fmt.Errorf("503"))
	if failure.Cause == nil {
		t.Error("Expected cause to be preserved")
	}
}

func TestHasCodeAndCategory(t *testing.T) {
	err := NotFoundError("ap_item", "abc-123")

	if !HasCode(err, CodeNotFound) {
		t.Error("Expected HasCode to match")
	}

	if HasCode(err, CodeConflict) {
		t.Error("Expected HasCode to reject a different code")
	}

	if !HasCategory(err, CategoryNotFound) {
		t.Error("Expected HasCategory to match")
	}

	if HasCode(fmt.Errorf("plain"), CodeNotFound) {
		t.Error("Expected HasCode to reject non-engine errors")
	}
}

func TestAsEngineError(t *testing.T) {
	inner := ConflictError(CodeIdempotencyReplay, "duplicate key")
	wrapped := fmt.Errorf("outer: %w", inner)

	extracted, ok := AsEngineError(wrapped)
	if !ok {
		t.Fatal("Expected to extract engine error from chain")
	}

	if extracted.Code != CodeIdempotencyReplay {
		t.Errorf("Expected idempotency_replay, got %s", extracted.Code)
	}
}

func TestWrapIfNeeded(t *testing.T) {
	engineErr := InvariantViolation(CodeUnbalancedDraft, "debits != credits")

	result := WrapIfNeeded(engineErr, CategoryInternal, CodeUnexpectedError, "should not rewrap")
	if result != engineErr {
		t.Error("Expected existing engine error to pass through unchanged")
	}

	plain := fmt.Errorf("boom")
	result = WrapIfNeeded(plain, CategoryInternal, CodeUnexpectedError, "wrapped")
	if result.Code != CodeUnexpectedError {
		t.Errorf("Expected wrapped code, got %s", result.Code)
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*EngineError{
		ValidationError(CodeInvalidAmount, "amount", "-1", ""),
		ValidationError(CodeInvalidDate, "value_date", "???", ""),
		NotFoundError("pattern", "p1"),
	}

	summary := NewErrorSummary(errs)

	if summary.Total != 3 {
		t.Errorf("Expected 3 errors, got %d", summary.Total)
	}

	if summary.ByCategory[CategoryValidation] != 2 {
		t.Errorf("Expected 2 validation errors, got %d", summary.ByCategory[CategoryValidation])
	}

	if !strings.Contains(summary.Error(), "3 errors occurred") {
		t.Errorf("Unexpected summary message: %s", summary.Error())
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		err      *EngineError
		expected int
	}{
		{ValidationError(CodeInvalidAmount, "a", 1, ""), 3},
		{TransitionError("a", "b"), 3},
		{NotFoundError("x", "y"), 4},
		{OverCapacityError(10, 1), 5},
		{ExternalError(CodeExternalTimeout, "llm", nil), 6},
		{InvariantViolation(CodeUnbalancedDraft, "bad"), 7},
	}

	for _, tt := range tests {
		if code := tt.err.GetExitCode(); code != tt.expected {
			t.Errorf("Expected exit code %d for %s, got %d", tt.expected, tt.err.Code, code)
		}
	}
}
