package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/reconciler"
)

func createTestResult() *reconciler.Result {
	fee := models.MustMoney("30.00", "USD")
	return &reconciler.Result{
		BatchID:        "batch-1",
		OrganizationID: "org-1",
		Matches: []*models.Match{
			{
				ID:           "m1",
				SourceTxnID:  "gw-1",
				TargetTxnIDs: []string{"bk-1"},
				Score:        90,
				Type:         models.MatchTypeAuto,
				DetectedFee:  &fee,
			},
		},
		Exceptions: []*models.Exception{
			{
				ID:            "exc-1",
				TransactionID: "gw-2",
				Type:          models.ExceptionNoMatch,
				Priority:      models.PriorityCritical,
				Description:   "no counterpart found",
			},
		},
		TotalTxns:   3,
		MatchedTxns: 2,
		MatchRate:   0.667,
		CompletedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestGenerateConsole(t *testing.T) {
	gen, err := NewGenerator(nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := gen.Generate(createTestResult(), &buf); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"batch-1", "gw-1 -> bk-1", "score 90", "fee", "critical", "no counterpart found"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected console report to contain %q", want)
		}
	}
}

func TestGenerateJSON(t *testing.T) {
	gen, err := NewGenerator(&Config{Format: FormatJSON})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := gen.Generate(createTestResult(), &buf); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var decoded reconciler.Result
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Expected valid JSON: %v", err)
	}
	if decoded.BatchID != "batch-1" {
		t.Errorf("Expected batch-1, got %s", decoded.BatchID)
	}
	if len(decoded.Matches) != 1 {
		t.Errorf("Expected 1 match, got %d", len(decoded.Matches))
	}
}

func TestGenerateCSV(t *testing.T) {
	gen, err := NewGenerator(&Config{Format: FormatCSV})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := gen.Generate(createTestResult(), &buf); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], "match,") {
		t.Errorf("Expected a match row, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "exception,") {
		t.Errorf("Expected an exception row, got %q", lines[2])
	}
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := NewGenerator(&Config{Format: "xml"})
	if err == nil {
		t.Error("Expected an error for an unsupported format")
	}
}
