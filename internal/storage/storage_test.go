package storage

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/models"
)

func TestMigrationsOrderedAndUnique(t *testing.T) {
	seen := make(map[int]bool)
	last := 0

	for _, m := range Migrations() {
		if seen[m.Version] {
			t.Errorf("Duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true

		if m.Version <= last {
			t.Errorf("Migration %d out of order after %d", m.Version, last)
		}
		last = m.Version

		if m.Name == "" || m.SQL == "" {
			t.Errorf("Migration %d missing name or SQL", m.Version)
		}
	}

	if len(seen) < 7 {
		t.Errorf("Expected at least 7 migrations, got %d", len(seen))
	}
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err == nil {
		t.Error("Expected validation failure without a URL")
	}

	config.URL = "postgres://localhost/reconciliation?sslmode=disable"
	if err := config.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if config.QueryTimeout != DefaultQueryTimeout {
		t.Errorf("Expected default query timeout, got %s", config.QueryTimeout)
	}
}

func TestExceptionRowRoundTrip(t *testing.T) {
	resolved := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	row := exceptionRow{
		ID:             "exc-1",
		OrganizationID: "org-1",
		TransactionID:  "tx-1",
		Type:           "no_match",
		Priority:       "high",
		Description:    "no counterpart found",
		NearMatchIDs:   pq.StringArray{"tx-2", "tx-3"},
		Status:         "resolved",
		ResolvedBy:     "reviewer-1",
		ResolvedAt:     &resolved,
	}

	exc := row.toModel()
	if exc.Type != models.ExceptionNoMatch {
		t.Errorf("Expected no_match type, got %s", exc.Type)
	}
	if exc.Priority != models.PriorityHigh {
		t.Errorf("Expected high priority, got %s", exc.Priority)
	}
	if len(exc.NearMatchIDs) != 2 {
		t.Errorf("Expected 2 near matches, got %d", len(exc.NearMatchIDs))
	}
	if exc.ResolvedAt == nil || !exc.ResolvedAt.Equal(resolved) {
		t.Error("Expected resolved timestamp carried over")
	}
	if err := exc.Validate(); err != nil {
		t.Errorf("Expected a valid exception, got %v", err)
	}
}

func TestRecurringRowRoundTrip(t *testing.T) {
	row := recurringRow{
		ID:                "r1",
		OrganizationID:    "org-1",
		Vendor:            "Datadog",
		VendorAliases:     pq.StringArray{"Datadog Inc"},
		ExpectedFrequency: "monthly",
		ExpectedAmount:    decimal.RequireFromString("500.00"),
		ExpectedCurrency:  "USD",
		TolerancePct:      10,
		Action:            "auto_approve",
		Enabled:           true,
	}

	rule := row.toModel()
	if err := rule.Validate(); err != nil {
		t.Fatalf("Expected a valid rule, got %v", err)
	}
	if rule.ExpectedFrequency != models.FrequencyMonthly {
		t.Errorf("Expected monthly frequency, got %s", rule.ExpectedFrequency)
	}
	if rule.ExpectedAmount.Currency != "USD" {
		t.Errorf("Expected USD, got %s", rule.ExpectedAmount.Currency)
	}
	if !rule.MatchesVendor("datadog inc") {
		t.Error("Expected alias to survive the round trip")
	}
}

func TestPatternRowRoundTrip(t *testing.T) {
	row := patternRow{
		ID:             "pat-1",
		OrganizationID: "org-1",
		SourcePattern:  "stripe",
		TargetPattern:  "stripe payout",
		Confidence:     0.8,
		MatchCount:     3,
	}

	pattern := row.toModel()
	if err := pattern.Validate(); err != nil {
		t.Fatalf("Expected a valid pattern, got %v", err)
	}
	if pattern.Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %f", pattern.Confidence)
	}
	if pattern.MatchCount != 3 {
		t.Errorf("Expected match count 3, got %d", pattern.MatchCount)
	}
}
