package config

import (
	"testing"
	"time"

	"ap-reconciliation-engine/internal/report"
)

func TestCreateIngestConfig(t *testing.T) {
	config, err := CreateIngestConfig("02/01/2006")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if config.DateFormats[0] != "02/01/2006" {
		t.Errorf("Expected explicit date format first, got %s", config.DateFormats[0])
	}

	config, err = CreateIngestConfig("")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(config.DateFormats) == 0 {
		t.Error("Expected default date formats")
	}
}

func TestCreateReconcilerConfig(t *testing.T) {
	config, err := CreateReconcilerConfig(2.5, 3, 8, true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if config.AmountTolerancePct != 2.5 {
		t.Errorf("Expected amount tolerance 2.5, got %v", config.AmountTolerancePct)
	}
	if config.DateWindowDays != 3 {
		t.Errorf("Expected date window 3, got %d", config.DateWindowDays)
	}
	if config.WorkerCount != 8 {
		t.Errorf("Expected 8 workers, got %d", config.WorkerCount)
	}
	if !config.LLMEnabled {
		t.Error("Expected LLM enabled")
	}

	// Zero overrides keep the defaults
	config, err = CreateReconcilerConfig(0, 0, 0, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if config.AmountTolerancePct != 5.0 {
		t.Errorf("Expected default tolerance 5.0, got %v", config.AmountTolerancePct)
	}
	if config.WorkerCount != 4 {
		t.Errorf("Expected default 4 workers, got %d", config.WorkerCount)
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format string
		want   report.OutputFormat
	}{
		{"console", report.FormatConsole},
		{"json", report.FormatJSON},
		{"csv", report.FormatCSV},
		{"bogus", report.FormatConsole},
	}

	for _, tt := range tests {
		config := CreateReportConfig(tt.format)
		if config.Format != tt.want {
			t.Errorf("Format %s: expected %s, got %s", tt.format, tt.want, config.Format)
		}
	}
}

func TestCreateStorageConfig(t *testing.T) {
	config, err := CreateStorageConfig("postgres://localhost/apengine", 5*time.Second)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if config.QueryTimeout != 5*time.Second {
		t.Errorf("Expected 5s query timeout, got %v", config.QueryTimeout)
	}

	if _, err := CreateStorageConfig("", 0); err == nil {
		t.Error("Expected an error for an empty database URL")
	}
}
