// Package config builds component configurations for the CLI from
// flag values and viper settings.
package config

import (
	"fmt"
	"time"

	"ap-reconciliation-engine/internal/ingest"
	"ap-reconciliation-engine/internal/reconciler"
	"ap-reconciliation-engine/internal/report"
	"ap-reconciliation-engine/internal/storage"
)

// CreateIngestConfig creates a CSV parser configuration. Column
// aliases cover the header variants the common gateway and bank
// exports use.
func CreateIngestConfig(dateFormat string) (*ingest.Config, error) {
	config := ingest.DefaultConfig()

	if dateFormat != "" {
		// Put the explicit format first so it wins over the defaults.
		config.DateFormats = append([]string{dateFormat}, config.DateFormats...)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}
	return config, nil
}

// CreateReconcilerConfig creates a reconciler configuration with the
// CLI tolerance overrides applied.
func CreateReconcilerConfig(amountTolerance float64, dateWindow, workers int, llmEnabled bool) (*reconciler.Config, error) {
	config := reconciler.DefaultConfig()

	if amountTolerance > 0 {
		config.AmountTolerancePct = amountTolerance
	}
	if dateWindow > 0 {
		config.DateWindowDays = dateWindow
	}
	if workers > 0 {
		config.WorkerCount = workers
	}
	config.LLMEnabled = llmEnabled

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconciler config: %w", err)
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the requested
// output format.
func CreateReportConfig(format string) *report.Config {
	config := report.DefaultConfig()

	switch format {
	case "json":
		config.Format = report.FormatJSON
	case "csv":
		config.Format = report.FormatCSV
	default:
		config.Format = report.FormatConsole
	}

	return config
}

// CreateStorageConfig creates a database configuration from the CLI
// database URL and optional query timeout.
func CreateStorageConfig(databaseURL string, queryTimeout time.Duration) (*storage.Config, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	config := storage.DefaultConfig()
	config.URL = databaseURL
	if queryTimeout > 0 {
		config.QueryTimeout = queryTimeout
	}

	return config, nil
}
