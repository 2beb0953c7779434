// Package report renders reconciliation batch results for people and
// machines: a console summary for terminal use, JSON for programmatic
// consumers and CSV for spreadsheet review.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"ap-reconciliation-engine/internal/reconciler"
	"ap-reconciliation-engine/pkg/errors"
)

// OutputFormat selects the report rendering
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	}
	return false
}

// Config holds report generation options
type Config struct {
	Format           OutputFormat `json:"format"`
	IncludeMatches   bool         `json:"include_matches"`
	IncludeExceptions bool        `json:"include_exceptions"`
}

// DefaultConfig returns the standard console report settings
func DefaultConfig() *Config {
	return &Config{
		Format:            FormatConsole,
		IncludeMatches:    true,
		IncludeExceptions: true,
	}
}

// Generator renders batch results
type Generator struct {
	config *Config
}

// NewGenerator creates a report generator
func NewGenerator(config *Config) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Format.IsValid() {
		return nil, errors.ValidationError(errors.CodeValidationError, "format", string(config.Format),
			"output format must be console, json or csv")
	}
	return &Generator{config: config}, nil
}

// Generate writes the batch result to the writer in the configured
// format
func (g *Generator) Generate(result *reconciler.Result, w io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, "result cannot be nil")
	}

	switch g.config.Format {
	case FormatJSON:
		return g.generateJSON(result, w)
	case FormatCSV:
		return g.generateCSV(result, w)
	default:
		return g.generateConsole(result, w)
	}
}

func (g *Generator) generateJSON(result *reconciler.Result, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func (g *Generator) generateConsole(result *reconciler.Result, w io.Writer) error {
	var b strings.Builder

	b.WriteString("Reconciliation Report\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "Batch:        %s\n", result.BatchID)
	fmt.Fprintf(&b, "Organization: %s\n", result.OrganizationID)
	fmt.Fprintf(&b, "Completed:    %s\n\n", result.CompletedAt.Format("2006-01-02 15:04:05 UTC"))

	fmt.Fprintf(&b, "Transactions: %d\n", result.TotalTxns)
	fmt.Fprintf(&b, "Matched:      %d (%.1f%%)\n", result.MatchedTxns, result.MatchRate*100)
	fmt.Fprintf(&b, "Matches:      %d\n", len(result.Matches))
	fmt.Fprintf(&b, "Drafts:       %d\n", len(result.Drafts))
	fmt.Fprintf(&b, "Exceptions:   %d\n", len(result.Exceptions))

	if g.config.IncludeMatches && len(result.Matches) > 0 {
		b.WriteString("\nMatches\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, m := range result.Matches {
			flags := ""
			if m.NeedsReview {
				flags += " [review]"
			}
			if m.IsSplit {
				flags += " [split]"
			}
			if m.DetectedFee != nil {
				flags += fmt.Sprintf(" [fee %s]", m.DetectedFee)
			}
			fmt.Fprintf(&b, "  %s -> %s  score %d%s\n",
				m.SourceTxnID, strings.Join(m.TargetTxnIDs, "+"), m.Score, flags)
		}
	}

	if g.config.IncludeExceptions && len(result.Exceptions) > 0 {
		b.WriteString("\nExceptions\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, exc := range result.Exceptions {
			fmt.Fprintf(&b, "  [%-8s] %-14s %s\n", exc.Priority, exc.Type, exc.Description)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (g *Generator) generateCSV(result *reconciler.Result, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"record_type", "id", "source_txn", "target_txns", "score", "priority", "detail"}); err != nil {
		return err
	}

	for _, m := range result.Matches {
		detail := ""
		if m.DetectedFee != nil {
			detail = fmt.Sprintf("fee %s", m.DetectedFee)
		}
		if err := writer.Write([]string{
			"match", m.ID, m.SourceTxnID, strings.Join(m.TargetTxnIDs, "|"),
			fmt.Sprintf("%d", m.Score), "", detail,
		}); err != nil {
			return err
		}
	}

	for _, exc := range result.Exceptions {
		if err := writer.Write([]string{
			"exception", exc.ID, exc.TransactionID, "", "", string(exc.Priority), exc.Description,
		}); err != nil {
			return err
		}
	}

	return writer.Error()
}
