// Package ingest loads transactions from CSV exports: payment gateway
// settlement files, bank statements and internal ledger dumps. Column
// layout is configurable per export format.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

// ColumnMapping names the CSV headers carrying each transaction field.
// Reference and Counterparty are optional; the rest are required.
type ColumnMapping struct {
	ID           string `json:"id" mapstructure:"id"`
	Amount       string `json:"amount" mapstructure:"amount"`
	Currency     string `json:"currency" mapstructure:"currency"`
	Date         string `json:"date" mapstructure:"date"`
	Description  string `json:"description" mapstructure:"description"`
	Reference    string `json:"reference" mapstructure:"reference"`
	Counterparty string `json:"counterparty" mapstructure:"counterparty"`
}

// Config controls CSV parsing for one export format
type Config struct {
	Delimiter   rune          `json:"delimiter" mapstructure:"delimiter"`
	Columns     ColumnMapping `json:"columns" mapstructure:"columns"`
	DateFormats []string      `json:"date_formats" mapstructure:"date_formats"`
}

// DefaultConfig returns the standard export layout
func DefaultConfig() *Config {
	return &Config{
		Delimiter: ',',
		Columns: ColumnMapping{
			ID:           "id",
			Amount:       "amount",
			Currency:     "currency",
			Date:         "date",
			Description:  "description",
			Reference:    "reference",
			Counterparty: "counterparty",
		},
		DateFormats: []string{"2006-01-02", "2006-01-02T15:04:05Z07:00", "01/02/2006"},
	}
}

// Validate checks that the required columns are mapped
func (c *Config) Validate() error {
	required := map[string]string{
		"id":       c.Columns.ID,
		"amount":   c.Columns.Amount,
		"currency": c.Columns.Currency,
		"date":     c.Columns.Date,
	}
	for field, header := range required {
		if header == "" {
			return fmt.Errorf("column mapping for %s is required", field)
		}
	}
	if len(c.DateFormats) == 0 {
		return fmt.Errorf("at least one date format is required")
	}
	return nil
}

// Stats summarizes one parse run
type Stats struct {
	Rows   int `json:"rows"`
	Parsed int `json:"parsed"`
}

// Parser reads transactions from CSV data
type Parser struct {
	config *Config
	log    logger.Logger
}

// NewParser creates a parser for one export format
func NewParser(config *Config) (*Parser, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeValidationError, "ingest_config", "", err.Error())
	}

	return &Parser{
		config: config,
		log:    logger.WithComponent("ingest"),
	}, nil
}

// ParseFile loads every transaction from a CSV file
func (p *Parser) ParseFile(ctx context.Context, path, organizationID string, source models.TransactionSource) ([]*models.Transaction, *Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.ValidationError(errors.CodeValidationError, "file", path,
			fmt.Sprintf("cannot open transaction file: %v", err))
	}
	defer file.Close()

	return p.Parse(ctx, file, organizationID, source)
}

// Parse loads transactions from CSV data. The first row must be the
// header; a row that fails to parse fails the load with its line
// number.
func (p *Parser) Parse(ctx context.Context, r io.Reader, organizationID string, source models.TransactionSource) ([]*models.Transaction, *Stats, error) {
	if !source.IsValid() {
		return nil, nil, errors.ValidationError(errors.CodeUnknownSource, "source", string(source),
			"unknown transaction source")
	}

	reader := csv.NewReader(r)
	reader.Comma = p.config.Delimiter
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, errors.ValidationError(errors.CodeValidationError, "header", "",
			fmt.Sprintf("cannot read CSV header: %v", err))
	}

	index, err := p.headerIndex(header)
	if err != nil {
		return nil, nil, err
	}

	stats := &Stats{}
	var txns []*models.Transaction
	line := 1

	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, errors.InternalError("csv parsing", err)
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, stats, errors.ValidationError(errors.CodeValidationError, "row", line,
				fmt.Sprintf("line %d: %v", line, err))
		}
		stats.Rows++

		txn, err := p.parseRow(record, index, organizationID, source)
		if err != nil {
			return nil, stats, errors.ValidationError(errors.CodeValidationError, "row", line,
				fmt.Sprintf("line %d: %v", line, err))
		}

		txns = append(txns, txn)
		stats.Parsed++
	}

	p.log.WithFields(logger.Fields{
		"source": string(source),
		"parsed": stats.Parsed,
	}).Debug("Parsed transaction file")

	return txns, stats, nil
}

type columnIndex struct {
	id, amount, currency, date, description, reference, counterparty int
}

func (p *Parser) headerIndex(header []string) (*columnIndex, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		positions[strings.ToLower(strings.TrimSpace(name))] = i
	}

	lookup := func(name string, required bool) (int, error) {
		if name == "" {
			return -1, nil
		}
		if i, ok := positions[strings.ToLower(name)]; ok {
			return i, nil
		}
		if required {
			return -1, errors.ValidationError(errors.CodeMissingField, "header", name,
				fmt.Sprintf("CSV is missing the %q column", name))
		}
		return -1, nil
	}

	idx := &columnIndex{}
	var err error
	if idx.id, err = lookup(p.config.Columns.ID, true); err != nil {
		return nil, err
	}
	if idx.amount, err = lookup(p.config.Columns.Amount, true); err != nil {
		return nil, err
	}
	if idx.currency, err = lookup(p.config.Columns.Currency, true); err != nil {
		return nil, err
	}
	if idx.date, err = lookup(p.config.Columns.Date, true); err != nil {
		return nil, err
	}
	idx.description, _ = lookup(p.config.Columns.Description, false)
	idx.reference, _ = lookup(p.config.Columns.Reference, false)
	idx.counterparty, _ = lookup(p.config.Columns.Counterparty, false)

	return idx, nil
}

func (p *Parser) parseRow(record []string, idx *columnIndex, organizationID string, source models.TransactionSource) (*models.Transaction, error) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	id := field(idx.id)
	if id == "" {
		return nil, fmt.Errorf("empty transaction ID")
	}

	amount, err := decimal.NewFromString(field(idx.amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", field(idx.amount), err)
	}

	money, err := models.NewMoney(amount, field(idx.currency))
	if err != nil {
		return nil, err
	}

	date, err := p.parseDate(field(idx.date))
	if err != nil {
		return nil, err
	}

	txn := models.NewTransaction(id, organizationID, money, date, source)
	txn.Description = field(idx.description)
	txn.Reference = field(idx.reference)
	txn.Counterparty = field(idx.counterparty)
	txn.SourceID = id

	if err := txn.Validate(); err != nil {
		return nil, err
	}
	return txn, nil
}

func (p *Parser) parseDate(value string) (time.Time, error) {
	for _, layout := range p.config.DateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}
