// Package extractor turns inbound invoice emails into structured
// invoice data and suggests a GL account for them. A deterministic
// text parser always runs first; the external model only refines its
// output and can never fail an extraction.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/llm"
	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/logger"
)

// Request carries one inbound invoice email
type Request struct {
	EmailSubject string           `json:"email_subject,omitempty"`
	EmailBody    string           `json:"email_body,omitempty"`
	EmailSender  string           `json:"email_sender,omitempty"`
	Attachments  []llm.Attachment `json:"attachments,omitempty"`
}

// Extraction is the structured result of parsing one invoice
type Extraction struct {
	Vendor        string                   `json:"vendor,omitempty"`
	InvoiceNumber string                   `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time               `json:"invoice_date,omitempty"`
	DueDate       *time.Time               `json:"due_date,omitempty"`
	Total         *models.Money            `json:"total,omitempty"`
	LineItems     []models.InvoiceLineItem `json:"line_items,omitempty"`
	Confidence    float64                  `json:"confidence"`

	// Degraded marks an extraction whose external refinement failed;
	// the deterministic baseline stands.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// Config controls when the external model is consulted
type Config struct {
	// LLMEnabled gates all external calls.
	LLMEnabled bool `json:"llm_enabled"`

	// MinBaselineConfidence is the parser confidence below which the
	// external model is consulted even without attachments.
	MinBaselineConfidence float64 `json:"min_baseline_confidence"`
}

// DefaultConfig returns the standard extraction configuration
func DefaultConfig() *Config {
	return &Config{
		LLMEnabled:            true,
		MinBaselineConfidence: 0.7,
	}
}

// Extractor composes the baseline parser with the external model
type Extractor struct {
	client llm.Client
	config *Config
	log    logger.Logger
}

// NewExtractor creates an extractor. A nil client disables external
// refinement regardless of configuration.
func NewExtractor(client llm.Client, config *Config) *Extractor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Extractor{
		client: client,
		config: config,
		log:    logger.WithComponent("invoice_extractor"),
	}
}

// Extract parses the request. The baseline always produces a result;
// the external model refines it when attachments are present or the
// baseline confidence is low. An external failure degrades the result
// instead of failing it.
func (e *Extractor) Extract(ctx context.Context, req *Request) (*Extraction, error) {
	baseline := parseBaseline(req)

	useLLM := e.config.LLMEnabled && e.client != nil &&
		(len(req.Attachments) > 0 || baseline.Confidence < e.config.MinBaselineConfidence)
	if !useLLM {
		return baseline, nil
	}

	external, err := e.extractExternal(ctx, req)
	if err != nil {
		e.log.WithError(err).Warn("External extraction failed, baseline stands")
		baseline.Degraded = true
		baseline.DegradedReason = err.Error()
		return baseline, nil
	}

	return mergeExtractions(baseline, external), nil
}

// llmInvoice is the wire shape the model is asked to produce. Nullable
// fields stay pointers so absent values never override the baseline.
type llmInvoice struct {
	Vendor        *string `json:"vendor"`
	InvoiceNumber *string `json:"invoice_number"`
	InvoiceDate   *string `json:"invoice_date"`
	DueDate       *string `json:"due_date"`
	TotalAmount   *string `json:"total_amount"`
	Currency      *string `json:"currency"`
	LineItems     []struct {
		Description string `json:"description"`
		Quantity    string `json:"quantity"`
		UnitPrice   string `json:"unit_price"`
		Amount      string `json:"amount"`
	} `json:"line_items"`
	Confidence float64 `json:"confidence"`
}

func (e *Extractor) extractExternal(ctx context.Context, req *Request) (*Extraction, error) {
	prompt := fmt.Sprintf(`You are an accounts-payable assistant. Extract the invoice
details from the email below (and any attached document images).
Return null for any field you cannot determine. Dates are YYYY-MM-DD.
Amounts are plain decimal strings without currency symbols; currency is
a 3-letter ISO code. Confidence is 0.0-1.0.

Subject: %s
Sender: %s

%s`, req.EmailSubject, req.EmailSender, req.EmailBody)

	var raw []byte
	var err error
	if len(req.Attachments) > 0 {
		raw, err = e.client.GenerateJSONWithAttachments(ctx, prompt, req.Attachments, "invoice_extraction", invoiceSchema())
	} else {
		raw, err = e.client.GenerateJSON(ctx, prompt, "invoice_extraction", invoiceSchema())
	}
	if err != nil {
		return nil, err
	}

	var parsed llmInvoice
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unparseable model output: %w", err)
	}

	ext := &Extraction{Confidence: clamp01(parsed.Confidence)}
	if parsed.Vendor != nil {
		ext.Vendor = *parsed.Vendor
	}
	if parsed.InvoiceNumber != nil {
		ext.InvoiceNumber = *parsed.InvoiceNumber
	}
	if parsed.InvoiceDate != nil {
		if t, err := time.Parse("2006-01-02", *parsed.InvoiceDate); err == nil {
			ext.InvoiceDate = &t
		}
	}
	if parsed.DueDate != nil {
		if t, err := time.Parse("2006-01-02", *parsed.DueDate); err == nil {
			ext.DueDate = &t
		}
	}
	if parsed.TotalAmount != nil {
		currency := "USD"
		if parsed.Currency != nil && *parsed.Currency != "" {
			currency = *parsed.Currency
		}
		if amount, err := decimal.NewFromString(*parsed.TotalAmount); err == nil {
			if money, err := models.NewMoney(amount, currency); err == nil {
				ext.Total = &money
			}
		}
	}
	for _, li := range parsed.LineItems {
		ext.LineItems = append(ext.LineItems, models.InvoiceLineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Amount:      li.Amount,
		})
	}

	return ext, nil
}

// mergeExtractions prefers the external value for each field when it is
// non-null, otherwise keeps the baseline. Confidence is the minimum of
// the non-null contributors.
func mergeExtractions(baseline, external *Extraction) *Extraction {
	merged := *baseline

	if external.Vendor != "" {
		merged.Vendor = external.Vendor
	}
	if external.InvoiceNumber != "" {
		merged.InvoiceNumber = external.InvoiceNumber
	}
	if external.InvoiceDate != nil {
		merged.InvoiceDate = external.InvoiceDate
	}
	if external.DueDate != nil {
		merged.DueDate = external.DueDate
	}
	if external.Total != nil {
		merged.Total = external.Total
	}
	if len(external.LineItems) > 0 {
		merged.LineItems = external.LineItems
	}

	merged.Confidence = baseline.Confidence
	if external.Confidence > 0 && external.Confidence < merged.Confidence {
		merged.Confidence = external.Confidence
	}

	return &merged
}

func invoiceSchema() map[string]any {
	nullableString := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"anyOf": []any{
				map[string]any{"type": "string"},
				map[string]any{"type": "null"},
			},
		}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"vendor", "invoice_number", "invoice_date", "due_date",
			"total_amount", "currency", "line_items", "confidence",
		},
		"properties": map[string]any{
			"vendor":         nullableString("Canonical vendor name."),
			"invoice_number": nullableString("Invoice number as printed."),
			"invoice_date":   nullableString("Invoice date, YYYY-MM-DD."),
			"due_date":       nullableString("Due date, YYYY-MM-DD."),
			"total_amount":   nullableString("Total as a decimal string, no symbols."),
			"currency":       nullableString("3-letter ISO currency code."),
			"line_items": map[string]any{
				"type":        "array",
				"description": "Extracted invoice lines.",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"description", "quantity", "unit_price", "amount"},
					"properties": map[string]any{
						"description": map[string]any{"type": "string"},
						"quantity":    map[string]any{"type": "string"},
						"unit_price":  map[string]any{"type": "string"},
						"amount":      map[string]any{"type": "string"},
					},
				},
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "Extraction confidence between 0.0 and 1.0.",
			},
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
