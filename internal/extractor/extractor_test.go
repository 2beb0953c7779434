package extractor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/llm"
	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/pkg/errors"
)

// fakeLLM returns a canned JSON payload or an error
type fakeLLM struct {
	response []byte
	err      error
	calls    int
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, prompt, schemaName string, schema map[string]any) ([]byte, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeLLM) GenerateJSONWithAttachments(ctx context.Context, prompt string, attachments []llm.Attachment, schemaName string, schema map[string]any) ([]byte, error) {
	f.calls++
	return f.response, f.err
}

func TestBaselineParsesInvoiceEmail(t *testing.T) {
	req := &Request{
		EmailSubject: "Invoice INV-2043 from Stripe",
		EmailBody:    "Invoice Date: 2026-01-05\nTotal: $1,500.00\nDue Date: 2026-02-04",
		EmailSender:  "billing@stripe.com",
	}

	ext := parseBaseline(req)

	if ext.Vendor != "Stripe" {
		t.Errorf("Expected vendor Stripe, got %q", ext.Vendor)
	}
	if ext.InvoiceNumber != "INV-2043" {
		t.Errorf("Expected invoice number INV-2043, got %q", ext.InvoiceNumber)
	}
	if ext.Total == nil {
		t.Fatal("Expected a total amount")
	}
	if !ext.Total.Amount.Equal(decimal.NewFromInt(1500)) || ext.Total.Currency != "USD" {
		t.Errorf("Expected 1500 USD, got %s", ext.Total)
	}
	if ext.InvoiceDate == nil || ext.InvoiceDate.Format("2006-01-02") != "2026-01-05" {
		t.Error("Expected invoice date 2026-01-05")
	}
	if ext.DueDate == nil || ext.DueDate.Format("2006-01-02") != "2026-02-04" {
		t.Error("Expected due date 2026-02-04")
	}
	if ext.Confidence < 0.7 {
		t.Errorf("Expected high confidence for a complete parse, got %f", ext.Confidence)
	}
}

func TestBaselineSparseEmail(t *testing.T) {
	ext := parseBaseline(&Request{EmailBody: "hello there"})

	if ext.Confidence > 0.2 {
		t.Errorf("Expected low confidence for an empty parse, got %f", ext.Confidence)
	}
	if ext.Vendor != "" || ext.Total != nil {
		t.Error("Expected no fields from an uninformative email")
	}
}

func TestExtractSkipsLLMOnConfidentBaseline(t *testing.T) {
	fake := &fakeLLM{}
	ext := NewExtractor(fake, DefaultConfig())

	req := &Request{
		EmailSubject: "Invoice INV-1 from Stripe",
		EmailBody:    "Invoice Date: 2026-01-05\nTotal: $100.00",
		EmailSender:  "billing@stripe.com",
	}

	result, err := ext.Extract(context.Background(), req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if fake.calls != 0 {
		t.Errorf("Expected no external calls for a confident baseline, got %d", fake.calls)
	}
	if result.Degraded {
		t.Error("Expected non-degraded result")
	}
}

func TestExtractMergePrefersExternal(t *testing.T) {
	fake := &fakeLLM{
		response: []byte(`{
			"vendor": "Amazon Web Services",
			"invoice_number": "AWS-778",
			"invoice_date": "2026-03-01",
			"due_date": null,
			"total_amount": "432.10",
			"currency": "USD",
			"line_items": [{"description": "EC2 usage", "quantity": "1", "unit_price": "432.10", "amount": "432.10"}],
			"confidence": 0.92
		}`),
	}
	ext := NewExtractor(fake, DefaultConfig())

	// Sparse email forces the external call
	req := &Request{
		EmailBody:   "see attached",
		EmailSender: "noreply@amazon.com",
	}

	result, err := ext.Extract(context.Background(), req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if fake.calls != 1 {
		t.Fatalf("Expected one external call, got %d", fake.calls)
	}

	if result.Vendor != "Amazon Web Services" {
		t.Errorf("Expected external vendor to win, got %q", result.Vendor)
	}
	if result.InvoiceNumber != "AWS-778" || result.Total == nil {
		t.Error("Expected external fields merged in")
	}
	if len(result.LineItems) != 1 {
		t.Errorf("Expected 1 line item, got %d", len(result.LineItems))
	}

	// Confidence is the minimum of non-null contributors: the sparse
	// baseline found only the vendor (0.3), below the external 0.92.
	if result.Confidence > 0.35 {
		t.Errorf("Expected confidence capped by baseline, got %f", result.Confidence)
	}
}

func TestExtractExternalFailureDegrades(t *testing.T) {
	fake := &fakeLLM{err: errors.ExternalError(errors.CodeExternalTimeout, "llm", fmt.Errorf("deadline"))}
	ext := NewExtractor(fake, DefaultConfig())

	req := &Request{
		EmailBody:   "see attached",
		EmailSender: "billing@stripe.com",
		Attachments: []llm.Attachment{{Filename: "invoice.pdf", ContentType: "application/pdf", Data: []byte("x")}},
	}

	result, err := ext.Extract(context.Background(), req)
	if err != nil {
		t.Fatalf("Expected extraction to survive external failure, got %v", err)
	}

	if !result.Degraded || result.DegradedReason == "" {
		t.Error("Expected degraded result with a reason")
	}
	if result.Vendor != "Stripe" {
		t.Errorf("Expected baseline vendor to stand, got %q", result.Vendor)
	}
}

func TestExtractAttachmentsForceLLM(t *testing.T) {
	fake := &fakeLLM{
		response: []byte(`{"vendor": null, "invoice_number": null, "invoice_date": null, "due_date": null, "total_amount": null, "currency": null, "line_items": [], "confidence": 0.4}`),
	}
	ext := NewExtractor(fake, DefaultConfig())

	req := &Request{
		EmailSubject: "Invoice INV-9 from Stripe",
		EmailBody:    "Invoice Date: 2026-01-05\nTotal: $10.00",
		EmailSender:  "billing@stripe.com",
		Attachments:  []llm.Attachment{{Filename: "scan.png", ContentType: "image/png", Data: []byte("x")}},
	}

	if _, err := ext.Extract(context.Background(), req); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("Expected attachments to force an external call, got %d calls", fake.calls)
	}
}

// stubSuggester returns a fixed suggestion
type stubSuggester struct {
	suggestion *GLSuggestion
	err        error
}

func (s *stubSuggester) SuggestGLCode(ctx context.Context, vendor string) (*GLSuggestion, error) {
	return s.suggestion, s.err
}

func testChart() []Account {
	return []Account{
		{Code: "6100", Name: "Software & SaaS", Keywords: []string{"software", "subscription", "saas", "cloud"}},
		{Code: "6300", Name: "Travel", Keywords: []string{"flight", "hotel", "travel"}},
	}
}

func TestCategorizeLearnedRuleWins(t *testing.T) {
	suggester := &stubSuggester{suggestion: &GLSuggestion{
		GLCode:     "6150",
		Confidence: 0.7,
		Source:     "learned",
		Message:    "learned from 1 previous correction(s)",
	}}
	cat := NewCategorizer(suggester, Account{})

	result := cat.Categorize(context.Background(), &Extraction{Vendor: "Stripe"}, testChart())
	if result.GLCode != "6150" || result.Source != "learned" {
		t.Errorf("Expected learned rule to win, got %+v", result)
	}
}

func TestCategorizeLowConfidenceRuleFallsThrough(t *testing.T) {
	suggester := &stubSuggester{suggestion: &GLSuggestion{GLCode: "6150", Confidence: 0.3, Source: "learned"}}
	cat := NewCategorizer(suggester, Account{})

	extraction := &Extraction{
		Vendor:    "CloudCo",
		LineItems: []models.InvoiceLineItem{{Description: "cloud software subscription"}},
	}

	result := cat.Categorize(context.Background(), extraction, testChart())
	if result.GLCode != "6100" || result.Source != "keywords" {
		t.Errorf("Expected keyword match, got %+v", result)
	}

	// 3 keyword hits: 0.5 + 0.3
	if result.Confidence < 0.79 || result.Confidence > 0.81 {
		t.Errorf("Expected confidence 0.8, got %f", result.Confidence)
	}
}

func TestCategorizeDefaultFallback(t *testing.T) {
	cat := NewCategorizer(nil, Account{Code: "6999", Name: "Other Expenses"})

	result := cat.Categorize(context.Background(), &Extraction{Vendor: "Unknown Vendor"}, testChart())
	if result.GLCode != "6999" || result.Source != "default" {
		t.Errorf("Expected default account, got %+v", result)
	}
	if result.Confidence != 0.5 {
		t.Errorf("Expected default confidence 0.5, got %f", result.Confidence)
	}
}

func TestCategorizeKeywordConfidenceCap(t *testing.T) {
	chart := []Account{{
		Code: "6100", Name: "Everything",
		Keywords: []string{"a", "b", "c", "d", "e", "f", "g"},
	}}
	cat := NewCategorizer(nil, Account{})

	extraction := &Extraction{
		Vendor:    "a b c",
		LineItems: []models.InvoiceLineItem{{Description: "d e f g"}},
	}

	result := cat.Categorize(context.Background(), extraction, chart)
	if result.Confidence != 0.95 {
		t.Errorf("Expected confidence capped at 0.95, got %f", result.Confidence)
	}
}

func TestVendorFromSender(t *testing.T) {
	tests := []struct {
		sender   string
		expected string
	}{
		{"billing@stripe.com", "Stripe"},
		{"Stripe Billing <billing@stripe.com>", "Stripe"},
		{"noreply@mail.datadoghq.com", "Datadoghq"},
		{"not-an-address", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := vendorFromSender(tt.sender); got != tt.expected {
			t.Errorf("vendorFromSender(%q) = %q, expected %q", tt.sender, got, tt.expected)
		}
	}
}

func TestParseDateFormats(t *testing.T) {
	for _, s := range []string{"2026-01-05", "1/5/2026", "01/05/2026"} {
		got, ok := parseDate(s)
		if !ok {
			t.Errorf("parseDate(%q) failed", s)
			continue
		}
		expected := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
		if !got.Equal(expected) {
			t.Errorf("parseDate(%q) = %s, expected %s", s, got, expected)
		}
	}
}
