package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ap-reconciliation-engine/internal/models"
)

// Deterministic text parser. It never calls out and its confidence
// reflects how many invoice fields it actually located.

var (
	invoiceNumberRe = regexp.MustCompile(`(?i)invoice\s*(?:no\.?|number|num|#)?\s*[:#]?\s*([A-Z]{0,4}[-_]?[0-9][A-Z0-9-_]*)`)
	totalRe         = regexp.MustCompile(`(?i)(?:total|amount\s+due|balance\s+due|grand\s+total)\s*[:\s]\s*([$€£]?)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	invoiceDateRe   = regexp.MustCompile(`(?i)(?:invoice\s+date|dated?)\s*[:\s]\s*([0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{1,2}/[0-9]{1,2}/[0-9]{4})`)
	dueDateRe       = regexp.MustCompile(`(?i)(?:due\s+(?:date|by|on))\s*[:\s]\s*([0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{1,2}/[0-9]{1,2}/[0-9]{4})`)
)

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
}

func parseBaseline(req *Request) *Extraction {
	text := req.EmailSubject + "\n" + req.EmailBody
	ext := &Extraction{}
	found := 0

	if vendor := vendorFromSender(req.EmailSender); vendor != "" {
		ext.Vendor = vendor
		found++
	}

	if m := invoiceNumberRe.FindStringSubmatch(text); m != nil {
		ext.InvoiceNumber = strings.TrimSpace(m[1])
		found++
	}

	if m := totalRe.FindStringSubmatch(text); m != nil {
		currency := "USD"
		if iso, ok := currencySymbols[m[1]]; ok {
			currency = iso
		}
		amountStr := strings.ReplaceAll(m[2], ",", "")
		if amount, err := decimal.NewFromString(amountStr); err == nil {
			if money, err := models.NewMoney(amount, currency); err == nil {
				ext.Total = &money
				found++
			}
		}
	}

	if m := invoiceDateRe.FindStringSubmatch(text); m != nil {
		if t, ok := parseDate(m[1]); ok {
			ext.InvoiceDate = &t
			found++
		}
	}

	if m := dueDateRe.FindStringSubmatch(text); m != nil {
		if t, ok := parseDate(m[1]); ok {
			ext.DueDate = &t
		}
	}

	// 0.1 floor for an email that yielded nothing, up to 0.9 when
	// vendor, number, total and date were all located.
	ext.Confidence = 0.1 + 0.2*float64(found)
	if ext.Confidence > 0.9 {
		ext.Confidence = 0.9
	}

	return ext
}

// vendorFromSender derives a vendor name from the sender address
// domain: "billing@stripe.com" becomes "Stripe".
func vendorFromSender(sender string) string {
	at := strings.LastIndex(sender, "@")
	if at < 0 || at == len(sender)-1 {
		return ""
	}

	domain := strings.TrimSuffix(sender[at+1:], ">")
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return ""
	}

	base := parts[len(parts)-2]
	if base == "" {
		return ""
	}
	return strings.ToUpper(base[:1]) + base[1:]
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "1/2/2006", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
