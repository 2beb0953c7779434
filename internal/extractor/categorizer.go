package extractor

import (
	"context"
	"strings"

	"ap-reconciliation-engine/pkg/logger"
)

// Account is one chart-of-accounts entry with the keywords used for
// keyword-based categorization.
type Account struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords,omitempty"`
}

// GLSuggestion is a categorization outcome with provenance
type GLSuggestion struct {
	GLCode     string  `json:"gl_code"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Message    string  `json:"message,omitempty"`
}

// RuleSuggester is the narrow slice of the learning service the
// categorizer consults for vendor-to-GL rules.
type RuleSuggester interface {
	SuggestGLCode(ctx context.Context, vendor string) (*GLSuggestion, error)
}

// minRuleConfidence is the learned-rule confidence below which the
// categorizer falls through to keyword scoring.
const minRuleConfidence = 0.5

// Categorizer assigns a GL account to an extracted invoice
type Categorizer struct {
	suggester      RuleSuggester
	defaultAccount Account
	log            logger.Logger
}

// NewCategorizer creates a categorizer. The default account is used
// when neither a learned rule nor keyword scoring produces an answer.
func NewCategorizer(suggester RuleSuggester, defaultAccount Account) *Categorizer {
	if defaultAccount.Code == "" {
		defaultAccount = Account{Code: "6999", Name: "Other Expenses"}
	}
	return &Categorizer{
		suggester:      suggester,
		defaultAccount: defaultAccount,
		log:            logger.WithComponent("categorizer"),
	}
}

// Categorize picks a GL account for the extraction. Precedence: a
// learned vendor rule with sufficient confidence, then keyword scoring
// over the chart of accounts, then the default account.
func (c *Categorizer) Categorize(ctx context.Context, extraction *Extraction, chartOfAccounts []Account) *GLSuggestion {
	if c.suggester != nil && extraction.Vendor != "" {
		suggestion, err := c.suggester.SuggestGLCode(ctx, extraction.Vendor)
		if err != nil {
			c.log.WithError(err).Warn("Learned-rule lookup failed, falling back to keywords")
		} else if suggestion != nil && suggestion.Confidence >= minRuleConfidence {
			return suggestion
		}
	}

	if best := c.scoreKeywords(extraction, chartOfAccounts); best != nil {
		return best
	}

	return &GLSuggestion{
		GLCode:     c.defaultAccount.Code,
		Confidence: 0.5,
		Source:     "default",
		Message:    "no rule or keyword matched, defaulting to " + c.defaultAccount.Name,
	}
}

// scoreKeywords counts keyword hits per account against the token
// stream of vendor, invoice number and line descriptions. Confidence is
// 0.5 + 0.1 per hit, capped at 0.95.
func (c *Categorizer) scoreKeywords(extraction *Extraction, chartOfAccounts []Account) *GLSuggestion {
	tokens := tokenStream(extraction)
	if len(tokens) == 0 {
		return nil
	}

	bestScore := 0
	var bestAccount *Account
	for i := range chartOfAccounts {
		account := &chartOfAccounts[i]
		score := 0
		for _, kw := range account.Keywords {
			if tokens[strings.ToLower(kw)] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestAccount = account
		}
	}

	if bestAccount == nil {
		return nil
	}

	confidence := 0.5 + 0.1*float64(bestScore)
	if confidence > 0.95 {
		confidence = 0.95
	}

	return &GLSuggestion{
		GLCode:     bestAccount.Code,
		Confidence: confidence,
		Source:     "keywords",
		Message:    "matched keywords for " + bestAccount.Name,
	}
}

func tokenStream(extraction *Extraction) map[string]bool {
	var parts []string
	parts = append(parts, extraction.Vendor, extraction.InvoiceNumber)
	for _, li := range extraction.LineItems {
		parts = append(parts, li.Description)
	}

	tokens := make(map[string]bool)
	for _, part := range parts {
		for _, tok := range strings.Fields(strings.ToLower(part)) {
			tok = strings.Trim(tok, ".,;:()[]")
			if tok != "" {
				tokens[tok] = true
			}
		}
	}
	return tokens
}
