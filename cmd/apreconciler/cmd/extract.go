package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ap-reconciliation-engine/internal/extractor"
	"ap-reconciliation-engine/internal/learning"
	"ap-reconciliation-engine/internal/llm"
	"ap-reconciliation-engine/internal/patterns"
)

// Flags for the extract command
var (
	emailFile    string
	emailSender  string
	emailSubject string
	extractOrg   string
	extractLLM   bool
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract invoice details from a vendor email",
	Long: `Extract parses an invoice email into structured data: vendor,
invoice number, dates, total and line items, plus a suggested GL
account. The deterministic text parser always runs; pass --llm with
APRECON_OPENAI_API_KEY set to let the model refine low-confidence
extractions. The result is printed as JSON.

Examples:
  apreconciler extract --email-file invoice.txt --sender billing@datadog.com --org acme
  apreconciler extract --email-file invoice.txt --sender billing@aws.com \
    --subject "Invoice #12345" --org acme --llm`,

	PreRunE: validateExtractFlags,
	RunE:    runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVar(&emailFile, "email-file", "", "path to the email body text file (required)")
	extractCmd.Flags().StringVar(&emailSender, "sender", "", "email sender address (required)")
	extractCmd.Flags().StringVar(&emailSubject, "subject", "", "email subject line")
	extractCmd.Flags().StringVar(&extractOrg, "org", "", "organization identifier (required)")
	extractCmd.Flags().BoolVar(&extractLLM, "llm", false, "refine extraction with the external model")

	extractCmd.MarkFlagRequired("email-file")
	extractCmd.MarkFlagRequired("sender")
	extractCmd.MarkFlagRequired("org")

	viper.BindPFlag("email-file", extractCmd.Flags().Lookup("email-file"))
	viper.BindPFlag("sender", extractCmd.Flags().Lookup("sender"))
	viper.BindPFlag("subject", extractCmd.Flags().Lookup("subject"))
	viper.BindPFlag("extract-llm", extractCmd.Flags().Lookup("llm"))
}

func validateExtractFlags(cmd *cobra.Command, args []string) error {
	emailFile = viper.GetString("email-file")
	emailSender = viper.GetString("sender")
	emailSubject = viper.GetString("subject")

	if extractOrg == "" {
		return fmt.Errorf("org is required")
	}
	if emailSender == "" {
		return fmt.Errorf("sender is required")
	}
	return validateFileExists(emailFile, "email file")
}

// extractResponse is the JSON document the command prints
type extractResponse struct {
	Extraction *extractor.Extraction   `json:"extraction"`
	GLCode     *extractor.GLSuggestion `json:"gl_suggestion"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	body, err := os.ReadFile(emailFile)
	if err != nil {
		return fmt.Errorf("failed to read email file: %w", err)
	}

	var client llm.Client
	if extractLLM {
		apiKey := os.Getenv("APRECON_OPENAI_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("--llm requires APRECON_OPENAI_API_KEY to be set")
		}
		client = llm.NewOpenAIClient(apiKey)
	}

	extractorConfig := extractor.DefaultConfig()
	extractorConfig.LLMEnabled = extractLLM

	ext := extractor.NewExtractor(client, extractorConfig)
	extraction, err := ext.Extract(ctx, &extractor.Request{
		EmailSubject: emailSubject,
		EmailBody:    string(body),
		EmailSender:  emailSender,
	})
	if err != nil {
		return err
	}

	learningService := learning.NewService(learning.NewMemoryStore(), patterns.NewMemoryStore())
	categorizer := extractor.NewCategorizer(
		orgRuleSuggester{svc: learningService, organizationID: extractOrg},
		extractor.Account{},
	)
	suggestion := categorizer.Categorize(ctx, extraction, defaultChartOfAccounts())

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(&extractResponse{Extraction: extraction, GLCode: suggestion})
}

// orgRuleSuggester binds the learning service to one organization for
// the categorizer's vendor lookups.
type orgRuleSuggester struct {
	svc            *learning.Service
	organizationID string
}

func (s orgRuleSuggester) SuggestGLCode(ctx context.Context, vendor string) (*extractor.GLSuggestion, error) {
	suggestion, err := s.svc.SuggestGLCode(ctx, s.organizationID, vendor)
	if err != nil || suggestion == nil {
		return nil, err
	}
	return &extractor.GLSuggestion{
		GLCode:     suggestion.Value,
		Confidence: suggestion.Confidence,
		Source:     "learned_rule",
		Message:    suggestion.Message,
	}, nil
}

// defaultChartOfAccounts is the keyword-scored chart used when no
// organization-specific chart is configured.
func defaultChartOfAccounts() []extractor.Account {
	return []extractor.Account{
		{Code: "6100", Name: "Software & SaaS", Keywords: []string{"subscription", "saas", "license", "cloud", "hosting", "api"}},
		{Code: "6200", Name: "Professional Services", Keywords: []string{"consulting", "services", "retainer", "legal", "audit"}},
		{Code: "6300", Name: "Office & Supplies", Keywords: []string{"office", "supplies", "equipment", "furniture"}},
		{Code: "6400", Name: "Travel & Entertainment", Keywords: []string{"travel", "flight", "hotel", "meals"}},
		{Code: "6500", Name: "Marketing", Keywords: []string{"advertising", "marketing", "campaign", "sponsorship"}},
	}
}
