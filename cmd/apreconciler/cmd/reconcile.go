package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ap-reconciliation-engine/cmd/apreconciler/config"
	"ap-reconciliation-engine/internal/ingest"
	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/patterns"
	"ap-reconciliation-engine/internal/reconciler"
	"ap-reconciliation-engine/internal/report"
	"ap-reconciliation-engine/internal/storage"
)

// Flags for the reconcile command
var (
	gatewayFile     string
	bankFile        string
	internalFile    string
	organizationID  string
	outputFormat    string
	outputFile      string
	dateFormat      string
	amountTolerance float64
	dateWindow      int
	workerCount     int
	databaseURL     string
	llmEnabled      bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile gateway settlements against bank statements",
	Long: `Reconcile scores payment gateway settlement records against bank
statement records, confirms matches, detects processor fees and split
settlements, generates draft journal entries for high-confidence
matches and routes everything unmatched into the exception queue.

With --database-url the batch is committed atomically to PostgreSQL
and learned fee patterns are loaded from and updated in the database.
Without it the run is in-memory and the report is the only output.

Examples:
  # In-memory run, console report
  apreconciler reconcile --gateway-file payouts.csv --bank-file statement.csv --org acme

  # Three-way with internal ledger records, JSON to a file
  apreconciler reconcile --gateway-file p.csv --bank-file s.csv \
    --internal-file ledger.csv --org acme \
    --output-format json --output-file batch.json

  # Persisted run with custom tolerances
  apreconciler reconcile --gateway-file p.csv --bank-file s.csv --org acme \
    --amount-tolerance 2.5 --date-window 3 \
    --database-url postgres://localhost/apengine?sslmode=disable`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringVarP(&gatewayFile, "gateway-file", "g", "", "path to gateway settlement CSV file (required)")
	reconcileCmd.Flags().StringVarP(&bankFile, "bank-file", "b", "", "path to bank statement CSV file (required)")
	reconcileCmd.Flags().StringVar(&organizationID, "org", "", "organization identifier (required)")

	// Optional inputs
	reconcileCmd.Flags().StringVar(&internalFile, "internal-file", "", "path to internal ledger CSV file for three-way annotation")
	reconcileCmd.Flags().StringVar(&dateFormat, "date-format", "", "additional date layout for CSV parsing (Go reference format)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// Matching configuration flags
	reconcileCmd.Flags().Float64VarP(&amountTolerance, "amount-tolerance", "a", 0, "amount gate in percent (default 5.0)")
	reconcileCmd.Flags().IntVarP(&dateWindow, "date-window", "d", 0, "date gate in days (default 7)")
	reconcileCmd.Flags().IntVarP(&workerCount, "workers", "w", 0, "scoring worker count (default 4)")
	reconcileCmd.Flags().BoolVar(&llmEnabled, "llm", false, "enable AI explanations on exceptions")

	// Persistence
	reconcileCmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL; omit for an in-memory run")

	reconcileCmd.MarkFlagRequired("gateway-file")
	reconcileCmd.MarkFlagRequired("bank-file")
	reconcileCmd.MarkFlagRequired("org")

	viper.BindPFlag("gateway-file", reconcileCmd.Flags().Lookup("gateway-file"))
	viper.BindPFlag("bank-file", reconcileCmd.Flags().Lookup("bank-file"))
	viper.BindPFlag("internal-file", reconcileCmd.Flags().Lookup("internal-file"))
	viper.BindPFlag("org", reconcileCmd.Flags().Lookup("org"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("date-format", reconcileCmd.Flags().Lookup("date-format"))
	viper.BindPFlag("amount-tolerance", reconcileCmd.Flags().Lookup("amount-tolerance"))
	viper.BindPFlag("date-window", reconcileCmd.Flags().Lookup("date-window"))
	viper.BindPFlag("workers", reconcileCmd.Flags().Lookup("workers"))
	viper.BindPFlag("llm", reconcileCmd.Flags().Lookup("llm"))
	viper.BindPFlag("database-url", reconcileCmd.Flags().Lookup("database-url"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	gatewayFile = viper.GetString("gateway-file")
	bankFile = viper.GetString("bank-file")
	internalFile = viper.GetString("internal-file")
	organizationID = viper.GetString("org")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	dateFormat = viper.GetString("date-format")
	amountTolerance = viper.GetFloat64("amount-tolerance")
	dateWindow = viper.GetInt("date-window")
	workerCount = viper.GetInt("workers")
	llmEnabled = viper.GetBool("llm")
	databaseURL = viper.GetString("database-url")

	if organizationID == "" {
		return fmt.Errorf("org is required")
	}

	if err := validateFileExists(gatewayFile, "gateway settlement file"); err != nil {
		return err
	}
	if err := validateFileExists(bankFile, "bank statement file"); err != nil {
		return err
	}
	if internalFile != "" {
		if err := validateFileExists(internalFile, "internal ledger file"); err != nil {
			return err
		}
	}

	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	if amountTolerance < 0 || amountTolerance > 100 {
		return fmt.Errorf("amount tolerance must be between 0.0 and 100.0")
	}
	if dateWindow < 0 {
		return fmt.Errorf("date window cannot be negative")
	}
	if workerCount < 0 {
		return fmt.Errorf("worker count cannot be negative")
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation for %s...\n", organizationID)
		fmt.Fprintf(os.Stderr, "Gateway file: %s\n", gatewayFile)
		fmt.Fprintf(os.Stderr, "Bank file:    %s\n", bankFile)
		if internalFile != "" {
			fmt.Fprintf(os.Stderr, "Internal file: %s\n", internalFile)
		}
	}

	ingestConfig, err := config.CreateIngestConfig(dateFormat)
	if err != nil {
		return err
	}
	parser, err := ingest.NewParser(ingestConfig)
	if err != nil {
		return err
	}

	sources, _, err := parser.ParseFile(ctx, gatewayFile, organizationID, models.SourceGateway)
	if err != nil {
		return fmt.Errorf("failed to parse gateway file: %w", err)
	}
	targets, _, err := parser.ParseFile(ctx, bankFile, organizationID, models.SourceBank)
	if err != nil {
		return fmt.Errorf("failed to parse bank file: %w", err)
	}

	var internals []*models.Transaction
	if internalFile != "" {
		internals, _, err = parser.ParseFile(ctx, internalFile, organizationID, models.SourceInternal)
		if err != nil {
			return fmt.Errorf("failed to parse internal ledger file: %w", err)
		}
	}

	// Pick persistence: PostgreSQL when a URL is given, in-memory otherwise.
	var (
		patternStore patterns.Store
		sink         reconciler.Sink
	)
	if databaseURL != "" {
		storageConfig, err := config.CreateStorageConfig(databaseURL, 0)
		if err != nil {
			return err
		}
		db, err := storage.Connect(storageConfig)
		if err != nil {
			return err
		}
		defer db.Close()

		patternStore = storage.NewPatternStore(db, storageConfig.QueryTimeout)
		sink = storage.NewBatchSink(db, storageConfig.QueryTimeout)
	} else {
		patternStore = patterns.NewMemoryStore()
		sink = reconciler.NewMemorySink()
	}

	reconcilerConfig, err := config.CreateReconcilerConfig(amountTolerance, dateWindow, workerCount, llmEnabled)
	if err != nil {
		return err
	}

	orchestrator, err := reconciler.NewOrchestrator(reconcilerConfig, patternStore, sink)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	result, err := orchestrator.Reconcile(ctx, organizationID, sources, targets, internals)
	if err != nil {
		return err
	}

	generator, err := report.NewGenerator(config.CreateReportConfig(outputFormat))
	if err != nil {
		return err
	}

	output := os.Stdout
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	}

	if err := generator.Generate(result, output); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nReconciliation completed: %d matches, %d drafts, %d exceptions (%.1f%% matched).\n",
			len(result.Matches), len(result.Drafts), len(result.Exceptions), result.MatchRate*100)
	}

	return nil
}
