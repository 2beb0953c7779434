package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ap-reconciliation-engine/cmd/apreconciler/config"
	"ap-reconciliation-engine/internal/storage"
)

var migrateDatabaseURL string

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Long: `Migrate brings the PostgreSQL schema up to date. Applied versions
are recorded in schema_migrations; re-running is a no-op.

Examples:
  apreconciler migrate --database-url postgres://localhost/apengine?sslmode=disable
  APRECON_DATABASE_URL=postgres://localhost/apengine apreconciler migrate`,

	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrateDatabaseURL, "database-url", "", "PostgreSQL URL (or APRECON_DATABASE_URL)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	url := migrateDatabaseURL
	if url == "" {
		url = viper.GetString("database-url")
	}

	storageConfig, err := config.CreateStorageConfig(url, 0)
	if err != nil {
		return err
	}

	db, err := storage.Connect(storageConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(context.Background(), db); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Schema is up to date (%d migrations).\n", len(storage.Migrations()))
	return nil
}
