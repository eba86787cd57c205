package cmd

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"care-migrate/internal/audit"
	"care-migrate/internal/backup"
	"care-migrate/internal/database"
	"care-migrate/internal/display"
	"care-migrate/internal/metrics"
	"care-migrate/internal/migration"
)

// Import command flags
var (
	importPlanFile  string
	importService   string
	importTable     string
	importBatchSize int64
	importLenient   bool
	importDelimiter string
)

// importCmd loads a delimited export through the migration pipeline
var importCmd = &cobra.Command{
	Use:   "import <csv-file>",
	Short: "Import a delimited export into a target service table",
	Long: `Import a CSV export into one target service table through the same
transform, validate, and write pipeline the migration uses. The first
row must be a header naming the legacy source columns.

The table's plan entry supplies the column mappings, validation rules,
and PII handling. When the table appears in only one service's plan,
--service may be omitted.

Examples:
  # Import a residents export
  care-migrate import residents.csv --table residents

  # Semicolon-delimited export into a named service
  care-migrate import meds.csv --table medication_rounds \
      --service medication-service --delimiter ';'`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	plans, err := resolvePlans(cmd, cfg, importPlanFile)
	if err != nil {
		return err
	}
	serviceName, tableConfig, err := locateTableConfig(plans, importService, importTable)
	if err != nil {
		return err
	}

	targetConfig, ok := cfg.Databases.TargetFor(serviceName)
	if !ok {
		return fmt.Errorf("no target database configured for service %s", serviceName)
	}

	connManager := database.NewConnectionManager()
	if err := connManager.ConnectToTarget(serviceName, targetConfig); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serviceName, err)
	}
	defer connManager.Close()

	targetDB, err := connManager.GetTargetDB(serviceName)
	if err != nil {
		return err
	}

	delimiter, err := parseDelimiter(importDelimiter)
	if err != nil {
		return err
	}

	mode := migration.ValidationStrict
	if importLenient || cfg.Migration.Lenient {
		mode = migration.ValidationLenient
	}
	batchSize := cfg.Migration.BatchSize
	if cmd.Flags().Changed("batch-size") {
		batchSize = importBatchSize
	}

	importer, err := migration.NewImporter(serviceName, tableConfig, targetDB,
		backup.NewFieldEncryptor(&cfg.Backup.Encryption), audit.NewLogRecorder(logger), logger,
		migration.ImporterOptions{BatchSize: batchSize, Mode: mode, Comma: delimiter})
	if err != nil {
		return err
	}

	ctx := context.Background()
	started := time.Now()
	result, err := importer.ImportFile(ctx, args[0])
	duration := time.Since(started)

	if result != nil {
		metrics.ObserveMigrationTable(serviceName, tableConfig.SourceTable,
			result.MigratedRecords, result.FailedRecords, duration)

		status := migration.RunStatusCompleted
		if err != nil {
			status = migration.RunStatusFailed
		}
		format := display.OutputFormat(cfg.Display.OutputFormat)
		if format == display.FormatJSON || format == display.FormatYAML {
			if marshalErr := disp.MarshalTo(format, result); marshalErr != nil {
				return marshalErr
			}
		} else {
			disp.RenderMigrationSummary(migration.Summarize(status, []migration.MigrationResult{*result}, duration))
		}
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}

// locateTableConfig finds the plan entry the import feeds. An empty service
// name searches every plan and fails on ambiguity.
func locateTableConfig(plans []migration.MigrationPlan, serviceName, sourceTable string) (string, migration.MigrationTableConfig, error) {
	if sourceTable == "" {
		return "", migration.MigrationTableConfig{}, fmt.Errorf("--table is required")
	}

	var (
		foundService string
		found        *migration.MigrationTableConfig
	)
	for _, plan := range plans {
		if serviceName != "" && plan.ServiceName != serviceName {
			continue
		}
		for i := range plan.Tables {
			table := plan.Tables[i]
			if table.SourceTable != sourceTable {
				continue
			}
			if found != nil {
				return "", migration.MigrationTableConfig{}, fmt.Errorf(
					"table %s appears in services %s and %s; pick one with --service",
					sourceTable, foundService, plan.ServiceName)
			}
			foundService = plan.ServiceName
			found = &table
		}
	}

	if found == nil {
		if serviceName != "" {
			return "", migration.MigrationTableConfig{}, fmt.Errorf("service %s has no table %s in the plan set", serviceName, sourceTable)
		}
		return "", migration.MigrationTableConfig{}, fmt.Errorf("no plan covers table %s", sourceTable)
	}
	return foundService, *found, nil
}

// parseDelimiter converts the flag into the single rune the CSV reader
// needs. "tab" and "\t" select tab-delimited input.
func parseDelimiter(s string) (rune, error) {
	if s == "" {
		return 0, nil
	}
	if s == "tab" || s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r, nil
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importPlanFile, "plan-file", "", "migration plan file (YAML)")
	importCmd.Flags().StringVar(&importService, "service", "", "target service (required when the table appears in several plans)")
	importCmd.Flags().StringVar(&importTable, "table", "", "legacy source table the file was exported from")
	importCmd.Flags().Int64Var(&importBatchSize, "batch-size", 0, "rows per batch (default from configuration)")
	importCmd.Flags().BoolVar(&importLenient, "lenient", false, "log validation failures instead of skipping the record")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "field delimiter (single character or 'tab', default comma)")
	_ = importCmd.MarkFlagRequired("table")
}
