package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"care-migrate/internal/application"
	"care-migrate/internal/config"
	"care-migrate/internal/display"
	"care-migrate/internal/metrics"
	"care-migrate/internal/migration"
)

// Migration command flags
var (
	migratePlanFile     string
	migratePipelineID   string
	migrateBatchSize    int64
	migrateLenient      bool
	migrateSourceSchema string
	migrateDryRun       bool
	migrateAutoApprove  bool
	migrateNoBackup     bool
	migrateTimeout      time.Duration
)

// migrateCmd represents the migrate command group
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Plan and run the care records migration",
	Long: `Run the phased migration of care records from the legacy shared
database into the per-service target databases.

Plans are loaded from a YAML plan file when one is configured, otherwise
the built-in care records plan set is used.`,
}

// migratePlanCmd reviews the plan set without touching any database
var migratePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Review the migration plan without executing it",
	Long: `Validate the migration plan set and print a review of its phases,
services, tables, and PII handling. No database is contacted.

Examples:
  # Review the built-in care records plans
  care-migrate migrate plan

  # Review a custom plan file as JSON
  care-migrate migrate plan --plan-file plans.yaml --format json`,
	RunE: runMigratePlan,
}

// migrateRunCmd executes the migration
var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the migration against the configured databases",
	Long: `Execute the migration plan phase by phase. Each table is copied in
batches with its transformation and validation rules applied, PII columns
are encrypted when an encryption key is configured, and a run summary is
printed when the migration finishes.

A pre-migration backup of the legacy schema is taken first when the
configuration asks for one, unless --no-backup overrides it.

Examples:
  # Dry run, printing what would happen without writing anything
  care-migrate migrate run --config config.yaml --dry-run

  # Full run without the confirmation prompt
  care-migrate migrate run --config config.yaml --auto-approve

  # Tolerate validation failures instead of stopping the table
  care-migrate migrate run --config config.yaml --lenient`,
	RunE: runMigrateRun,
}

func runMigratePlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)

	plans, err := resolvePlans(cmd, cfg, migratePlanFile)
	if err != nil {
		return err
	}

	review, err := migration.NewPlanner().Review(plans)
	if err != nil {
		return fmt.Errorf("plan review failed: %w", err)
	}

	format := display.OutputFormat(cfg.Display.OutputFormat)
	if format == display.FormatJSON || format == display.FormatYAML {
		return disp.MarshalTo(format, review)
	}

	disp.RenderMigrationPlans(review.Plans)
	for _, warning := range review.Warnings {
		disp.Warning(warning)
	}
	return nil
}

func runMigrateRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig(cmd)
	if err != nil {
		return err
	}

	app, err := application.NewApplication(buildMigrationConfig(cmd, cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	err = app.Run()
	status := migration.RunStatusCompleted
	if err != nil {
		status = migration.RunStatusFailed
	}
	metrics.ObserveMigrationRun(string(status))
	return err
}

// resolvePlans loads the plan set named by the command's plan-file flag or
// the configuration, falling back to the built-in care records plans.
func resolvePlans(cmd *cobra.Command, cfg *config.AppConfig, flagValue string) ([]migration.MigrationPlan, error) {
	planFile := cfg.Migration.PlanFile
	if cmd.Flags().Changed("plan-file") {
		planFile = flagValue
	}
	if planFile == "" {
		return migration.DefaultCarePlans(), nil
	}
	plans, err := migration.LoadPlansFromFile(planFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load migration plans: %w", err)
	}
	return plans, nil
}

// buildMigrationConfig assembles the application configuration from the
// resolved file configuration with migrate run flags layered on top.
func buildMigrationConfig(cmd *cobra.Command, cfg *config.AppConfig) application.Config {
	flags := cmd.Flags()

	appConfig := application.Config{
		Databases:       cfg.Databases,
		PipelineID:      cfg.Migration.PipelineID,
		PlanFile:        cfg.Migration.PlanFile,
		BatchSize:       cfg.Migration.BatchSize,
		Lenient:         cfg.Migration.Lenient,
		SourceSchema:    cfg.Migration.SourceSchema,
		DryRun:          migrateDryRun,
		AutoApprove:     migrateAutoApprove,
		BackupBeforeRun: cfg.Migration.BackupBeforeRun,
		Verbose:         cfg.Display.Verbose,
		Quiet:           cfg.Display.Quiet,
		Timeout:         cfg.Migration.Timeout,
		Display:         cfg.Display,
	}

	if flags.Changed("plan-file") {
		appConfig.PlanFile = migratePlanFile
	}
	if flags.Changed("pipeline") {
		appConfig.PipelineID = migratePipelineID
	}
	if flags.Changed("batch-size") {
		appConfig.BatchSize = migrateBatchSize
	}
	if flags.Changed("lenient") {
		appConfig.Lenient = migrateLenient
	}
	if flags.Changed("source-schema") {
		appConfig.SourceSchema = migrateSourceSchema
	}
	if flags.Changed("timeout") {
		appConfig.Timeout = migrateTimeout
	}
	if migrateNoBackup {
		appConfig.BackupBeforeRun = false
	}

	// The backup section also carries the PII field encryption settings,
	// so it is passed through whenever it is configured.
	if cfg.Backup.Schema != "" {
		appConfig.Backup = &cfg.Backup
	}
	return appConfig
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migratePlanCmd)
	migrateCmd.AddCommand(migrateRunCmd)

	migratePlanCmd.Flags().StringVar(&migratePlanFile, "plan-file", "", "migration plan file (YAML)")

	migrateRunCmd.Flags().StringVar(&migratePlanFile, "plan-file", "", "migration plan file (YAML)")
	migrateRunCmd.Flags().StringVar(&migratePipelineID, "pipeline", "", "pipeline identifier recorded on backups and audit events")
	migrateRunCmd.Flags().Int64Var(&migrateBatchSize, "batch-size", 0, "rows per batch (default from configuration)")
	migrateRunCmd.Flags().BoolVar(&migrateLenient, "lenient", false, "log validation failures instead of failing the table")
	migrateRunCmd.Flags().StringVar(&migrateSourceSchema, "source-schema", "", "override the legacy schema name")
	migrateRunCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "show what would be migrated without writing")
	migrateRunCmd.Flags().BoolVar(&migrateAutoApprove, "auto-approve", false, "skip the confirmation prompt")
	migrateRunCmd.Flags().BoolVar(&migrateNoBackup, "no-backup", false, "skip the pre-migration backup")
	migrateRunCmd.Flags().DurationVar(&migrateTimeout, "timeout", 0, "overall run timeout (default from configuration)")
}
