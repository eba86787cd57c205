package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"care-migrate/internal/backup"
	"care-migrate/internal/confirmation"
	"care-migrate/internal/database"
	"care-migrate/internal/display"
	appErrors "care-migrate/internal/errors"
	"care-migrate/internal/execution"
	"care-migrate/internal/logging"
)

// Application ties the executor, display and shutdown handling together for
// one migration run.
type Application struct {
	executor        *execution.Executor
	logger          *logging.Logger
	display         *display.Service
	shutdownHandler *appErrors.GracefulShutdownHandler
}

// Config is the fully resolved run configuration, after the command layer
// has merged file values and flags.
type Config struct {
	Databases       database.MigrationDatabases `mapstructure:"databases" yaml:"databases"`
	PipelineID      string                      `mapstructure:"pipeline_id" yaml:"pipeline_id"`
	PlanFile        string                      `mapstructure:"plan_file" yaml:"plan_file"`
	BatchSize       int64                       `mapstructure:"batch_size" yaml:"batch_size"`
	Lenient         bool                        `mapstructure:"lenient" yaml:"lenient"`
	SourceSchema    string                      `mapstructure:"source_schema" yaml:"source_schema"`
	DryRun          bool                        `mapstructure:"dry_run" yaml:"dry_run"`
	AutoApprove     bool                        `mapstructure:"auto_approve" yaml:"auto_approve"`
	BackupBeforeRun bool                        `mapstructure:"backup_before_run" yaml:"backup_before_run"`
	Verbose         bool                        `mapstructure:"verbose" yaml:"verbose"`
	Quiet           bool                        `mapstructure:"quiet" yaml:"quiet"`
	Timeout         time.Duration               `mapstructure:"timeout" yaml:"timeout"`
	Display         display.DisplayConfig       `mapstructure:"display" yaml:"display"`

	// Backup carries the backup subsystem configuration for the
	// pre-migration backup. Loaded from the YAML config file rather
	// than flags.
	Backup *backup.Config `mapstructure:"-" yaml:"-"`
}

// NewApplication builds the executor and its collaborators from config.
func NewApplication(config Config) (*Application, error) {
	logLevel := logging.LogLevelNormal
	if config.Quiet {
		logLevel = logging.LogLevelQuiet
	} else if config.Verbose {
		logLevel = logging.LogLevelVerbose
	}

	execConfig := execution.ExecutionConfig{
		Databases:       config.Databases,
		PipelineID:      config.PipelineID,
		PlanFile:        config.PlanFile,
		BatchSize:       config.BatchSize,
		Lenient:         config.Lenient,
		SourceSchema:    config.SourceSchema,
		DryRun:          config.DryRun,
		AutoApprove:     config.AutoApprove,
		BackupBeforeRun: config.BackupBeforeRun,
		Timeout:         config.Timeout,
		LogLevel:        logLevel,
	}
	if config.Backup != nil {
		execConfig.Encryption = config.Backup.Encryption
	}

	executor, err := execution.NewExecutor(execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	// Quiet wins over verbose on the display too, matching the log level.
	displayConfig := config.Display
	displayConfig.Quiet = config.Quiet
	displayConfig.Verbose = config.Verbose && !config.Quiet
	if err := displayConfig.Validate(); err != nil {
		return nil, fmt.Errorf("display configuration invalid: %w", err)
	}
	displayService := display.NewService(&displayConfig)
	executor.SetDisplayService(displayService)
	executor.SetConfirmationService(confirmation.NewService(displayService))

	// Wire the pre-migration backup factory when a backup config is present
	if config.BackupBeforeRun && config.Backup != nil {
		backupConfig := config.Backup
		storage, err := backup.NewStorageProvider(context.Background(), backupConfig.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup storage provider: %w", err)
		}
		executor.SetBackupFactory(func(db *sql.DB) (*backup.Manager, error) {
			return backup.NewManager(db, backupConfig, storage, executor.GetLogger())
		})
	}

	if err := executor.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &Application{
		executor:        executor,
		logger:          executor.GetLogger(),
		display:         displayService,
		shutdownHandler: executor.GetShutdownHandler(),
	}, nil
}

// Run executes the migration run and renders its outcome.
func (app *Application) Run() error {
	app.logger.Info("care-migrate starting")

	app.watchSignals()

	result, err := app.executor.Execute(context.Background())
	if err != nil {
		app.handleExecutionError(err)
		return err
	}

	app.displayResults(result)
	app.logger.Info("care-migrate completed")
	return nil
}

// watchSignals exits the process after an interrupt. The executor listens
// for the same signals and runs its cleanup pass; the process leaves only
// once that pass has finished.
func (app *Application) watchSignals() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		app.logger.WithField("signal", sig.String()).Info("Received shutdown signal")

		app.shutdownHandler.WaitForShutdown()
		os.Exit(1)
	}()
}

// handleExecutionError prints the operator-facing message and logs the
// classified detail.
func (app *Application) handleExecutionError(err error) {
	processed := app.executor.HandleError(err)
	fmt.Fprintf(os.Stderr, "Error: %s\n", appErrors.FormatUserError(processed))

	var appErr *appErrors.AppError
	if !errors.As(processed, &appErr) {
		return
	}

	app.logger.WithFields(map[string]interface{}{
		"error_type":  string(appErr.Type),
		"recoverable": appErr.IsRecoverable(),
		"context":     appErr.Context,
	}).Error("Migration run failed")

	app.printTroubleshootingHints(appErr)
}

var troubleshootingHints = map[appErrors.ErrorType][]string{
	appErrors.ErrorTypeConnection: {
		"Check that the database server is running",
		"Verify the host and port are correct",
		"Ensure network connectivity to the database server",
		"Check firewall settings",
	},
	appErrors.ErrorTypePermission: {
		"Verify the username and password are correct",
		"Check that the user has the required permissions",
		"Ensure the user can connect from your host",
	},
	appErrors.ErrorTypeValidation: {
		"Check that the database names are correct",
		"Review the migration plan file for definition errors",
		"Review the command line arguments",
	},
	appErrors.ErrorTypeTimeout: {
		"The operation may be taking longer than expected",
		"Try increasing the timeout value",
		"Check database server performance",
	},
	appErrors.ErrorTypeSQL: {
		"Review the transformation and validation rules in the plan",
		"Check the target table definitions match the plan",
		"Verify database permissions for writes to the target",
	},
}

func (app *Application) printTroubleshootingHints(appErr *appErrors.AppError) {
	hints, ok := troubleshootingHints[appErr.Type]
	if !ok {
		return
	}

	fmt.Fprintf(os.Stderr, "\nTroubleshooting hints:\n")
	for _, hint := range hints {
		fmt.Fprintf(os.Stderr, "- %s\n", hint)
	}
}

// displayResults renders the run outcome through the display service.
func (app *Application) displayResults(result *execution.ExecutionResult) {
	if result == nil {
		return
	}

	if result.Cancelled {
		app.display.Info("Migration run cancelled by user.")
		return
	}

	if len(result.Results) > 0 {
		app.display.RenderMigrationSummary(result.Summary)
	}

	if result.BackupID != "" {
		app.display.Info(fmt.Sprintf("Pre-migration backup: %s", result.BackupID))
	}

	for _, warning := range result.Warnings {
		app.display.Warning(warning)
	}

	if result.Success {
		app.display.Success(fmt.Sprintf("Completed in %s", result.Duration.Round(time.Millisecond)))
	}
}

// GetLogger returns the run logger.
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}

// Shutdown waits for the cleanup pass to finish.
func (app *Application) Shutdown() error {
	app.logger.Info("Shutting down application")
	app.shutdownHandler.WaitForShutdown()
	app.logger.Info("Application shutdown complete")
	return nil
}
