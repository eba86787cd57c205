package execution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"care-migrate/internal/audit"
	"care-migrate/internal/backup"
	"care-migrate/internal/confirmation"
	"care-migrate/internal/database"
	"care-migrate/internal/display"
	"care-migrate/internal/errors"
	"care-migrate/internal/logging"
	"care-migrate/internal/migration"
)

// ExecutionConfig holds configuration for one migration run
type ExecutionConfig struct {
	Databases       database.MigrationDatabases
	PipelineID      string
	PlanFile        string
	BatchSize       int64
	Lenient         bool
	SourceSchema    string
	Encryption      backup.EncryptionConfig
	DryRun          bool
	AutoApprove     bool
	BackupBeforeRun bool
	Timeout         time.Duration
	LogLevel        logging.LogLevel
}

// ExecutionResult holds the outcome of a migration run
type ExecutionResult struct {
	Success   bool
	Cancelled bool
	Review    *migration.PlanReview
	Results   []migration.MigrationResult
	Summary   migration.RunSummary
	BackupID  string
	Warnings  []string
	Duration  time.Duration
	Error     error
}

// BackupManagerFactory builds a backup manager over an established
// database connection. The executor calls it after connecting, so the
// pre-migration backup dumps the live source store.
type BackupManagerFactory func(db *sql.DB) (*backup.Manager, error)

// Executor drives the migration run end to end with error recovery
type Executor struct {
	config          ExecutionConfig
	logger          *logging.Logger
	connections     *database.ConnectionManager
	planner         *migration.Planner
	retryHandler    *errors.RetryHandler
	shutdownHandler *errors.GracefulShutdownHandler
	displayService  *display.Service
	confirmer       confirmation.Service
	backupFactory   BackupManagerFactory
	recorder        audit.Recorder
}

// NewExecutor creates a new executor with the given configuration
func NewExecutor(config ExecutionConfig) (*Executor, error) {
	// Create logger with specified level
	loggerConfig := logging.Config{
		Level:      config.LogLevel,
		Format:     "text",
		ShowCaller: config.LogLevel == logging.LogLevelDebug,
	}

	logger, err := logging.NewLogger(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	// Create retry handler with custom configuration
	retryConfig := errors.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
	retryHandler := errors.NewRetryHandler(retryConfig)

	// Create graceful shutdown handler
	shutdownHandler := errors.NewGracefulShutdownHandler()

	executor := &Executor{
		config:          config,
		logger:          logger,
		connections:     database.NewConnectionManagerWithService(database.NewServiceWithLogger(logger)),
		planner:         migration.NewPlanner(),
		retryHandler:    retryHandler,
		shutdownHandler: shutdownHandler,
		recorder:        audit.NewLogRecorder(logger),
	}

	return executor, nil
}

// Execute runs the complete migration process
func (e *Executor) Execute(ctx context.Context) (*ExecutionResult, error) {
	startTime := time.Now()
	result := &ExecutionResult{
		Success:  false,
		Warnings: make([]string, 0),
	}

	// Set up graceful shutdown
	e.shutdownHandler.Start()
	defer e.shutdownHandler.Stop()

	// Create a context with timeout
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	e.logger.Info("Starting migration run")

	// Step 1: Load and review the plan set
	plans, review, err := e.loadAndReviewPlans()
	if err != nil {
		result.Error = err
		result.Duration = time.Since(startTime)
		return result, err
	}
	result.Review = review
	result.Warnings = review.Warnings

	// A dry run stops after the review, before any connection is opened
	if e.config.DryRun {
		e.renderReview(plans, review)
		result.Success = true
		result.Duration = time.Since(startTime)
		e.logger.WithField("tables", review.TotalTables).Info("Dry run completed")
		return result, nil
	}

	// Step 2: Confirm with the operator
	if e.confirmer != nil {
		confirmed, err := e.confirmer.ConfirmMigrationRun(plans, e.config.AutoApprove)
		if err != nil {
			result.Error = err
			result.Duration = time.Since(startTime)
			return result, errors.WrapError(err, "confirmation failed")
		}
		if !confirmed {
			result.Cancelled = true
			result.Duration = time.Since(startTime)
			e.logger.Info("Migration run cancelled by user")
			return result, nil
		}
	}

	// Step 3: Connect to the source and every target store
	if err := e.connectToDatabases(ctx); err != nil {
		result.Error = err
		result.Duration = time.Since(startTime)
		return result, err
	}

	// Register database cleanup
	e.shutdownHandler.RegisterShutdownFunc(func() error {
		return e.connections.Close()
	})

	// Step 4: Run the plan set through the orchestrator
	results, summary, backupID, err := e.runMigration(ctx, plans, review.TotalTables)
	result.Results = results
	result.Summary = summary
	result.BackupID = backupID
	if err != nil {
		result.Error = err
		result.Duration = time.Since(startTime)
		return result, err
	}

	result.Success = true
	result.Duration = time.Since(startTime)

	e.logger.WithFields(map[string]interface{}{
		"duration":       result.Duration.String(),
		"tables":         len(result.Results),
		"warnings_count": len(result.Warnings),
		"backup_id":      result.BackupID,
	}).Info("Migration run completed successfully")

	return result, nil
}

// loadAndReviewPlans loads the plan set from the configured file, or the
// built-in care plans when no file is given, and reviews it
func (e *Executor) loadAndReviewPlans() ([]migration.MigrationPlan, *migration.PlanReview, error) {
	var plans []migration.MigrationPlan
	var err error

	if e.config.PlanFile != "" {
		e.logger.WithField("plan_file", e.config.PlanFile).Info("Loading migration plans")
		plans, err = migration.LoadPlansFromFile(e.config.PlanFile)
		if err != nil {
			return nil, nil, errors.WrapError(err, "failed to load migration plans")
		}
	} else {
		e.logger.Info("Using built-in care migration plans")
		plans = migration.DefaultCarePlans()
	}

	review, err := e.planner.Review(plans)
	if err != nil {
		return nil, nil, errors.WrapError(err, "migration plan review failed")
	}

	e.logger.WithFields(map[string]interface{}{
		"phases":     review.TotalPhases,
		"services":   review.TotalServices,
		"tables":     review.TotalTables,
		"pii_tables": review.PIITables,
	}).Info("Migration plans reviewed")

	return plans, review, nil
}

// renderReview shows the reviewed plan set without running it
func (e *Executor) renderReview(plans []migration.MigrationPlan, review *migration.PlanReview) {
	if e.displayService == nil {
		return
	}

	e.displayService.Header("Migration plan (dry run)")
	e.displayService.RenderMigrationPlans(plans)
	for _, warning := range review.Warnings {
		e.displayService.Warning(warning)
	}
	e.displayService.Info("Dry run: no data was migrated.")
}

// connectToDatabases establishes connections to the source and every
// target database
func (e *Executor) connectToDatabases(ctx context.Context) error {
	e.logger.Info("Connecting to databases")

	// Start spinner for database connections if display service is available
	var spinner *display.Spinner
	if e.displayService != nil {
		spinner = e.displayService.NewSpinner("Connecting to source database...")
	}
	if spinner != nil {
		spinner.Start()
	}

	// Connect to source database with retry
	err := e.retryHandler.Retry(ctx, func() error {
		return e.connections.ConnectToSource(e.config.Databases.Source)
	})
	if err != nil {
		if spinner != nil {
			spinner.Stop("")
		}
		if e.displayService != nil {
			e.displayService.Error(fmt.Sprintf("Failed to connect to source database: %s", e.config.Databases.Source.Host))
		}
		return errors.WrapError(err, "failed to connect to source database")
	}

	// Connect to each target database with retry
	for serviceName, target := range e.config.Databases.Targets {
		if spinner != nil {
			spinner.Update(fmt.Sprintf("Connecting to %s target database...", serviceName))
		}

		err := e.retryHandler.Retry(ctx, func() error {
			return e.connections.ConnectToTarget(serviceName, target)
		})
		if err != nil {
			// Close connections established so far if a target fails
			e.connections.Close()
			if spinner != nil {
				spinner.Stop("")
			}
			if e.displayService != nil {
				e.displayService.Error(fmt.Sprintf("Failed to connect to target database for %s: %s", serviceName, target.Host))
			}
			return errors.WrapError(err, fmt.Sprintf("failed to connect to target database for %s", serviceName))
		}
	}

	if spinner != nil {
		spinner.Stop(fmt.Sprintf("Connected to source and %d target database(s)", len(e.config.Databases.Targets)))
	}

	e.logger.WithField("targets", len(e.config.Databases.Targets)).Info("Successfully connected to all databases")
	return nil
}

// runMigration executes the plan set through the orchestrator
func (e *Executor) runMigration(ctx context.Context, plans []migration.MigrationPlan, totalTables int) ([]migration.MigrationResult, migration.RunSummary, string, error) {
	mode := migration.ValidationStrict
	if e.config.Lenient {
		mode = migration.ValidationLenient
	}

	cipher := backup.NewFieldEncryptor(&e.config.Encryption)
	orchestrator := migration.NewOrchestrator(e.connections, cipher, e.recorder, e.logger, migration.OrchestratorOptions{
		PipelineID:      e.config.PipelineID,
		BatchSize:       e.config.BatchSize,
		Mode:            mode,
		SourceSchema:    e.config.SourceSchema,
		BackupBeforeRun: e.config.BackupBeforeRun,
	})

	var hook *backup.PreMigrationHook
	if e.config.BackupBeforeRun {
		if e.backupFactory == nil {
			return nil, migration.RunSummary{}, "", errors.NewAppError(errors.ErrorTypeValidation,
				"pre-migration backup requested but no backup manager is configured", nil)
		}
		manager, err := e.backupFactory(e.connections.GetSourceDB())
		if err != nil {
			return nil, migration.RunSummary{}, "", errors.WrapError(err, "failed to create backup manager")
		}
		hook = backup.NewPreMigrationHook(manager)
		orchestrator.SetBackupHook(hook)
	}

	// Create progress bar if display service is available
	var progressBar *display.ProgressBar
	if e.displayService != nil {
		progressBar = e.displayService.NewProgressBar(int64(totalTables), "Migrating tables")
	}

	// Poll orchestrator progress into the bar while the run executes
	var stopPolling context.CancelFunc
	pollDone := make(chan struct{})
	if progressBar != nil {
		var pollCtx context.Context
		pollCtx, stopPolling = context.WithCancel(ctx)
		go func() {
			defer close(pollDone)
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-pollCtx.Done():
					return
				case <-ticker.C:
					snapshot := orchestrator.Progress()
					progressBar.Update(int64(snapshot.CompletedTables),
						fmt.Sprintf("phase %d/%d", snapshot.CurrentPhase, snapshot.TotalPhases))
				}
			}
		}()
	}

	runStart := time.Now()
	results, err := orchestrator.Run(ctx, plans)
	if stopPolling != nil {
		stopPolling()
		<-pollDone
	}
	duration := time.Since(runStart)

	backupID := ""
	if hook != nil {
		backupID = hook.LastBackupID()
	}

	if err != nil {
		if progressBar != nil {
			progressBar.Finish("Migration failed")
		}
		summary := migration.Summarize(migration.RunStatusFailed, results, duration)
		return results, summary, backupID, errors.WrapError(err, "migration run failed")
	}

	if progressBar != nil {
		progressBar.Finish("Migration completed")
		e.displayService.Success(fmt.Sprintf("Successfully migrated %d table(s)", len(results)))
	}

	summary := migration.Summarize(migration.RunStatusCompleted, results, duration)
	e.logger.Info("Migration executed successfully")
	return results, summary, backupID, nil
}

// GetLogger returns the logger instance
func (e *Executor) GetLogger() *logging.Logger {
	return e.logger
}

// GetShutdownHandler returns the shutdown handler
func (e *Executor) GetShutdownHandler() *errors.GracefulShutdownHandler {
	return e.shutdownHandler
}

// SetDisplayService sets the display service for enhanced output
func (e *Executor) SetDisplayService(displayService *display.Service) {
	e.displayService = displayService
}

// SetConfirmationService sets the service that prompts before the run
// writes into target stores
func (e *Executor) SetConfirmationService(confirmer confirmation.Service) {
	e.confirmer = confirmer
}

// SetBackupFactory sets the factory used to build the pre-migration
// backup manager once the source connection is established
func (e *Executor) SetBackupFactory(factory BackupManagerFactory) {
	e.backupFactory = factory
}

// SetRecorder overrides the audit recorder for the run
func (e *Executor) SetRecorder(recorder audit.Recorder) {
	e.recorder = recorder
}

// HandleError processes and logs errors appropriately
func (e *Executor) HandleError(err error) error {
	if err == nil {
		return nil
	}

	// Classify the error
	classifier := errors.NewErrorClassifier()
	appErr := classifier.ClassifyError(err)

	// Log the error with appropriate level
	fields := map[string]interface{}{
		"error_type":  string(appErr.Type),
		"recoverable": appErr.IsRecoverable(),
	}

	// Add context if available
	for k, v := range appErr.Context {
		fields[k] = v
	}

	if appErr.IsRecoverable() {
		e.logger.WithFields(fields).Warn("Recoverable error occurred")
	} else {
		e.logger.WithFields(fields).Error("Non-recoverable error occurred")
	}

	return appErr
}

// ValidateConfig validates the execution configuration
func (e *Executor) ValidateConfig() error {
	if e.config.PipelineID == "" {
		return errors.NewAppError(errors.ErrorTypeValidation, "pipeline ID is required", nil)
	}
	if err := e.config.Databases.Validate(); err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation, err.Error(), nil)
	}
	if e.config.BatchSize < 0 {
		return errors.NewAppError(errors.ErrorTypeValidation, "batch size cannot be negative", nil)
	}
	if e.config.BackupBeforeRun && e.backupFactory == nil {
		return errors.NewAppError(errors.ErrorTypeValidation,
			"pre-migration backup requested but no backup manager is configured", nil)
	}

	e.logger.Debug("Configuration validation passed")
	return nil
}
