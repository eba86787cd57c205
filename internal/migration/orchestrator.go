package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"care-migrate/internal/audit"
	"care-migrate/internal/database"
	"care-migrate/internal/logging"
)

// BackupHook requests a protective backup before a destructive run
type BackupHook interface {
	CreateBackup(ctx context.Context, pipelineID string) error
}

// OrchestratorOptions tune a migration run
type OrchestratorOptions struct {
	PipelineID      string
	BatchSize       int64
	Mode            ValidationMode
	SourceSchema    string
	BackupBeforeRun bool
}

// Orchestrator executes migration plans phase by phase. Phases run in
// increasing numeric order; services within a phase run concurrently; each
// service's tables run in sequence. The orchestrator owns the progress
// counters and the result list for a run.
type Orchestrator struct {
	connections *database.ConnectionManager
	cipher      FieldCipher
	recorder    audit.Recorder
	logger      *logging.Logger
	backupHook  BackupHook
	options     OrchestratorOptions

	mu       sync.Mutex
	progress *MigrationProgress
	results  []MigrationResult
}

// NewOrchestrator creates an orchestrator over established connections
func NewOrchestrator(connections *database.ConnectionManager, cipher FieldCipher, recorder audit.Recorder, logger *logging.Logger, options OrchestratorOptions) *Orchestrator {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}
	if options.Mode == "" {
		options.Mode = ValidationStrict
	}

	return &Orchestrator{
		connections: connections,
		cipher:      cipher,
		recorder:    recorder,
		logger:      logger,
		options:     options,
	}
}

// SetBackupHook wires the pre-migration backup collaborator
func (o *Orchestrator) SetBackupHook(hook BackupHook) {
	o.backupHook = hook
}

// Progress returns a snapshot of the running migration's counters. Before a
// run starts it returns a zero snapshot.
func (o *Orchestrator) Progress() ProgressSnapshot {
	o.mu.Lock()
	progress := o.progress
	o.mu.Unlock()

	if progress == nil {
		return ProgressSnapshot{}
	}
	return progress.Snapshot()
}

// Run executes the plan set. A service failing inside a phase fails the
// whole run after the phase joins; results gathered so far are returned
// alongside the error.
func (o *Orchestrator) Run(ctx context.Context, plans []MigrationPlan) ([]MigrationResult, error) {
	if err := ValidatePlans(plans); err != nil {
		return nil, fmt.Errorf("invalid plan set: %w", err)
	}

	progress := NewMigrationProgress(plans)
	o.mu.Lock()
	o.progress = progress
	o.results = nil
	o.mu.Unlock()

	snapshot := progress.Snapshot()
	startTime := time.Now()

	o.logger.WithFields(map[string]interface{}{
		"pipeline_id":  o.options.PipelineID,
		"total_phases": snapshot.TotalPhases,
		"total_tables": snapshot.TotalTables,
	}).Info("Migration run started")

	o.recorder.Record(ctx, audit.Event{
		Type:       audit.EventMigrationStarted,
		PipelineID: o.options.PipelineID,
		Details: map[string]interface{}{
			"total_phases": snapshot.TotalPhases,
			"total_tables": snapshot.TotalTables,
		},
	})

	if o.options.BackupBeforeRun && o.backupHook != nil {
		if err := o.backupHook.CreateBackup(ctx, o.options.PipelineID); err != nil {
			progress.Finish(RunStatusFailed)
			o.recordRunFailure(ctx, err)
			return nil, fmt.Errorf("pre-migration backup failed: %w", err)
		}
	}

	plansByPhase := groupByPhase(plans)

	for phase := 1; phase <= snapshot.TotalPhases; phase++ {
		phasePlans := plansByPhase[phase]
		if len(phasePlans) == 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			progress.Finish(RunStatusFailed)
			o.recordRunFailure(ctx, err)
			return o.resultsCopy(), fmt.Errorf("migration run cancelled: %w", err)
		}

		progress.EnterPhase(phase)
		o.logger.WithFields(map[string]interface{}{
			"phase":    phase,
			"services": len(phasePlans),
		}).Info("Entering migration phase")

		if err := o.runPhase(ctx, phase, phasePlans, progress); err != nil {
			progress.Finish(RunStatusFailed)
			o.recordRunFailure(ctx, err)
			return o.resultsCopy(), err
		}

		phaseSnapshot := progress.Snapshot()
		o.recorder.Record(ctx, audit.Event{
			Type:       audit.PhaseProgressEvent(phase),
			PipelineID: o.options.PipelineID,
			Details: map[string]interface{}{
				"completed_tables": phaseSnapshot.CompletedTables,
				"total_tables":     phaseSnapshot.TotalTables,
				"migrated_records": phaseSnapshot.MigratedRecords,
			},
		})
	}

	progress.Finish(RunStatusCompleted)
	results := o.resultsCopy()
	summary := Summarize(RunStatusCompleted, results, time.Since(startTime))

	o.logger.WithFields(map[string]interface{}{
		"pipeline_id":      o.options.PipelineID,
		"total_records":    summary.TotalRecords,
		"migrated_records": summary.MigratedRecords,
		"failed_records":   summary.FailedRecords,
		"duration":         summary.Duration.String(),
	}).Info("Migration run completed")

	o.recorder.Record(ctx, audit.Event{
		Type:       audit.EventMigrationCompleted,
		PipelineID: o.options.PipelineID,
		Details: map[string]interface{}{
			"total_records":    summary.TotalRecords,
			"migrated_records": summary.MigratedRecords,
			"failed_records":   summary.FailedRecords,
			"duration_seconds": summary.Duration.Seconds(),
		},
	})

	return results, nil
}

// runPhase fans out one goroutine per service plan and joins them all. Every
// service in the phase runs to completion or failure before the phase ends.
func (o *Orchestrator) runPhase(ctx context.Context, phase int, phasePlans []MigrationPlan, progress *MigrationProgress) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error

	for i := range phasePlans {
		plan := phasePlans[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.migrateService(ctx, plan, progress); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("service %s: %w", plan.ServiceName, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if len(failures) > 0 {
		return fmt.Errorf("phase %d failed: %v", phase, failures)
	}
	return nil
}

// migrateService runs the plan's tables in sequence. Table order within a
// service matters when later tables hold foreign keys into earlier ones.
func (o *Orchestrator) migrateService(ctx context.Context, plan MigrationPlan, progress *MigrationProgress) error {
	target, err := o.connections.GetTargetDB(plan.ServiceName)
	if err != nil {
		return err
	}
	source := o.connections.GetSourceDB()
	if source == nil {
		return fmt.Errorf("source database connection is not established")
	}

	for _, table := range plan.Tables {
		migrator, err := NewTableMigrator(plan.ServiceName, table, source, target, o.cipher, o.recorder, o.logger, TableMigratorOptions{
			BatchSize:    o.options.BatchSize,
			Mode:         o.options.Mode,
			SourceSchema: o.options.SourceSchema,
		})
		if err != nil {
			return err
		}

		result, migrateErr := migrator.MigrateTable(ctx)
		if result != nil {
			o.appendResult(*result)
			progress.AddRecords(result.TotalRecords, result.MigratedRecords)
		}
		if migrateErr != nil {
			return fmt.Errorf("table %s: %w", table.SourceTable, migrateErr)
		}
		progress.TableCompleted()
	}

	return nil
}

func (o *Orchestrator) appendResult(result MigrationResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func (o *Orchestrator) resultsCopy() []MigrationResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	results := make([]MigrationResult, len(o.results))
	copy(results, o.results)
	return results
}

func (o *Orchestrator) recordRunFailure(ctx context.Context, err error) {
	o.logger.WithFields(map[string]interface{}{
		"pipeline_id": o.options.PipelineID,
		"error":       err.Error(),
	}).Error("Migration run failed")

	o.recorder.Record(ctx, audit.Event{
		Type:       audit.EventMigrationFailed,
		PipelineID: o.options.PipelineID,
		Details: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

func groupByPhase(plans []MigrationPlan) map[int][]MigrationPlan {
	grouped := make(map[int][]MigrationPlan)
	for i := range plans {
		grouped[plans[i].Phase] = append(grouped[plans[i].Phase], plans[i])
	}
	return grouped
}
