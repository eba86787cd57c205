package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"care-migrate/internal/audit"
	"care-migrate/internal/backup"
	"care-migrate/internal/config"
	"care-migrate/internal/confirmation"
	"care-migrate/internal/database"
	"care-migrate/internal/display"
	"care-migrate/internal/metrics"
)

// Restore command flags
var (
	restoreBackupID          string
	restorePipelineID        string
	restoreNoVerify          bool
	restorePreserve          bool
	restoreRollbackOnFailure bool
	restoreAutoApprove       bool
)

// restoreCmd represents the restore command group
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the legacy schema from a backup",
	Long: `Restore the legacy care records schema from a stored backup.

Only completed, verified backups qualify as restore points. Incremental
and differential backups are replayed on top of their base backup
automatically.`,
}

var restoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backups a restore could start from",
	Long: `List the restore points for a pipeline, newest first. A restore point
is a completed backup that has passed verification.

Examples:
  care-migrate restore list
  care-migrate restore list --pipeline care-records --format json`,
	RunE: runRestoreList,
}

var restoreRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a backup into the legacy database",
	Long: `Replay a backup into the legacy database after an interactive
confirmation. The newest restore point is used unless --backup-id names
a specific one.

Artifact checksums are verified against the metadata record before any
data is touched; --no-verify skips that. With --preserve, a full backup
of the current state is taken first, and --rollback-on-failure replays
that snapshot if the restore fails partway.

Examples:
  # Restore the newest verified backup
  care-migrate restore run

  # Restore a specific backup, keeping a snapshot of the current state
  care-migrate restore run --backup-id backup-20250812-090000-a1b2c3d4 \
                           --preserve --rollback-on-failure`,
	RunE: runRestoreRun,
}

func runRestoreList(cmd *cobra.Command, args []string) error {
	cfg, err := requireBackupConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	storage, err := backup.NewStorageProvider(ctx, cfg.Backup.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage provider: %w", err)
	}
	restoreManager, err := backup.NewRestoreManager(nil, &cfg.Backup, storage, nil, logger)
	if err != nil {
		return err
	}

	pipelineID := restorePipeline(cmd, cfg)
	points, err := restoreManager.ListRestorePoints(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("failed to list restore points: %w", err)
	}

	format := display.OutputFormat(cfg.Display.OutputFormat)
	if format == display.FormatJSON || format == display.FormatYAML {
		return disp.MarshalTo(format, points)
	}
	if len(points) == 0 {
		disp.Info(fmt.Sprintf("No restore points for pipeline %s", pipelineID))
		return nil
	}
	disp.RenderBackupList(points)
	return nil
}

func runRestoreRun(cmd *cobra.Command, args []string) error {
	cfg, err := requireBackupConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	connManager := database.NewConnectionManager()
	if err := connManager.ConnectToSource(cfg.Databases.Source); err != nil {
		return fmt.Errorf("failed to connect to the legacy database: %w", err)
	}
	defer connManager.Close()

	storage, err := backup.NewStorageProvider(ctx, cfg.Backup.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage provider: %w", err)
	}
	manager, err := backup.NewManager(connManager.GetSourceDB(), &cfg.Backup, storage, logger)
	if err != nil {
		return err
	}
	restoreManager, err := backup.NewRestoreManager(connManager.GetSourceDB(), &cfg.Backup, storage, manager, logger)
	if err != nil {
		return err
	}
	recorder := audit.NewLogRecorder(logger)
	manager.SetRecorder(recorder)
	restoreManager.SetRecorder(recorder)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure notifications: %w", err)
	}
	restoreManager.SetNotifier(notifier)

	pipelineID := restorePipeline(cmd, cfg)
	opts := backup.RestoreOptions{
		BackupID:            restoreBackupID,
		VerifyIntegrity:     !restoreNoVerify,
		PreserveCurrentData: restorePreserve,
		RollbackOnFailure:   restoreRollbackOnFailure,
	}

	meta, err := locateRestorePoint(ctx, restoreManager, pipelineID, opts.BackupID)
	if err != nil {
		return err
	}

	confirmed, err := confirmation.NewService(disp).ConfirmRestore(meta, restoreAutoApprove)
	if err != nil {
		return err
	}
	if !confirmed {
		disp.Info("Restore cancelled")
		return nil
	}

	started := time.Now()
	result, err := restoreManager.Restore(ctx, pipelineID, opts)
	duration := time.Since(started)

	if result != nil {
		metrics.ObserveRestore(pipelineID, string(result.Status), duration)
		format := display.OutputFormat(cfg.Display.OutputFormat)
		if format == display.FormatJSON || format == display.FormatYAML {
			if marshalErr := disp.MarshalTo(format, result); marshalErr != nil {
				return marshalErr
			}
		} else {
			disp.RenderRestoreResult(result)
		}
	}
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	return nil
}

// locateRestorePoint resolves the backup a restore run will replay, so the
// confirmation prompt can show what is about to happen.
func locateRestorePoint(ctx context.Context, restoreManager *backup.RestoreManager, pipelineID, backupID string) (*backup.BackupMetadata, error) {
	points, err := restoreManager.ListRestorePoints(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list restore points: %w", err)
	}
	if backupID == "" {
		if len(points) == 0 {
			return nil, fmt.Errorf("no restore points for pipeline %s", pipelineID)
		}
		return points[0], nil
	}
	for _, point := range points {
		if point.BackupID == backupID {
			return point, nil
		}
	}
	return nil, fmt.Errorf("backup %s is not a restore point for pipeline %s", backupID, pipelineID)
}

// restorePipeline returns the pipeline the restore operates on, from the
// flag when set, otherwise from the configuration.
func restorePipeline(cmd *cobra.Command, cfg *config.AppConfig) string {
	if cmd.Flags().Changed("pipeline") {
		return restorePipelineID
	}
	return cfg.Migration.PipelineID
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.AddCommand(restoreListCmd)
	restoreCmd.AddCommand(restoreRunCmd)

	restoreListCmd.Flags().StringVar(&restorePipelineID, "pipeline", "", "pipeline identifier (default from configuration)")

	restoreRunCmd.Flags().StringVar(&restoreBackupID, "backup-id", "", "backup to restore (default is the newest restore point)")
	restoreRunCmd.Flags().StringVar(&restorePipelineID, "pipeline", "", "pipeline identifier (default from configuration)")
	restoreRunCmd.Flags().BoolVar(&restoreNoVerify, "no-verify", false, "skip the pre-restore checksum verification")
	restoreRunCmd.Flags().BoolVar(&restorePreserve, "preserve", false, "back up the current state before restoring")
	restoreRunCmd.Flags().BoolVar(&restoreRollbackOnFailure, "rollback-on-failure", false, "restore the preserved snapshot if the replay fails (requires --preserve)")
	restoreRunCmd.Flags().BoolVar(&restoreAutoApprove, "auto-approve", false, "skip the confirmation prompt")
}
