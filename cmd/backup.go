package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"care-migrate/internal/audit"
	"care-migrate/internal/backup"
	"care-migrate/internal/config"
	"care-migrate/internal/confirmation"
	"care-migrate/internal/database"
	"care-migrate/internal/display"
	"care-migrate/internal/metrics"
)

// Backup command flags
var (
	// Create flags
	backupType        string
	backupSince       string
	backupDescription string
	backupTags        []string
	backupTables      []string
	backupPipelineID  string

	// List flags
	backupListType   string
	backupListStatus string
	backupListAfter  string
	backupListBefore string
	backupListTags   []string
	backupListLimit  int

	// Sweep flags
	backupSweepDryRun bool

	// Delete flags
	backupDeleteAutoApprove bool

	// Export flags
	backupExportWithMetadata bool
)

// backupCmd represents the backup command group
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, inspect, and manage backups of the legacy schema",
	Long: `Manage backups of the legacy care records schema.

Backups run through a staged pipeline: dump, compress, encrypt, checksum,
store, verify. Artifacts and their metadata records live on the configured
storage provider (local disk, S3, GCS, or Azure Blob Storage).`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup",
	Long: `Create a backup of the legacy schema and store it on the configured
storage provider.

Incremental backups capture rows changed since a base backup, which is
the most recent completed backup unless --since names one. Differential
backups capture rows changed since the most recent full backup.

Examples:
  # Full backup with a description and tags
  care-migrate backup create --description "before go-live" --tag env=prod

  # Incremental backup since the last completed backup
  care-migrate backup create --type incremental

  # Differential backup of two tables only
  care-migrate backup create --type differential --table residents --table care_plans`,
	RunE: runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups",
	Long: `List backup metadata records, newest first.

Dates accept RFC3339 timestamps, YYYY-MM-DD dates, or relative forms
like 7d, 2w, 1m.

Examples:
  # Everything for the configured pipeline
  care-migrate backup list

  # Completed full backups from the last week, as JSON
  care-migrate backup list --type full --status completed --after 7d --format json`,
	RunE: runBackupList,
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <backup-id>",
	Short: "Verify a backup's integrity and restorability",
	Long: `Re-run the integrity, completeness, and restorability checks against
a stored backup. Nothing touches live data.

Examples:
  care-migrate backup verify backup-20250812-090000-a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupVerify,
}

var backupUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report storage usage across all backups",
	Long: `Aggregate the stored backups into a usage report: totals, per-pipeline
and per-type breakdowns, and the largest, oldest, and newest artifacts.

Examples:
  care-migrate backup usage
  care-migrate backup usage --format json`,
	RunE: runBackupUsage,
}

var backupSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete backups that have outlived their retention window",
	Long: `Run one retention sweep. Expired backups are deleted unless they are
protected by the keep-daily, keep-weekly, or keep-monthly rules or are
the base of a newer incremental or differential backup.

Examples:
  # Show what would be deleted
  care-migrate backup sweep --dry-run

  # Delete expired backups now
  care-migrate backup sweep`,
	RunE: runBackupSweep,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a single backup",
	Long: `Delete one backup artifact and its metadata record after an
interactive confirmation.

Examples:
  care-migrate backup delete backup-20250812-090000-a1b2c3d4
  care-migrate backup delete backup-20250812-090000-a1b2c3d4 --auto-approve`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupDelete,
}

var backupExportCmd = &cobra.Command{
	Use:   "export <backup-id> [output-file]",
	Short: "Export a backup artifact to a local file",
	Long: `Download a stored backup artifact into a local file, byte for byte
as stored: still compressed and, when encryption is configured, still
encrypted. The artifact checksum is verified before anything is written.

The output file defaults to <backup-id>.car in the current directory.
--with-metadata writes the metadata record next to it, which a restore
needs when the backup moves to another storage location.

Examples:
  care-migrate backup export backup-20250812-090000-a1b2c3d4

  # Named output with the metadata record alongside
  care-migrate backup export backup-20250812-090000-a1b2c3d4 /mnt/transfer/go-live.car --with-metadata`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBackupExport,
}

var backupValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the backup configuration and environment",
	Long: `Check that the backup configuration is usable: the storage location
is reachable and writable, the encryption key is available, and the
retention windows are consistent. Nothing is backed up.

Examples:
  care-migrate backup validate --config config.yaml`,
	RunE: runBackupValidate,
}

var backupHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the health of the backup subsystem",
	Long: `Probe the configured storage provider, the encryption key source, and
the notification channels, and report per-component health.

Examples:
  care-migrate backup health
  care-migrate backup health --format json`,
	RunE: runBackupHealth,
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	cfg, err := requireBackupConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	tags, err := parseTags(backupTags)
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
	manager.SetRecorder(audit.NewLogRecorder(logger))

	opts := backup.BackupOptions{
		Description: backupDescription,
		Tags:        tags,
		Tables:      backupTables,
	}
	pipelineID := resolvePipelineID(cmd, cfg)

	started := time.Now()
	var result *backup.BackupConfiguration
	switch backup.BackupType(backupType) {
	case backup.BackupTypeFull:
		result, err = manager.CreateBackup(ctx, pipelineID, opts)
	case backup.BackupTypeIncremental:
		result, err = manager.CreateIncrementalBackup(ctx, pipelineID, backupSince, opts)
	case backup.BackupTypeDifferential:
		result, err = manager.CreateDifferentialBackup(ctx, pipelineID, opts)
	default:
		return fmt.Errorf("unknown backup type %q, must be full, incremental, or differential", backupType)
	}
	duration := time.Since(started)

	if err != nil {
		metrics.ObserveBackup(pipelineID, backupType, false, duration, 0)
		return fmt.Errorf("backup failed: %w", err)
	}

	meta, metaErr := manager.GetBackupMetadata(ctx, result.BackupID)
	var size int64
	if metaErr == nil {
		size = meta.BackupSize
	}
	metrics.ObserveBackup(pipelineID, backupType, true, duration, size)

	if metaErr == nil {
		disp.RenderBackupDetail(meta)
	}
	disp.Success(fmt.Sprintf("Backup %s completed in %s", result.BackupID, duration.Round(time.Millisecond)))
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	cfg, err := requireBackupConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	filter, err := buildListFilter(cmd, cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	storage, err := backup.NewStorageProvider(ctx, cfg.Backup.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage provider: %w", err)
	}
	manager, err := backup.NewManager(nil, &cfg.Backup, storage, logger)
	if err != nil {
		return err
	}

	backups, err := manager.ListBackups(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	format := display.OutputFormat(cfg.Display.OutputFormat)
	if format == display.FormatJSON || format == display.FormatYAML {
		return disp.MarshalTo(format, backups)
	}
	disp.RenderBackupList(backups)
	return nil
}

func runBackupVerify(cmd *cobra.Command, args []string) error {
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

	verifier := backup.NewVerifier(storage, backup.NewEncryptionManager(&cfg.Backup.Encryption), logger)
	report, err := verifier.VerifyBackup(ctx, args[0])
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	metrics.ObserveVerification(report.PipelineID, report.Passed)

	format := display.OutputFormat(cfg.Display.OutputFormat)
	if format == display.FormatJSON || format == display.FormatYAML {
		return disp.MarshalTo(format, report)
	}
	disp.RenderVerificationReport(report)
	if !report.Passed {
		return fmt.Errorf("backup %s failed verification", args[0])
	}
	return nil
}

func runBackupUsage(cmd *cobra.Command, args []string) error {
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
	monitor, err := backup.NewStorageMonitor(storage, logger)
	if err != nil {
		return err
	}

	report, err := monitor.Usage(ctx)
	if err != nil {
		return fmt.Errorf("failed to build usage report: %w", err)
	}
	for _, usage := range report.ByPipeline {
		metrics.SetStorageUsage(usage.PipelineID, usage.BackupCount, usage.TotalBytes)
	}

	format := display.OutputFormat(cfg.Display.OutputFormat)
	if format == display.FormatJSON || format == display.FormatYAML {
		return disp.MarshalTo(format, report)
	}
	disp.RenderUsageReport(report)
	return nil
}

func runBackupSweep(cmd *cobra.Command, args []string) error {
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
	cleaner, err := backup.NewRetentionCleaner(&cfg.Backup, storage, logger)
	if err != nil {
		return err
	}
	cleaner.SetRecorder(audit.NewLogRecorder(logger))

	format := display.OutputFormat(cfg.Display.OutputFormat)

	if backupSweepDryRun {
		candidates, err := cleaner.Candidates(ctx)
		if err != nil {
			return fmt.Errorf("failed to collect sweep candidates: %w", err)
		}
		if format == display.FormatJSON || format == display.FormatYAML {
			return disp.MarshalTo(format, candidates)
		}
		if len(candidates) == 0 {
			disp.Info("No backups are due for deletion")
			return nil
		}
		disp.Header("Backups due for deletion")
		disp.RenderBackupList(candidates)
		return nil
	}

	result, err := cleaner.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("retention sweep failed: %w", err)
	}
	metrics.ObserveSweep(result.Deleted, result.BytesFreed)

	if format == display.FormatJSON || format == display.FormatYAML {
		return disp.MarshalTo(format, result)
	}
	disp.RenderSweepResult(result)
	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
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
	manager, err := backup.NewManager(nil, &cfg.Backup, storage, logger)
	if err != nil {
		return err
	}
	manager.SetRecorder(audit.NewLogRecorder(logger))

	meta, err := manager.GetBackupMetadata(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load backup %s: %w", args[0], err)
	}

	confirmed, err := confirmation.NewService(disp).ConfirmBackupDeletion(meta, backupDeleteAutoApprove)
	if err != nil {
		return err
	}
	if !confirmed {
		disp.Info("Deletion cancelled")
		return nil
	}

	if err := manager.DeleteBackup(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	disp.Success(fmt.Sprintf("Backup %s deleted", args[0]))
	return nil
}

func runBackupExport(cmd *cobra.Command, args []string) error {
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
	manager, err := backup.NewManager(nil, &cfg.Backup, storage, logger)
	if err != nil {
		return err
	}

	meta, err := manager.GetBackupMetadata(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load backup %s: %w", args[0], err)
	}
	if meta.Status != backup.BackupStatusCompleted {
		return fmt.Errorf("backup %s is %s, only completed backups can be exported", meta.BackupID, meta.Status)
	}

	payload, err := storage.RetrieveArtifact(ctx, backup.ArtifactKey(meta.BackupType, meta.BackupID))
	if err != nil {
		return fmt.Errorf("failed to retrieve the backup artifact: %w", err)
	}
	if meta.ChecksumSHA256 != "" {
		if _, sha256sum := backup.Checksums(payload); sha256sum != meta.ChecksumSHA256 {
			return fmt.Errorf("artifact for %s does not match its recorded checksum, refusing to export", meta.BackupID)
		}
	}

	outputPath := meta.BackupID + ".car"
	if len(args) == 2 {
		outputPath = args[1]
	}
	if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	if backupExportWithMetadata {
		record, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode the metadata record: %w", err)
		}
		metadataPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".json"
		if err := os.WriteFile(metadataPath, append(record, '\n'), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", metadataPath, err)
		}
		disp.Info(fmt.Sprintf("Metadata record written to %s", metadataPath))
	}

	disp.Success(fmt.Sprintf("Backup %s exported to %s (%s)",
		meta.BackupID, outputPath, humanize.Bytes(uint64(len(payload)))))
	return nil
}

func runBackupValidate(cmd *cobra.Command, args []string) error {
	cfg, err := requireBackupConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	result := config.NewSystemInitializer(&cfg.Backup, logger).Initialize()

	format := display.OutputFormat(cfg.Display.OutputFormat)
	if format == display.FormatJSON || format == display.FormatYAML {
		if err := disp.MarshalTo(format, result); err != nil {
			return err
		}
	} else {
		renderInitializationResult(disp, result)
	}

	if !result.Success {
		return fmt.Errorf("backup configuration is not usable")
	}
	return nil
}

func runBackupHealth(cmd *cobra.Command, args []string) error {
	cfg, err := requireBackupConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	result := config.NewSystemInitializer(&cfg.Backup, logger).RunHealthCheck()

	ctx := context.Background()
	var storageHealth *backup.StorageHealthReport
	if storage, storageErr := backup.NewStorageProvider(ctx, cfg.Backup.Storage); storageErr == nil {
		if monitor, monitorErr := backup.NewStorageMonitor(storage, logger); monitorErr == nil {
			storageHealth = monitor.Health(ctx)
			metrics.SetStorageHealth(storageHealth.Healthy)
		}
	}

	format := display.OutputFormat(cfg.Display.OutputFormat)
	if format == display.FormatJSON || format == display.FormatYAML {
		return disp.MarshalTo(format, result)
	}

	disp.Header("Backup system health")
	for component, status := range result.ComponentStatus {
		message := fmt.Sprintf("%s: %s", component, status)
		switch status {
		case config.HealthHealthy:
			disp.Success(message)
		case config.HealthDegraded:
			disp.Warning(message)
		default:
			disp.Error(message)
		}
	}
	if storageHealth != nil {
		disp.Info(fmt.Sprintf("Storage round trip: %s", storageHealth.Latency.Round(time.Millisecond)))
	}
	for _, issue := range result.Issues {
		disp.Warning(issue)
	}
	for _, recommendation := range result.Recommendations {
		disp.Info(recommendation)
	}

	if result.OverallHealth == config.HealthUnhealthy {
		return fmt.Errorf("backup system is unhealthy")
	}
	return nil
}

// renderInitializationResult prints a validation outcome as status lines.
func renderInitializationResult(disp *display.Service, result *config.InitializationResult) {
	disp.Header("Backup configuration validation")
	if result.Success {
		disp.Success("Backup configuration is usable")
	} else {
		disp.Error("Backup configuration is not usable")
	}
	for _, errMsg := range result.Errors {
		disp.Error(errMsg)
	}
	for _, warning := range result.Warnings {
		disp.Warning(warning)
	}
	for _, fix := range result.RecommendedFixes {
		disp.Info(fmt.Sprintf("Fix: %s", fix))
	}
}

// requireBackupConfig loads the configuration and rejects runs without a
// backup section.
func requireBackupConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	cfg, err := loadAppConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Backup.Schema == "" {
		return nil, fmt.Errorf("the configuration has no backup section; run 'care-migrate config init' for a template")
	}
	return cfg, nil
}

// resolvePipelineID returns the pipeline the command operates on, from the
// flag when set, otherwise from the configuration.
func resolvePipelineID(cmd *cobra.Command, cfg *config.AppConfig) string {
	if cmd.Flags().Changed("pipeline") {
		return backupPipelineID
	}
	return cfg.Migration.PipelineID
}

// buildListFilter creates a metadata filter from the list flags
func buildListFilter(cmd *cobra.Command, cfg *config.AppConfig) (backup.MetadataFilter, error) {
	filter := backup.MetadataFilter{
		PipelineID: resolvePipelineID(cmd, cfg),
		Limit:      backupListLimit,
	}

	if backupListType != "" {
		switch backupType := backup.BackupType(backupListType); backupType {
		case backup.BackupTypeFull, backup.BackupTypeIncremental, backup.BackupTypeDifferential:
			filter.BackupType = backupType
		default:
			return filter, fmt.Errorf("unknown backup type %q", backupListType)
		}
	}
	if backupListStatus != "" {
		filter.Status = backup.BackupStatus(backupListStatus)
	}
	if backupListAfter != "" {
		after, err := parseDate(backupListAfter)
		if err != nil {
			return filter, err
		}
		filter.CreatedAfter = &after
	}
	if backupListBefore != "" {
		before, err := parseDate(backupListBefore)
		if err != nil {
			return filter, err
		}
		filter.CreatedBefore = &before
	}
	if len(backupListTags) > 0 {
		tags, err := parseTags(backupListTags)
		if err != nil {
			return filter, err
		}
		filter.Tags = tags
	}
	return filter, nil
}

// parseTags converts key=value strings into a tag map
func parseTags(tagStrings []string) (map[string]string, error) {
	if len(tagStrings) == 0 {
		return nil, nil
	}
	tags := make(map[string]string)
	for _, tagStr := range tagStrings {
		parts := strings.SplitN(tagStr, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid tag format %q, expected key=value", tagStr)
		}
		tags[parts[0]] = parts[1]
	}
	return tags, nil
}

// parseDate accepts RFC3339 timestamps, plain dates, and relative forms
// like 7d, 2w, 1m.
func parseDate(dateStr string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, dateStr); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", dateStr); err == nil {
		return t, nil
	}

	if strings.HasSuffix(dateStr, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(dateStr, "d"))
		if err == nil {
			return time.Now().AddDate(0, 0, -days), nil
		}
	}
	if strings.HasSuffix(dateStr, "w") {
		weeks, err := strconv.Atoi(strings.TrimSuffix(dateStr, "w"))
		if err == nil {
			return time.Now().AddDate(0, 0, -weeks*7), nil
		}
	}
	if strings.HasSuffix(dateStr, "m") {
		months, err := strconv.Atoi(strings.TrimSuffix(dateStr, "m"))
		if err == nil {
			return time.Now().AddDate(0, -months, 0), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date %q, expected RFC3339, YYYY-MM-DD, or a relative form like 7d", dateStr)
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupUsageCmd)
	backupCmd.AddCommand(backupSweepCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupValidateCmd)
	backupCmd.AddCommand(backupHealthCmd)

	backupCreateCmd.Flags().StringVar(&backupType, "type", "full", "backup type (full, incremental, differential)")
	backupCreateCmd.Flags().StringVar(&backupSince, "since", "", "base backup ID for incremental backups")
	backupCreateCmd.Flags().StringVar(&backupDescription, "description", "", "description stored in the metadata record")
	backupCreateCmd.Flags().StringArrayVar(&backupTags, "tag", nil, "tag in key=value form (repeatable)")
	backupCreateCmd.Flags().StringArrayVar(&backupTables, "table", nil, "restrict the backup to a table (repeatable)")
	backupCreateCmd.Flags().StringVar(&backupPipelineID, "pipeline", "", "pipeline identifier (default from configuration)")

	backupListCmd.Flags().StringVar(&backupListType, "type", "", "filter by backup type")
	backupListCmd.Flags().StringVar(&backupListStatus, "status", "", "filter by status (creating, completed, failed, expired)")
	backupListCmd.Flags().StringVar(&backupListAfter, "after", "", "only backups created after this date")
	backupListCmd.Flags().StringVar(&backupListBefore, "before", "", "only backups created before this date")
	backupListCmd.Flags().StringArrayVar(&backupListTags, "tag", nil, "filter by tag in key=value form (repeatable)")
	backupListCmd.Flags().IntVar(&backupListLimit, "limit", 0, "maximum number of backups to list (0 = all)")
	backupListCmd.Flags().StringVar(&backupPipelineID, "pipeline", "", "pipeline identifier (default from configuration)")

	backupSweepCmd.Flags().BoolVar(&backupSweepDryRun, "dry-run", false, "show what would be deleted without deleting")

	backupDeleteCmd.Flags().BoolVar(&backupDeleteAutoApprove, "auto-approve", false, "skip the confirmation prompt")

	backupExportCmd.Flags().BoolVar(&backupExportWithMetadata, "with-metadata", false, "also write the metadata record next to the artifact")
}
