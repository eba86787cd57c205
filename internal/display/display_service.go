package display

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"care-migrate/internal/backup"
	"care-migrate/internal/migration"
)

// Service renders command output: status lines, tables, progress, and
// the domain reports the CLI surfaces.
type Service struct {
	config *DisplayConfig
	colors ColorSystem
	icons  IconSystem
	writer io.Writer
}

// NewService builds a display service from configuration.
func NewService(config *DisplayConfig) *Service {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	return &Service{
		config: config,
		colors: NewColorSystem(ThemeByName(config.Theme), config.ColorEnabled),
		icons:  NewIconSystem(config.UseIcons),
		writer: config.Writer,
	}
}

// Config returns the active display configuration.
func (s *Service) Config() *DisplayConfig {
	return s.config
}

// Writer returns the destination command output is written to.
func (s *Service) Writer() io.Writer {
	return s.writer
}

// Printf writes formatted text unless quiet mode is on.
func (s *Service) Printf(format string, args ...interface{}) {
	if s.config.Quiet {
		return
	}
	fmt.Fprintf(s.writer, format, args...)
}

// Header writes a highlighted section title.
func (s *Service) Header(title string) {
	if s.config.Quiet {
		return
	}
	fmt.Fprintf(s.writer, "\n%s\n", s.colors.Colorize(title, s.colors.Theme().Primary))
}

// Success writes a success status line.
func (s *Service) Success(message string) {
	s.statusLine("success", message)
}

// Warning writes a warning status line.
func (s *Service) Warning(message string) {
	s.statusLine("warning", message)
}

// Error writes an error status line. Errors print even in quiet mode.
func (s *Service) Error(message string) {
	fmt.Fprintf(s.writer, "%s %s\n", s.icons.RenderColored("error", s.colors), message)
}

// Info writes an informational status line.
func (s *Service) Info(message string) {
	s.statusLine("info", message)
}

func (s *Service) statusLine(icon, message string) {
	if s.config.Quiet {
		return
	}
	fmt.Fprintf(s.writer, "%s %s\n", s.icons.RenderColored(icon, s.colors), message)
}

// NewTable creates a table bound to this service's width and colors.
func (s *Service) NewTable() *Table {
	return NewTable(s.colors, s.config.MaxWidth)
}

// NewSpinner creates a spinner, or nil when progress display is off.
func (s *Service) NewSpinner(message string) *Spinner {
	if !s.config.ShowProgress || s.config.Quiet {
		return nil
	}
	return NewSpinner(message, s.writer, s.colors)
}

// NewProgressBar creates a progress bar, or nil when progress display
// is off.
func (s *Service) NewProgressBar(total int64, message string) *ProgressBar {
	if !s.config.ShowProgress || s.config.Quiet {
		return nil
	}
	return NewProgressBar(total, message, s.writer, s.colors)
}

// NewPhaseTracker creates a tracker for a migration run's phases.
func (s *Service) NewPhaseTracker(phases []string) *PhaseTracker {
	return NewPhaseTracker(phases, s.writer, s.colors, s.icons)
}

// MarshalTo writes a value in a machine-readable format.
func (s *Service) MarshalTo(format OutputFormat, value interface{}) error {
	data, err := Marshal(format, value)
	if err != nil {
		return err
	}
	_, err = s.writer.Write(data)
	return err
}

// RenderBackupList writes backups as a table, newest first.
func (s *Service) RenderBackupList(backups []*backup.BackupMetadata) {
	if len(backups) == 0 {
		s.Info("No backups found.")
		return
	}

	table := s.NewTable()
	table.SetHeaders("BACKUP ID", "PIPELINE", "TYPE", "STATUS", "VERIFIED", "SIZE", "RECORDS", "AGE")
	table.SetAlignment(5, AlignRight)
	table.SetAlignment(6, AlignRight)

	now := time.Now()
	for _, meta := range backups {
		table.AddRow(
			meta.BackupID,
			meta.PipelineID,
			string(meta.BackupType),
			string(meta.Status),
			string(meta.VerificationStatus),
			humanize.Bytes(uint64(meta.BackupSize)),
			humanize.Comma(meta.RecordCount),
			humanize.RelTime(meta.CreatedAt, now, "ago", "from now"),
		)
	}
	table.RenderTo(s.writer)
}

// RenderBackupDetail writes one backup's full metadata.
func (s *Service) RenderBackupDetail(meta *backup.BackupMetadata) {
	section := NewSection(fmt.Sprintf("Backup %s", meta.BackupID)).WithIcon("backup").
		Add("Pipeline", meta.PipelineID).
		Add("Type", meta.BackupType).
		Add("Status", meta.Status).
		Add("Verification", meta.VerificationStatus).
		Add("Created", meta.CreatedAt.Format(time.RFC3339)).
		Add("Size", humanize.Bytes(uint64(meta.BackupSize))).
		Add("Records", humanize.Comma(meta.RecordCount)).
		Add("Tables", meta.TableCount)

	if meta.CompletedAt != nil {
		section.Add("Completed", meta.CompletedAt.Format(time.RFC3339))
	}
	if meta.BaseBackupID != "" {
		section.Add("Base backup", meta.BaseBackupID)
	}
	if meta.CompressionRatio != nil {
		section.Add("Compression", fmt.Sprintf("%.2fx", *meta.CompressionRatio))
	}
	if meta.EncryptionAlgorithm != "" {
		section.Add("Encryption", meta.EncryptionAlgorithm)
	}
	if meta.ChecksumSHA256 != "" {
		section.Add("SHA-256", meta.ChecksumSHA256)
	}
	if meta.Description != "" {
		section.Add("Description", meta.Description)
	}
	for _, key := range sortedTagKeys(meta.Tags) {
		section.Add("Tag "+key, meta.Tags[key])
	}

	NewSectionFormatter(s.writer, s.colors, s.icons).Render(section)
}

// RenderRestoreResult writes a restore outcome with its integrity checks.
func (s *Service) RenderRestoreResult(result *backup.RestoreResult) {
	section := NewSection(fmt.Sprintf("Restore %s", result.RestoreID)).WithIcon("restore").
		Add("Backup", result.BackupID).
		Add("Pipeline", result.PipelineID).
		Add("Status", result.Status).
		Add("Records restored", humanize.Comma(result.RecordsRestored)).
		Add("Tables restored", result.TablesRestored).
		Add("Duration", result.PerformanceMetrics.Duration.Round(time.Millisecond))

	if result.PerformanceMetrics.RowsPerSecond > 0 {
		section.Add("Throughput", fmt.Sprintf("%.0f rows/s", result.PerformanceMetrics.RowsPerSecond))
	}
	if result.PerformanceMetrics.SnapshotCreated {
		section.Add("Safety snapshot", "created before replay")
	}
	NewSectionFormatter(s.writer, s.colors, s.icons).Render(section)

	if len(result.IntegrityCheckResults) > 0 {
		s.Header("Integrity checks")
		table := s.NewTable()
		table.SetHeaders("CHECK", "STATUS", "DETAILS")
		for _, check := range result.IntegrityCheckResults {
			table.AddRow(string(check.CheckType), string(check.Status), check.Details)
		}
		table.RenderTo(s.writer)
	}

	for _, warning := range result.Warnings {
		s.Warning(warning)
	}
	for _, message := range result.Errors {
		s.Error(message)
	}

	switch result.Status {
	case backup.RestoreStatusCompleted:
		s.Success("Restore completed.")
	case backup.RestoreStatusRolledBack:
		s.Warning("Restore failed and was rolled back to the pre-restore snapshot.")
	default:
		s.Error("Restore failed.")
	}
}

// RenderVerificationReport writes a verifier's findings for one backup.
func (s *Service) RenderVerificationReport(report *backup.VerificationReport) {
	table := s.NewTable()
	table.SetHeaders("CHECK", "STATUS", "DETAILS")
	for _, check := range report.Checks {
		table.AddRow(string(check.CheckType), string(check.Status), check.Details)
	}
	s.Header(fmt.Sprintf("Verification of %s", report.BackupID))
	table.RenderTo(s.writer)

	if report.Passed {
		s.Success("All checks passed.")
	} else {
		s.Error("Verification failed.")
	}
}

// RenderUsageReport writes storage usage grouped by pipeline and type.
func (s *Service) RenderUsageReport(report *backup.StorageUsageReport) {
	section := NewSection("Storage usage").WithIcon("database").
		Add("Provider", report.Provider).
		Add("Backups", report.TotalBackups).
		Add("Total size", report.TotalHuman())
	if report.Oldest != nil {
		section.Add("Oldest", fmt.Sprintf("%s (%s)", report.Oldest.BackupID,
			humanize.RelTime(report.Oldest.CreatedAt, time.Now(), "ago", "from now")))
	}
	if report.Newest != nil {
		section.Add("Newest", report.Newest.BackupID)
	}
	NewSectionFormatter(s.writer, s.colors, s.icons).Render(section)

	if len(report.ByPipeline) > 0 {
		s.Header("By pipeline")
		table := s.NewTable()
		table.SetHeaders("PIPELINE", "BACKUPS", "SIZE")
		table.SetAlignment(1, AlignRight)
		table.SetAlignment(2, AlignRight)
		for _, id := range sortedPipelineIDs(report.ByPipeline) {
			usage := report.ByPipeline[id]
			table.AddRow(id, fmt.Sprintf("%d", usage.BackupCount), humanize.Bytes(uint64(usage.TotalBytes)))
		}
		table.RenderTo(s.writer)
	}
}

// RenderSweepResult writes a retention sweep summary.
func (s *Service) RenderSweepResult(result *backup.SweepResult) {
	section := NewSection("Retention sweep").WithIcon("retention").
		Add("Examined", result.Examined).
		Add("Deleted", result.Deleted).
		Add("Kept", result.Kept).
		Add("Protected", result.Protected).
		Add("Space freed", humanize.Bytes(uint64(result.BytesFreed))).
		Add("Duration", result.Duration.Round(time.Millisecond))
	NewSectionFormatter(s.writer, s.colors, s.icons).Render(section)

	for _, sweepErr := range result.Errors {
		s.Warning(sweepErr)
	}
}

// RenderMigrationPlans writes the plan set grouped by phase.
func (s *Service) RenderMigrationPlans(plans []migration.MigrationPlan) {
	table := s.NewTable()
	table.SetHeaders("PHASE", "SERVICE", "TABLES", "DEPENDS ON")
	table.SetAlignment(0, AlignRight)

	sorted := make([]migration.MigrationPlan, len(plans))
	copy(sorted, plans)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Phase < sorted[j].Phase })

	for _, plan := range sorted {
		tables := make([]string, 0, len(plan.Tables))
		for _, tableCfg := range plan.Tables {
			tables = append(tables, tableCfg.SourceTable)
		}
		table.AddRow(
			fmt.Sprintf("%d", plan.Phase),
			plan.ServiceName,
			joinOrDash(tables),
			joinOrDash(plan.Dependencies),
		)
	}
	table.RenderTo(s.writer)
}

// RenderMigrationSummary writes a run's totals and per-table outcomes.
func (s *Service) RenderMigrationSummary(summary migration.RunSummary) {
	section := NewSection("Migration run").WithIcon("migrate").
		Add("Status", summary.Status).
		Add("Tables", len(summary.Results)).
		Add("Records", fmt.Sprintf("%s total, %s migrated, %s failed",
			humanize.Comma(summary.TotalRecords),
			humanize.Comma(summary.MigratedRecords),
			humanize.Comma(summary.FailedRecords))).
		Add("Duration", summary.Duration.Round(time.Millisecond))
	NewSectionFormatter(s.writer, s.colors, s.icons).Render(section)

	if len(summary.Results) == 0 {
		return
	}
	table := s.NewTable()
	table.SetHeaders("SERVICE", "TABLE", "STATUS", "MIGRATED", "FAILED", "DURATION")
	table.SetAlignment(3, AlignRight)
	table.SetAlignment(4, AlignRight)
	for _, result := range summary.Results {
		table.AddRow(
			result.ServiceName,
			result.TableName,
			string(result.Status),
			fmt.Sprintf("%d/%d", result.MigratedRecords, result.TotalRecords),
			fmt.Sprintf("%d", result.FailedRecords),
			result.Duration.Round(time.Millisecond).String(),
		)
	}
	table.RenderTo(s.writer)
}

func sortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedPipelineIDs(usage map[string]*backup.PipelineUsage) []string {
	ids := make([]string, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	result := values[0]
	for _, value := range values[1:] {
		result += ", " + value
	}
	return result
}
