package backup

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"care-migrate/internal/audit"
	"care-migrate/internal/logging"
	"care-migrate/internal/schema"
)

// restoreInsertBatch caps how many archive rows one INSERT statement
// carries during replay.
const restoreInsertBatch = 500

// RestoreManager replays stored backups into the live database. A restore
// only ever starts from a completed and verified backup; in-flight and
// failed backups are invisible to it.
type RestoreManager struct {
	db          *sql.DB
	config      *Config
	storage     StorageProvider
	backups     *Manager
	compression *CompressionManager
	encryption  *EncryptionManager
	inspector   *schema.Inspector
	validator   *Validator
	recorder    audit.Recorder
	notifier    Notifier
	metrics     *MetricsCollector
	logger      *logging.Logger
}

// NewRestoreManager wires a restore manager. The backup manager is used to
// snapshot the current data before a destructive replay; passing nil
// disables PreserveCurrentData.
func NewRestoreManager(db *sql.DB, config *Config, storage StorageProvider, backups *Manager, logger *logging.Logger) (*RestoreManager, error) {
	if config == nil {
		return nil, NewConfigurationError("backup configuration is required", nil)
	}
	config.SetDefaults()
	if storage == nil {
		return nil, NewConfigurationError("storage provider is required", nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &RestoreManager{
		db:          db,
		config:      config,
		storage:     storage,
		backups:     backups,
		compression: NewCompressionManager(),
		encryption:  NewEncryptionManager(&config.Encryption),
		inspector:   schema.NewInspector(),
		validator:   NewValidator(),
		recorder:    audit.NopRecorder{},
		notifier:    NopNotifier{},
		logger:      logger,
	}, nil
}

// SetRecorder replaces the audit recorder. The default discards events.
func (rm *RestoreManager) SetRecorder(recorder audit.Recorder) {
	if recorder != nil {
		rm.recorder = recorder
	}
}

// SetNotifier replaces the notifier invoked once per restore outcome.
func (rm *RestoreManager) SetNotifier(notifier Notifier) {
	if notifier != nil {
		rm.notifier = notifier
	}
}

// SetMetrics attaches an optional in-process metrics collector.
func (rm *RestoreManager) SetMetrics(metrics *MetricsCollector) {
	rm.metrics = metrics
}

// ListRestorePoints returns the backups a restore could start from, newest
// first.
func (rm *RestoreManager) ListRestorePoints(ctx context.Context, pipelineID string) ([]*BackupMetadata, error) {
	return rm.storage.ListMetadata(ctx, MetadataFilter{
		PipelineID:   pipelineID,
		Status:       BackupStatusCompleted,
		Verification: VerificationVerified,
	})
}

// Restore replays a backup into the live database. The result is returned
// alongside any error so callers always see what happened, including the
// integrity checks that ran and how far the replay got.
func (rm *RestoreManager) Restore(ctx context.Context, pipelineID string, opts RestoreOptions) (*RestoreResult, error) {
	if err := rm.validator.ValidateRestoreOptions(opts); err != nil {
		return nil, err
	}

	meta, err := rm.locateBackup(ctx, pipelineID, opts)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		RestoreID:  GenerateRestoreID(),
		BackupID:   meta.BackupID,
		PipelineID: meta.PipelineID,
		StartedAt:  time.Now().UTC(),
		Status:     RestoreStatusRunning,
	}
	start := time.Now()

	rm.record(ctx, audit.EventRollbackStarted, result, map[string]interface{}{
		"backup_type": string(meta.BackupType),
	})

	runErr := rm.run(ctx, meta, opts, result)

	completed := time.Now().UTC()
	result.CompletedAt = &completed
	result.PerformanceMetrics.Duration = time.Since(start)
	if result.PerformanceMetrics.ReplayDuration > 0 {
		result.PerformanceMetrics.RowsPerSecond = float64(result.RecordsRestored) / result.PerformanceMetrics.ReplayDuration.Seconds()
	}

	rm.finish(ctx, result, runErr)
	return result, runErr
}

func (rm *RestoreManager) run(ctx context.Context, meta *BackupMetadata, opts RestoreOptions, result *RestoreResult) error {
	payload, err := rm.storage.RetrieveArtifact(ctx, ArtifactKey(meta.BackupType, meta.BackupID))
	if err != nil {
		return rm.fail(result, NewStorageError(fmt.Sprintf("failed to retrieve artifact for backup %s", meta.BackupID), err))
	}
	result.PerformanceMetrics.ArtifactBytes = int64(len(payload))

	// The pre-check runs before anything touches live data. A mismatch
	// aborts with zero mutations.
	if opts.VerifyIntegrity {
		md5sum, sha256sum := Checksums(payload)
		if md5sum != meta.ChecksumMD5 || sha256sum != meta.ChecksumSHA256 {
			result.AddCheck(checkResult(CheckTypeChecksum, CheckStatusFailed,
				"artifact checksums do not match recorded values", meta.ChecksumSHA256, sha256sum))
			return rm.fail(result, NewCorruptionError(fmt.Sprintf("backup %s failed the integrity pre-check", meta.BackupID), nil))
		}
		result.AddCheck(checkResult(CheckTypeChecksum, CheckStatusPassed, "", meta.ChecksumSHA256, sha256sum))
	}

	var snapshotID string
	if opts.PreserveCurrentData {
		snapshotID, err = rm.preserveCurrentData(ctx, meta.PipelineID)
		if err != nil {
			return rm.fail(result, err)
		}
		result.PerformanceMetrics.SnapshotCreated = true
	}

	decodeStart := time.Now()
	decoded, err := decodeArtifact(payload, meta, rm.compression, rm.encryption)
	if err != nil {
		return rm.fail(result, err)
	}
	archive, err := DecodeArchive(decoded)
	if err != nil {
		return rm.fail(result, err)
	}
	result.PerformanceMetrics.DecodeDuration = time.Since(decodeStart)
	result.PerformanceMetrics.DecodedBytes = int64(len(decoded))

	replayStart := time.Now()
	records, tables, replayErr := rm.replay(ctx, archive, result)
	result.PerformanceMetrics.ReplayDuration = time.Since(replayStart)
	result.RecordsRestored = records
	result.TablesRestored = tables

	if replayErr != nil {
		result.Errors = append(result.Errors, replayErr.Error())
		if opts.RollbackOnFailure && snapshotID != "" {
			if rbErr := rm.restoreSnapshot(ctx, snapshotID, result); rbErr != nil {
				result.Errors = append(result.Errors, rbErr.Error())
				result.Status = RestoreStatusFailed
				return replayErr
			}
			result.Status = RestoreStatusRolledBack
			return replayErr
		}
		result.Status = RestoreStatusFailed
		return replayErr
	}

	checksStart := time.Now()
	rm.runPostChecks(ctx, archive, result)
	result.PerformanceMetrics.ChecksDuration = time.Since(checksStart)

	result.Status = RestoreStatusCompleted
	return nil
}

func (rm *RestoreManager) fail(result *RestoreResult, err error) error {
	result.Status = RestoreStatusFailed
	result.Errors = append(result.Errors, err.Error())
	return err
}

// locateBackup resolves the backup to restore: the explicitly requested one
// or the most recent restorable backup of the pipeline.
func (rm *RestoreManager) locateBackup(ctx context.Context, pipelineID string, opts RestoreOptions) (*BackupMetadata, error) {
	if opts.BackupID != "" {
		meta, err := rm.storage.LoadMetadata(ctx, opts.BackupID)
		if err != nil {
			return nil, err
		}
		if pipelineID != "" && meta.PipelineID != pipelineID {
			return nil, NewValidationError(fmt.Sprintf("backup %s belongs to pipeline %s, not %s",
				opts.BackupID, meta.PipelineID, pipelineID), nil)
		}
		if !meta.IsRestorable() {
			return nil, NewValidationError(fmt.Sprintf("backup %s is not restorable: status=%s verification=%s",
				opts.BackupID, meta.Status, meta.VerificationStatus), nil)
		}
		return meta, nil
	}

	records, err := rm.storage.ListMetadata(ctx, MetadataFilter{
		PipelineID:   pipelineID,
		Status:       BackupStatusCompleted,
		Verification: VerificationVerified,
		Limit:        1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, NewNotFoundError(fmt.Sprintf("pipeline %s has no completed and verified backup to restore", pipelineID), nil)
	}
	return records[0], nil
}

func (rm *RestoreManager) preserveCurrentData(ctx context.Context, pipelineID string) (string, error) {
	if rm.backups == nil {
		return "", NewConfigurationError("restore manager has no backup manager to preserve current data", nil)
	}
	snapshot, err := rm.backups.CreateBackup(ctx, pipelineID, BackupOptions{
		Description: "automatic snapshot before restore",
		Tags:        map[string]string{"trigger": "pre_rollback"},
	})
	if err != nil {
		return "", NewRestoreError("failed to preserve current data before restore", err)
	}
	return snapshot.BackupID, nil
}

// restoreSnapshot replays the pre-restore snapshot after a failed replay.
func (rm *RestoreManager) restoreSnapshot(ctx context.Context, snapshotID string, result *RestoreResult) error {
	rm.logger.WithFields(map[string]interface{}{
		"restore_id": result.RestoreID,
		"backup_id":  snapshotID,
	}).Warn("Replay failed, restoring pre-restore snapshot")

	meta, err := rm.storage.LoadMetadata(ctx, snapshotID)
	if err != nil {
		return NewRestoreError(fmt.Sprintf("failed to load snapshot %s", snapshotID), err)
	}
	payload, err := rm.storage.RetrieveArtifact(ctx, ArtifactKey(meta.BackupType, meta.BackupID))
	if err != nil {
		return NewRestoreError(fmt.Sprintf("failed to retrieve snapshot %s", snapshotID), err)
	}
	decoded, err := decodeArtifact(payload, meta, rm.compression, rm.encryption)
	if err != nil {
		return err
	}
	archive, err := DecodeArchive(decoded)
	if err != nil {
		return err
	}
	if _, _, err := rm.replay(ctx, archive, result); err != nil {
		return NewRestoreError(fmt.Sprintf("failed to replay snapshot %s", snapshotID), err)
	}
	return nil
}

// replay loads every archived table through one session with foreign key
// checks suspended. FK checks stay on for every other session; without
// this the replay order would need a topological sort of the constraint
// graph.
func (rm *RestoreManager) replay(ctx context.Context, archive *Archive, result *RestoreResult) (int64, int, error) {
	if rm.db == nil {
		return 0, 0, NewConfigurationError("restore manager has no database connection", nil)
	}
	conn, err := rm.db.Conn(ctx)
	if err != nil {
		return 0, 0, NewDatabaseError("failed to open restore session", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return 0, 0, NewDatabaseError("failed to suspend foreign key checks", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SET FOREIGN_KEY_CHECKS = 1")
	}()

	var records int64
	tables := 0
	for _, table := range archive.Tables {
		if err := ctx.Err(); err != nil {
			return records, tables, err
		}
		n, err := rm.replayTable(ctx, conn, table)
		if err != nil {
			return records, tables, NewRestoreError(fmt.Sprintf("failed to restore table %s", table.Name), err)
		}
		records += n
		tables++
		rm.record(ctx, audit.EventRollbackProgress, result, map[string]interface{}{
			"table": table.Name,
			"rows":  n,
		})
	}
	return records, tables, nil
}

// replayTable loads one table inside its own transaction. Complete dumps
// replace the table wholesale; partial dumps from incremental backups
// upsert their rows over whatever is present.
func (rm *RestoreManager) replayTable(ctx context.Context, conn *sql.Conn, table TableDump) (int64, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewDatabaseError(fmt.Sprintf("failed to begin transaction for table %s", table.Name), err)
	}

	verb := "INSERT"
	if table.Complete {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM `%s`", table.Name)); err != nil {
			tx.Rollback()
			return 0, NewDatabaseError(fmt.Sprintf("failed to clear table %s", table.Name), err)
		}
	} else {
		verb = "REPLACE"
	}

	var loaded int64
	for start := 0; start < len(table.Rows); start += restoreInsertBatch {
		end := start + restoreInsertBatch
		if end > len(table.Rows) {
			end = len(table.Rows)
		}
		batch := table.Rows[start:end]
		query, args := buildInsertQuery(verb, table.Name, table.Columns, batch)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return 0, NewDatabaseError(fmt.Sprintf("failed to load rows into table %s", table.Name), err)
		}
		loaded += int64(len(batch))
	}

	if err := tx.Commit(); err != nil {
		return 0, NewDatabaseError(fmt.Sprintf("failed to commit restore of table %s", table.Name), err)
	}
	return loaded, nil
}

func buildInsertQuery(verb, table string, columns []string, rows [][]interface{}) (string, []interface{}) {
	var builder strings.Builder
	builder.WriteString(verb)
	builder.WriteString(fmt.Sprintf(" INTO `%s` (", table))
	for i, col := range columns {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(fmt.Sprintf("`%s`", col))
	}
	builder.WriteString(") VALUES ")

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]interface{}, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(placeholder)
		args = append(args, row...)
	}
	return builder.String(), args
}

// runPostChecks appends the record count, foreign key, constraint, and data
// type checks to the result. A failed check does not undo a finished
// restore; it surfaces as a warning for the operator.
func (rm *RestoreManager) runPostChecks(ctx context.Context, archive *Archive, result *RestoreResult) {
	for _, check := range []IntegrityCheckResult{
		rm.checkRecordCounts(ctx, archive),
		rm.checkForeignKeys(),
		rm.checkConstraints(archive),
		rm.checkDataTypes(archive),
	} {
		result.AddCheck(check)
		if check.Status == CheckStatusFailed {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("post-restore check %s failed: %s", check.CheckType, check.Details))
		}
	}
}

// checkRecordCounts compares live row counts against the archive for every
// completely captured table. Partial tables have no expected total.
func (rm *RestoreManager) checkRecordCounts(ctx context.Context, archive *Archive) IntegrityCheckResult {
	var expected, actual int64
	for _, table := range archive.Tables {
		if !table.Complete {
			continue
		}
		var count int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", table.Name)
		if err := rm.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return checkResult(CheckTypeRecordCount, CheckStatusFailed,
				fmt.Sprintf("failed to count rows in table %s: %v", table.Name, err), "", "")
		}
		expected += int64(len(table.Rows))
		actual += count
	}
	if expected != actual {
		return checkResult(CheckTypeRecordCount, CheckStatusFailed,
			"restored row counts do not match the archive",
			strconv.FormatInt(expected, 10), strconv.FormatInt(actual, 10))
	}
	return checkResult(CheckTypeRecordCount, CheckStatusPassed, "",
		strconv.FormatInt(expected, 10), strconv.FormatInt(actual, 10))
}

func (rm *RestoreManager) checkForeignKeys() IntegrityCheckResult {
	keys, err := rm.inspector.ListForeignKeys(rm.db, rm.config.Schema)
	if err != nil {
		return checkResult(CheckTypeForeignKeys, CheckStatusWarning,
			fmt.Sprintf("could not list foreign keys: %v", err), "", "")
	}
	var orphans int64
	for _, fk := range keys {
		count, err := rm.inspector.CountOrphanedRows(rm.db, fk)
		if err != nil {
			return checkResult(CheckTypeForeignKeys, CheckStatusWarning,
				fmt.Sprintf("could not check constraint %s: %v", fk.ConstraintName, err), "", "")
		}
		orphans += count
	}
	if orphans > 0 {
		return checkResult(CheckTypeForeignKeys, CheckStatusFailed,
			fmt.Sprintf("%d rows violate foreign key constraints", orphans), "0", strconv.FormatInt(orphans, 10))
	}
	return checkResult(CheckTypeForeignKeys, CheckStatusPassed, "", "0", "0")
}

// checkConstraints verifies each restored table still carries the primary
// key recorded at backup time.
func (rm *RestoreManager) checkConstraints(archive *Archive) IntegrityCheckResult {
	for _, table := range archive.Tables {
		if len(table.PrimaryKey) == 0 {
			continue
		}
		current, err := rm.inspector.PrimaryKeyColumns(rm.db, rm.config.Schema, table.Name)
		if err != nil {
			return checkResult(CheckTypeConstraints, CheckStatusWarning,
				fmt.Sprintf("could not inspect primary key of table %s: %v", table.Name, err), "", "")
		}
		if !equalStrings(current, table.PrimaryKey) {
			return checkResult(CheckTypeConstraints, CheckStatusFailed,
				fmt.Sprintf("primary key of table %s changed since the backup", table.Name),
				strings.Join(table.PrimaryKey, ","), strings.Join(current, ","))
		}
	}
	return checkResult(CheckTypeConstraints, CheckStatusPassed, "", "", "")
}

// checkDataTypes verifies every archived column still exists with the data
// type recorded at backup time.
func (rm *RestoreManager) checkDataTypes(archive *Archive) IntegrityCheckResult {
	for _, table := range archive.Tables {
		info, err := rm.inspector.InspectTable(rm.db, rm.config.Schema, table.Name)
		if err != nil {
			return checkResult(CheckTypeDataTypes, CheckStatusWarning,
				fmt.Sprintf("could not inspect table %s: %v", table.Name, err), "", "")
		}
		types := make(map[string]string, len(info.Columns))
		for _, col := range info.Columns {
			types[col.Name] = col.DataType
		}
		for name, want := range table.ColumnTypes {
			got, ok := types[name]
			if !ok {
				return checkResult(CheckTypeDataTypes, CheckStatusFailed,
					fmt.Sprintf("column %s.%s no longer exists", table.Name, name), want, "")
			}
			if got != want {
				return checkResult(CheckTypeDataTypes, CheckStatusFailed,
					fmt.Sprintf("column %s.%s changed type since the backup", table.Name, name), want, got)
			}
		}
	}
	return checkResult(CheckTypeDataTypes, CheckStatusPassed, "", "", "")
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// finish emits the terminal audit event, the outcome log line, and exactly
// one notification.
func (rm *RestoreManager) finish(ctx context.Context, result *RestoreResult, cause error) {
	rm.logger.LogRestoreOutcome(result.RestoreID, result.BackupID, string(result.Status),
		result.RecordsRestored, result.PerformanceMetrics.Duration, cause)

	details := map[string]interface{}{
		"status":           string(result.Status),
		"records_restored": result.RecordsRestored,
		"tables_restored":  result.TablesRestored,
	}
	eventType := audit.EventRollbackCompleted
	if result.Status != RestoreStatusCompleted {
		eventType = audit.EventRollbackFailed
		if cause != nil {
			details["error"] = cause.Error()
		}
	}
	rm.record(ctx, eventType, result, details)
	if rm.metrics != nil {
		rm.metrics.RecordRestore(result.Status == RestoreStatusCompleted, result.PerformanceMetrics.Duration)
	}
	rm.notifyOutcome(ctx, result, cause)
}

func (rm *RestoreManager) notifyOutcome(ctx context.Context, result *RestoreResult, cause error) {
	var notification Notification
	switch result.Status {
	case RestoreStatusCompleted:
		notification = Notification{
			Type:     NotifyRestoreCompleted,
			Severity: SeverityInfo,
			Title:    "Restore completed",
			Message: fmt.Sprintf("Restore %s replayed backup %s: %d records across %d tables.",
				result.RestoreID, result.BackupID, result.RecordsRestored, result.TablesRestored),
		}
	case RestoreStatusRolledBack:
		notification = Notification{
			Type:     NotifyRestoreRolledBack,
			Severity: SeverityWarning,
			Title:    "Restore rolled back",
			Message: fmt.Sprintf("Restore %s failed and the pre-restore snapshot was restored: %v",
				result.RestoreID, cause),
		}
	default:
		notification = Notification{
			Type:     NotifyRestoreFailed,
			Severity: SeverityCritical,
			Title:    "Restore failed",
			Message:  fmt.Sprintf("Restore %s of backup %s failed: %v", result.RestoreID, result.BackupID, cause),
		}
	}

	notification.ID = uuid.New().String()
	notification.Timestamp = time.Now().UTC()
	notification.Metadata = map[string]interface{}{
		"restore_id":  result.RestoreID,
		"backup_id":   result.BackupID,
		"pipeline_id": result.PipelineID,
	}

	if err := rm.notifier.Notify(ctx, notification); err != nil {
		rm.logger.WithField("restore_id", result.RestoreID).Warnf("could not deliver restore notification: %v", err)
	}
}

func (rm *RestoreManager) record(ctx context.Context, eventType string, result *RestoreResult, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{}, 2)
	}
	details["restore_id"] = result.RestoreID
	details["backup_id"] = result.BackupID
	rm.recorder.Record(ctx, audit.Event{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		PipelineID: result.PipelineID,
		Details:    details,
	})
}
