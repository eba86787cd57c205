package backup

import (
	"context"
	"fmt"
	"time"

	"care-migrate/internal/audit"
	"care-migrate/internal/logging"
)

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Examined   int           `json:"examined"`
	Deleted    int           `json:"deleted"`
	Kept       int           `json:"kept"`
	Protected  int           `json:"protected"`
	BytesFreed int64         `json:"bytes_freed"`
	DeletedIDs []string      `json:"deleted_ids,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

// RetentionCleaner deletes backups that have outlived the retention window
// for their type. In-flight backups (status=creating) are never touched
// regardless of age, and the keep-daily/weekly/monthly windows can protect
// the newest backup of recent calendar buckets from age-based deletion.
type RetentionCleaner struct {
	config   *Config
	storage  StorageProvider
	recorder audit.Recorder
	metrics  *MetricsCollector
	logger   *logging.Logger
}

// NewRetentionCleaner wires a cleaner over the same storage provider the
// backup manager writes to.
func NewRetentionCleaner(config *Config, storage StorageProvider, logger *logging.Logger) (*RetentionCleaner, error) {
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

	return &RetentionCleaner{
		config:   config,
		storage:  storage,
		recorder: audit.NopRecorder{},
		logger:   logger,
	}, nil
}

// SetRecorder replaces the audit recorder. The default discards events.
func (rc *RetentionCleaner) SetRecorder(recorder audit.Recorder) {
	if recorder != nil {
		rc.recorder = recorder
	}
}

// SetMetrics attaches an optional in-process metrics collector.
func (rc *RetentionCleaner) SetMetrics(metrics *MetricsCollector) {
	rc.metrics = metrics
}

// Run sweeps on the configured interval until the context is cancelled.
func (rc *RetentionCleaner) Run(ctx context.Context) error {
	interval := rc.config.Retention.SweepInterval
	if interval <= 0 {
		return NewConfigurationError("retention sweep interval must be positive", nil)
	}
	rc.logger.WithField("interval", interval.String()).Info("Retention sweeps scheduled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			rc.logger.Info("Retention sweeps stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := rc.Sweep(ctx); err != nil {
				rc.logger.Errorf("Retention sweep failed: %v", err)
			}
		}
	}
}

// Sweep examines every metadata record and deletes the expired ones. Per
// record failures are collected rather than aborting the sweep; the sweep
// itself only fails when the records cannot even be listed.
func (rc *RetentionCleaner) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{StartedAt: start.UTC()}

	records, err := rc.storage.ListMetadata(ctx, MetadataFilter{})
	if err != nil {
		rc.recordSweep(ctx, audit.EventCleanupFailed, map[string]interface{}{
			"error": err.Error(),
		})
		return nil, NewRetentionError("failed to list backups for retention sweep", err)
	}
	result.Examined = len(records)

	// Protection windows apply per pipeline; the newest-first listing
	// order carries into each group.
	byPipeline := make(map[string][]*BackupMetadata)
	for _, record := range records {
		byPipeline[record.PipelineID] = append(byPipeline[record.PipelineID], record)
	}

	now := time.Now()
	for _, group := range byPipeline {
		protected := rc.protectedIDs(group)
		for _, record := range group {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if !rc.eligible(record, now) {
				result.Kept++
				continue
			}
			if protected[record.BackupID] && record.Status != BackupStatusExpired {
				result.Protected++
				result.Kept++
				continue
			}
			if err := rc.deleteExpired(ctx, record); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Deleted++
			result.BytesFreed += record.BackupSize
			result.DeletedIDs = append(result.DeletedIDs, record.BackupID)
		}
	}

	result.Duration = time.Since(start)
	if rc.metrics != nil && result.BytesFreed > 0 {
		rc.metrics.RecordRetention(result.BytesFreed)
	}

	if len(result.Errors) > 0 {
		rc.recordSweep(ctx, audit.EventCleanupFailed, map[string]interface{}{
			"examined": result.Examined,
			"deleted":  result.Deleted,
			"errors":   len(result.Errors),
		})
	} else {
		rc.recordSweep(ctx, audit.EventCleanupCompleted, map[string]interface{}{
			"examined": result.Examined,
			"deleted":  result.Deleted,
			"kept":     result.Kept,
		})
	}

	rc.logger.WithFields(map[string]interface{}{
		"examined":  result.Examined,
		"deleted":   result.Deleted,
		"kept":      result.Kept,
		"protected": result.Protected,
		"duration":  result.Duration.String(),
	}).Info("Retention sweep finished")
	return result, nil
}

// Candidates returns the backups the next sweep would delete, without
// deleting anything.
func (rc *RetentionCleaner) Candidates(ctx context.Context) ([]*BackupMetadata, error) {
	records, err := rc.storage.ListMetadata(ctx, MetadataFilter{})
	if err != nil {
		return nil, NewRetentionError("failed to list backups for retention preview", err)
	}

	byPipeline := make(map[string][]*BackupMetadata)
	for _, record := range records {
		byPipeline[record.PipelineID] = append(byPipeline[record.PipelineID], record)
	}

	now := time.Now()
	var candidates []*BackupMetadata
	for _, group := range byPipeline {
		protected := rc.protectedIDs(group)
		for _, record := range group {
			if !rc.eligible(record, now) {
				continue
			}
			if protected[record.BackupID] && record.Status != BackupStatusExpired {
				continue
			}
			candidates = append(candidates, record)
		}
	}
	return candidates, nil
}

// eligible reports whether a record has aged out of its retention window.
func (rc *RetentionCleaner) eligible(record *BackupMetadata, now time.Time) bool {
	switch record.Status {
	case BackupStatusCreating:
		// An in-flight backup is invisible to the cleaner no matter how
		// old the record is; only the pipeline that owns it may touch it.
		return false
	case BackupStatusExpired:
		// A previous sweep marked it and was interrupted; finish the job.
		return true
	}

	days := rc.config.Retention.DaysFor(record.BackupType)
	if days <= 0 {
		return false
	}
	return record.Age(now) > time.Duration(days)*24*time.Hour
}

// deleteExpired removes one backup: mark expired, delete the artifact, then
// the metadata record. Marking first means a crash mid-deletion leaves a
// record the next sweep retries instead of an orphaned artifact.
func (rc *RetentionCleaner) deleteExpired(ctx context.Context, record *BackupMetadata) error {
	if record.Status != BackupStatusExpired {
		record.Status = BackupStatusExpired
		if err := rc.storage.SaveMetadata(ctx, record); err != nil {
			return NewRetentionError(fmt.Sprintf("failed to mark backup %s expired", record.BackupID), err)
		}
	}

	if err := rc.storage.DeleteArtifact(ctx, ArtifactKey(record.BackupType, record.BackupID)); err != nil && !IsNotFound(err) {
		return NewRetentionError(fmt.Sprintf("failed to delete artifact for backup %s", record.BackupID), err)
	}
	// A failed run can leave a staged copy behind.
	if err := rc.storage.DeleteArtifact(ctx, TempArtifactKey(record.BackupID)); err != nil && !IsNotFound(err) {
		return NewRetentionError(fmt.Sprintf("failed to delete staged copy of backup %s", record.BackupID), err)
	}
	if err := rc.storage.DeleteMetadata(ctx, record.BackupID); err != nil {
		return NewRetentionError(fmt.Sprintf("failed to delete metadata for backup %s", record.BackupID), err)
	}

	rc.recorder.Record(ctx, audit.Event{
		Type:       audit.EventBackupExpiredDeleted,
		OccurredAt: time.Now().UTC(),
		PipelineID: record.PipelineID,
		Details: map[string]interface{}{
			"backup_id":   record.BackupID,
			"backup_type": string(record.BackupType),
			"age_days":    int(record.Age(time.Now()).Hours() / 24),
			"size_bytes":  record.BackupSize,
		},
	})
	return nil
}

// protectedIDs applies the keep-daily/weekly/monthly windows to one
// pipeline's records: the newest completed backup of each of the most
// recent calendar buckets survives age-based deletion.
func (rc *RetentionCleaner) protectedIDs(records []*BackupMetadata) map[string]bool {
	protected := make(map[string]bool)
	retention := rc.config.Retention
	protectBuckets(records, protected, retention.KeepDaily, dayBucket)
	protectBuckets(records, protected, retention.KeepWeekly, weekBucket)
	protectBuckets(records, protected, retention.KeepMonthly, monthBucket)
	return protected
}

func protectBuckets(records []*BackupMetadata, protected map[string]bool, keep int, bucket func(time.Time) string) {
	if keep <= 0 {
		return
	}

	// Records arrive newest first, so the first record seen in a bucket
	// is that bucket's newest.
	newest := make(map[string]string)
	var order []string
	for _, record := range records {
		if record.Status != BackupStatusCompleted {
			continue
		}
		key := bucket(record.CreatedAt)
		if _, ok := newest[key]; !ok {
			newest[key] = record.BackupID
			order = append(order, key)
		}
	}

	for i, key := range order {
		if i >= keep {
			break
		}
		protected[newest[key]] = true
	}
}

func dayBucket(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekBucket(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthBucket(t time.Time) string { return t.UTC().Format("2006-01") }

func (rc *RetentionCleaner) recordSweep(ctx context.Context, eventType string, details map[string]interface{}) {
	rc.recorder.Record(ctx, audit.Event{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Details:    details,
	})
}
