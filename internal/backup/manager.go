package backup

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"care-migrate/internal/audit"
	"care-migrate/internal/logging"
)

// Pipeline stage names as they appear in progress events and stage logs.
const (
	StageDump     = "dump"
	StageCompress = "compress"
	StageEncrypt  = "encrypt"
	StageChecksum = "checksum"
	StageStore    = "store"
	StageVerify   = "verify"
)

// TagCompression records the compression algorithm in the metadata tags so
// the restore path knows how to decode the artifact.
const TagCompression = "compression"

// Manager drives the staged backup pipeline: dump, compress, encrypt,
// checksum, store, verify. The metadata record is rewritten after every
// completed stage, so an interrupted run always leaves an accurate trail,
// and a failed stage persists status=failed before the error propagates.
type Manager struct {
	db          *sql.DB
	config      *Config
	storage     StorageProvider
	compression *CompressionManager
	encryption  *EncryptionManager
	validator   *Validator
	recorder    audit.Recorder
	metrics     *MetricsCollector
	logger      *logging.Logger
}

// NewManager wires a backup manager against a live database and a storage
// provider. The configuration is defaulted and validated here so every
// later stage can trust it.
func NewManager(db *sql.DB, config *Config, storage StorageProvider, logger *logging.Logger) (*Manager, error) {
	if config == nil {
		return nil, NewConfigurationError("backup configuration is required", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, NewConfigurationError("storage provider is required", nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &Manager{
		db:          db,
		config:      config,
		storage:     storage,
		compression: NewCompressionManager(),
		encryption:  NewEncryptionManager(&config.Encryption),
		validator:   NewValidator(),
		recorder:    audit.NopRecorder{},
		logger:      logger,
	}, nil
}

// SetRecorder replaces the audit recorder. The default discards events.
func (m *Manager) SetRecorder(recorder audit.Recorder) {
	if recorder != nil {
		m.recorder = recorder
	}
}

// SetMetrics attaches an optional in-process metrics collector.
func (m *Manager) SetMetrics(metrics *MetricsCollector) {
	m.metrics = metrics
}

// Storage exposes the provider so collaborators built around the same
// artifacts, the restore manager and the retention cleaner, share it.
func (m *Manager) Storage() StorageProvider {
	return m.storage
}

// CreateBackup runs a full backup of the pipeline's dataset.
func (m *Manager) CreateBackup(ctx context.Context, pipelineID string, opts BackupOptions) (*BackupConfiguration, error) {
	return m.create(ctx, pipelineID, BackupTypeFull, nil, opts)
}

// CreateIncrementalBackup captures the rows changed since a base backup.
// An empty sinceBackupID selects the most recent completed and verified
// backup of the pipeline; a named base must satisfy the same conditions.
func (m *Manager) CreateIncrementalBackup(ctx context.Context, pipelineID, sinceBackupID string, opts BackupOptions) (*BackupConfiguration, error) {
	base, err := m.resolveBase(ctx, pipelineID, sinceBackupID, "")
	if err != nil {
		return nil, err
	}
	return m.create(ctx, pipelineID, BackupTypeIncremental, base, opts)
}

// CreateDifferentialBackup captures the rows changed since the most recent
// completed and verified full backup of the pipeline.
func (m *Manager) CreateDifferentialBackup(ctx context.Context, pipelineID string, opts BackupOptions) (*BackupConfiguration, error) {
	base, err := m.resolveBase(ctx, pipelineID, "", BackupTypeFull)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, pipelineID, BackupTypeDifferential, base, opts)
}

func (m *Manager) create(ctx context.Context, pipelineID string, backupType BackupType, base *BackupMetadata, opts BackupOptions) (*BackupConfiguration, error) {
	if pipelineID == "" {
		return nil, NewValidationError("pipeline ID is required", nil)
	}
	if err := m.validator.ValidateBackupOptions(opts); err != nil {
		return nil, err
	}

	meta := &BackupMetadata{
		BackupID:           GenerateBackupID(),
		PipelineID:         pipelineID,
		BackupType:         backupType,
		CreatedAt:          time.Now().UTC(),
		Status:             BackupStatusCreating,
		VerificationStatus: VerificationPending,
		Description:        opts.Description,
	}
	if len(opts.Tags) > 0 {
		meta.Tags = make(map[string]string, len(opts.Tags))
		for k, v := range opts.Tags {
			meta.Tags[k] = v
		}
	}
	if base != nil {
		meta.BaseBackupID = base.BackupID
		if err := m.validator.ValidateBaseChain(meta, base); err != nil {
			return nil, err
		}
	}

	if err := m.storage.SaveMetadata(ctx, meta); err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to record backup %s", meta.BackupID), err)
	}
	m.record(ctx, audit.EventBackupStarted, meta, map[string]interface{}{
		"backup_type": string(backupType),
	})

	if err := m.runPipeline(ctx, meta, base, opts); err != nil {
		m.failBackup(ctx, meta, err)
		if m.metrics != nil {
			m.metrics.RecordBackup(false, time.Since(meta.CreatedAt), 0)
		}
		return nil, err
	}

	completed := time.Now().UTC()
	meta.CompletedAt = &completed
	meta.Status = BackupStatusCompleted
	if err := m.storage.SaveMetadata(ctx, meta); err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to finalize backup %s", meta.BackupID), err)
	}
	m.record(ctx, audit.EventBackupCompleted, meta, map[string]interface{}{
		"backup_type":  string(backupType),
		"size_bytes":   meta.BackupSize,
		"record_count": meta.RecordCount,
		"table_count":  meta.TableCount,
		"verification": string(meta.VerificationStatus),
	})
	if m.metrics != nil {
		m.metrics.RecordBackup(true, completed.Sub(meta.CreatedAt), meta.BackupSize)
	}

	return m.configuration(meta, opts), nil
}

// runPipeline carries the artifact bytes from stage to stage. The working
// artifact lives at the temp key until the store stage moves it into its
// final directory.
func (m *Manager) runPipeline(ctx context.Context, meta *BackupMetadata, base *BackupMetadata, opts BackupOptions) error {
	var payload []byte
	tempKey := TempArtifactKey(meta.BackupID)
	finalKey := ArtifactKey(meta.BackupType, meta.BackupID)

	err := m.runStage(ctx, meta, StageDump, func() error {
		archive, err := m.dumpArchive(ctx, meta, base, opts)
		if err != nil {
			return err
		}
		data, err := archive.Encode()
		if err != nil {
			return err
		}
		if err := m.storage.StoreArtifact(ctx, tempKey, data); err != nil {
			return NewStorageError(fmt.Sprintf("failed to stage backup %s", meta.BackupID), err)
		}
		meta.RecordCount = archive.RecordCount()
		meta.TableCount = archive.TableCount()
		meta.BackupSize = int64(len(data))
		payload = data
		return nil
	})
	if err != nil {
		return err
	}

	err = m.runStage(ctx, meta, StageCompress, func() error {
		if !m.config.Compression.Enabled {
			return nil
		}
		compressed, stats, err := m.compression.Compress(payload, m.config.Compression.Algorithm, m.config.Compression.Level)
		if err != nil {
			return err
		}
		if err := m.storage.StoreArtifact(ctx, tempKey, compressed); err != nil {
			return NewStorageError(fmt.Sprintf("failed to stage compressed backup %s", meta.BackupID), err)
		}
		ratio := stats.Ratio
		meta.CompressionRatio = &ratio
		meta.BackupSize = int64(len(compressed))
		if meta.Tags == nil {
			meta.Tags = make(map[string]string, 1)
		}
		meta.Tags[TagCompression] = string(stats.Algorithm)
		payload = compressed
		return nil
	})
	if err != nil {
		return err
	}

	err = m.runStage(ctx, meta, StageEncrypt, func() error {
		if !m.encryption.IsEnabled() {
			return nil
		}
		encrypted, stats, err := m.encryption.Encrypt(payload)
		if err != nil {
			return err
		}
		if err := m.storage.StoreArtifact(ctx, tempKey, encrypted); err != nil {
			return NewStorageError(fmt.Sprintf("failed to stage encrypted backup %s", meta.BackupID), err)
		}
		meta.EncryptionAlgorithm = stats.Algorithm
		meta.BackupSize = int64(len(encrypted))
		payload = encrypted
		return nil
	})
	if err != nil {
		return err
	}

	err = m.runStage(ctx, meta, StageChecksum, func() error {
		meta.ChecksumMD5, meta.ChecksumSHA256 = Checksums(payload)
		return nil
	})
	if err != nil {
		return err
	}

	err = m.runStage(ctx, meta, StageStore, func() error {
		if exists, err := m.storage.ArtifactExists(ctx, finalKey); err == nil && exists {
			if err := m.storage.DeleteArtifact(ctx, finalKey); err != nil {
				return NewStorageError(fmt.Sprintf("failed to clear previous artifact for backup %s", meta.BackupID), err)
			}
		}
		if err := m.storage.StoreArtifact(ctx, finalKey, payload); err != nil {
			return NewStorageError(fmt.Sprintf("failed to store backup %s", meta.BackupID), err)
		}
		if err := m.storage.DeleteArtifact(ctx, tempKey); err != nil && !IsNotFound(err) {
			return NewStorageError(fmt.Sprintf("failed to remove staged copy of backup %s", meta.BackupID), err)
		}
		meta.BackupSize = int64(len(payload))
		return nil
	})
	if err != nil {
		return err
	}

	return m.runStage(ctx, meta, StageVerify, func() error {
		if !m.config.Verification.IsEnabled() {
			return nil
		}
		stored, err := m.storage.RetrieveArtifact(ctx, finalKey)
		if err != nil {
			return NewStorageError(fmt.Sprintf("failed to re-read backup %s for verification", meta.BackupID), err)
		}
		md5sum, sha256sum := Checksums(stored)
		if md5sum != meta.ChecksumMD5 || sha256sum != meta.ChecksumSHA256 {
			meta.VerificationStatus = VerificationFailed
			return NewCorruptionError(fmt.Sprintf("backup %s failed verification: stored artifact does not match recorded checksums", meta.BackupID), nil)
		}
		meta.VerificationStatus = VerificationVerified
		return nil
	})
}

// runStage times a stage, logs its outcome, and on success persists the
// metadata record and emits a progress event.
func (m *Manager) runStage(ctx context.Context, meta *BackupMetadata, stage string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	m.logger.LogBackupStage(meta.BackupID, stage, time.Since(start), err)
	if err != nil {
		return err
	}
	if err := m.storage.SaveMetadata(ctx, meta); err != nil {
		return NewStorageError(fmt.Sprintf("failed to persist metadata for backup %s after %s", meta.BackupID, stage), err)
	}
	m.record(ctx, audit.EventBackupProgress, meta, map[string]interface{}{
		"stage": stage,
	})
	return nil
}

func (m *Manager) dumpArchive(ctx context.Context, meta *BackupMetadata, base *BackupMetadata, opts BackupOptions) (*Archive, error) {
	if m.db == nil {
		return nil, NewConfigurationError("backup manager has no database connection", nil)
	}
	tables := opts.Tables
	if len(tables) == 0 {
		tables = m.config.Tables
	}

	dumper := NewDumper(m.db, m.config.Schema, m.logger)
	var archive *Archive
	var err error
	if base != nil {
		archive, err = dumper.DumpTablesSince(ctx, tables, base.CreatedAt)
	} else {
		archive, err = dumper.DumpTables(ctx, tables)
	}
	if err != nil {
		return nil, err
	}

	archive.PipelineID = meta.PipelineID
	archive.BackupID = meta.BackupID
	archive.BackupType = meta.BackupType
	archive.BaseBackupID = meta.BaseBackupID
	return archive, nil
}

// resolveBase finds the base backup for an incremental or differential run.
// baseType narrows the search when only full backups qualify.
func (m *Manager) resolveBase(ctx context.Context, pipelineID, baseBackupID string, baseType BackupType) (*BackupMetadata, error) {
	if baseBackupID != "" {
		base, err := m.storage.LoadMetadata(ctx, baseBackupID)
		if err != nil {
			return nil, err
		}
		if base.PipelineID != pipelineID {
			return nil, NewValidationError(fmt.Sprintf("backup %s belongs to pipeline %s, not %s",
				baseBackupID, base.PipelineID, pipelineID), nil)
		}
		if !base.IsRestorable() {
			return nil, NewValidationError(fmt.Sprintf("backup %s is not completed and verified", baseBackupID), nil)
		}
		if baseType != "" && base.BackupType != baseType {
			return nil, NewValidationError(fmt.Sprintf("backup %s is %s, expected %s",
				baseBackupID, base.BackupType, baseType), nil)
		}
		return base, nil
	}

	records, err := m.storage.ListMetadata(ctx, MetadataFilter{
		PipelineID:   pipelineID,
		BackupType:   baseType,
		Status:       BackupStatusCompleted,
		Verification: VerificationVerified,
		Limit:        1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		what := "backup"
		if baseType != "" {
			what = fmt.Sprintf("%s backup", baseType)
		}
		return nil, NewNotFoundError(fmt.Sprintf("pipeline %s has no completed and verified %s to base on", pipelineID, what), nil)
	}
	return records[0], nil
}

func (m *Manager) configuration(meta *BackupMetadata, opts BackupOptions) *BackupConfiguration {
	return &BackupConfiguration{
		BackupID:            meta.BackupID,
		PipelineID:          meta.PipelineID,
		CreatedAt:           meta.CreatedAt,
		BackupType:          meta.BackupType,
		CompressionEnabled:  m.config.Compression.Enabled,
		EncryptionEnabled:   m.encryption.IsEnabled(),
		RetentionPolicy:     m.config.Retention.DaysFor(meta.BackupType),
		VerificationEnabled: m.config.Verification.IsEnabled(),
		BackupLocation:      ArtifactKey(meta.BackupType, meta.BackupID),
		Priority:            opts.Priority,
	}
}

// failBackup persists the failed status before the stage error propagates.
// The persist itself is best effort; the original error matters more.
func (m *Manager) failBackup(ctx context.Context, meta *BackupMetadata, cause error) {
	meta.Status = BackupStatusFailed
	if err := m.storage.SaveMetadata(ctx, meta); err != nil {
		m.logger.WithField("backup_id", meta.BackupID).Warnf("could not persist failed status: %v", err)
	}
	m.record(ctx, audit.EventBackupFailed, meta, map[string]interface{}{
		"error": cause.Error(),
	})
}

func (m *Manager) record(ctx context.Context, eventType string, meta *BackupMetadata, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{}, 1)
	}
	details["backup_id"] = meta.BackupID
	m.recorder.Record(ctx, audit.Event{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		PipelineID: meta.PipelineID,
		Details:    details,
	})
}

// ListBackups returns metadata records matching the filter, newest first.
func (m *Manager) ListBackups(ctx context.Context, filter MetadataFilter) ([]*BackupMetadata, error) {
	return m.storage.ListMetadata(ctx, filter)
}

// GetBackupMetadata loads one backup's metadata record.
func (m *Manager) GetBackupMetadata(ctx context.Context, backupID string) (*BackupMetadata, error) {
	if err := m.validator.ValidateBackupID(backupID); err != nil {
		return nil, err
	}
	return m.storage.LoadMetadata(ctx, backupID)
}

// DeleteBackup removes a backup's artifact and then its metadata record. A
// missing artifact is tolerated so half-deleted backups can be cleaned up.
func (m *Manager) DeleteBackup(ctx context.Context, backupID string) error {
	meta, err := m.GetBackupMetadata(ctx, backupID)
	if err != nil {
		return err
	}
	if err := m.storage.DeleteArtifact(ctx, ArtifactKey(meta.BackupType, meta.BackupID)); err != nil && !IsNotFound(err) {
		return NewStorageError(fmt.Sprintf("failed to delete artifact for backup %s", backupID), err)
	}
	if err := m.storage.DeleteMetadata(ctx, backupID); err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete metadata for backup %s", backupID), err)
	}
	return nil
}

// PreMigrationHook adapts the manager to the migration orchestrator's
// backup hook: a full backup of the target before any destructive run.
type PreMigrationHook struct {
	manager *Manager

	mu           sync.Mutex
	lastBackupID string
}

func NewPreMigrationHook(manager *Manager) *PreMigrationHook {
	return &PreMigrationHook{manager: manager}
}

func (h *PreMigrationHook) CreateBackup(ctx context.Context, pipelineID string) error {
	configuration, err := h.manager.CreateBackup(ctx, pipelineID, BackupOptions{
		Description: "automatic backup before migration",
		Tags:        map[string]string{"trigger": "pre-migration"},
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.lastBackupID = configuration.BackupID
	h.mu.Unlock()
	return nil
}

// LastBackupID returns the ID of the most recent backup the hook
// created, or empty when no backup has run yet.
func (h *PreMigrationHook) LastBackupID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastBackupID
}
