package backup

import (
	"fmt"
	"time"
)

// BackupType identifies what slice of the pipeline dataset an artifact holds.
type BackupType string

const (
	// BackupTypeFull captures every row of every table in the pipeline.
	BackupTypeFull BackupType = "full"
	// BackupTypeIncremental captures rows changed since a base backup.
	BackupTypeIncremental BackupType = "incremental"
	// BackupTypeDifferential captures rows changed since the most recent
	// verified full backup.
	BackupTypeDifferential BackupType = "differential"
)

// BackupStatus tracks an artifact through its lifecycle. A backup stays in
// BackupStatusCreating until every stage has finished; the retention cleaner
// and the restore manager ignore backups in that state.
type BackupStatus string

const (
	BackupStatusCreating  BackupStatus = "creating"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
	BackupStatusExpired   BackupStatus = "expired"
)

// VerificationStatus records the outcome of the post-store verify stage.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// RestoreStatus tracks a restore run.
type RestoreStatus string

const (
	RestoreStatusRunning    RestoreStatus = "running"
	RestoreStatusCompleted  RestoreStatus = "completed"
	RestoreStatusFailed     RestoreStatus = "failed"
	RestoreStatusRolledBack RestoreStatus = "rolled_back"
)

// CheckType identifies one kind of integrity check run against a backup or a
// freshly restored dataset.
type CheckType string

const (
	CheckTypeChecksum    CheckType = "checksum"
	CheckTypeRecordCount CheckType = "record_count"
	CheckTypeForeignKeys CheckType = "foreign_keys"
	CheckTypeConstraints CheckType = "constraints"
	CheckTypeDataTypes   CheckType = "data_types"
)

// CheckStatus is the outcome of a single integrity check.
type CheckStatus string

const (
	CheckStatusPassed  CheckStatus = "passed"
	CheckStatusFailed  CheckStatus = "failed"
	CheckStatusWarning CheckStatus = "warning"
)

// CompressionType selects the artifact compression algorithm.
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// Artifact directory layout inside a storage provider. Differential
// artifacts share the incremental directory; the metadata record carries the
// exact type.
const (
	DirFull        = "full"
	DirIncremental = "incremental"
	DirMetadata    = "metadata"
	DirTemp        = "temp"
)

// BackupConfiguration is the resolved plan for one backup run. CreateBackup
// returns it so callers can see exactly which knobs applied to the artifact.
type BackupConfiguration struct {
	BackupID            string     `json:"backup_id"`
	PipelineID          string     `json:"pipeline_id"`
	CreatedAt           time.Time  `json:"created_at"`
	BackupType          BackupType `json:"backup_type"`
	CompressionEnabled  bool       `json:"compression_enabled"`
	EncryptionEnabled   bool       `json:"encryption_enabled"`
	RetentionPolicy     int        `json:"retention_policy_days"`
	VerificationEnabled bool       `json:"verification_enabled"`
	BackupLocation      string     `json:"backup_location"`
	Priority            int        `json:"priority"`
}

// BackupMetadata is the persisted record of one backup. It lives in the
// metadata directory of the storage provider, independent of the artifact,
// and is rewritten after every completed stage of the backup pipeline.
type BackupMetadata struct {
	BackupID            string             `json:"backup_id"`
	PipelineID          string             `json:"pipeline_id"`
	BackupType          BackupType         `json:"backup_type"`
	CreatedAt           time.Time          `json:"created_at"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	Status              BackupStatus       `json:"status"`
	BackupSize          int64              `json:"backup_size"`
	RecordCount         int64              `json:"record_count"`
	TableCount          int                `json:"table_count"`
	ChecksumMD5         string             `json:"checksum_md5,omitempty"`
	ChecksumSHA256      string             `json:"checksum_sha256,omitempty"`
	CompressionRatio    *float64           `json:"compression_ratio,omitempty"`
	EncryptionAlgorithm string             `json:"encryption_algorithm,omitempty"`
	VerificationStatus  VerificationStatus `json:"verification_status"`
	BaseBackupID        string             `json:"base_backup_id,omitempty"`
	Tags                map[string]string  `json:"tags,omitempty"`
	Description         string             `json:"description,omitempty"`
}

// IsRestorable reports whether the restore manager may use this backup.
func (m *BackupMetadata) IsRestorable() bool {
	return m.Status == BackupStatusCompleted && m.VerificationStatus == VerificationVerified
}

// Age returns how old the backup is at the given instant.
func (m *BackupMetadata) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// RestoreResult is the outcome of one restore run. IntegrityCheckResults is
// append-only: the pre-restore checksum check and every post-restore check
// land in it in execution order.
type RestoreResult struct {
	RestoreID             string                 `json:"restore_id"`
	BackupID              string                 `json:"backup_id"`
	PipelineID            string                 `json:"pipeline_id"`
	StartedAt             time.Time              `json:"started_at"`
	CompletedAt           *time.Time             `json:"completed_at,omitempty"`
	Status                RestoreStatus          `json:"status"`
	RecordsRestored       int64                  `json:"records_restored"`
	TablesRestored        int                    `json:"tables_restored"`
	IntegrityCheckResults []IntegrityCheckResult `json:"integrity_check_results,omitempty"`
	PerformanceMetrics    RestorePerformance     `json:"performance_metrics"`
	Warnings              []string               `json:"warnings,omitempty"`
	Errors                []string               `json:"errors,omitempty"`
}

// AddCheck appends an integrity check outcome to the result.
func (r *RestoreResult) AddCheck(check IntegrityCheckResult) {
	r.IntegrityCheckResults = append(r.IntegrityCheckResults, check)
}

// RestorePerformance carries coarse timing for a restore run.
type RestorePerformance struct {
	Duration        time.Duration `json:"duration"`
	DecodeDuration  time.Duration `json:"decode_duration"`
	ReplayDuration  time.Duration `json:"replay_duration"`
	ChecksDuration  time.Duration `json:"checks_duration"`
	RowsPerSecond   float64       `json:"rows_per_second"`
	ArtifactBytes   int64         `json:"artifact_bytes"`
	DecodedBytes    int64         `json:"decoded_bytes"`
	SnapshotCreated bool          `json:"snapshot_created"`
}

// IntegrityCheckResult is one integrity check outcome.
type IntegrityCheckResult struct {
	CheckType     CheckType   `json:"check_type"`
	Status        CheckStatus `json:"status"`
	Details       string      `json:"details,omitempty"`
	ExpectedValue string      `json:"expected_value,omitempty"`
	ActualValue   string      `json:"actual_value,omitempty"`
	CheckedAt     time.Time   `json:"checked_at"`
}

// BackupOptions tune a single CreateBackup call.
type BackupOptions struct {
	// Description is stored verbatim in the metadata record.
	Description string
	// Tags are merged into the metadata record.
	Tags map[string]string
	// Tables restricts the dump to a subset of the pipeline's tables.
	// Empty means every configured (or discovered) table.
	Tables []string
	// Priority is carried into the returned configuration.
	Priority int
}

// RestoreOptions tune a single Restore call.
type RestoreOptions struct {
	// BackupID restores a specific backup instead of the latest restorable
	// one. The named backup must still be completed and verified.
	BackupID string
	// VerifyIntegrity recomputes the artifact checksums against the metadata
	// record before any target data is touched.
	VerifyIntegrity bool
	// PreserveCurrentData takes a full backup of the current target state
	// before the replay, tagged pre_rollback.
	PreserveCurrentData bool
	// RollbackOnFailure restores the preserved snapshot when the replay
	// fails partway.
	RollbackOnFailure bool
}

// MetadataFilter narrows a metadata listing.
type MetadataFilter struct {
	PipelineID    string
	BackupType    BackupType
	Status        BackupStatus
	Verification  VerificationStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Tags          map[string]string
	Limit         int
}

// Matches reports whether a metadata record passes the filter.
func (f MetadataFilter) Matches(m *BackupMetadata) bool {
	if f.PipelineID != "" && m.PipelineID != f.PipelineID {
		return false
	}
	if f.BackupType != "" && m.BackupType != f.BackupType {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Verification != "" && m.VerificationStatus != f.Verification {
		return false
	}
	if f.CreatedAfter != nil && !m.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !m.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	for key, want := range f.Tags {
		if got, ok := m.Tags[key]; !ok || got != want {
			return false
		}
	}
	return true
}

// StorageProviderType identifies a backup artifact store implementation.
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "local"
	StorageProviderS3    StorageProviderType = "s3"
	StorageProviderGCS   StorageProviderType = "gcs"
	StorageProviderAzure StorageProviderType = "azure"
)

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	Provider StorageProviderType `yaml:"provider" json:"provider"`
	Local    *LocalConfig        `yaml:"local,omitempty" json:"local,omitempty"`
	S3       *S3Config           `yaml:"s3,omitempty" json:"s3,omitempty"`
	GCS      *GCSConfig          `yaml:"gcs,omitempty" json:"gcs,omitempty"`
	Azure    *AzureConfig        `yaml:"azure,omitempty" json:"azure,omitempty"`
}

// Validate checks that the selected provider has its configuration block.
func (c *StorageConfig) Validate() error {
	switch c.Provider {
	case StorageProviderLocal:
		if c.Local == nil {
			return fmt.Errorf("local storage selected but not configured")
		}
		return c.Local.Validate()
	case StorageProviderS3:
		if c.S3 == nil {
			return fmt.Errorf("s3 storage selected but not configured")
		}
		return c.S3.Validate()
	case StorageProviderGCS:
		if c.GCS == nil {
			return fmt.Errorf("gcs storage selected but not configured")
		}
		return c.GCS.Validate()
	case StorageProviderAzure:
		if c.Azure == nil {
			return fmt.Errorf("azure storage selected but not configured")
		}
		return c.Azure.Validate()
	case "":
		return fmt.Errorf("storage provider is required")
	default:
		return fmt.Errorf("unsupported storage provider: %s", c.Provider)
	}
}

// LocalConfig configures filesystem artifact storage.
type LocalConfig struct {
	BasePath string `yaml:"base_path" json:"base_path"`
}

func (c *LocalConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("local storage base path is required")
	}
	return nil
}

// S3Config configures Amazon S3 artifact storage.
type S3Config struct {
	Region    string `yaml:"region" json:"region"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

func (c *S3Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	// An empty pair defers to the SDK credential chain. A single key
	// is a misconfiguration.
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("s3 access key and secret key must be set together")
	}
	return nil
}

// GCSConfig configures Google Cloud Storage artifact storage.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	CredentialsPath string `yaml:"credentials_path,omitempty" json:"credentials_path,omitempty"`
	Prefix          string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// AzureConfig configures Azure Blob artifact storage.
type AzureConfig struct {
	AccountName   string `yaml:"account_name" json:"account_name"`
	AccountKey    string `yaml:"account_key" json:"account_key"`
	ContainerName string `yaml:"container_name" json:"container_name"`
	Prefix        string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

func (c *AzureConfig) Validate() error {
	if c.AccountName == "" || c.AccountKey == "" {
		return fmt.Errorf("azure account credentials are required")
	}
	if c.ContainerName == "" {
		return fmt.Errorf("azure container name is required")
	}
	return nil
}
