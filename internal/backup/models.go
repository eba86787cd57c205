package backup

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateBackupID returns a new globally unique backup identifier. The
// timestamp prefix keeps identifiers sortable by creation time.
func GenerateBackupID() string {
	return fmt.Sprintf("backup-%s-%s", time.Now().UTC().Format("20060102-150405"), shortUID())
}

// GenerateRestoreID returns a new globally unique restore identifier.
func GenerateRestoreID() string {
	return fmt.Sprintf("restore-%s-%s", time.Now().UTC().Format("20060102-150405"), shortUID())
}

func shortUID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// Checksums returns the hex MD5 and SHA-256 digests of an artifact payload.
func Checksums(data []byte) (md5sum, sha256sum string) {
	m := md5.Sum(data)
	s := sha256.Sum256(data)
	return hex.EncodeToString(m[:]), hex.EncodeToString(s[:])
}

// ArtifactKey returns the storage key for a backup's artifact. Full backups
// live under full/, incremental and differential backups under incremental/.
func ArtifactKey(backupType BackupType, backupID string) string {
	dir := DirFull
	if backupType == BackupTypeIncremental || backupType == BackupTypeDifferential {
		dir = DirIncremental
	}
	return path.Join(dir, sanitizeBackupID(backupID)+".car")
}

// TempArtifactKey returns the staging key used while a backup is being built.
func TempArtifactKey(backupID string) string {
	return path.Join(DirTemp, sanitizeBackupID(backupID)+".car")
}

// MetadataKey returns the storage key for a backup's metadata record.
func MetadataKey(backupID string) string {
	return path.Join(DirMetadata, sanitizeBackupID(backupID)+".json")
}

// sanitizeBackupID strips characters that are unsafe in object keys and
// file names.
func sanitizeBackupID(backupID string) string {
	sanitized := strings.ReplaceAll(backupID, " ", "_")
	sanitized = strings.ReplaceAll(sanitized, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	return sanitized
}

// Validate checks the metadata record for internal consistency.
func (m *BackupMetadata) Validate() error {
	var errs ValidationErrors

	if m.BackupID == "" {
		errs.Add("backup_id", "backup ID is required", m.BackupID)
	}
	if m.PipelineID == "" {
		errs.Add("pipeline_id", "pipeline ID is required", m.PipelineID)
	}
	switch m.BackupType {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeDifferential:
	default:
		errs.Add("backup_type", "unknown backup type", string(m.BackupType))
	}
	switch m.Status {
	case BackupStatusCreating, BackupStatusCompleted, BackupStatusFailed, BackupStatusExpired:
	default:
		errs.Add("status", "unknown backup status", string(m.Status))
	}
	switch m.VerificationStatus {
	case VerificationPending, VerificationVerified, VerificationFailed:
	default:
		errs.Add("verification_status", "unknown verification status", string(m.VerificationStatus))
	}
	if m.CreatedAt.IsZero() {
		errs.Add("created_at", "creation time is required", nil)
	} else if m.CreatedAt.After(time.Now().Add(time.Minute)) {
		errs.Add("created_at", "creation time is in the future", m.CreatedAt)
	}
	if m.BackupSize < 0 {
		errs.Add("backup_size", "backup size cannot be negative", m.BackupSize)
	}
	if m.RecordCount < 0 {
		errs.Add("record_count", "record count cannot be negative", m.RecordCount)
	}
	if m.TableCount < 0 {
		errs.Add("table_count", "table count cannot be negative", m.TableCount)
	}
	if m.ChecksumMD5 != "" && len(m.ChecksumMD5) != 32 {
		errs.Add("checksum_md5", "MD5 checksum must be 32 hex characters", m.ChecksumMD5)
	}
	if m.ChecksumSHA256 != "" && len(m.ChecksumSHA256) != 64 {
		errs.Add("checksum_sha256", "SHA-256 checksum must be 64 hex characters", m.ChecksumSHA256)
	}
	if m.BackupType != BackupTypeFull && m.Status == BackupStatusCompleted && m.BaseBackupID == "" {
		errs.Add("base_backup_id", "incremental and differential backups need a base backup", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ToJSON serializes the metadata record.
func (m *BackupMetadata) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// FromJSON deserializes a metadata record.
func (m *BackupMetadata) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return NewValidationError("failed to unmarshal backup metadata", err)
	}
	return nil
}

// Clone returns a deep copy. Callers that mutate a listed record must clone
// it first so the storage provider's cache, if any, stays coherent.
func (m *BackupMetadata) Clone() *BackupMetadata {
	out := *m
	if m.CompletedAt != nil {
		completed := *m.CompletedAt
		out.CompletedAt = &completed
	}
	if m.CompressionRatio != nil {
		ratio := *m.CompressionRatio
		out.CompressionRatio = &ratio
	}
	if m.Tags != nil {
		out.Tags = make(map[string]string, len(m.Tags))
		for k, v := range m.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

// Validate checks a resolved backup configuration.
func (c *BackupConfiguration) Validate() error {
	var errs ValidationErrors

	if c.BackupID == "" {
		errs.Add("backup_id", "backup ID is required", c.BackupID)
	}
	if c.PipelineID == "" {
		errs.Add("pipeline_id", "pipeline ID is required", c.PipelineID)
	}
	switch c.BackupType {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeDifferential:
	default:
		errs.Add("backup_type", "unknown backup type", string(c.BackupType))
	}
	if c.RetentionPolicy < 0 {
		errs.Add("retention_policy_days", "retention cannot be negative", c.RetentionPolicy)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ToJSON serializes the restore result for reporting.
func (r *RestoreResult) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FailedChecks returns the integrity checks that did not pass.
func (r *RestoreResult) FailedChecks() []IntegrityCheckResult {
	var failed []IntegrityCheckResult
	for _, check := range r.IntegrityCheckResults {
		if check.Status == CheckStatusFailed {
			failed = append(failed, check)
		}
	}
	return failed
}
