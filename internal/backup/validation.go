package backup

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator bundles the cross-field checks the managers run before touching
// storage or the database.
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

var backupIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateBackupID checks that an identifier is safe to use as a storage key.
func (v *Validator) ValidateBackupID(backupID string) error {
	if backupID == "" {
		return NewValidationError("backup ID is required", nil)
	}
	if !backupIDPattern.MatchString(backupID) {
		return NewValidationError(fmt.Sprintf("backup ID %q contains unsafe characters", backupID), nil)
	}
	return nil
}

// ValidateBackupOptions checks a CreateBackup options block.
func (v *Validator) ValidateBackupOptions(opts BackupOptions) error {
	var errs ValidationErrors

	if len(opts.Description) > 500 {
		errs.Add("description", "description too long (max 500 characters)", len(opts.Description))
	}
	if err := v.ValidateTags(opts.Tags); err != nil {
		errs.Add("tags", err.Error(), nil)
	}
	for _, table := range opts.Tables {
		if strings.TrimSpace(table) == "" {
			errs.Add("tables", "table names cannot be blank", nil)
			break
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateRestoreOptions checks a Restore options block.
func (v *Validator) ValidateRestoreOptions(opts RestoreOptions) error {
	if opts.BackupID != "" {
		if err := v.ValidateBackupID(opts.BackupID); err != nil {
			return err
		}
	}
	if opts.RollbackOnFailure && !opts.PreserveCurrentData {
		return NewValidationError("rollback on failure requires preserving current data", nil)
	}
	return nil
}

// ValidateTags checks tag keys and values for storage safety.
func (v *Validator) ValidateTags(tags map[string]string) error {
	for key, value := range tags {
		if key == "" {
			return fmt.Errorf("tag keys cannot be empty")
		}
		if len(key) > 64 {
			return fmt.Errorf("tag key %q too long (max 64 characters)", key)
		}
		if len(value) > 256 {
			return fmt.Errorf("tag %q value too long (max 256 characters)", key)
		}
	}
	return nil
}

// ValidateBaseChain checks that an incremental or differential backup's base
// reference is usable.
func (v *Validator) ValidateBaseChain(meta, base *BackupMetadata) error {
	if meta.BackupType == BackupTypeFull {
		return nil
	}
	if base == nil {
		return NewValidationError(fmt.Sprintf("backup %s has no base backup", meta.BackupID), nil)
	}
	if base.BackupID != meta.BaseBackupID {
		return NewValidationError(fmt.Sprintf("backup %s references base %s but %s was supplied",
			meta.BackupID, meta.BaseBackupID, base.BackupID), nil)
	}
	if base.PipelineID != meta.PipelineID {
		return NewValidationError(fmt.Sprintf("base backup %s belongs to pipeline %s, not %s",
			base.BackupID, base.PipelineID, meta.PipelineID), nil)
	}
	if !base.IsRestorable() {
		return NewValidationError(fmt.Sprintf("base backup %s is not completed and verified", base.BackupID), nil)
	}
	if meta.BackupType == BackupTypeDifferential && base.BackupType != BackupTypeFull {
		return NewValidationError(fmt.Sprintf("differential backup %s must chain to a full backup, base %s is %s",
			meta.BackupID, base.BackupID, base.BackupType), nil)
	}
	if !base.CreatedAt.Before(meta.CreatedAt) {
		return NewValidationError(fmt.Sprintf("base backup %s is not older than %s", base.BackupID, meta.BackupID), nil)
	}
	return nil
}

// IsValidCompressionType reports whether the compression type is supported.
func IsValidCompressionType(ct CompressionType) bool {
	switch ct {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	default:
		return false
	}
}
