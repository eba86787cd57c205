package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"care-migrate/internal/backup"
	"care-migrate/internal/logging"
)

// Health states reported by RunHealthCheck.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// probeFileName is written and removed to prove local storage is
// writable.
const probeFileName = ".care_migrate_probe"

// SystemInitializer verifies that the backup subsystem can actually run
// with the given configuration: storage is reachable and writable,
// encryption keys are available, and the settings hang together. It
// performs no network calls, so cloud credentials are checked for
// presence rather than validity.
type SystemInitializer struct {
	config *backup.Config
	logger *logging.Logger
}

// InitializationResult reports what the pre-flight checks found.
type InitializationResult struct {
	Success          bool     `json:"success"`
	ConfigValid      bool     `json:"config_valid"`
	StorageReady     bool     `json:"storage_ready"`
	EncryptionReady  bool     `json:"encryption_ready"`
	Warnings         []string `json:"warnings,omitempty"`
	Errors           []string `json:"errors,omitempty"`
	RecommendedFixes []string `json:"recommended_fixes,omitempty"`
}

// HealthCheckResult is the point-in-time state of the backup subsystem,
// suitable for the serve daemon's periodic checks.
type HealthCheckResult struct {
	Timestamp       time.Time         `json:"timestamp"`
	OverallHealth   string            `json:"overall_health"`
	ComponentStatus map[string]string `json:"component_status"`
	Issues          []string          `json:"issues,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// NewSystemInitializer builds an initializer over a backup configuration.
func NewSystemInitializer(config *backup.Config, logger *logging.Logger) *SystemInitializer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &SystemInitializer{config: config, logger: logger}
}

// Initialize runs the pre-flight checks and prepares local storage
// directories. Errors are collected in the result rather than returned,
// so a single pass reports every problem at once.
func (si *SystemInitializer) Initialize() *InitializationResult {
	result := &InitializationResult{}

	si.logger.Debug("Running backup system pre-flight checks")

	si.checkConfiguration(result)
	si.prepareStorage(result)
	si.checkEncryption(result)
	si.checkRetention(result)
	si.checkNotifications(result)
	si.recommend(result)

	result.Success = result.ConfigValid && result.StorageReady && len(result.Errors) == 0

	si.logger.WithFields(map[string]interface{}{
		"success":  result.Success,
		"warnings": len(result.Warnings),
		"errors":   len(result.Errors),
	}).Debug("Pre-flight checks finished")

	return result
}

func (si *SystemInitializer) checkConfiguration(result *InitializationResult) {
	if err := si.config.Validate(); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("configuration invalid: %v", err))
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Fix the reported configuration errors and run the check again")
		return
	}
	result.ConfigValid = true
}

func (si *SystemInitializer) prepareStorage(result *InitializationResult) {
	storage := &si.config.Storage

	switch storage.Provider {
	case backup.StorageProviderLocal:
		if storage.Local == nil || storage.Local.BasePath == "" {
			result.Errors = append(result.Errors, "local storage base path is not configured")
			return
		}
		if err := os.MkdirAll(storage.Local.BasePath, 0o755); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("cannot create backup directory %s: %v", storage.Local.BasePath, err))
			result.RecommendedFixes = append(result.RecommendedFixes,
				fmt.Sprintf("Check permissions on %s or choose a different base_path", storage.Local.BasePath))
			return
		}
		if err := si.probeWrite(storage.Local.BasePath); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("backup directory %s is not writable: %v", storage.Local.BasePath, err))
			result.RecommendedFixes = append(result.RecommendedFixes,
				fmt.Sprintf("Grant write access to %s for the care-migrate user", storage.Local.BasePath))
			return
		}
		result.StorageReady = true

	case backup.StorageProviderS3:
		result.StorageReady = result.ConfigValid
		if storage.S3 != nil && storage.S3.AccessKey == "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
			result.Warnings = append(result.Warnings,
				"no S3 access key in the configuration or AWS_ACCESS_KEY_ID")
			result.RecommendedFixes = append(result.RecommendedFixes,
				"Set CARE_MIGRATE_S3_ACCESS_KEY and CARE_MIGRATE_S3_SECRET_KEY, or attach an IAM role")
		}

	case backup.StorageProviderGCS:
		result.StorageReady = result.ConfigValid
		if storage.GCS == nil {
			return
		}
		switch {
		case storage.GCS.CredentialsPath != "":
			if _, err := os.Stat(storage.GCS.CredentialsPath); err != nil {
				result.StorageReady = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("GCS credentials file %s is not readable: %v", storage.GCS.CredentialsPath, err))
				result.RecommendedFixes = append(result.RecommendedFixes,
					"Point credentials_path at a readable service account JSON file")
			}
		case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "":
			result.Warnings = append(result.Warnings,
				"no GCS credentials path in the configuration or GOOGLE_APPLICATION_CREDENTIALS")
			result.RecommendedFixes = append(result.RecommendedFixes,
				"Set GOOGLE_APPLICATION_CREDENTIALS or configure gcs.credentials_path")
		}

	case backup.StorageProviderAzure:
		result.StorageReady = result.ConfigValid

	default:
		result.Errors = append(result.Errors,
			fmt.Sprintf("unknown storage provider %q", storage.Provider))
	}
}

func (si *SystemInitializer) probeWrite(dir string) error {
	probe := filepath.Join(dir, probeFileName)
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func (si *SystemInitializer) checkEncryption(result *InitializationResult) {
	enc := &si.config.Encryption

	if !enc.Enabled {
		result.EncryptionReady = true
		result.Warnings = append(result.Warnings, "backup encryption is disabled")
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Enable encryption before backups leave this host")
		return
	}

	if enc.KeyRetriever != nil {
		result.EncryptionReady = true
		return
	}

	switch enc.KeySource {
	case backup.KeySourceEnv:
		envVar := enc.KeyEnvVar
		if envVar == "" {
			envVar = backup.DefaultKeyEnvVar
		}
		if os.Getenv(envVar) == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("encryption key variable %s is not set", envVar))
			result.RecommendedFixes = append(result.RecommendedFixes,
				fmt.Sprintf("Export %s with a hex-encoded 256-bit key before running backups", envVar))
			return
		}
	case backup.KeySourceFile:
		if _, err := os.Stat(enc.KeyPath); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("encryption key file %s is not readable: %v", enc.KeyPath, err))
			result.RecommendedFixes = append(result.RecommendedFixes,
				"Point encryption.key_path at a readable key file")
			return
		}
	case backup.KeySourcePassphrase:
		if enc.Passphrase == "" || enc.Salt == "" {
			// Config validation already reported the missing fields.
			return
		}
	default:
		return
	}
	result.EncryptionReady = true
}

func (si *SystemInitializer) checkRetention(result *InitializationResult) {
	retention := &si.config.Retention

	if retention.FullDays > 0 && retention.IncrementalDays > retention.FullDays {
		result.Warnings = append(result.Warnings,
			"incremental backups are kept longer than the full backups they restore from")
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Keep full backups at least as long as dependent incrementals")
	}
	if retention.FullDays > 0 && retention.DifferentialDays > retention.FullDays {
		result.Warnings = append(result.Warnings,
			"differential backups are kept longer than the full backups they restore from")
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Keep full backups at least as long as dependent differentials")
	}
}

func (si *SystemInitializer) checkNotifications(result *InitializationResult) {
	notifications := &si.config.Notifications
	if !notifications.Enabled {
		return
	}

	hasChannel := (notifications.File != nil && notifications.File.Enabled) ||
		(notifications.Webhook != nil && notifications.Webhook.Enabled) ||
		(notifications.Email != nil && notifications.Email.Enabled)
	if !hasChannel {
		result.Warnings = append(result.Warnings,
			"notifications are enabled but no channel is configured")
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Configure a file, webhook or email channel, or disable notifications")
	}
}

func (si *SystemInitializer) recommend(result *InitializationResult) {
	if !si.config.Compression.Enabled {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Enable zstd compression to cut storage use and transfer time")
	}
	if !si.config.Verification.IsEnabled() {
		result.Warnings = append(result.Warnings, "post-store verification is disabled")
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Enable verification so corrupted artifacts are caught at backup time")
	}
}

// RunHealthCheck reports the current state of each backup component. The
// serve daemon calls it periodically and feeds the result into the
// storage health gauge.
func (si *SystemInitializer) RunHealthCheck() *HealthCheckResult {
	result := &HealthCheckResult{
		Timestamp:       time.Now(),
		OverallHealth:   HealthHealthy,
		ComponentStatus: make(map[string]string),
	}

	si.checkStorageHealth(result)
	si.checkEncryptionHealth(result)

	if si.config.Notifications.Enabled {
		result.ComponentStatus["notifications"] = HealthHealthy
	}

	for _, status := range result.ComponentStatus {
		switch status {
		case HealthUnhealthy:
			result.OverallHealth = HealthUnhealthy
		case HealthDegraded:
			if result.OverallHealth == HealthHealthy {
				result.OverallHealth = HealthDegraded
			}
		}
	}

	return result
}

func (si *SystemInitializer) checkStorageHealth(result *HealthCheckResult) {
	storage := &si.config.Storage

	if storage.Provider != backup.StorageProviderLocal {
		if err := storage.Validate(); err != nil {
			result.ComponentStatus["storage"] = HealthUnhealthy
			result.Issues = append(result.Issues, fmt.Sprintf("storage configuration: %v", err))
			return
		}
		result.ComponentStatus["storage"] = HealthHealthy
		return
	}

	if storage.Local == nil || storage.Local.BasePath == "" {
		result.ComponentStatus["storage"] = HealthUnhealthy
		result.Issues = append(result.Issues, "local storage base path is not configured")
		return
	}
	if err := si.probeWrite(storage.Local.BasePath); err != nil {
		result.ComponentStatus["storage"] = HealthUnhealthy
		result.Issues = append(result.Issues,
			fmt.Sprintf("backup directory %s is not writable: %v", storage.Local.BasePath, err))
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Restore write access to %s", storage.Local.BasePath))
		return
	}
	result.ComponentStatus["storage"] = HealthHealthy
}

func (si *SystemInitializer) checkEncryptionHealth(result *HealthCheckResult) {
	enc := &si.config.Encryption

	if !enc.Enabled {
		result.ComponentStatus["encryption"] = HealthDegraded
		result.Issues = append(result.Issues, "backup encryption is disabled")
		return
	}
	if enc.KeyRetriever != nil {
		result.ComponentStatus["encryption"] = HealthHealthy
		return
	}

	switch enc.KeySource {
	case backup.KeySourceEnv:
		envVar := enc.KeyEnvVar
		if envVar == "" {
			envVar = backup.DefaultKeyEnvVar
		}
		if os.Getenv(envVar) == "" {
			result.ComponentStatus["encryption"] = HealthUnhealthy
			result.Issues = append(result.Issues,
				fmt.Sprintf("encryption key variable %s is not set", envVar))
			return
		}
	case backup.KeySourceFile:
		if _, err := os.Stat(enc.KeyPath); err != nil {
			result.ComponentStatus["encryption"] = HealthUnhealthy
			result.Issues = append(result.Issues,
				fmt.Sprintf("encryption key file %s is not readable", enc.KeyPath))
			return
		}
	case backup.KeySourcePassphrase:
		if enc.Passphrase == "" || enc.Salt == "" {
			result.ComponentStatus["encryption"] = HealthUnhealthy
			result.Issues = append(result.Issues, "passphrase key source is missing its passphrase or salt")
			return
		}
	default:
		result.ComponentStatus["encryption"] = HealthUnhealthy
		result.Issues = append(result.Issues, fmt.Sprintf("unknown key source %q", enc.KeySource))
		return
	}
	result.ComponentStatus["encryption"] = HealthHealthy
}
