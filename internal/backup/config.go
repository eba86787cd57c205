package backup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Key sources for artifact and field encryption.
const (
	KeySourceEnv        = "env"
	KeySourceFile       = "file"
	KeySourcePassphrase = "passphrase"
)

// DefaultKeyEnvVar holds the hex-encoded AES-256 key when the env key
// source is used.
const DefaultKeyEnvVar = "CARE_MIGRATE_ENCRYPTION_KEY"

// Config is the complete backup subsystem configuration.
type Config struct {
	// Schema is the database schema backups are dumped from and
	// restored into.
	Schema string `yaml:"schema" json:"schema"`
	// Tables restricts backups to the listed tables. Empty means every
	// table in the schema.
	Tables []string `yaml:"tables,omitempty" json:"tables,omitempty"`

	Storage       StorageConfig      `yaml:"storage" json:"storage"`
	Compression   CompressionConfig  `yaml:"compression" json:"compression"`
	Encryption    EncryptionConfig   `yaml:"encryption" json:"encryption"`
	Verification  VerificationConfig `yaml:"verification" json:"verification"`
	Retention     RetentionConfig    `yaml:"retention" json:"retention"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
}

// CompressionConfig controls artifact compression.
type CompressionConfig struct {
	Enabled   bool            `yaml:"enabled" json:"enabled"`
	Algorithm CompressionType `yaml:"algorithm" json:"algorithm"`
	Level     int             `yaml:"level" json:"level"`
}

// EncryptionConfig controls artifact and PII field encryption.
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	KeySource string `yaml:"key_source" json:"key_source"`
	KeyEnvVar string `yaml:"key_env_var,omitempty" json:"key_env_var,omitempty"`
	KeyPath   string `yaml:"key_path,omitempty" json:"key_path,omitempty"`
	// Passphrase and Salt feed PBKDF2 when the passphrase key source is
	// used. The salt is hex-encoded and must stay stable across
	// backups, otherwise old artifacts become undecryptable.
	Passphrase string `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
	Salt       string `yaml:"salt,omitempty" json:"salt,omitempty"`

	// KeyRetriever overrides the configured key source when set. Used
	// for tests and external key management.
	KeyRetriever func() ([]byte, error) `yaml:"-" json:"-"`
}

// VerificationConfig controls the post-store verification stage.
// Verification defaults to on; only an explicit false skips it.
type VerificationConfig struct {
	Enabled *bool `yaml:"enabled" json:"enabled"`
}

// IsEnabled resolves the tri-state flag.
func (vc *VerificationConfig) IsEnabled() bool {
	return vc.Enabled == nil || *vc.Enabled
}

// RetentionConfig controls expiry sweeps. Days are per backup type;
// the keep counts protect the newest backup of each calendar bucket
// from age-based deletion.
type RetentionConfig struct {
	FullDays         int           `yaml:"full_days" json:"full_days"`
	IncrementalDays  int           `yaml:"incremental_days" json:"incremental_days"`
	DifferentialDays int           `yaml:"differential_days" json:"differential_days"`
	KeepDaily        int           `yaml:"keep_daily" json:"keep_daily"`
	KeepWeekly       int           `yaml:"keep_weekly" json:"keep_weekly"`
	KeepMonthly      int           `yaml:"keep_monthly" json:"keep_monthly"`
	SweepInterval    time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// UnmarshalYAML accepts sweep_interval as a Go duration string such as
// "24h".
func (rc *RetentionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		FullDays         int    `yaml:"full_days"`
		IncrementalDays  int    `yaml:"incremental_days"`
		DifferentialDays int    `yaml:"differential_days"`
		KeepDaily        int    `yaml:"keep_daily"`
		KeepWeekly       int    `yaml:"keep_weekly"`
		KeepMonthly      int    `yaml:"keep_monthly"`
		SweepInterval    string `yaml:"sweep_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	rc.FullDays = raw.FullDays
	rc.IncrementalDays = raw.IncrementalDays
	rc.DifferentialDays = raw.DifferentialDays
	rc.KeepDaily = raw.KeepDaily
	rc.KeepWeekly = raw.KeepWeekly
	rc.KeepMonthly = raw.KeepMonthly
	if raw.SweepInterval != "" {
		interval, err := time.ParseDuration(raw.SweepInterval)
		if err != nil {
			return fmt.Errorf("invalid sweep_interval %q: %w", raw.SweepInterval, err)
		}
		rc.SweepInterval = interval
	}
	return nil
}

// DaysFor returns the retention window in days for a backup type.
func (rc *RetentionConfig) DaysFor(backupType BackupType) int {
	switch backupType {
	case BackupTypeIncremental:
		return rc.IncrementalDays
	case BackupTypeDifferential:
		return rc.DifferentialDays
	default:
		return rc.FullDays
	}
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Validate checks the full configuration tree.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Schema == "" {
		errs.Add("schema", "backup schema is required", nil)
	}
	for _, table := range c.Tables {
		if strings.TrimSpace(table) == "" {
			errs.Add("tables", "table names cannot be blank", nil)
		}
	}

	if err := c.Storage.Validate(); err != nil {
		errs.Add("storage", err.Error(), nil)
	}
	collectValidation(&errs, c.Compression.Validate())
	collectValidation(&errs, c.Encryption.Validate())
	collectValidation(&errs, c.Retention.Validate())
	collectValidation(&errs, c.Notifications.Validate())

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func collectValidation(errs *ValidationErrors, err error) {
	if err == nil {
		return
	}
	if nested, ok := err.(ValidationErrors); ok {
		*errs = append(*errs, nested...)
		return
	}
	errs.Add("config", err.Error(), nil)
}

// SetDefaults fills unset fields across the configuration tree.
func (c *Config) SetDefaults() {
	c.Storage.SetDefaults()
	c.Compression.SetDefaults()
	c.Encryption.SetDefaults()
	c.Retention.SetDefaults()
	c.Notifications.SetDefaults()
	if c.Verification.Enabled == nil {
		enabled := true
		c.Verification.Enabled = &enabled
	}
}

// LoadFromEnvironment overrides configuration from CARE_MIGRATE_*
// environment variables.
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("CARE_MIGRATE_BACKUP_SCHEMA"); val != "" {
		c.Schema = val
	}
	if val := os.Getenv("CARE_MIGRATE_BACKUP_TABLES"); val != "" {
		c.Tables = splitList(val)
	}
	if val := os.Getenv("CARE_MIGRATE_VERIFICATION_ENABLED"); val != "" {
		enabled := strings.ToLower(val) == "true"
		c.Verification.Enabled = &enabled
	}

	c.Storage.LoadFromEnvironment()
	c.Compression.LoadFromEnvironment()
	c.Encryption.LoadFromEnvironment()
	c.Retention.LoadFromEnvironment()
	c.Notifications.LoadFromEnvironment()
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks compression settings.
func (cc *CompressionConfig) Validate() error {
	var errs ValidationErrors

	if cc.Enabled {
		if !IsValidCompressionType(cc.Algorithm) {
			errs.Add("compression.algorithm", "invalid compression algorithm", cc.Algorithm)
		}
		switch cc.Algorithm {
		case CompressionTypeGzip:
			if cc.Level < 1 || cc.Level > 9 {
				errs.Add("compression.level", "gzip level must be between 1 and 9", cc.Level)
			}
		case CompressionTypeLZ4:
			if cc.Level < 1 || cc.Level > 12 {
				errs.Add("compression.level", "lz4 level must be between 1 and 12", cc.Level)
			}
		case CompressionTypeZstd:
			if cc.Level < 1 || cc.Level > 22 {
				errs.Add("compression.level", "zstd level must be between 1 and 22", cc.Level)
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults fills unset compression settings.
func (cc *CompressionConfig) SetDefaults() {
	if cc.Algorithm == "" {
		cc.Algorithm = CompressionTypeZstd
	}
	if cc.Level == 0 {
		switch cc.Algorithm {
		case CompressionTypeGzip:
			cc.Level = 6
		case CompressionTypeLZ4:
			cc.Level = 1
		case CompressionTypeZstd:
			cc.Level = 3
		}
	}
}

// LoadFromEnvironment overrides compression settings from the
// environment.
func (cc *CompressionConfig) LoadFromEnvironment() {
	if val := os.Getenv("CARE_MIGRATE_COMPRESSION_ENABLED"); val != "" {
		cc.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CARE_MIGRATE_COMPRESSION_ALGORITHM"); val != "" {
		cc.Algorithm = CompressionType(strings.ToLower(val))
	}
	if val := os.Getenv("CARE_MIGRATE_COMPRESSION_LEVEL"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			cc.Level = parsed
		}
	}
}

// Validate checks encryption settings.
func (ec *EncryptionConfig) Validate() error {
	var errs ValidationErrors

	if ec.Enabled && ec.KeyRetriever == nil {
		switch ec.KeySource {
		case KeySourceEnv:
			if ec.KeyEnvVar == "" {
				errs.Add("encryption.key_env_var", "environment variable name is required for the env key source", nil)
			}
		case KeySourceFile:
			if ec.KeyPath == "" {
				errs.Add("encryption.key_path", "key file path is required for the file key source", nil)
			}
		case KeySourcePassphrase:
			if ec.Passphrase == "" {
				errs.Add("encryption.passphrase", "passphrase is required for the passphrase key source", nil)
			}
			if ec.Salt == "" {
				errs.Add("encryption.salt", "hex salt is required for the passphrase key source", nil)
			}
		case "":
			errs.Add("encryption.key_source", "key source is required when encryption is enabled", nil)
		default:
			errs.Add("encryption.key_source", "key source must be env, file, or passphrase", ec.KeySource)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults fills unset encryption settings.
func (ec *EncryptionConfig) SetDefaults() {
	if ec.Enabled && ec.KeySource == "" {
		ec.KeySource = KeySourceEnv
		ec.KeyEnvVar = DefaultKeyEnvVar
	}
}

// LoadFromEnvironment overrides encryption settings from the
// environment.
func (ec *EncryptionConfig) LoadFromEnvironment() {
	if val := os.Getenv("CARE_MIGRATE_ENCRYPTION_ENABLED"); val != "" {
		ec.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CARE_MIGRATE_ENCRYPTION_KEY_SOURCE"); val != "" {
		ec.KeySource = val
	}
	if val := os.Getenv("CARE_MIGRATE_ENCRYPTION_KEY_ENV_VAR"); val != "" {
		ec.KeyEnvVar = val
	}
	if val := os.Getenv("CARE_MIGRATE_ENCRYPTION_KEY_PATH"); val != "" {
		ec.KeyPath = val
	}
	if val := os.Getenv("CARE_MIGRATE_ENCRYPTION_PASSPHRASE"); val != "" {
		ec.Passphrase = val
	}
	if val := os.Getenv("CARE_MIGRATE_ENCRYPTION_SALT"); val != "" {
		ec.Salt = val
	}
}

// Validate checks retention settings.
func (rc *RetentionConfig) Validate() error {
	var errs ValidationErrors

	if rc.FullDays < 0 {
		errs.Add("retention.full_days", "retention days cannot be negative", rc.FullDays)
	}
	if rc.IncrementalDays < 0 {
		errs.Add("retention.incremental_days", "retention days cannot be negative", rc.IncrementalDays)
	}
	if rc.DifferentialDays < 0 {
		errs.Add("retention.differential_days", "retention days cannot be negative", rc.DifferentialDays)
	}
	if rc.KeepDaily < 0 || rc.KeepWeekly < 0 || rc.KeepMonthly < 0 {
		errs.Add("retention.keep", "keep counts cannot be negative", nil)
	}
	if rc.SweepInterval < 0 {
		errs.Add("retention.sweep_interval", "sweep interval cannot be negative", rc.SweepInterval)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults fills unset retention settings.
func (rc *RetentionConfig) SetDefaults() {
	if rc.FullDays == 0 {
		rc.FullDays = 30
	}
	if rc.IncrementalDays == 0 {
		rc.IncrementalDays = 7
	}
	if rc.DifferentialDays == 0 {
		rc.DifferentialDays = 14
	}
	if rc.SweepInterval == 0 {
		rc.SweepInterval = 24 * time.Hour
	}
}

// LoadFromEnvironment overrides retention settings from the
// environment.
func (rc *RetentionConfig) LoadFromEnvironment() {
	if val := os.Getenv("CARE_MIGRATE_RETENTION_FULL_DAYS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rc.FullDays = parsed
		}
	}
	if val := os.Getenv("CARE_MIGRATE_RETENTION_INCREMENTAL_DAYS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rc.IncrementalDays = parsed
		}
	}
	if val := os.Getenv("CARE_MIGRATE_RETENTION_DIFFERENTIAL_DAYS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rc.DifferentialDays = parsed
		}
	}
	if val := os.Getenv("CARE_MIGRATE_RETENTION_KEEP_DAILY"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rc.KeepDaily = parsed
		}
	}
	if val := os.Getenv("CARE_MIGRATE_RETENTION_KEEP_WEEKLY"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rc.KeepWeekly = parsed
		}
	}
	if val := os.Getenv("CARE_MIGRATE_RETENTION_KEEP_MONTHLY"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rc.KeepMonthly = parsed
		}
	}
	if val := os.Getenv("CARE_MIGRATE_RETENTION_SWEEP_INTERVAL"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			rc.SweepInterval = parsed
		}
	}
}

// SetDefaults fills unset storage settings for the selected provider.
func (sc *StorageConfig) SetDefaults() {
	if sc.Provider == "" {
		sc.Provider = StorageProviderLocal
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		if sc.Local.BasePath == "" {
			sc.Local.BasePath = "./backups"
		}
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		if sc.S3.Region == "" {
			sc.S3.Region = "us-east-1"
		}
		if sc.S3.Prefix == "" {
			sc.S3.Prefix = "backups"
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		if sc.GCS.CredentialsPath == "" {
			sc.GCS.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}
		if sc.GCS.Prefix == "" {
			sc.GCS.Prefix = "backups"
		}
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
		if sc.Azure.Prefix == "" {
			sc.Azure.Prefix = "backups"
		}
	}
}

// LoadFromEnvironment overrides storage settings from the environment.
func (sc *StorageConfig) LoadFromEnvironment() {
	if val := os.Getenv("CARE_MIGRATE_STORAGE_PROVIDER"); val != "" {
		sc.Provider = StorageProviderType(strings.ToLower(val))
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		if val := os.Getenv("CARE_MIGRATE_STORAGE_PATH"); val != "" {
			sc.Local.BasePath = val
		}
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		if val := os.Getenv("CARE_MIGRATE_S3_REGION"); val != "" {
			sc.S3.Region = val
		}
		if val := os.Getenv("CARE_MIGRATE_S3_BUCKET"); val != "" {
			sc.S3.Bucket = val
		}
		if val := os.Getenv("CARE_MIGRATE_S3_ACCESS_KEY"); val != "" {
			sc.S3.AccessKey = val
		}
		if val := os.Getenv("CARE_MIGRATE_S3_SECRET_KEY"); val != "" {
			sc.S3.SecretKey = val
		}
		if val := os.Getenv("CARE_MIGRATE_S3_PREFIX"); val != "" {
			sc.S3.Prefix = val
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		if val := os.Getenv("CARE_MIGRATE_GCS_BUCKET"); val != "" {
			sc.GCS.Bucket = val
		}
		if val := os.Getenv("CARE_MIGRATE_GCS_CREDENTIALS"); val != "" {
			sc.GCS.CredentialsPath = val
		}
		if val := os.Getenv("CARE_MIGRATE_GCS_PREFIX"); val != "" {
			sc.GCS.Prefix = val
		}
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
		if val := os.Getenv("CARE_MIGRATE_AZURE_ACCOUNT_NAME"); val != "" {
			sc.Azure.AccountName = val
		}
		if val := os.Getenv("CARE_MIGRATE_AZURE_ACCOUNT_KEY"); val != "" {
			sc.Azure.AccountKey = val
		}
		if val := os.Getenv("CARE_MIGRATE_AZURE_CONTAINER"); val != "" {
			sc.Azure.ContainerName = val
		}
		if val := os.Getenv("CARE_MIGRATE_AZURE_PREFIX"); val != "" {
			sc.Azure.Prefix = val
		}
	}
}
