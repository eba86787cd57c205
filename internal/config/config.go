package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"care-migrate/internal/backup"
	"care-migrate/internal/database"
	"care-migrate/internal/display"
	"care-migrate/internal/logging"
)

// DefaultConfigFile is the file name looked up in the working directory
// when no --config flag is given.
const DefaultConfigFile = ".care-migrate.yaml"

// DefaultListenAddr is the bind address of the serve daemon's metrics and
// health endpoint.
const DefaultListenAddr = ":9464"

// DefaultPipelineID names the pipeline when the config file and flags
// leave it unset.
const DefaultPipelineID = "care-records"

// AppConfig is the root of the care-migrate configuration file: the source
// and target databases, migration run settings, the backup subsystem and
// the serve daemon.
type AppConfig struct {
	Databases database.MigrationDatabases `yaml:"databases"`
	Migration MigrationSettings           `yaml:"migration"`
	Backup    backup.Config               `yaml:"backup"`
	Serve     ServeSettings               `yaml:"serve"`
	Logging   LoggingSettings             `yaml:"logging"`
	Display   display.DisplayConfig       `yaml:"display"`
}

// MigrationSettings configures migration runs.
type MigrationSettings struct {
	// PipelineID names the pipeline in backups, audit records and
	// metrics.
	PipelineID string `yaml:"pipeline_id"`
	// PlanFile points at a YAML migration plan file. Empty selects the
	// built-in care records plans.
	PlanFile string `yaml:"plan_file,omitempty"`
	// BatchSize is the number of source rows read and written per batch.
	BatchSize int64 `yaml:"batch_size"`
	// Lenient records validation failures and carries on instead of
	// stopping the table.
	Lenient bool `yaml:"lenient"`
	// SourceSchema overrides the schema rows are read from. Empty uses
	// the source connection's database.
	SourceSchema string `yaml:"source_schema,omitempty"`
	// BackupBeforeRun takes a full backup of the source store before the
	// first row is migrated.
	BackupBeforeRun bool          `yaml:"backup_before_run"`
	Timeout         time.Duration `yaml:"timeout"`
}

// UnmarshalYAML accepts the timeout as a Go duration string such as "30m".
func (ms *MigrationSettings) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PipelineID      string `yaml:"pipeline_id"`
		PlanFile        string `yaml:"plan_file"`
		BatchSize       int64  `yaml:"batch_size"`
		Lenient         bool   `yaml:"lenient"`
		SourceSchema    string `yaml:"source_schema"`
		BackupBeforeRun bool   `yaml:"backup_before_run"`
		Timeout         string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	ms.PipelineID = raw.PipelineID
	ms.PlanFile = raw.PlanFile
	ms.BatchSize = raw.BatchSize
	ms.Lenient = raw.Lenient
	ms.SourceSchema = raw.SourceSchema
	ms.BackupBeforeRun = raw.BackupBeforeRun
	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw.Timeout, err)
		}
		ms.Timeout = timeout
	}
	return nil
}

// ServeSettings configures the scheduled backup daemon.
type ServeSettings struct {
	// ListenAddr is the bind address for /metrics and /health.
	ListenAddr string `yaml:"listen_addr"`
	// Schedules are the automated backup jobs the daemon runs.
	Schedules []backup.BackupSchedule `yaml:"schedules,omitempty"`
	// SweepCron schedules retention sweeps. Empty disables them.
	SweepCron string `yaml:"sweep_cron,omitempty"`
}

// LoggingSettings configures the structured logger.
type LoggingSettings struct {
	Level      logging.LogLevel `yaml:"level"`
	Format     string           `yaml:"format"`
	File       string           `yaml:"file,omitempty"`
	ShowCaller bool             `yaml:"show_caller"`
}

// Load reads the configuration file at path and applies defaults,
// environment overrides and validation.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals a raw YAML configuration and applies defaults,
// environment overrides and validation.
func Parse(data []byte) (*AppConfig, error) {
	cfg := &AppConfig{}
	// The file overlays the display defaults, so leaving out the display
	// section keeps color and icons on while an explicit false wins.
	cfg.Display = *display.DefaultDisplayConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	cfg.SetDefaults()
	cfg.LoadFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// databases or backup schema set.
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.Display = *display.DefaultDisplayConfig()
	cfg.SetDefaults()
	cfg.LoadFromEnvironment()
	return cfg
}

// SetDefaults fills unset fields across the configuration tree.
func (c *AppConfig) SetDefaults() {
	c.Databases.SetDefaults()

	if c.Migration.PipelineID == "" {
		c.Migration.PipelineID = DefaultPipelineID
	}
	if c.Migration.BatchSize == 0 {
		c.Migration.BatchSize = 500
	}
	if c.Migration.Timeout == 0 {
		c.Migration.Timeout = 30 * time.Minute
	}

	c.Backup.SetDefaults()

	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
	for i := range c.Serve.Schedules {
		if c.Serve.Schedules[i].PipelineID == "" {
			c.Serve.Schedules[i].PipelineID = c.Migration.PipelineID
		}
		if c.Serve.Schedules[i].BackupType == "" {
			c.Serve.Schedules[i].BackupType = backup.BackupTypeFull
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = logging.LogLevelNormal
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.Display.SetDefaults()
}

// LoadFromEnvironment applies CARE_MIGRATE_* overrides. Environment values
// win over the file so credentials can stay out of it.
func (c *AppConfig) LoadFromEnvironment() {
	if v := os.Getenv("CARE_MIGRATE_PIPELINE_ID"); v != "" {
		c.Migration.PipelineID = v
	}
	if v := os.Getenv("CARE_MIGRATE_BATCH_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Migration.BatchSize = n
		}
	}
	if v := os.Getenv("CARE_MIGRATE_SOURCE_PASSWORD"); v != "" {
		c.Databases.Source.Password = v
	}
	if v := os.Getenv("CARE_MIGRATE_TARGET_PASSWORD"); v != "" {
		for name, target := range c.Databases.Targets {
			if target.Password == "" {
				target.Password = v
				c.Databases.Targets[name] = target
			}
		}
	}
	if v := os.Getenv("CARE_MIGRATE_LISTEN_ADDR"); v != "" {
		c.Serve.ListenAddr = v
	}

	c.Backup.LoadFromEnvironment()
}

// Validate checks every configured section. Sections left empty, such as
// an unused backup block, are skipped so single-purpose config files stay
// small; the commands that need a section enforce its presence themselves.
func (c *AppConfig) Validate() error {
	if c.Migration.BatchSize < 0 {
		return fmt.Errorf("migration batch size cannot be negative, got %d", c.Migration.BatchSize)
	}
	if c.Migration.Timeout < 0 {
		return fmt.Errorf("migration timeout cannot be negative")
	}

	if c.Databases.Source.Host != "" {
		if err := c.Databases.Source.Validate(); err != nil {
			return fmt.Errorf("source database: %w", err)
		}
	}
	for _, name := range sortedTargetNames(c.Databases.Targets) {
		target := c.Databases.Targets[name]
		if err := target.Validate(); err != nil {
			return fmt.Errorf("target database %s: %w", name, err)
		}
		c.Databases.Targets[name] = target
	}

	if c.Backup.Schema != "" {
		if err := c.Backup.Validate(); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	if err := c.validateServe(); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be text or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		return fmt.Errorf("invalid log level %q, must be quiet, normal, verbose or debug", c.Logging.Level)
	}

	if err := c.Display.Validate(); err != nil {
		return fmt.Errorf("display: %w", err)
	}

	return nil
}

func (c *AppConfig) validateServe() error {
	if len(c.Serve.Schedules) == 0 && c.Serve.SweepCron == "" {
		return nil
	}
	if c.Backup.Schema == "" {
		return fmt.Errorf("serve schedules require the backup section to be configured")
	}
	for i, schedule := range c.Serve.Schedules {
		if schedule.PipelineID == "" {
			return fmt.Errorf("serve schedule %d: pipeline_id is required", i)
		}
		if schedule.CronSpec == "" {
			return fmt.Errorf("serve schedule %d: cron expression is required", i)
		}
		switch schedule.BackupType {
		case backup.BackupTypeFull, backup.BackupTypeIncremental, backup.BackupTypeDifferential:
		default:
			return fmt.Errorf("serve schedule %d: unknown backup type %q", i, schedule.BackupType)
		}
	}
	return nil
}

func sortedTargetNames(targets map[string]database.DatabaseConfig) []string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
