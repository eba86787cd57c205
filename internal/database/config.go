package database

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds the configuration parameters for database connection
type DatabaseConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MigrationDatabases holds the legacy source database and one target
// database per service, keyed by service name
type MigrationDatabases struct {
	Source  DatabaseConfig            `mapstructure:"source" yaml:"source"`
	Targets map[string]DatabaseConfig `mapstructure:"targets" yaml:"targets"`
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second // Set default timeout
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %v", errs)
	}

	return nil
}

// UnmarshalYAML accepts the timeout as a Go duration string such as "30s"
func (dc *DatabaseConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		Timeout  string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	dc.Host = raw.Host
	dc.Port = raw.Port
	dc.Username = raw.Username
	dc.Password = raw.Password
	dc.Database = raw.Database
	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw.Timeout, err)
		}
		dc.Timeout = timeout
	}
	return nil
}

// DSN returns the Data Source Name for MySQL connection
func (dc *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s&parseTime=true",
		dc.Username, dc.Password, dc.Host, dc.Port, dc.Database, dc.Timeout)
}

// Validate checks the source database and every target database
func (md *MigrationDatabases) Validate() error {
	if err := md.Source.Validate(); err != nil {
		return fmt.Errorf("source database: %w", err)
	}

	if len(md.Targets) == 0 {
		return errors.New("at least one target database is required")
	}

	for serviceName, target := range md.Targets {
		if err := target.Validate(); err != nil {
			return fmt.Errorf("target database for %s: %w", serviceName, err)
		}
		md.Targets[serviceName] = target
	}

	return nil
}

// SetDefaults sets default values for the configuration
func (md *MigrationDatabases) SetDefaults() {
	if md.Source.Port == 0 {
		md.Source.Port = 3306
	}
	if md.Source.Timeout == 0 {
		md.Source.Timeout = 30 * time.Second
	}

	for serviceName, target := range md.Targets {
		if target.Port == 0 {
			target.Port = 3306
		}
		if target.Timeout == 0 {
			target.Timeout = 30 * time.Second
		}
		md.Targets[serviceName] = target
	}
}

// TargetFor returns the target database configuration for a service
func (md *MigrationDatabases) TargetFor(serviceName string) (DatabaseConfig, bool) {
	config, ok := md.Targets[serviceName]
	return config, ok
}
