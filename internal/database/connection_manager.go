package database

import (
	"database/sql"
	"fmt"
)

// StatusReporter receives connection progress messages (to avoid circular
// imports with the display package)
type StatusReporter interface {
	Info(message string)
	Success(message string)
	Error(message string)
}

// ConnectionManager manages the legacy source connection and one target
// connection per service
type ConnectionManager struct {
	service  DatabaseService
	sourceDB *sql.DB
	targets  map[string]*sql.DB
	reporter StatusReporter
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		service: NewService(),
		targets: make(map[string]*sql.DB),
	}
}

// NewConnectionManagerWithService creates a new connection manager with a custom service
func NewConnectionManagerWithService(service DatabaseService) *ConnectionManager {
	return &ConnectionManager{
		service: service,
		targets: make(map[string]*sql.DB),
	}
}

// NewConnectionManagerWithConnections wraps already established connections
func NewConnectionManagerWithConnections(source *sql.DB, targets map[string]*sql.DB) *ConnectionManager {
	if targets == nil {
		targets = make(map[string]*sql.DB)
	}
	return &ConnectionManager{
		service:  NewService(),
		sourceDB: source,
		targets:  targets,
	}
}

// SetStatusReporter sets the reporter for connection progress messages
func (cm *ConnectionManager) SetStatusReporter(reporter StatusReporter) {
	cm.reporter = reporter
}

// ConnectToSource establishes connection to the legacy source database
func (cm *ConnectionManager) ConnectToSource(config DatabaseConfig) error {
	if cm.sourceDB != nil {
		cm.service.Close(cm.sourceDB)
	}

	if cm.reporter != nil {
		cm.reporter.Info("Establishing source database connection...")
	}

	db, err := cm.service.Connect(config)
	if err != nil {
		if cm.reporter != nil {
			cm.reporter.Error(fmt.Sprintf("Failed to connect to source database: %v", err))
		}
		return fmt.Errorf("failed to connect to source database: %w", err)
	}

	cm.sourceDB = db
	if cm.reporter != nil {
		cm.reporter.Success("Source database connection established")
	}
	return nil
}

// ConnectToTarget establishes connection to a service's target database
func (cm *ConnectionManager) ConnectToTarget(serviceName string, config DatabaseConfig) error {
	if existing, ok := cm.targets[serviceName]; ok && existing != nil {
		cm.service.Close(existing)
	}

	if cm.reporter != nil {
		cm.reporter.Info(fmt.Sprintf("Establishing target database connection for %s...", serviceName))
	}

	db, err := cm.service.Connect(config)
	if err != nil {
		if cm.reporter != nil {
			cm.reporter.Error(fmt.Sprintf("Failed to connect to target database for %s: %v", serviceName, err))
		}
		return fmt.Errorf("failed to connect to target database for %s: %w", serviceName, err)
	}

	cm.targets[serviceName] = db
	if cm.reporter != nil {
		cm.reporter.Success(fmt.Sprintf("Target database connection established for %s", serviceName))
	}
	return nil
}

// ConnectAll connects the source and every configured target
func (cm *ConnectionManager) ConnectAll(databases MigrationDatabases) error {
	if err := cm.ConnectToSource(databases.Source); err != nil {
		return err
	}
	for serviceName, target := range databases.Targets {
		if err := cm.ConnectToTarget(serviceName, target); err != nil {
			return err
		}
	}
	return nil
}

// GetSourceDB returns the source database connection
func (cm *ConnectionManager) GetSourceDB() *sql.DB {
	return cm.sourceDB
}

// GetTargetDB returns the target database connection for a service
func (cm *ConnectionManager) GetTargetDB(serviceName string) (*sql.DB, error) {
	db, ok := cm.targets[serviceName]
	if !ok || db == nil {
		return nil, fmt.Errorf("no target database connection for service %s", serviceName)
	}
	return db, nil
}

// TestConnections tests the source and every target connection
func (cm *ConnectionManager) TestConnections() error {
	if cm.sourceDB == nil {
		err := fmt.Errorf("source database connection is not established")
		if cm.reporter != nil {
			cm.reporter.Error("Source database connection is not established")
		}
		return err
	}

	if cm.reporter != nil {
		cm.reporter.Info("Testing database connections...")
	}

	if err := cm.service.TestConnection(cm.sourceDB); err != nil {
		if cm.reporter != nil {
			cm.reporter.Error(fmt.Sprintf("Source database connection test failed: %v", err))
		}
		return fmt.Errorf("source database connection test failed: %w", err)
	}

	for serviceName, db := range cm.targets {
		if err := cm.service.TestConnection(db); err != nil {
			if cm.reporter != nil {
				cm.reporter.Error(fmt.Sprintf("Target database connection test failed for %s: %v", serviceName, err))
			}
			return fmt.Errorf("target database connection test failed for %s: %w", serviceName, err)
		}
	}

	if cm.reporter != nil {
		cm.reporter.Success("All database connections are healthy")
	}
	return nil
}

// Close gracefully closes all database connections
func (cm *ConnectionManager) Close() error {
	var errs []error

	if cm.sourceDB != nil {
		if err := cm.service.Close(cm.sourceDB); err != nil {
			errs = append(errs, fmt.Errorf("failed to close source database: %w", err))
		}
		cm.sourceDB = nil
	}

	for serviceName, db := range cm.targets {
		if db == nil {
			continue
		}
		if err := cm.service.Close(db); err != nil {
			errs = append(errs, fmt.Errorf("failed to close target database for %s: %w", serviceName, err))
		}
		delete(cm.targets, serviceName)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	return nil
}

// GetSourceVersion returns the MySQL version of the source database
func (cm *ConnectionManager) GetSourceVersion() (string, error) {
	if cm.sourceDB == nil {
		return "", fmt.Errorf("source database connection is not established")
	}
	return cm.service.GetVersion(cm.sourceDB)
}
