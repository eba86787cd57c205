package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"care-migrate/internal/errors"
	"care-migrate/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// Connection pool bounds shared by every handle the service opens.
const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// DatabaseService is the low-level database surface the connection manager
// builds on.
type DatabaseService interface {
	Connect(config DatabaseConfig) (*sql.DB, error)
	TestConnection(db *sql.DB) error
	Close(db *sql.DB) error
	GetVersion(db *sql.DB) (string, error)
	ExecuteSQL(db *sql.DB, statements []string) error
}

// Service implements DatabaseService against MySQL with retrying connects
// and per-statement logging.
type Service struct {
	connectionTimeout time.Duration
	maxRetries        int
	retryDelay        time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
}

// NewService creates a service with default timeouts and retry bounds.
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithOptions creates a service with custom connection timeout
// and retry bounds.
func NewServiceWithOptions(timeout time.Duration, maxRetries int, retryDelay time.Duration) *Service {
	return &Service{
		connectionTimeout: timeout,
		maxRetries:        maxRetries,
		retryDelay:        retryDelay,
		logger:            logging.NewDefaultLogger(),
		retryHandler: errors.NewRetryHandler(errors.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   retryDelay,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
		}),
	}
}

// NewServiceWithLogger creates a service with default bounds writing to the
// given logger.
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		connectionTimeout: 30 * time.Second,
		maxRetries:        3,
		retryDelay:        2 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
	}
}

// Connect opens a pooled connection to the configured MySQL database,
// retrying transient failures within the connection timeout.
func (s *Service) Connect(config DatabaseConfig) (*sql.DB, error) {
	start := time.Now()

	s.logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("Attempting database connection")

	ctx, cancel := errors.CreateContextWithTimeout(s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		handle, openErr := sql.Open("mysql", config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		handle.SetMaxOpenConns(maxOpenConns)
		handle.SetMaxIdleConns(maxIdleConns)
		handle.SetConnMaxLifetime(connMaxLifetime)

		if pingErr := s.TestConnection(handle); pingErr != nil {
			handle.Close()
			return pingErr
		}
		db = handle
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// TestConnection pings the database within the connection timeout.
func (s *Service) TestConnection(db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}
	return nil
}

// Close releases the connection pool. A nil handle is a no-op.
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return errors.WrapError(err, "failed to close database connection")
	}
	s.logger.Debug("Database connection closed")
	return nil
}

// GetVersion returns the MySQL server version string.
func (s *Service) GetVersion(db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.connectionTimeout)
	defer cancel()

	const query = "SELECT VERSION()"
	start := time.Now()

	var version string
	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}
	return version, nil
}

// ExecuteSQL runs the statements inside a single transaction. The first
// failing statement rolls everything back.
func (s *Service) ExecuteSQL(db *sql.DB, statements []string) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}
	if len(statements) == 0 {
		s.logger.Debug("No SQL statements to execute")
		return nil
	}

	s.logger.WithField("statement_count", len(statements)).Info("Executing SQL statements")

	tx, err := db.Begin()
	if err != nil {
		return errors.WrapError(err, "failed to begin transaction")
	}

	if err := s.execAll(tx, statements); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			s.logger.WithField("error", rollbackErr.Error()).Error("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapError(err, "failed to commit transaction")
	}

	s.logger.WithField("statement_count", len(statements)).Info("All SQL statements executed")
	return nil
}

func (s *Service) execAll(tx *sql.Tx, statements []string) error {
	for i, stmt := range statements {
		if stmt == "" {
			continue
		}

		start := time.Now()
		result, err := tx.Exec(stmt)

		var rowsAffected int64
		if result != nil {
			rowsAffected, _ = result.RowsAffected()
		}
		s.logger.LogSQLExecution(logging.SanitizeSQL(stmt), time.Since(start), rowsAffected, err)

		if err != nil {
			wrapped := errors.WrapError(err, fmt.Sprintf("failed to execute statement %d", i+1))
			if appErr, ok := wrapped.(*errors.AppError); ok {
				appErr.WithContext("statement", logging.SanitizeSQL(stmt)).WithContext("statement_index", i)
			}
			return wrapped
		}
	}
	return nil
}

// QuoteIdentifier wraps a table or column name in backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// CountRows returns the number of rows in a table.
func (s *Service) CountRows(ctx context.Context, db *sql.DB, table string) (int64, error) {
	if db == nil {
		return 0, errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdentifier(table))
	start := time.Now()

	var count int64
	err := db.QueryRowContext(ctx, query).Scan(&count)
	s.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return 0, errors.WrapError(err, fmt.Sprintf("failed to count rows in %s", table))
	}
	return count, nil
}

// FetchBatch reads one page of rows from a table ordered by the given key
// columns ascending. Rows come back as column-name keyed maps; text columns
// arrive as []byte from the driver.
func (s *Service) FetchBatch(ctx context.Context, db *sql.DB, table string, orderBy []string, limit, offset int64) ([]map[string]interface{}, error) {
	if db == nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}
	if len(orderBy) == 0 {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("no order key for table %s: paginated reads need a stable order", table), nil)
	}

	quotedOrder := make([]string, len(orderBy))
	for i, column := range orderBy {
		quotedOrder[i] = QuoteIdentifier(column) + " ASC"
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		QuoteIdentifier(table), strings.Join(quotedOrder, ", "))
	start := time.Now()

	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		s.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return nil, errors.WrapError(err, fmt.Sprintf("failed to fetch batch from %s", table))
	}
	defer rows.Close()

	records, err := scanRows(rows)
	s.logger.LogSQLExecution(query, time.Since(start), int64(len(records)), err)
	if err != nil {
		return nil, errors.WrapError(err, fmt.Sprintf("failed to scan batch from %s", table))
	}
	return records, nil
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(columns))
		for i, column := range columns {
			record[column] = values[i]
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
