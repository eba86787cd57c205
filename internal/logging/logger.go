package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel is the operator-facing verbosity setting.
type LogLevel string

const (
	// LogLevelQuiet shows errors only.
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows run progress and warnings.
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose adds per-statement and per-stage detail.
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows everything, including trace output.
	LogLevelDebug LogLevel = "debug"
)

var logrusLevels = map[LogLevel]logrus.Level{
	LogLevelQuiet:   logrus.ErrorLevel,
	LogLevelNormal:  logrus.InfoLevel,
	LogLevelVerbose: logrus.DebugLevel,
	LogLevelDebug:   logrus.TraceLevel,
}

// Config controls where and how the logger writes.
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// Logger wraps logrus with migration and backup specific helpers.
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// NewLogger creates a logger from config. When LogFile is set, output goes
// to both the configured writer and the file.
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(newFormatter(config.Format, config.ShowCaller))
	logger.SetReportCaller(config.ShowCaller)

	if lvl, ok := logrusLevels[config.Level]; ok {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", config.LogFile, err)
		}
		out = io.MultiWriter(out, file)
	}
	logger.SetOutput(out)

	return &Logger{logger: logger, level: config.Level}, nil
}

// NewDefaultLogger creates a text logger at normal verbosity writing to
// stdout.
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Format: "text",
	})
	return logger
}

func newFormatter(format string, showCaller bool) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	if showCaller {
		formatter.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
			return fmt.Sprintf("%s()", f.Function),
				fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
	}
	return formatter
}

// GetLevel returns the configured verbosity.
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel changes the verbosity at runtime.
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	if lvl, ok := logrusLevels[level]; ok {
		l.logger.SetLevel(lvl)
	}
}

// IsLevelEnabled reports whether messages at level would be written.
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	lvl, ok := logrusLevels[level]
	return ok && l.logger.IsLevelEnabled(lvl)
}

// WithContext returns an entry carrying the run ID from ctx, when present.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if runID := ctx.Value(runIDKey); runID != nil {
		entry = entry.WithField("run_id", runID)
	}
	return entry
}

// WithFields returns an entry with the given fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns an entry with one field attached.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogDatabaseConnection records a connection attempt against either
// database.
func (l *Logger) LogDatabaseConnection(host string, database string, success bool, duration time.Duration, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	})

	if !success {
		if err != nil {
			entry = entry.WithField("error", err.Error())
		}
		entry.Error("Database connection failed")
		return
	}
	entry.Info("Database connection established")
}

// LogSQLExecution records a statement execution. Successful statements
// only show up at verbose and above.
func (l *Logger) LogSQLExecution(sql string, duration time.Duration, rowsAffected int64, err error) {
	fields := logrus.Fields{
		"operation":     "sql_execution",
		"duration":      duration.String(),
		"rows_affected": rowsAffected,
	}

	// Long statements are cut down so batch inserts do not flood the log.
	if len(sql) > 200 {
		fields["sql"] = sql[:200] + "..."
		fields["sql_length"] = len(sql)
	} else {
		fields["sql"] = sql
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("SQL execution failed")
		return
	}
	if l.IsLevelEnabled(LogLevelVerbose) {
		l.logger.WithFields(fields).Debug("SQL executed successfully")
	}
}

// LogTableMigration records the outcome of a single table migration.
func (l *Logger) LogTableMigration(service, table string, total, migrated, failed int64, duration time.Duration, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"operation":        "table_migration",
		"service":          service,
		"table":            table,
		"total_records":    total,
		"migrated_records": migrated,
		"failed_records":   failed,
		"duration":         duration.String(),
	})

	switch {
	case err != nil:
		entry.WithField("error", err.Error()).Error("Table migration failed")
	case failed > 0:
		entry.Warn("Table migration completed with failures")
	default:
		entry.Info("Table migration completed")
	}
}

// LogBackupStage records one stage of the backup pipeline.
func (l *Logger) LogBackupStage(backupID, stage string, duration time.Duration, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"operation": "backup_stage",
		"backup_id": backupID,
		"stage":     stage,
		"duration":  duration.String(),
	})

	if err != nil {
		entry.WithField("error", err.Error()).Error("Backup stage failed")
		return
	}
	entry.Debug("Backup stage completed")
}

// LogRestoreOutcome records the final outcome of a restore run.
func (l *Logger) LogRestoreOutcome(restoreID, backupID, status string, recordsRestored int64, duration time.Duration, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"operation":        "restore",
		"restore_id":       restoreID,
		"backup_id":        backupID,
		"status":           status,
		"records_restored": recordsRestored,
		"duration":         duration.String(),
	})

	if err != nil {
		entry.WithField("error", err.Error()).Error("Restore failed")
		return
	}
	entry.Info("Restore completed")
}

// LogOperationStart logs the start of an operation and returns a callback
// that logs its completion with the elapsed time.
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	start := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}
	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(start).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
			return
		}
		logFields["success"] = true
		l.logger.WithFields(logFields).Info("Operation completed")
	}
}

// Info logs at info level.
func (l *Logger) Info(msg string) { l.logger.Info(msg) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.logger.Infof(format, args...) }

// Debug logs at debug level.
func (l *Logger) Debug(msg string) { l.logger.Debug(msg) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.logger.Debugf(format, args...) }

// Warn logs at warning level.
func (l *Logger) Warn(msg string) { l.logger.Warn(msg) }

// Warnf logs a formatted message at warning level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string) { l.logger.Error(msg) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.logger.Errorf(format, args...) }

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(msg string) { l.logger.Fatal(msg) }

// Fatalf logs a formatted message at fatal level and exits.
func (l *Logger) Fatalf(format string, args ...interface{}) { l.logger.Fatalf(format, args...) }

type contextKey string

const runIDKey contextKey = "run_id"

// CreateContextWithRunID returns a context carrying the migration run ID.
func CreateContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunIDFromContext extracts the migration run ID, empty when absent.
func GetRunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// SanitizeSQL masks credential values so a statement is safe to log, and
// truncates very long statements.
func SanitizeSQL(sql string) string {
	for _, marker := range []string{"password=", "PASSWORD="} {
		idx := strings.Index(sql, marker)
		if idx == -1 {
			continue
		}
		start := idx + len(marker)
		sql = sql[:start] + "***" + sql[start+credentialLen(sql[start:]):]
	}

	if len(sql) > 500 {
		return sql[:500] + "... [truncated]"
	}
	return sql
}

// credentialLen returns the length of the credential value at the start of
// s, including surrounding quotes.
func credentialLen(s string) int {
	if len(s) == 0 {
		return 0
	}
	if s[0] == '\'' || s[0] == '"' {
		if end := strings.IndexByte(s[1:], s[0]); end != -1 {
			return end + 2
		}
		return len(s)
	}
	if end := strings.IndexByte(s, ' '); end != -1 {
		return end
	}
	return len(s)
}
