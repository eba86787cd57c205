package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"care-migrate/internal/audit"
	"care-migrate/internal/database"
	"care-migrate/internal/logging"
	"care-migrate/internal/schema"
)

// DefaultBatchSize bounds how many rows one batch reads and writes
const DefaultBatchSize int64 = 1000

// FieldCipher encrypts a single PII field value
type FieldCipher interface {
	EncryptField(plaintext string) (string, error)
}

// TableMigratorOptions tune one table migration
type TableMigratorOptions struct {
	BatchSize int64
	Mode      ValidationMode
	// OrderBy overrides the pagination key. Left empty, the source table's
	// primary key is used.
	OrderBy []string
	// SourceSchema overrides the schema name used for primary key lookup.
	// Left empty, the connection's current schema is used.
	SourceSchema string
}

// TableMigrator migrates one logical table: paginated batch read from the
// source, transform, validate, optional PII encryption, transactional batch
// write to the target.
type TableMigrator struct {
	serviceName string
	config      MigrationTableConfig
	source      *sql.DB
	target      *sql.DB
	dbService   *database.Service
	inspector   *schema.Inspector
	cipher      FieldCipher
	recorder    audit.Recorder
	logger      *logging.Logger
	options     TableMigratorOptions
}

// NewTableMigrator creates a migrator for one table. A table marked as
// containing PII needs a field cipher.
func NewTableMigrator(serviceName string, config MigrationTableConfig, source, target *sql.DB, cipher FieldCipher, recorder audit.Recorder, logger *logging.Logger, options TableMigratorOptions) (*TableMigrator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid table config: %w", err)
	}
	if source == nil || target == nil {
		return nil, fmt.Errorf("source and target connections are required for table %s", config.SourceTable)
	}
	if config.ContainsPII && cipher == nil {
		return nil, fmt.Errorf("table %s contains PII but no field cipher is configured", config.SourceTable)
	}

	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}
	if options.Mode == "" {
		options.Mode = ValidationStrict
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &TableMigrator{
		serviceName: serviceName,
		config:      config,
		source:      source,
		target:      target,
		dbService:   database.NewServiceWithLogger(logger),
		inspector:   schema.NewInspector(),
		cipher:      cipher,
		recorder:    recorder,
		logger:      logger,
		options:     options,
	}, nil
}

// MigrateTable runs the migration for this table. Record-level failures are
// counted in the result; write failures roll back the current batch and fail
// the table.
func (tm *TableMigrator) MigrateTable(ctx context.Context) (*MigrationResult, error) {
	startTime := time.Now()
	result := &MigrationResult{
		ServiceName: tm.serviceName,
		TableName:   tm.config.SourceTable,
	}

	finalize := func(status MigrationStatus, err error) (*MigrationResult, error) {
		result.Status = status
		result.Duration = time.Since(startTime)
		tm.logger.LogTableMigration(tm.serviceName, tm.config.SourceTable,
			result.TotalRecords, result.MigratedRecords, result.FailedRecords, result.Duration, err)
		tm.recorder.Record(ctx, audit.Event{
			Type: audit.EventTableCompleted,
			Details: map[string]interface{}{
				"service":          tm.serviceName,
				"source_table":     tm.config.SourceTable,
				"target_table":     tm.config.TargetTable,
				"status":           string(status),
				"total_records":    result.TotalRecords,
				"migrated_records": result.MigratedRecords,
				"failed_records":   result.FailedRecords,
			},
		})
		return result, err
	}

	total, err := tm.dbService.CountRows(ctx, tm.source, tm.config.SourceTable)
	if err != nil {
		return finalize(StatusFailed, fmt.Errorf("failed to count source rows for %s: %w", tm.config.SourceTable, err))
	}
	result.TotalRecords = total
	if total == 0 {
		return finalize(StatusCompleted, nil)
	}

	orderBy, err := tm.resolveOrderKey(ctx)
	if err != nil {
		return finalize(StatusFailed, err)
	}

	for offset := int64(0); offset < total; offset += tm.options.BatchSize {
		if err := ctx.Err(); err != nil {
			return finalize(StatusFailed, fmt.Errorf("table migration cancelled: %w", err))
		}

		rows, err := tm.dbService.FetchBatch(ctx, tm.source, tm.config.SourceTable, orderBy, tm.options.BatchSize, offset)
		if err != nil {
			return finalize(StatusFailed, err)
		}
		if len(rows) == 0 {
			break
		}

		batch := tm.prepareBatch(rows, result)
		if len(batch) == 0 {
			continue
		}

		if err := tm.writeBatch(ctx, batch); err != nil {
			return finalize(StatusFailed, err)
		}
		result.MigratedRecords += int64(len(batch))
	}

	if result.FailedRecords > 0 {
		return finalize(StatusPartial, nil)
	}
	return finalize(StatusCompleted, nil)
}

// resolveOrderKey picks the pagination key: the configured override or the
// source table's primary key
func (tm *TableMigrator) resolveOrderKey(ctx context.Context) ([]string, error) {
	if len(tm.options.OrderBy) > 0 {
		return tm.options.OrderBy, nil
	}

	schemaName := tm.options.SourceSchema
	if schemaName == "" {
		current, err := tm.inspector.GetCurrentSchema(tm.source)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source schema for %s: %w", tm.config.SourceTable, err)
		}
		schemaName = current
	}

	primaryKey, err := tm.inspector.PrimaryKeyColumns(tm.source, schemaName, tm.config.SourceTable)
	if err != nil {
		return nil, err
	}
	if len(primaryKey) == 0 {
		return nil, fmt.Errorf("table %s has no primary key: paginated reads need a stable order", tm.config.SourceTable)
	}
	return primaryKey, nil
}

func (tm *TableMigrator) prepareBatch(rows []map[string]interface{}, result *MigrationResult) []Record {
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record(row)
	}
	return prepareRecords(records, tm.config, tm.options.Mode, tm.cipher, result)
}

func (tm *TableMigrator) writeBatch(ctx context.Context, batch []Record) error {
	return writeBatchTx(ctx, tm.target, tm.config.TargetTable, batch, tm.logger)
}

// prepareRecords transforms, validates and encrypts records bound for one
// target table. Failing records are counted on the result and dropped
// (strict mode) or kept with recorded warnings (lenient mode). The table
// migrator and the file importer share this pipeline.
func prepareRecords(records []Record, config MigrationTableConfig, mode ValidationMode, cipher FieldCipher, result *MigrationResult) []Record {
	surviving := make([]Record, 0, len(records))

	for _, record := range records {
		transformed, err := ApplyTransformations(record, config.TransformationRules)
		if err != nil {
			result.FailedRecords++
			result.ValidationErrors = append(result.ValidationErrors,
				fmt.Sprintf("%s: %v", config.SourceTable, err))
			continue
		}

		failures := ValidateRecord(transformed, config.ValidationRules)
		if len(failures) > 0 {
			result.ValidationErrors = append(result.ValidationErrors,
				prefixFailures(config.SourceTable, failures)...)
			if mode == ValidationStrict {
				result.FailedRecords++
				continue
			}
		}

		if config.ContainsPII {
			encrypted, err := encryptPIIFields(transformed, config.PIIColumns, cipher)
			if err != nil {
				result.FailedRecords++
				result.ValidationErrors = append(result.ValidationErrors,
					fmt.Sprintf("%s: %v", config.SourceTable, err))
				continue
			}
			transformed = encrypted
		}

		surviving = append(surviving, transformed)
	}

	return surviving
}

// encryptPIIFields encrypts the designated columns and sets a sibling
// <column>_encrypted flag per encrypted field
func encryptPIIFields(record Record, piiColumns []string, cipher FieldCipher) (Record, error) {
	for _, column := range piiColumns {
		value, present := record[column]
		if !present || value == nil {
			continue
		}

		plaintext, ok := stringValue(value)
		if !ok {
			plaintext = fmt.Sprint(value)
		}

		ciphertext, err := cipher.EncryptField(plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt column %s: %w", column, err)
		}

		record[column] = ciphertext
		record[column+"_encrypted"] = true
	}
	return record, nil
}

// writeBatchTx inserts every surviving record inside one transaction.
// Duplicate keys are ignored so a re-run converges instead of erroring.
func writeBatchTx(ctx context.Context, db *sql.DB, targetTable string, batch []Record, logger *logging.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction for %s: %w", targetTable, err)
	}

	for _, record := range batch {
		statement, args := buildInsertIgnore(targetTable, record)
		if statement == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logger.WithField("error", rollbackErr.Error()).Error("Failed to rollback batch transaction")
			}
			return fmt.Errorf("batch write to %s failed: %w", targetTable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch for %s: %w", targetTable, err)
	}
	return nil
}

// buildInsertIgnore renders one duplicate-key-ignoring insert with sorted
// columns so the statement shape is deterministic
func buildInsertIgnore(table string, record Record) (string, []interface{}) {
	if len(record) == 0 {
		return "", nil
	}

	columns := make([]string, 0, len(record))
	for column := range record {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, column := range columns {
		quoted[i] = database.QuoteIdentifier(column)
		placeholders[i] = "?"
		args[i] = record[column]
	}

	statement := fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)",
		database.QuoteIdentifier(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))
	return statement, args
}

func prefixFailures(table string, failures []string) []string {
	prefixed := make([]string, len(failures))
	for i, failure := range failures {
		prefixed[i] = fmt.Sprintf("%s: %s", table, failure)
	}
	return prefixed
}
