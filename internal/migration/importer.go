package migration

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"care-migrate/internal/audit"
	"care-migrate/internal/logging"
)

// ImporterOptions tune a file import
type ImporterOptions struct {
	BatchSize int64
	Mode      ValidationMode
	// Comma sets the field delimiter. Zero value means comma.
	Comma rune
}

// Importer loads delimited files into a service's target store through the
// same transform/validate/write pipeline the table migrator uses. The first
// row must be a header naming the source columns.
type Importer struct {
	serviceName string
	config      MigrationTableConfig
	target      *sql.DB
	cipher      FieldCipher
	recorder    audit.Recorder
	logger      *logging.Logger
	options     ImporterOptions
}

// NewImporter creates an importer for one target table
func NewImporter(serviceName string, config MigrationTableConfig, target *sql.DB, cipher FieldCipher, recorder audit.Recorder, logger *logging.Logger, options ImporterOptions) (*Importer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid table config: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("target connection is required for table %s", config.TargetTable)
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

	return &Importer{
		serviceName: serviceName,
		config:      config,
		target:      target,
		cipher:      cipher,
		recorder:    recorder,
		logger:      logger,
		options:     options,
	}, nil
}

// ImportFile imports one CSV file
func (imp *Importer) ImportFile(ctx context.Context, path string) (*MigrationResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	imp.logger.WithFields(map[string]interface{}{
		"file":         filepath.Base(path),
		"target_table": imp.config.TargetTable,
	}).Info("Importing file")

	return imp.Import(ctx, file)
}

// Import reads CSV data and writes it through the migration pipeline.
// Rows with the wrong field count are counted as failed records; the import
// continues past them. A write failure rolls back the current batch and
// fails the import.
func (imp *Importer) Import(ctx context.Context, r io.Reader) (*MigrationResult, error) {
	startTime := time.Now()
	result := &MigrationResult{
		ServiceName: imp.serviceName,
		TableName:   imp.config.TargetTable,
	}

	finalize := func(status MigrationStatus, err error) (*MigrationResult, error) {
		result.Status = status
		result.Duration = time.Since(startTime)
		imp.recorder.Record(ctx, audit.Event{
			Type: audit.EventImportCompleted,
			Details: map[string]interface{}{
				"service":          imp.serviceName,
				"target_table":     imp.config.TargetTable,
				"status":           string(status),
				"total_records":    result.TotalRecords,
				"migrated_records": result.MigratedRecords,
				"failed_records":   result.FailedRecords,
			},
		})
		return result, err
	}

	reader := csv.NewReader(r)
	if imp.options.Comma != 0 {
		reader.Comma = imp.options.Comma
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return finalize(StatusFailed, fmt.Errorf("import input is empty: a header row is required"))
		}
		return finalize(StatusFailed, fmt.Errorf("failed to read header row: %w", err))
	}

	batch := make([]Record, 0, imp.options.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		prepared := prepareRecords(batch, imp.config, imp.options.Mode, imp.cipher, result)
		batch = batch[:0]
		if len(prepared) == 0 {
			return nil
		}
		if err := writeBatchTx(ctx, imp.target, imp.config.TargetTable, prepared, imp.logger); err != nil {
			return err
		}
		result.MigratedRecords += int64(len(prepared))
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return finalize(StatusFailed, fmt.Errorf("import cancelled: %w", err))
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && errors.Is(parseErr.Err, csv.ErrFieldCount) {
				result.TotalRecords++
				result.FailedRecords++
				result.ValidationErrors = append(result.ValidationErrors,
					fmt.Sprintf("%s: line %d has %d fields, header has %d", imp.config.SourceTable, parseErr.Line, len(row), len(header)))
				continue
			}
			return finalize(StatusFailed, fmt.Errorf("failed to parse import input: %w", err))
		}

		result.TotalRecords++
		batch = append(batch, recordFromRow(header, row))

		if int64(len(batch)) >= imp.options.BatchSize {
			if err := flush(); err != nil {
				return finalize(StatusFailed, err)
			}
		}
	}

	if err := flush(); err != nil {
		return finalize(StatusFailed, err)
	}

	if result.FailedRecords > 0 {
		return finalize(StatusPartial, nil)
	}
	return finalize(StatusCompleted, nil)
}

// recordFromRow maps one CSV row onto the header columns. Empty fields
// become nil so required-column rules catch them.
func recordFromRow(header, row []string) Record {
	record := make(Record, len(header))
	for i, column := range header {
		if i >= len(row) {
			break
		}
		if row[i] == "" {
			record[column] = nil
			continue
		}
		record[column] = row[i]
	}
	return record
}
