package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Inspector reads table structure from INFORMATION_SCHEMA. The migrator uses
// it to find primary keys for ordered pagination; the backup dumper uses it
// for column metadata; restore integrity checks use its foreign key listing.
type Inspector struct {
	queryTimeout time.Duration
}

// NewInspector creates a new schema inspector
func NewInspector() *Inspector {
	return &Inspector{
		queryTimeout: 30 * time.Second,
	}
}

// NewInspectorWithTimeout creates a new schema inspector with custom timeout
func NewInspectorWithTimeout(timeout time.Duration) *Inspector {
	return &Inspector{
		queryTimeout: timeout,
	}
}

// ListTables returns the base table names in a schema, sorted by name
func (i *Inspector) ListTables(db *sql.DB, schemaName string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if schemaName == "" {
		return nil, fmt.Errorf("schema name cannot be empty")
	}

	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	ctx, cancel := context.WithTimeout(context.Background(), i.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table rows: %w", err)
	}

	return tables, nil
}

// InspectTable reads the columns and primary key of one table
func (i *Inspector) InspectTable(db *sql.DB, schemaName, tableName string) (*TableInfo, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if schemaName == "" || tableName == "" {
		return nil, fmt.Errorf("schema and table names cannot be empty")
	}

	columns, err := i.inspectColumns(db, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s does not exist", schemaName, tableName)
	}

	primaryKey, err := i.PrimaryKeyColumns(db, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	info := &TableInfo{
		Name:       tableName,
		Columns:    columns,
		PrimaryKey: primaryKey,
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("inspected table is invalid: %w", err)
	}
	return info, nil
}

func (i *Inspector) inspectColumns(db *sql.DB, schemaName, tableName string) ([]ColumnInfo, error) {
	query := `
		SELECT
			COLUMN_NAME,
			COLUMN_TYPE,
			IS_NULLABLE,
			COLUMN_DEFAULT,
			EXTRA,
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	ctx, cancel := context.WithTimeout(context.Background(), i.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns for table %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var columnName, columnType, isNullable, extra string
		var defaultValue sql.NullString
		var position int

		err := rows.Scan(
			&columnName,
			&columnType,
			&isNullable,
			&defaultValue,
			&extra,
			&position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan column data: %w", err)
		}

		column := ColumnInfo{
			Name:       columnName,
			DataType:   columnType, // COLUMN_TYPE carries full type info (e.g., varchar(255))
			IsNullable: isNullable == "YES",
			Extra:      extra,
			Position:   position,
		}
		if defaultValue.Valid {
			column.DefaultValue = &defaultValue.String
		}

		columns = append(columns, column)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column rows: %w", err)
	}

	return columns, nil
}

// PrimaryKeyColumns returns the primary key columns of a table in key order.
// Tables without a primary key return an empty list.
func (i *Inspector) PrimaryKeyColumns(db *sql.DB, schemaName, tableName string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND INDEX_NAME = 'PRIMARY'
		ORDER BY SEQ_IN_INDEX
	`

	ctx, cancel := context.WithTimeout(context.Background(), i.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key for table %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var columnName string
		if err := rows.Scan(&columnName); err != nil {
			return nil, fmt.Errorf("failed to scan primary key column: %w", err)
		}
		columns = append(columns, columnName)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating primary key rows: %w", err)
	}

	return columns, nil
}

// ListForeignKeys returns every foreign key constraint in a schema
func (i *Inspector) ListForeignKeys(db *sql.DB, schemaName string) ([]ForeignKey, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if schemaName == "" {
		return nil, fmt.Errorf("schema name cannot be empty")
	}

	query := `
		SELECT
			CONSTRAINT_NAME,
			TABLE_NAME,
			COLUMN_NAME,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, CONSTRAINT_NAME
	`

	ctx, cancel := context.WithTimeout(context.Background(), i.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	var keys []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		err := rows.Scan(
			&fk.ConstraintName,
			&fk.Table,
			&fk.Column,
			&fk.ReferencedTable,
			&fk.ReferencedColumn,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan foreign key data: %w", err)
		}
		keys = append(keys, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign key rows: %w", err)
	}

	return keys, nil
}

// CountOrphanedRows counts child rows whose foreign key value has no parent.
// Null foreign key values are not orphans.
func (i *Inspector) CountOrphanedRows(db *sql.DB, fk ForeignKey) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s child
		LEFT JOIN %s parent ON child.%s = parent.%s
		WHERE child.%s IS NOT NULL AND parent.%s IS NULL
	`,
		quoteIdentifier(fk.Table), quoteIdentifier(fk.ReferencedTable),
		quoteIdentifier(fk.Column), quoteIdentifier(fk.ReferencedColumn),
		quoteIdentifier(fk.Column), quoteIdentifier(fk.ReferencedColumn))

	ctx, cancel := context.WithTimeout(context.Background(), i.queryTimeout)
	defer cancel()

	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count orphaned rows for %s: %w", fk.ConstraintName, err)
	}
	return count, nil
}

// GetCurrentSchema retrieves the current schema name from the database connection
func (i *Inspector) GetCurrentSchema(db *sql.DB) (string, error) {
	if db == nil {
		return "", fmt.Errorf("database connection is nil")
	}

	var schemaName string
	query := "SELECT DATABASE()"

	ctx, cancel := context.WithTimeout(context.Background(), i.queryTimeout)
	defer cancel()

	err := db.QueryRowContext(ctx, query).Scan(&schemaName)
	if err != nil {
		return "", fmt.Errorf("failed to get current schema: %w", err)
	}

	if schemaName == "" {
		return "", fmt.Errorf("no schema selected")
	}

	return schemaName, nil
}

// ValidateSchemaExists checks if the specified schema exists
func (i *Inspector) ValidateSchemaExists(db *sql.DB, schemaName string) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	if schemaName == "" {
		return fmt.Errorf("schema name cannot be empty")
	}

	query := `
		SELECT COUNT(*)
		FROM INFORMATION_SCHEMA.SCHEMATA
		WHERE SCHEMA_NAME = ?
	`

	ctx, cancel := context.WithTimeout(context.Background(), i.queryTimeout)
	defer cancel()

	var count int
	err := db.QueryRowContext(ctx, query, schemaName).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to validate schema existence: %w", err)
	}

	if count == 0 {
		return fmt.Errorf("schema '%s' does not exist", schemaName)
	}

	return nil
}

func quoteIdentifier(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '`')
	for i := 0; i < len(name); i++ {
		if name[i] == '`' {
			out = append(out, '`')
		}
		out = append(out, name[i])
	}
	return string(append(out, '`'))
}
