package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"care-migrate/internal/logging"
	"care-migrate/internal/schema"
)

// ArchiveFormatVersion is bumped whenever the archive layout changes in a
// way old readers cannot parse.
const ArchiveFormatVersion = 1

// Archive is the logical dataset of one backup: every captured table with
// its columns, database column types, primary key, and rows. It is what
// actually gets compressed, encrypted, and stored.
type Archive struct {
	FormatVersion int         `json:"format_version"`
	PipelineID    string      `json:"pipeline_id"`
	BackupID      string      `json:"backup_id"`
	BackupType    BackupType  `json:"backup_type"`
	BaseBackupID  string      `json:"base_backup_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	Tables        []TableDump `json:"tables"`
}

// TableDump is one table's slice of the archive. Rows hold string or nil
// values in column order; the database coerces them back to their column
// types on replay. Complete is false when an incremental dump captured only
// the rows changed since the base backup.
type TableDump struct {
	Name        string            `json:"name"`
	Columns     []string          `json:"columns"`
	ColumnTypes map[string]string `json:"column_types"`
	PrimaryKey  []string          `json:"primary_key,omitempty"`
	Rows        [][]interface{}   `json:"rows"`
	Complete    bool              `json:"complete"`
}

// RecordCount returns the total number of rows across all tables.
func (a *Archive) RecordCount() int64 {
	var count int64
	for _, table := range a.Tables {
		count += int64(len(table.Rows))
	}
	return count
}

// TableCount returns the number of captured tables.
func (a *Archive) TableCount() int {
	return len(a.Tables)
}

// Validate checks the archive for structural problems.
func (a *Archive) Validate() error {
	if a.FormatVersion != ArchiveFormatVersion {
		return NewArchiveError(fmt.Sprintf("unsupported archive format version %d", a.FormatVersion), nil)
	}
	if a.BackupID == "" || a.PipelineID == "" {
		return NewArchiveError("archive is missing backup or pipeline identifiers", nil)
	}
	seen := make(map[string]bool, len(a.Tables))
	for _, table := range a.Tables {
		if table.Name == "" {
			return NewArchiveError("archive contains a table without a name", nil)
		}
		if seen[table.Name] {
			return NewArchiveError(fmt.Sprintf("archive contains table %s twice", table.Name), nil)
		}
		seen[table.Name] = true
		if len(table.Columns) == 0 {
			return NewArchiveError(fmt.Sprintf("table %s has no columns", table.Name), nil)
		}
		for i, row := range table.Rows {
			if len(row) != len(table.Columns) {
				return NewArchiveError(fmt.Sprintf("table %s row %d has %d values, expected %d",
					table.Name, i, len(row), len(table.Columns)), nil)
			}
		}
	}
	return nil
}

// Encode serializes the archive payload.
func (a *Archive) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, NewArchiveError("failed to encode archive", err)
	}
	return data, nil
}

// DecodeArchive parses and validates an archive payload.
func DecodeArchive(data []byte) (*Archive, error) {
	var archive Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, NewArchiveError("failed to decode archive", err)
	}
	if err := archive.Validate(); err != nil {
		return nil, err
	}
	return &archive, nil
}

// Change-timestamp columns used to scope incremental dumps, in preference
// order.
var changeColumns = []string{"updated_at", "created_at"}

// Dumper serializes a pipeline's tables out of a live database.
type Dumper struct {
	db         *sql.DB
	schemaName string
	inspector  *schema.Inspector
	logger     *logging.Logger
}

// NewDumper creates a dumper for one schema.
func NewDumper(db *sql.DB, schemaName string, logger *logging.Logger) *Dumper {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Dumper{
		db:         db,
		schemaName: schemaName,
		inspector:  schema.NewInspector(),
		logger:     logger,
	}
}

// DumpTables captures every row of the named tables. An empty table list
// dumps all base tables in the schema.
func (d *Dumper) DumpTables(ctx context.Context, tables []string) (*Archive, error) {
	return d.dump(ctx, tables, nil)
}

// DumpTablesSince captures the rows changed at or after the given instant.
// Tables without a change-timestamp column are captured whole and flagged
// complete so a restore knows the slice is self-contained.
func (d *Dumper) DumpTablesSince(ctx context.Context, tables []string, since time.Time) (*Archive, error) {
	return d.dump(ctx, tables, &since)
}

func (d *Dumper) dump(ctx context.Context, tables []string, since *time.Time) (*Archive, error) {
	if d.db == nil {
		return nil, NewDatabaseError("dumper has no database connection", nil)
	}

	if len(tables) == 0 {
		discovered, err := d.inspector.ListTables(d.db, d.schemaName)
		if err != nil {
			return nil, NewDatabaseError("failed to discover tables for dump", err)
		}
		tables = discovered
	}

	archive := &Archive{
		FormatVersion: ArchiveFormatVersion,
		CreatedAt:     time.Now().UTC(),
		Tables:        make([]TableDump, 0, len(tables)),
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dump, err := d.dumpTable(ctx, table, since)
		if err != nil {
			return nil, err
		}
		archive.Tables = append(archive.Tables, *dump)
	}

	return archive, nil
}

func (d *Dumper) dumpTable(ctx context.Context, table string, since *time.Time) (*TableDump, error) {
	info, err := d.inspector.InspectTable(d.db, d.schemaName, table)
	if err != nil {
		return nil, NewDatabaseError(fmt.Sprintf("failed to inspect table %s", table), err)
	}

	columns := make([]string, len(info.Columns))
	columnTypes := make(map[string]string, len(info.Columns))
	for i, col := range info.Columns {
		columns[i] = col.Name
		columnTypes[col.Name] = col.DataType
	}

	dump := &TableDump{
		Name:        table,
		Columns:     columns,
		ColumnTypes: columnTypes,
		PrimaryKey:  info.PrimaryKey,
		Complete:    true,
	}

	query, args := buildDumpQuery(table, columns, info.PrimaryKey, nil)
	if since != nil {
		if change := changeColumn(columns); change != "" {
			query, args = buildDumpQuery(table, columns, info.PrimaryKey, &changeFilter{
				column: change,
				since:  *since,
			})
			dump.Complete = false
		} else {
			d.logger.WithFields(map[string]interface{}{
				"table": table,
			}).Debug("No change-timestamp column, capturing table whole")
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewDatabaseError(fmt.Sprintf("failed to read table %s", table), err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, NewDatabaseError(fmt.Sprintf("failed to scan row from table %s", table), err)
		}
		row := make([]interface{}, len(columns))
		for i, value := range values {
			row[i] = normalizeValue(value)
		}
		dump.Rows = append(dump.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError(fmt.Sprintf("error iterating rows of table %s", table), err)
	}

	return dump, nil
}

type changeFilter struct {
	column string
	since  time.Time
}

func buildDumpQuery(table string, columns, primaryKey []string, filter *changeFilter) (string, []interface{}) {
	var builder strings.Builder
	builder.WriteString("SELECT ")
	for i, col := range columns {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(fmt.Sprintf("`%s`", col))
	}
	builder.WriteString(fmt.Sprintf(" FROM `%s`", table))

	var args []interface{}
	if filter != nil {
		builder.WriteString(fmt.Sprintf(" WHERE `%s` >= ?", filter.column))
		args = append(args, filter.since.UTC().Format("2006-01-02 15:04:05"))
	}

	if len(primaryKey) > 0 {
		builder.WriteString(" ORDER BY ")
		for i, col := range primaryKey {
			if i > 0 {
				builder.WriteString(", ")
			}
			builder.WriteString(fmt.Sprintf("`%s`", col))
		}
	}

	return builder.String(), args
}

// changeColumn picks the change-timestamp column an incremental dump scopes
// on, or empty when the table has none.
func changeColumn(columns []string) string {
	for _, candidate := range changeColumns {
		for _, col := range columns {
			if col == candidate {
				return candidate
			}
		}
	}
	return ""
}

// normalizeValue flattens a scanned driver value to a string or nil so the
// archive survives JSON round-trips without type drift.
func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", v)
	}
}
