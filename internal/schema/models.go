package schema

import (
	"fmt"
	"strings"
)

// TableInfo describes a table as read from information_schema: ordered
// columns plus the primary key column list used for stable pagination
type TableInfo struct {
	Name       string       `json:"name"`
	Columns    []ColumnInfo `json:"columns"`
	PrimaryKey []string     `json:"primary_key"`
}

// ColumnInfo describes a table column
type ColumnInfo struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	IsNullable   bool    `json:"is_nullable"`
	DefaultValue *string `json:"default_value,omitempty"`
	Extra        string  `json:"extra,omitempty"`
	Position     int     `json:"position"`
}

// ForeignKey describes one referential constraint between two tables
type ForeignKey struct {
	ConstraintName   string `json:"constraint_name"`
	Table            string `json:"table"`
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Validate validates the TableInfo structure
func (t *TableInfo) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, column := range t.Columns {
		if column.Name == "" {
			return fmt.Errorf("table %s has a column with no name", t.Name)
		}
		if seen[column.Name] {
			return fmt.Errorf("table %s has duplicate column %s", t.Name, column.Name)
		}
		seen[column.Name] = true
	}

	for _, key := range t.PrimaryKey {
		if !seen[key] {
			return fmt.Errorf("table %s primary key column %s is not a table column", t.Name, key)
		}
	}

	return nil
}

// HasColumn reports whether the table has a column with the given name
func (t *TableInfo) HasColumn(name string) bool {
	for _, column := range t.Columns {
		if column.Name == name {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in ordinal order
func (t *TableInfo) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, column := range t.Columns {
		names[i] = column.Name
	}
	return names
}

// ColumnTypes returns a column name to data type map
func (t *TableInfo) ColumnTypes() map[string]string {
	types := make(map[string]string, len(t.Columns))
	for _, column := range t.Columns {
		types[column.Name] = column.DataType
	}
	return types
}

// String renders a short description of the table
func (t *TableInfo) String() string {
	return fmt.Sprintf("%s (%d columns, pk: %s)", t.Name, len(t.Columns), strings.Join(t.PrimaryKey, ", "))
}

// String renders the constraint in child -> parent form
func (fk *ForeignKey) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", fk.Table, fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
}
