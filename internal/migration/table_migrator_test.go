package migration

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"care-migrate/internal/audit"

	"github.com/DATA-DOG/go-sqlmock"
)

type prefixCipher struct{}

func (prefixCipher) EncryptField(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

type failingCipher struct{}

func (failingCipher) EncryptField(string) (string, error) {
	return "", fmt.Errorf("cipher unavailable")
}

func residentTableConfig() MigrationTableConfig {
	return MigrationTableConfig{
		SourceTable: "residents",
		TargetTable: "resident_records",
		TransformationRules: []TransformationRule{
			{SourceColumn: "id", TargetColumn: "id", Required: true},
			{SourceColumn: "first_name", TargetColumn: "first_name", Transform: transformTrim, Required: true},
			{SourceColumn: "nhs_number", TargetColumn: "nhs_number", Transform: transformNormalizeNHSNumber},
		},
		ValidationRules: []ValidationRule{
			{Column: "nhs_number", Kind: RuleNHSNumber, ErrorMessage: "invalid NHS number"},
		},
	}
}

func newMigratorForTest(t *testing.T, config MigrationTableConfig, cipher FieldCipher, mode ValidationMode, recorder audit.Recorder) (*TableMigrator, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()

	source, sourceMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create source mock: %v", err)
	}
	t.Cleanup(func() { source.Close() })

	target, targetMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create target mock: %v", err)
	}
	t.Cleanup(func() { target.Close() })

	migrator, err := NewTableMigrator("resident-service", config, source, target, cipher, recorder, nil, TableMigratorOptions{
		Mode:    mode,
		OrderBy: []string{"id"},
	})
	if err != nil {
		t.Fatalf("NewTableMigrator() error: %v", err)
	}
	return migrator, sourceMock, targetMock
}

func TestNewTableMigrator_Validation(t *testing.T) {
	source, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create source mock: %v", err)
	}
	defer source.Close()
	target, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create target mock: %v", err)
	}
	defer target.Close()

	config := residentTableConfig()
	if _, err := NewTableMigrator("resident-service", config, nil, target, nil, nil, nil, TableMigratorOptions{}); err == nil {
		t.Error("expected error for nil source connection")
	}

	pii := residentTableConfig()
	pii.ContainsPII = true
	pii.PIIColumns = []string{"first_name"}
	if _, err := NewTableMigrator("resident-service", pii, source, target, nil, nil, nil, TableMigratorOptions{}); err == nil {
		t.Error("expected error for PII table without cipher")
	}

	bad := residentTableConfig()
	bad.TargetTable = ""
	if _, err := NewTableMigrator("resident-service", bad, source, target, nil, nil, nil, TableMigratorOptions{}); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestMigrateTable_EmptySource(t *testing.T) {
	migrator, sourceMock, _ := newMigratorForTest(t, residentTableConfig(), nil, ValidationStrict, nil)

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))

	result, err := migrator.MigrateTable(context.Background())
	if err != nil {
		t.Fatalf("MigrateTable() error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if result.TotalRecords != 0 || result.MigratedRecords != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}
}

func TestMigrateTable_AllRecordsValid(t *testing.T) {
	recorder := audit.NewMemoryRecorder()
	migrator, sourceMock, targetMock := newMigratorForTest(t, residentTableConfig(), nil, ValidationStrict, recorder)

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(2))
	sourceMock.ExpectQuery("SELECT \\* FROM `residents` ORDER BY `id` ASC LIMIT \\? OFFSET \\?").
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "nhs_number"}).
			AddRow(int64(1), "  Ada ", "943 476 5919").
			AddRow(int64(2), "Mary", "943 476 5919"))

	targetMock.ExpectBegin()
	// columns are sorted: first_name, id, nhs_number
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records` \\(`first_name`, `id`, `nhs_number`\\) VALUES \\(\\?, \\?, \\?\\)").
		WithArgs("Ada", int64(1), "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Mary", int64(2), "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	result, err := migrator.MigrateTable(context.Background())
	if err != nil {
		t.Fatalf("MigrateTable() error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if result.TotalRecords != 2 || result.MigratedRecords != 2 || result.FailedRecords != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet target expectations: %v", err)
	}

	events := recorder.EventsOfType(audit.EventTableCompleted)
	if len(events) != 1 {
		t.Fatalf("expected 1 table event, got %d", len(events))
	}
	if events[0].Details["migrated_records"] != int64(2) {
		t.Errorf("event migrated_records = %v", events[0].Details["migrated_records"])
	}
}

func TestMigrateTable_StrictModeSkipsInvalid(t *testing.T) {
	migrator, sourceMock, targetMock := newMigratorForTest(t, residentTableConfig(), nil, ValidationStrict, nil)

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(2))
	sourceMock.ExpectQuery("SELECT \\* FROM `residents`").
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "nhs_number"}).
			AddRow(int64(1), "Ada", "9434765919").
			AddRow(int64(2), "Bob", "1234567890"))

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Ada", int64(1), "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	result, err := migrator.MigrateTable(context.Background())
	if err != nil {
		t.Fatalf("MigrateTable() error: %v", err)
	}

	if result.Status != StatusPartial {
		t.Errorf("Status = %q, want partial", result.Status)
	}
	if result.MigratedRecords != 1 || result.FailedRecords != 1 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if len(result.ValidationErrors) == 0 || !strings.Contains(result.ValidationErrors[0], "invalid NHS number") {
		t.Errorf("ValidationErrors = %v", result.ValidationErrors)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet target expectations: %v", err)
	}
}

func TestMigrateTable_LenientModeWritesInvalid(t *testing.T) {
	migrator, sourceMock, targetMock := newMigratorForTest(t, residentTableConfig(), nil, ValidationLenient, nil)

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(2))
	sourceMock.ExpectQuery("SELECT \\* FROM `residents`").
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "nhs_number"}).
			AddRow(int64(1), "Ada", "9434765919").
			AddRow(int64(2), "Bob", "1234567890"))

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Ada", int64(1), "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Bob", int64(2), "1234567890").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	result, err := migrator.MigrateTable(context.Background())
	if err != nil {
		t.Fatalf("MigrateTable() error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if result.MigratedRecords != 2 || result.FailedRecords != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if len(result.ValidationErrors) == 0 {
		t.Error("expected warnings to be recorded in lenient mode")
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet target expectations: %v", err)
	}
}

func TestMigrateTable_RequiredColumnMissing(t *testing.T) {
	migrator, sourceMock, targetMock := newMigratorForTest(t, residentTableConfig(), nil, ValidationStrict, nil)

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery("SELECT \\* FROM `residents`").
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "nhs_number"}).
			AddRow(int64(1), nil, "9434765919"))

	result, err := migrator.MigrateTable(context.Background())
	if err != nil {
		t.Fatalf("MigrateTable() error: %v", err)
	}

	if result.Status != StatusPartial {
		t.Errorf("Status = %q, want partial", result.Status)
	}
	if result.FailedRecords != 1 || result.MigratedRecords != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if len(result.ValidationErrors) == 0 || !strings.Contains(result.ValidationErrors[0], "required column first_name") {
		t.Errorf("ValidationErrors = %v", result.ValidationErrors)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("no writes expected: %v", err)
	}
}

func TestMigrateTable_PIIEncryption(t *testing.T) {
	config := residentTableConfig()
	config.ContainsPII = true
	config.PIIColumns = []string{"first_name"}

	migrator, sourceMock, targetMock := newMigratorForTest(t, config, prefixCipher{}, ValidationStrict, nil)

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery("SELECT \\* FROM `residents`").
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "nhs_number"}).
			AddRow(int64(1), "Ada", "9434765919"))

	targetMock.ExpectBegin()
	// sorted: first_name, first_name_encrypted, id, nhs_number
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records` \\(`first_name`, `first_name_encrypted`, `id`, `nhs_number`\\)").
		WithArgs("enc:Ada", true, int64(1), "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	result, err := migrator.MigrateTable(context.Background())
	if err != nil {
		t.Fatalf("MigrateTable() error: %v", err)
	}
	if result.MigratedRecords != 1 {
		t.Errorf("MigratedRecords = %d, want 1", result.MigratedRecords)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet target expectations: %v", err)
	}
}

func TestMigrateTable_CipherFailureCountsRecord(t *testing.T) {
	config := residentTableConfig()
	config.ContainsPII = true
	config.PIIColumns = []string{"first_name"}

	migrator, sourceMock, targetMock := newMigratorForTest(t, config, failingCipher{}, ValidationStrict, nil)

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery("SELECT \\* FROM `residents`").
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "nhs_number"}).
			AddRow(int64(1), "Ada", "9434765919"))

	result, err := migrator.MigrateTable(context.Background())
	if err != nil {
		t.Fatalf("MigrateTable() error: %v", err)
	}
	if result.FailedRecords != 1 {
		t.Errorf("FailedRecords = %d, want 1", result.FailedRecords)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("no writes expected: %v", err)
	}
}

func TestMigrateTable_WriteFailureRollsBack(t *testing.T) {
	migrator, sourceMock, targetMock := newMigratorForTest(t, residentTableConfig(), nil, ValidationStrict, nil)

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery("SELECT \\* FROM `residents`").
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "nhs_number"}).
			AddRow(int64(1), "Ada", "9434765919"))

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WillReturnError(fmt.Errorf("disk full"))
	targetMock.ExpectRollback()

	result, err := migrator.MigrateTable(context.Background())
	if err == nil {
		t.Fatal("expected error from failed batch write")
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", result.Status)
	}
	if result.MigratedRecords != 0 {
		t.Errorf("MigratedRecords = %d, want 0", result.MigratedRecords)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet target expectations: %v", err)
	}
}

func TestMigrateTable_NoPrimaryKey(t *testing.T) {
	source, sourceMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create source mock: %v", err)
	}
	defer source.Close()
	target, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create target mock: %v", err)
	}
	defer target.Close()

	migrator, err := NewTableMigrator("resident-service", residentTableConfig(), source, target, nil, nil, nil, TableMigratorOptions{
		SourceSchema: "care_records",
	})
	if err != nil {
		t.Fatalf("NewTableMigrator() error: %v", err)
	}

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(5))
	sourceMock.ExpectQuery("SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.STATISTICS").
		WithArgs("care_records", "residents").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}))

	result, err := migrator.MigrateTable(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no primary key") {
		t.Fatalf("expected no primary key error, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", result.Status)
	}
}

func TestBuildInsertIgnore(t *testing.T) {
	statement, args := buildInsertIgnore("resident_records", Record{
		"id":         1,
		"first_name": "Ada",
	})

	want := "INSERT IGNORE INTO `resident_records` (`first_name`, `id`) VALUES (?, ?)"
	if statement != want {
		t.Errorf("statement = %q, want %q", statement, want)
	}
	if len(args) != 2 || args[0] != "Ada" || args[1] != 1 {
		t.Errorf("args = %v", args)
	}

	statement, args = buildInsertIgnore("resident_records", Record{})
	if statement != "" || args != nil {
		t.Error("expected empty statement for empty record")
	}
}
