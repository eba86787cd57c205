package migration

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newImporterForTest(t *testing.T, config MigrationTableConfig, cipher FieldCipher, options ImporterOptions) (*Importer, sqlmock.Sqlmock) {
	t.Helper()

	target, targetMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create target mock: %v", err)
	}
	t.Cleanup(func() { target.Close() })

	importer, err := NewImporter("resident-service", config, target, cipher, nil, nil, options)
	if err != nil {
		t.Fatalf("NewImporter() error: %v", err)
	}
	return importer, targetMock
}

func TestNewImporter_Validation(t *testing.T) {
	target, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create target mock: %v", err)
	}
	defer target.Close()

	if _, err := NewImporter("resident-service", residentTableConfig(), nil, nil, nil, nil, ImporterOptions{}); err == nil {
		t.Error("expected error for nil target connection")
	}

	pii := residentTableConfig()
	pii.ContainsPII = true
	pii.PIIColumns = []string{"first_name"}
	if _, err := NewImporter("resident-service", pii, target, nil, nil, nil, ImporterOptions{}); err == nil {
		t.Error("expected error for PII table without cipher")
	}
}

func TestImport_AllRowsValid(t *testing.T) {
	importer, targetMock := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{})

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Ada", "1", "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Mary", "2", "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	input := "id,first_name,nhs_number\n1,  Ada ,943 476 5919\n2,Mary,9434765919\n"
	result, err := importer.Import(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
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
}

func TestImport_StrictModeSkipsInvalid(t *testing.T) {
	importer, targetMock := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{})

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Ada", "1", "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	input := "id,first_name,nhs_number\n1,Ada,9434765919\n2,Bob,1234567890\n"
	result, err := importer.Import(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
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
}

func TestImport_EmptyFieldFailsRequiredColumn(t *testing.T) {
	importer, targetMock := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{})

	input := "id,first_name,nhs_number\n1,,9434765919\n"
	result, err := importer.Import(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}

	if result.Status != StatusPartial {
		t.Errorf("Status = %q, want partial", result.Status)
	}
	if result.FailedRecords != 1 {
		t.Errorf("FailedRecords = %d, want 1", result.FailedRecords)
	}
	if len(result.ValidationErrors) == 0 || !strings.Contains(result.ValidationErrors[0], "required column first_name") {
		t.Errorf("ValidationErrors = %v", result.ValidationErrors)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("no writes expected: %v", err)
	}
}

func TestImport_WrongFieldCountRowIsCounted(t *testing.T) {
	importer, targetMock := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{})

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Ada", "1", "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	input := "id,first_name,nhs_number\n1,Ada,9434765919\n2,Bob\n"
	result, err := importer.Import(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}

	if result.Status != StatusPartial {
		t.Errorf("Status = %q, want partial", result.Status)
	}
	if result.TotalRecords != 2 || result.MigratedRecords != 1 || result.FailedRecords != 1 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if len(result.ValidationErrors) == 0 || !strings.Contains(result.ValidationErrors[0], "fields") {
		t.Errorf("ValidationErrors = %v", result.ValidationErrors)
	}
}

func TestImport_EmptyInput(t *testing.T) {
	importer, _ := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{})

	result, err := importer.Import(context.Background(), strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "header row is required") {
		t.Fatalf("expected header error, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", result.Status)
	}
}

func TestImport_HeaderOnly(t *testing.T) {
	importer, targetMock := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{})

	result, err := importer.Import(context.Background(), strings.NewReader("id,first_name,nhs_number\n"))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if result.Status != StatusCompleted || result.TotalRecords != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("no writes expected: %v", err)
	}
}

func TestImport_BatchBoundaries(t *testing.T) {
	importer, targetMock := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{BatchSize: 1})

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Ada", "1", "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()
	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Mary", "2", "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	input := "id,first_name,nhs_number\n1,Ada,9434765919\n2,Mary,9434765919\n"
	result, err := importer.Import(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if result.MigratedRecords != 2 {
		t.Errorf("MigratedRecords = %d, want 2", result.MigratedRecords)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet target expectations: %v", err)
	}
}

func TestImport_WriteFailureRollsBack(t *testing.T) {
	importer, targetMock := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{})

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WillReturnError(fmt.Errorf("disk full"))
	targetMock.ExpectRollback()

	input := "id,first_name,nhs_number\n1,Ada,9434765919\n"
	result, err := importer.Import(context.Background(), strings.NewReader(input))
	if err == nil {
		t.Fatal("expected error from failed batch write")
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", result.Status)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet target expectations: %v", err)
	}
}

func TestImport_PIIEncryption(t *testing.T) {
	config := residentTableConfig()
	config.ContainsPII = true
	config.PIIColumns = []string{"first_name"}

	importer, targetMock := newImporterForTest(t, config, prefixCipher{}, ImporterOptions{})

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("enc:Ada", true, "1", "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	input := "id,first_name,nhs_number\n1,Ada,9434765919\n"
	result, err := importer.Import(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if result.MigratedRecords != 1 {
		t.Errorf("MigratedRecords = %d, want 1", result.MigratedRecords)
	}
	if err := targetMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet target expectations: %v", err)
	}
}

func TestImport_TabDelimited(t *testing.T) {
	importer, targetMock := newImporterForTest(t, residentTableConfig(), nil, ImporterOptions{Comma: '\t'})

	targetMock.ExpectBegin()
	targetMock.ExpectExec("INSERT IGNORE INTO `resident_records`").
		WithArgs("Ada", "1", "9434765919").
		WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectCommit()

	input := "id\tfirst_name\tnhs_number\n1\tAda\t9434765919\n"
	result, err := importer.Import(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if result.MigratedRecords != 1 {
		t.Errorf("MigratedRecords = %d, want 1", result.MigratedRecords)
	}
}
