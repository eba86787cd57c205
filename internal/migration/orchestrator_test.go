package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"care-migrate/internal/audit"
	"care-migrate/internal/database"

	"github.com/DATA-DOG/go-sqlmock"
)

type recordingBackupHook struct {
	pipelineIDs []string
	err         error
}

func (h *recordingBackupHook) CreateBackup(_ context.Context, pipelineID string) error {
	h.pipelineIDs = append(h.pipelineIDs, pipelineID)
	return h.err
}

func simpleTable(sourceTable, targetTable, valueColumn string) MigrationTableConfig {
	return MigrationTableConfig{
		SourceTable: sourceTable,
		TargetTable: targetTable,
		TransformationRules: []TransformationRule{
			{SourceColumn: "id", TargetColumn: "id", Required: true},
			{SourceColumn: valueColumn, TargetColumn: valueColumn, Transform: transformTrim},
		},
	}
}

// expectTableRead wires the source-side expectations for one table: row
// count, primary key lookup, and the single batch read.
func expectTableRead(mock sqlmock.Sqlmock, table, valueColumn string, id int64, value string) {
	mock.ExpectQuery(fmt.Sprintf("SELECT COUNT\\(\\*\\) FROM `%s`", table)).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	mock.ExpectQuery("SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.STATISTICS").
		WithArgs("care_records", table).
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	mock.ExpectQuery(fmt.Sprintf("SELECT \\* FROM `%s` ORDER BY `id` ASC LIMIT \\? OFFSET \\?", table)).
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", valueColumn}).AddRow(id, value))
}

func expectTableWrite(mock sqlmock.Sqlmock, targetTable, valueColumn string, id int64, value string) {
	mock.ExpectBegin()
	mock.ExpectExec(fmt.Sprintf("INSERT IGNORE INTO `%s`", targetTable)).
		WithArgs(id, value).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestOrchestratorRun_MultiPhase(t *testing.T) {
	source, sourceMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create source mock: %v", err)
	}
	defer source.Close()
	// phase 1 services hit the source concurrently
	sourceMock.MatchExpectationsInOrder(false)

	targets := make(map[string]*sql.DB)
	targetMocks := make(map[string]sqlmock.Sqlmock)
	for _, service := range []string{"resident-service", "staff-service", "care-plan-service"} {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create target mock for %s: %v", service, err)
		}
		defer db.Close()
		targets[service] = db
		targetMocks[service] = mock
	}

	expectTableRead(sourceMock, "residents", "first_name", 1, "Ada")
	expectTableRead(sourceMock, "staff", "full_name", 7, "Nia")
	expectTableRead(sourceMock, "care_plans", "summary", 3, "daily checks")

	expectTableWrite(targetMocks["resident-service"], "resident_records", "first_name", 1, "Ada")
	expectTableWrite(targetMocks["staff-service"], "staff_records", "full_name", 7, "Nia")
	expectTableWrite(targetMocks["care-plan-service"], "care_plan_records", "summary", 3, "daily checks")

	plans := []MigrationPlan{
		{Phase: 1, ServiceName: "resident-service", Tables: []MigrationTableConfig{simpleTable("residents", "resident_records", "first_name")}},
		{Phase: 1, ServiceName: "staff-service", Tables: []MigrationTableConfig{simpleTable("staff", "staff_records", "full_name")}},
		{Phase: 2, ServiceName: "care-plan-service", Dependencies: []string{"resident-service"},
			Tables: []MigrationTableConfig{simpleTable("care_plans", "care_plan_records", "summary")}},
	}

	recorder := audit.NewMemoryRecorder()
	orchestrator := NewOrchestrator(
		database.NewConnectionManagerWithConnections(source, targets),
		nil, recorder, nil,
		OrchestratorOptions{PipelineID: "pipeline-001", SourceSchema: "care_records"})

	results, err := orchestrator.Run(context.Background(), plans)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for _, result := range results {
		if result.Status != StatusCompleted {
			t.Errorf("%s/%s status = %q, want completed", result.ServiceName, result.TableName, result.Status)
		}
	}

	snapshot := orchestrator.Progress()
	if snapshot.Status != RunStatusCompleted {
		t.Errorf("progress status = %q, want completed", snapshot.Status)
	}
	if snapshot.CompletedTables != 3 || snapshot.MigratedRecords != 3 {
		t.Errorf("progress counters = %d tables / %d records, want 3 / 3", snapshot.CompletedTables, snapshot.MigratedRecords)
	}
	if snapshot.CurrentPhase != 2 {
		t.Errorf("CurrentPhase = %d, want 2", snapshot.CurrentPhase)
	}

	for _, eventType := range []string{
		audit.EventMigrationStarted,
		audit.PhaseProgressEvent(1),
		audit.PhaseProgressEvent(2),
		audit.EventMigrationCompleted,
	} {
		if got := len(recorder.EventsOfType(eventType)); got != 1 {
			t.Errorf("events of type %s = %d, want 1", eventType, got)
		}
	}
	if got := len(recorder.EventsOfType(audit.EventTableCompleted)); got != 3 {
		t.Errorf("table events = %d, want 3", got)
	}

	completed := recorder.EventsOfType(audit.EventMigrationCompleted)[0]
	if completed.PipelineID != "pipeline-001" {
		t.Errorf("PipelineID = %q", completed.PipelineID)
	}
	if completed.Details["migrated_records"] != int64(3) {
		t.Errorf("migrated_records = %v", completed.Details["migrated_records"])
	}

	for service, mock := range targetMocks {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations for %s: %v", service, err)
		}
	}
	if err := sourceMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet source expectations: %v", err)
	}
}

func TestOrchestratorRun_SlowServiceJoinsBeforeNextPhase(t *testing.T) {
	source, sourceMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create source mock: %v", err)
	}
	defer source.Close()
	sourceMock.MatchExpectationsInOrder(false)

	targets := make(map[string]*sql.DB)
	targetMocks := make(map[string]sqlmock.Sqlmock)
	for _, service := range []string{"resident-service", "staff-service", "care-plan-service"} {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create target mock for %s: %v", service, err)
		}
		defer db.Close()
		targets[service] = db
		targetMocks[service] = mock
	}

	expectTableRead(sourceMock, "residents", "first_name", 1, "Ada")
	expectTableRead(sourceMock, "care_plans", "summary", 3, "daily checks")

	// staff-service stalls on its row count while the rest of phase 1
	// finishes quickly
	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `staff`").
		WillDelayFor(75 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery("SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.STATISTICS").
		WithArgs("care_records", "staff").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	sourceMock.ExpectQuery("SELECT \\* FROM `staff` ORDER BY `id` ASC LIMIT \\? OFFSET \\?").
		WithArgs(int64(1000), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name"}).AddRow(7, "Nia"))

	expectTableWrite(targetMocks["resident-service"], "resident_records", "first_name", 1, "Ada")
	expectTableWrite(targetMocks["staff-service"], "staff_records", "full_name", 7, "Nia")
	expectTableWrite(targetMocks["care-plan-service"], "care_plan_records", "summary", 3, "daily checks")

	plans := []MigrationPlan{
		{Phase: 1, ServiceName: "resident-service", Tables: []MigrationTableConfig{simpleTable("residents", "resident_records", "first_name")}},
		{Phase: 1, ServiceName: "staff-service", Tables: []MigrationTableConfig{simpleTable("staff", "staff_records", "full_name")}},
		{Phase: 2, ServiceName: "care-plan-service", Dependencies: []string{"staff-service"},
			Tables: []MigrationTableConfig{simpleTable("care_plans", "care_plan_records", "summary")}},
	}

	recorder := audit.NewMemoryRecorder()
	orchestrator := NewOrchestrator(
		database.NewConnectionManagerWithConnections(source, targets),
		nil, recorder, nil,
		OrchestratorOptions{PipelineID: "pipeline-001", SourceSchema: "care_records"})

	results, err := orchestrator.Run(context.Background(), plans)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}

	events := recorder.Events()
	indexOf := func(match func(audit.Event) bool) int {
		for i, ev := range events {
			if match(ev) {
				return i
			}
		}
		return -1
	}
	slowTableIdx := indexOf(func(ev audit.Event) bool {
		return ev.Type == audit.EventTableCompleted && ev.Details["service"] == "staff-service"
	})
	phaseOneIdx := indexOf(func(ev audit.Event) bool {
		return ev.Type == audit.PhaseProgressEvent(1)
	})
	phaseTwoTableIdx := indexOf(func(ev audit.Event) bool {
		return ev.Type == audit.EventTableCompleted && ev.Details["service"] == "care-plan-service"
	})

	if slowTableIdx == -1 || phaseOneIdx == -1 || phaseTwoTableIdx == -1 {
		t.Fatalf("expected events missing: slow=%d phase1=%d phase2=%d", slowTableIdx, phaseOneIdx, phaseTwoTableIdx)
	}
	if slowTableIdx > phaseOneIdx {
		t.Error("phase 1 should not report progress before the slow service finishes")
	}
	if phaseTwoTableIdx < phaseOneIdx {
		t.Error("phase 2 must not start before phase 1 joins")
	}

	if err := sourceMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet source expectations: %v", err)
	}
}

func TestOrchestratorRun_ServiceFailurePreservesResults(t *testing.T) {
	source, sourceMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create source mock: %v", err)
	}
	defer source.Close()

	target, targetMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create target mock: %v", err)
	}
	defer target.Close()

	expectTableRead(sourceMock, "residents", "first_name", 1, "Ada")
	expectTableWrite(targetMock, "resident_records", "first_name", 1, "Ada")
	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `resident_contacts`").
		WillReturnError(fmt.Errorf("table is locked"))

	plans := []MigrationPlan{
		{Phase: 1, ServiceName: "resident-service", Tables: []MigrationTableConfig{
			simpleTable("residents", "resident_records", "first_name"),
			simpleTable("resident_contacts", "resident_contact_records", "name"),
		}},
	}

	recorder := audit.NewMemoryRecorder()
	orchestrator := NewOrchestrator(
		database.NewConnectionManagerWithConnections(source, map[string]*sql.DB{"resident-service": target}),
		nil, recorder, nil,
		OrchestratorOptions{SourceSchema: "care_records"})

	results, err := orchestrator.Run(context.Background(), plans)
	if err == nil {
		t.Fatal("expected run failure")
	}
	if !strings.Contains(err.Error(), "phase 1 failed") {
		t.Errorf("error = %v, want phase failure", err)
	}
	if !strings.Contains(err.Error(), "resident-service") {
		t.Errorf("error should name the failed service, got %v", err)
	}

	// the first table's result survives alongside the failed one
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Status != StatusCompleted {
		t.Errorf("first result status = %q, want completed", results[0].Status)
	}
	if results[1].Status != StatusFailed {
		t.Errorf("second result status = %q, want failed", results[1].Status)
	}

	if snapshot := orchestrator.Progress(); snapshot.Status != RunStatusFailed {
		t.Errorf("progress status = %q, want failed", snapshot.Status)
	}
	if got := len(recorder.EventsOfType(audit.EventMigrationFailed)); got != 1 {
		t.Errorf("failure events = %d, want 1", got)
	}
}

func TestOrchestratorRun_InvalidPlanSet(t *testing.T) {
	recorder := audit.NewMemoryRecorder()
	orchestrator := NewOrchestrator(
		database.NewConnectionManagerWithConnections(nil, nil),
		nil, recorder, nil, OrchestratorOptions{})

	plans := []MigrationPlan{
		{Phase: 1, ServiceName: "resident-service", Tables: []MigrationTableConfig{simpleTable("residents", "resident_records", "first_name")}},
		{Phase: 1, ServiceName: "resident-service", Tables: []MigrationTableConfig{simpleTable("staff", "staff_records", "full_name")}},
	}

	if _, err := orchestrator.Run(context.Background(), plans); err == nil || !strings.Contains(err.Error(), "invalid plan set") {
		t.Fatalf("expected plan validation error, got %v", err)
	}
	if got := len(recorder.Events()); got != 0 {
		t.Errorf("no events expected before a valid run, got %d", got)
	}
}

func TestOrchestratorRun_BackupHookFailureAborts(t *testing.T) {
	source, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create source mock: %v", err)
	}
	defer source.Close()

	recorder := audit.NewMemoryRecorder()
	orchestrator := NewOrchestrator(
		database.NewConnectionManagerWithConnections(source, nil),
		nil, recorder, nil,
		OrchestratorOptions{PipelineID: "pipeline-002", BackupBeforeRun: true})
	hook := &recordingBackupHook{err: fmt.Errorf("storage unreachable")}
	orchestrator.SetBackupHook(hook)

	plans := []MigrationPlan{
		{Phase: 1, ServiceName: "resident-service", Tables: []MigrationTableConfig{simpleTable("residents", "resident_records", "first_name")}},
	}

	_, err = orchestrator.Run(context.Background(), plans)
	if err == nil || !strings.Contains(err.Error(), "pre-migration backup failed") {
		t.Fatalf("expected backup failure, got %v", err)
	}
	if len(hook.pipelineIDs) != 1 || hook.pipelineIDs[0] != "pipeline-002" {
		t.Errorf("hook calls = %v", hook.pipelineIDs)
	}
	if got := len(recorder.EventsOfType(audit.EventMigrationFailed)); got != 1 {
		t.Errorf("failure events = %d, want 1", got)
	}
	if got := len(recorder.EventsOfType(audit.EventTableCompleted)); got != 0 {
		t.Errorf("no table should run after a failed backup, got %d events", got)
	}
}

func TestOrchestratorRun_BackupHookRunsFirst(t *testing.T) {
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

	sourceMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `residents`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))

	orchestrator := NewOrchestrator(
		database.NewConnectionManagerWithConnections(source, map[string]*sql.DB{"resident-service": target}),
		nil, nil, nil,
		OrchestratorOptions{PipelineID: "pipeline-003", SourceSchema: "care_records", BackupBeforeRun: true})
	hook := &recordingBackupHook{}
	orchestrator.SetBackupHook(hook)

	plans := []MigrationPlan{
		{Phase: 1, ServiceName: "resident-service", Tables: []MigrationTableConfig{simpleTable("residents", "resident_records", "first_name")}},
	}

	if _, err := orchestrator.Run(context.Background(), plans); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(hook.pipelineIDs) != 1 {
		t.Errorf("hook calls = %d, want 1", len(hook.pipelineIDs))
	}
}

func TestOrchestratorRun_MissingTargetConnection(t *testing.T) {
	source, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create source mock: %v", err)
	}
	defer source.Close()

	orchestrator := NewOrchestrator(
		database.NewConnectionManagerWithConnections(source, nil),
		nil, nil, nil, OrchestratorOptions{SourceSchema: "care_records"})

	plans := []MigrationPlan{
		{Phase: 1, ServiceName: "resident-service", Tables: []MigrationTableConfig{simpleTable("residents", "resident_records", "first_name")}},
	}

	_, err = orchestrator.Run(context.Background(), plans)
	if err == nil || !strings.Contains(err.Error(), "no target database connection") {
		t.Fatalf("expected missing target error, got %v", err)
	}
}

func TestOrchestratorProgress_BeforeRun(t *testing.T) {
	orchestrator := NewOrchestrator(
		database.NewConnectionManagerWithConnections(nil, nil),
		nil, nil, nil, OrchestratorOptions{})

	snapshot := orchestrator.Progress()
	if snapshot.TotalTables != 0 || snapshot.Status != "" {
		t.Errorf("expected zero snapshot before a run, got %+v", snapshot)
	}
}

func TestGroupByPhase(t *testing.T) {
	plans := []MigrationPlan{
		{Phase: 1, ServiceName: "a"},
		{Phase: 3, ServiceName: "b"},
		{Phase: 1, ServiceName: "c"},
	}

	grouped := groupByPhase(plans)
	if len(grouped[1]) != 2 {
		t.Errorf("phase 1 plans = %d, want 2", len(grouped[1]))
	}
	if len(grouped[2]) != 0 {
		t.Errorf("phase 2 plans = %d, want 0", len(grouped[2]))
	}
	if len(grouped[3]) != 1 || grouped[3][0].ServiceName != "b" {
		t.Errorf("phase 3 plans = %v", grouped[3])
	}
}
