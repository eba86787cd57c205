package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBackup(t *testing.T) {
	ObserveBackup("obs-residents", "full", true, 2*time.Second, 4096)
	ObserveBackup("obs-residents", "full", false, time.Second, 0)

	if got := testutil.ToFloat64(BackupCount.WithLabelValues("obs-residents", "full", "completed")); got != 1 {
		t.Errorf("completed count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BackupCount.WithLabelValues("obs-residents", "full", "failed")); got != 1 {
		t.Errorf("failed count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BackupSize.WithLabelValues("obs-residents", "full")); got != 4096 {
		t.Errorf("size gauge = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(LastBackupTimestamp.WithLabelValues("obs-residents", "full")); got == 0 {
		t.Error("last backup timestamp should be set after a success")
	}
}

func TestObserveBackup_FailureLeavesGauges(t *testing.T) {
	ObserveBackup("obs-staff", "incremental", false, time.Second, 0)

	if got := testutil.ToFloat64(BackupSize.WithLabelValues("obs-staff", "incremental")); got != 0 {
		t.Errorf("failed backup should not set the size gauge, got %v", got)
	}
	if got := testutil.ToFloat64(LastBackupTimestamp.WithLabelValues("obs-staff", "incremental")); got != 0 {
		t.Errorf("failed backup should not advance the timestamp, got %v", got)
	}
}

func TestObserveRestore(t *testing.T) {
	ObserveRestore("obs-medications", "completed", 3*time.Second)
	ObserveRestore("obs-medications", "rolled_back", time.Second)

	if got := testutil.ToFloat64(RestoreCount.WithLabelValues("obs-medications", "completed")); got != 1 {
		t.Errorf("completed restores = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RestoreCount.WithLabelValues("obs-medications", "rolled_back")); got != 1 {
		t.Errorf("rolled back restores = %v, want 1", got)
	}
}

func TestObserveVerification(t *testing.T) {
	ObserveVerification("obs-documents", true)
	ObserveVerification("obs-documents", true)
	ObserveVerification("obs-documents", false)

	if got := testutil.ToFloat64(VerificationCount.WithLabelValues("obs-documents", "passed")); got != 2 {
		t.Errorf("passed verifications = %v, want 2", got)
	}
	if got := testutil.ToFloat64(VerificationCount.WithLabelValues("obs-documents", "failed")); got != 1 {
		t.Errorf("failed verifications = %v, want 1", got)
	}
}

func TestObserveSweep(t *testing.T) {
	deletesBefore := testutil.ToFloat64(RetentionDeletes)
	freedBefore := testutil.ToFloat64(RetentionBytesFreed)

	ObserveSweep(3, 2048)

	if got := testutil.ToFloat64(RetentionDeletes) - deletesBefore; got != 3 {
		t.Errorf("deletions delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(RetentionBytesFreed) - freedBefore; got != 2048 {
		t.Errorf("bytes freed delta = %v, want 2048", got)
	}
}

func TestObserveMigrationTable(t *testing.T) {
	ObserveMigrationTable("obs-resident-service", "residents", 998, 2, 3*time.Second)

	if got := testutil.ToFloat64(MigrationRecords.WithLabelValues("obs-resident-service", "residents", "migrated")); got != 998 {
		t.Errorf("migrated records = %v, want 998", got)
	}
	if got := testutil.ToFloat64(MigrationRecords.WithLabelValues("obs-resident-service", "residents", "failed")); got != 2 {
		t.Errorf("failed records = %v, want 2", got)
	}
}

func TestStorageGauges(t *testing.T) {
	SetStorageUsage("obs-careplans", 4, 1<<20)

	if got := testutil.ToFloat64(StorageBackups.WithLabelValues("obs-careplans")); got != 4 {
		t.Errorf("storage backups = %v, want 4", got)
	}
	if got := testutil.ToFloat64(StorageBytes.WithLabelValues("obs-careplans")); got != 1<<20 {
		t.Errorf("storage bytes = %v, want %d", got, 1<<20)
	}

	SetStorageHealth(false)
	if got := testutil.ToFloat64(StorageHealthy); got != 0 {
		t.Errorf("health gauge = %v, want 0", got)
	}
	SetStorageHealth(true)
	if got := testutil.ToFloat64(StorageHealthy); got != 1 {
		t.Errorf("health gauge = %v, want 1", got)
	}
}

func TestServer_Endpoints(t *testing.T) {
	ObserveMigrationRun("completed")

	server := NewServer(":0", nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{
		"care_migrate_migration_runs_total",
		"care_migrate_retention_deletions_total",
		"care_migrate_storage_healthy",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %s", want)
		}
	}

	health, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", health.StatusCode)
	}
	healthBody, _ := io.ReadAll(health.Body)
	if string(healthBody) != "OK" {
		t.Errorf("/health body = %q", healthBody)
	}
}
