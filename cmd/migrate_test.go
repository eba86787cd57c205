package cmd

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"care-migrate/internal/migration"
)

const planReviewFixture = `plans:
  - phase: 1
    service_name: resident-service
    rollback_procedure: restore the pre-migration backup
    tables:
      - source_table: residents
        target_table: residents
        transformation_rules:
          - source_column: id
            target_column: id
          - source_column: nhs_no
            target_column: nhs_number
        validation_rules:
          - column: nhs_number
            kind: nhs_number
  - phase: 2
    service_name: medication-service
    dependencies: [resident-service]
    rollback_procedure: restore the pre-migration backup
    tables:
      - source_table: medication_rounds
        target_table: rounds
        validation_rules:
          - column: resident_id
            kind: required
`

func TestMigratePlanJSON(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plans.yaml")
	if err := os.WriteFile(planPath, []byte(planReviewFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("migration:\n  pipeline_id: care-records\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cfgFile, outputFormat, migratePlanFile = "", "table", ""
		rootCmd.SetArgs(nil)
	})

	output := captureStdout(t, func() {
		rootCmd.SetArgs([]string{"migrate", "plan", "--config", configPath, "--plan-file", planPath, "--format", "json"})
		if err := rootCmd.Execute(); err != nil {
			t.Errorf("migrate plan: %v", err)
		}
	})

	var review migration.PlanReview
	if err := json.Unmarshal([]byte(output), &review); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if review.TotalPhases != 2 || review.TotalServices != 2 || review.TotalTables != 2 {
		t.Errorf("review totals = %d phases, %d services, %d tables",
			review.TotalPhases, review.TotalServices, review.TotalTables)
	}
	if len(review.Plans) != 2 || review.Plans[0].ServiceName != "resident-service" {
		t.Errorf("plans should come back sorted by phase, got %+v", review.Plans)
	}
	if review.PIITables != 0 {
		t.Errorf("PII tables = %d, want none", review.PIITables)
	}
}

// captureStdout swaps os.Stdout for a pipe around fn. The display writer
// binds to os.Stdout when the configuration loads inside fn, so the swap
// must happen first.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
