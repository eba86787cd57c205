package migration

import (
	"strings"
	"testing"
)

func TestPlanner_Review(t *testing.T) {
	planner := NewPlanner()

	plans := []MigrationPlan{
		{
			Phase:       2,
			ServiceName: "care-plan-service",
			Tables: []MigrationTableConfig{
				{
					SourceTable: "care_plans",
					TargetTable: "care_plan_records",
					ValidationRules: []ValidationRule{
						{Column: "title", Kind: RuleRequired},
					},
				},
			},
			Dependencies:      []string{"resident-service"},
			RollbackProcedure: "restore from backup",
		},
		{
			Phase:       1,
			ServiceName: "resident-service",
			Tables: []MigrationTableConfig{
				{
					SourceTable: "residents",
					TargetTable: "resident_records",
					ContainsPII: true,
					PIIColumns:  []string{"first_name", "nhs_number"},
					ValidationRules: []ValidationRule{
						{Column: "first_name", Kind: RuleRequired},
					},
				},
			},
			RollbackProcedure: "restore from backup",
		},
	}

	review, err := planner.Review(plans)
	if err != nil {
		t.Fatalf("Review() error: %v", err)
	}

	if review.TotalPhases != 2 {
		t.Errorf("TotalPhases = %d, want 2", review.TotalPhases)
	}
	if review.TotalServices != 2 {
		t.Errorf("TotalServices = %d, want 2", review.TotalServices)
	}
	if review.TotalTables != 2 {
		t.Errorf("TotalTables = %d, want 2", review.TotalTables)
	}
	if review.PIITables != 1 {
		t.Errorf("PIITables = %d, want 1", review.PIITables)
	}

	// plans come back sorted by phase
	if review.Plans[0].ServiceName != "resident-service" {
		t.Errorf("first plan = %s, want resident-service", review.Plans[0].ServiceName)
	}

	foundPII := false
	for _, warning := range review.Warnings {
		if strings.Contains(warning, "contains PII") {
			foundPII = true
		}
	}
	if !foundPII {
		t.Errorf("expected a PII warning, got %v", review.Warnings)
	}
}

func TestPlanner_Review_InvalidPlans(t *testing.T) {
	planner := NewPlanner()

	if _, err := planner.Review(nil); err == nil {
		t.Error("expected error for empty plan set")
	}

	forward := []MigrationPlan{
		{
			Phase:       1,
			ServiceName: "resident-service",
			Tables: []MigrationTableConfig{
				{SourceTable: "residents", TargetTable: "resident_records"},
			},
			Dependencies: []string{"assessment-service"},
		},
		{
			Phase:       2,
			ServiceName: "assessment-service",
			Tables: []MigrationTableConfig{
				{SourceTable: "assessments", TargetTable: "assessment_records"},
			},
		},
	}
	if _, err := planner.Review(forward); err == nil {
		t.Error("expected error for forward dependency")
	}
}

func TestPlanner_Review_Warnings(t *testing.T) {
	planner := NewPlanner()

	plans := []MigrationPlan{
		{
			Phase:       1,
			ServiceName: "resident-service",
			Tables: []MigrationTableConfig{
				{SourceTable: "residents", TargetTable: "shared_records"},
			},
		},
		{
			Phase:       1,
			ServiceName: "staff-service",
			Tables: []MigrationTableConfig{
				{SourceTable: "staff", TargetTable: "shared_records"},
			},
			Dependencies: []string{"resident-service"},
		},
	}

	review, err := planner.Review(plans)
	if err != nil {
		t.Fatalf("Review() error: %v", err)
	}

	wantParts := []string{
		"no rollback procedure",
		"same phase",
		"no validation rules",
		"written by both",
	}
	for _, part := range wantParts {
		found := false
		for _, warning := range review.Warnings {
			if strings.Contains(warning, part) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a warning containing %q, got %v", part, review.Warnings)
		}
	}
}

func TestPlanReview_String(t *testing.T) {
	review := &PlanReview{
		Plans: []MigrationPlan{
			{
				Phase:       1,
				ServiceName: "resident-service",
				Tables: []MigrationTableConfig{
					{SourceTable: "residents", TargetTable: "resident_records"},
				},
			},
		},
		TotalPhases:   1,
		TotalServices: 1,
		TotalTables:   1,
		Warnings:      []string{"something to check"},
	}

	s := review.String()
	for _, want := range []string{"Phases: 1", "resident-service", "residents -> resident_records", "something to check"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}
