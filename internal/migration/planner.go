package migration

import (
	"fmt"
	"sort"
	"strings"
)

// PlanReview is the result of analyzing a plan set before running it
type PlanReview struct {
	Plans         []MigrationPlan `json:"plans"`
	TotalPhases   int             `json:"total_phases"`
	TotalServices int             `json:"total_services"`
	TotalTables   int             `json:"total_tables"`
	PIITables     int             `json:"pii_tables"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// AddWarning appends a warning to the review
func (pr *PlanReview) AddWarning(warning string) {
	pr.Warnings = append(pr.Warnings, warning)
}

// String renders the review for operator display
func (pr *PlanReview) String() string {
	var builder strings.Builder

	builder.WriteString("Migration Plan Review:\n")
	builder.WriteString(fmt.Sprintf("  Phases: %d\n", pr.TotalPhases))
	builder.WriteString(fmt.Sprintf("  Services: %d\n", pr.TotalServices))
	builder.WriteString(fmt.Sprintf("  Tables: %d (%d containing PII)\n", pr.TotalTables, pr.PIITables))

	for _, plan := range pr.Plans {
		builder.WriteString(fmt.Sprintf("  Phase %d: %s (%d tables)\n", plan.Phase, plan.ServiceName, len(plan.Tables)))
		for _, table := range plan.Tables {
			builder.WriteString(fmt.Sprintf("    %s -> %s\n", table.SourceTable, table.TargetTable))
		}
	}

	if len(pr.Warnings) > 0 {
		builder.WriteString("  Warnings:\n")
		for _, warning := range pr.Warnings {
			builder.WriteString(fmt.Sprintf("    - %s\n", warning))
		}
	}

	return builder.String()
}

// Planner analyzes migration plan sets before execution
type Planner struct{}

// NewPlanner creates a new Planner instance
func NewPlanner() *Planner {
	return &Planner{}
}

// Review validates a plan set and collects warnings an operator should see
// before running it
func (p *Planner) Review(plans []MigrationPlan) (*PlanReview, error) {
	if err := ValidatePlans(plans); err != nil {
		return nil, err
	}

	sorted := make([]MigrationPlan, len(plans))
	copy(sorted, plans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Phase != sorted[j].Phase {
			return sorted[i].Phase < sorted[j].Phase
		}
		return sorted[i].ServiceName < sorted[j].ServiceName
	})

	review := &PlanReview{
		Plans:         sorted,
		TotalServices: len(sorted),
	}

	phaseByService := make(map[string]int, len(sorted))
	for _, plan := range sorted {
		phaseByService[plan.ServiceName] = plan.Phase
	}
	targetOwners := make(map[string]string)

	for _, plan := range sorted {
		if plan.Phase > review.TotalPhases {
			review.TotalPhases = plan.Phase
		}
		review.TotalTables += len(plan.Tables)

		if plan.RollbackProcedure == "" {
			review.AddWarning(fmt.Sprintf("service %s has no rollback procedure documented", plan.ServiceName))
		}

		for _, dep := range plan.Dependencies {
			if phaseByService[dep] == plan.Phase {
				review.AddWarning(fmt.Sprintf("service %s depends on %s in the same phase; they will run concurrently",
					plan.ServiceName, dep))
			}
		}

		for _, table := range plan.Tables {
			if table.ContainsPII {
				review.PIITables++
				review.AddWarning(fmt.Sprintf("table %s contains PII; columns %s will be encrypted before write",
					table.SourceTable, strings.Join(table.PIIColumns, ", ")))
			}

			if len(table.ValidationRules) == 0 {
				review.AddWarning(fmt.Sprintf("table %s has no validation rules; records will be written unvalidated",
					table.SourceTable))
			}

			if owner, exists := targetOwners[table.TargetTable]; exists && owner != plan.ServiceName {
				review.AddWarning(fmt.Sprintf("target table %s is written by both %s and %s",
					table.TargetTable, owner, plan.ServiceName))
			} else {
				targetOwners[table.TargetTable] = plan.ServiceName
			}
		}
	}

	return review, nil
}
