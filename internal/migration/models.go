package migration

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MigrationStatus represents the outcome of a table migration
type MigrationStatus string

const (
	StatusCompleted MigrationStatus = "completed"
	StatusFailed    MigrationStatus = "failed"
	StatusPartial   MigrationStatus = "partial"
)

// ValidationMode controls how validation failures are treated per record
type ValidationMode string

const (
	// ValidationStrict skips records that fail validation and counts them as failed
	ValidationStrict ValidationMode = "strict"
	// ValidationLenient writes records that fail validation and records a warning
	ValidationLenient ValidationMode = "lenient"
)

// Record is one row of source data keyed by column name
type Record map[string]interface{}

// TransformFunc maps a single source value to a target value. The full record
// is available for transforms that derive one column from another.
type TransformFunc func(value interface{}, record Record) (interface{}, error)

// TransformationRule maps one source column to one target column
type TransformationRule struct {
	SourceColumn string        `yaml:"source_column" json:"source_column"`
	TargetColumn string        `yaml:"target_column" json:"target_column"`
	Transform    TransformFunc `yaml:"-" json:"-"`
	TransformRef string        `yaml:"transform,omitempty" json:"transform,omitempty"`
	Required     bool          `yaml:"required" json:"required"`
}

// RuleKind discriminates validation rule variants
type RuleKind string

const (
	RuleRequired  RuleKind = "required"
	RuleNHSNumber RuleKind = "nhs_number"
	RuleDate      RuleKind = "date"
	RuleEmail     RuleKind = "email"
	RulePhone     RuleKind = "phone"
	RuleCustom    RuleKind = "custom"
)

// ValidateFunc reports whether a field value passes a custom rule
type ValidateFunc func(value interface{}, record Record) bool

// ValidationRule classifies one target column's value as valid or invalid
type ValidationRule struct {
	Column       string       `yaml:"column" json:"column"`
	Kind         RuleKind     `yaml:"kind" json:"kind"`
	Validator    ValidateFunc `yaml:"-" json:"-"`
	ValidatorRef string       `yaml:"validator,omitempty" json:"validator,omitempty"`
	ErrorMessage string       `yaml:"error_message,omitempty" json:"error_message,omitempty"`
}

// MigrationTableConfig describes how one logical table migrates.
// Created at plan-definition time and immutable during a run.
type MigrationTableConfig struct {
	SourceTable         string               `yaml:"source_table" json:"source_table"`
	TargetTable         string               `yaml:"target_table" json:"target_table"`
	TransformationRules []TransformationRule `yaml:"transformation_rules" json:"transformation_rules"`
	ValidationRules     []ValidationRule     `yaml:"validation_rules" json:"validation_rules"`
	ContainsPII         bool                 `yaml:"contains_pii" json:"contains_pii"`
	PIIColumns          []string             `yaml:"pii_columns,omitempty" json:"pii_columns,omitempty"`
	RetentionYears      int                  `yaml:"retention_years" json:"retention_years"`
}

// Validate checks the table config for definition errors
func (tc *MigrationTableConfig) Validate() error {
	if tc.SourceTable == "" {
		return fmt.Errorf("source table is required")
	}
	if tc.TargetTable == "" {
		return fmt.Errorf("target table is required")
	}
	for i, rule := range tc.TransformationRules {
		if rule.SourceColumn == "" || rule.TargetColumn == "" {
			return fmt.Errorf("transformation rule %d for table %s must name source and target columns", i, tc.SourceTable)
		}
	}
	for i, rule := range tc.ValidationRules {
		if rule.Column == "" {
			return fmt.Errorf("validation rule %d for table %s must name a column", i, tc.SourceTable)
		}
		if !rule.Kind.IsValid() {
			return fmt.Errorf("validation rule %d for table %s has unknown kind %q", i, tc.SourceTable, rule.Kind)
		}
		if rule.Kind == RuleCustom && rule.Validator == nil && rule.ValidatorRef == "" {
			return fmt.Errorf("custom validation rule %d for table %s needs a validator", i, tc.SourceTable)
		}
	}
	if tc.ContainsPII && len(tc.PIIColumns) == 0 {
		return fmt.Errorf("table %s is marked as containing PII but names no PII columns", tc.TargetTable)
	}
	return nil
}

// IsValid reports whether the rule kind is one of the known variants
func (k RuleKind) IsValid() bool {
	switch k {
	case RuleRequired, RuleNHSNumber, RuleDate, RuleEmail, RulePhone, RuleCustom:
		return true
	}
	return false
}

// MigrationPlan describes one service's tables within a numbered phase
type MigrationPlan struct {
	Phase             int                    `yaml:"phase" json:"phase"`
	ServiceName       string                 `yaml:"service_name" json:"service_name"`
	Tables            []MigrationTableConfig `yaml:"tables" json:"tables"`
	Dependencies      []string               `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	RollbackProcedure string                 `yaml:"rollback_procedure,omitempty" json:"rollback_procedure,omitempty"`
}

// Validate checks a single plan in isolation
func (p *MigrationPlan) Validate() error {
	if p.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if p.Phase < 1 {
		return fmt.Errorf("service %s: phase must be >= 1", p.ServiceName)
	}
	if len(p.Tables) == 0 {
		return fmt.Errorf("service %s: at least one table is required", p.ServiceName)
	}
	for _, table := range p.Tables {
		if err := table.Validate(); err != nil {
			return fmt.Errorf("service %s: %w", p.ServiceName, err)
		}
	}
	return nil
}

// ValidatePlans checks a full plan set: per-plan validity, unique service
// names, and the no-forward-dependency invariant (a dependency must belong to
// a phase numbered at or before the dependent plan's phase).
func ValidatePlans(plans []MigrationPlan) error {
	if len(plans) == 0 {
		return fmt.Errorf("at least one migration plan is required")
	}

	phaseByService := make(map[string]int, len(plans))
	for i := range plans {
		plan := &plans[i]
		if err := plan.Validate(); err != nil {
			return err
		}
		if _, exists := phaseByService[plan.ServiceName]; exists {
			return fmt.Errorf("duplicate service name %q in plan set", plan.ServiceName)
		}
		phaseByService[plan.ServiceName] = plan.Phase
	}

	for i := range plans {
		plan := &plans[i]
		for _, dep := range plan.Dependencies {
			depPhase, exists := phaseByService[dep]
			if !exists {
				return fmt.Errorf("service %s depends on unknown service %q", plan.ServiceName, dep)
			}
			if depPhase > plan.Phase {
				return fmt.Errorf("service %s (phase %d) depends on %s (phase %d): dependencies cannot point forward",
					plan.ServiceName, plan.Phase, dep, depPhase)
			}
		}
	}

	return nil
}

// MigrationResult is the per-table outcome. Finalized when the table
// migration ends and immutable afterward.
type MigrationResult struct {
	ServiceName      string          `json:"service_name"`
	TableName        string          `json:"table_name"`
	TotalRecords     int64           `json:"total_records"`
	MigratedRecords  int64           `json:"migrated_records"`
	FailedRecords    int64           `json:"failed_records"`
	ValidationErrors []string        `json:"validation_errors,omitempty"`
	Duration         time.Duration   `json:"duration"`
	Status           MigrationStatus `json:"status"`
}

// String renders the result on one line for logs and summaries
func (r *MigrationResult) String() string {
	return fmt.Sprintf("%s/%s: %s (%d/%d migrated, %d failed, %s)",
		r.ServiceName, r.TableName, r.Status, r.MigratedRecords, r.TotalRecords, r.FailedRecords, r.Duration.Round(time.Millisecond))
}

// RunStatus describes a whole migration run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// MigrationProgress tracks counters for a run. The orchestrator driving the
// run owns it; increments are synchronized because services within a phase
// run concurrently. Observers read copies via Snapshot.
type MigrationProgress struct {
	mu sync.Mutex

	totalPhases     int
	currentPhase    int
	totalTables     int
	completedTables int
	totalRecords    int64
	migratedRecords int64
	startTime       time.Time
	status          RunStatus
}

// ProgressSnapshot is a point-in-time copy of the run counters
type ProgressSnapshot struct {
	TotalPhases         int           `json:"total_phases"`
	CurrentPhase        int           `json:"current_phase"`
	TotalTables         int           `json:"total_tables"`
	CompletedTables     int           `json:"completed_tables"`
	TotalRecords        int64         `json:"total_records"`
	MigratedRecords     int64         `json:"migrated_records"`
	StartTime           time.Time     `json:"start_time"`
	Elapsed             time.Duration `json:"elapsed"`
	EstimatedCompletion time.Time     `json:"estimated_completion,omitempty"`
	Status              RunStatus     `json:"status"`
}

// NewMigrationProgress creates progress state for a run over the given plans
func NewMigrationProgress(plans []MigrationPlan) *MigrationProgress {
	totalPhases := 0
	totalTables := 0
	for i := range plans {
		if plans[i].Phase > totalPhases {
			totalPhases = plans[i].Phase
		}
		totalTables += len(plans[i].Tables)
	}

	return &MigrationProgress{
		totalPhases: totalPhases,
		totalTables: totalTables,
		startTime:   time.Now(),
		status:      RunStatusRunning,
	}
}

// EnterPhase records the currently executing phase
func (p *MigrationProgress) EnterPhase(phase int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentPhase = phase
}

// TableCompleted increments the completed-table counter
func (p *MigrationProgress) TableCompleted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completedTables++
}

// AddRecords accumulates per-table record counts into the run totals
func (p *MigrationProgress) AddRecords(total, migrated int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalRecords += total
	p.migratedRecords += migrated
}

// Finish marks the run's terminal status
func (p *MigrationProgress) Finish(status RunStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// Snapshot returns a copy of the counters. The estimated completion time is
// extrapolated from table throughput so far.
func (p *MigrationProgress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := ProgressSnapshot{
		TotalPhases:     p.totalPhases,
		CurrentPhase:    p.currentPhase,
		TotalTables:     p.totalTables,
		CompletedTables: p.completedTables,
		TotalRecords:    p.totalRecords,
		MigratedRecords: p.migratedRecords,
		StartTime:       p.startTime,
		Elapsed:         time.Since(p.startTime),
		Status:          p.status,
	}

	if p.completedTables > 0 && p.completedTables < p.totalTables {
		perTable := snap.Elapsed / time.Duration(p.completedTables)
		remaining := time.Duration(p.totalTables-p.completedTables) * perTable
		snap.EstimatedCompletion = time.Now().Add(remaining)
	}

	return snap
}

// RunSummary aggregates the results of a whole run
type RunSummary struct {
	Status          RunStatus         `json:"status"`
	Results         []MigrationResult `json:"results"`
	TotalRecords    int64             `json:"total_records"`
	MigratedRecords int64             `json:"migrated_records"`
	FailedRecords   int64             `json:"failed_records"`
	Duration        time.Duration     `json:"duration"`
}

// Summarize folds a result list into run totals
func Summarize(status RunStatus, results []MigrationResult, duration time.Duration) RunSummary {
	summary := RunSummary{
		Status:   status,
		Results:  results,
		Duration: duration,
	}
	for i := range results {
		summary.TotalRecords += results[i].TotalRecords
		summary.MigratedRecords += results[i].MigratedRecords
		summary.FailedRecords += results[i].FailedRecords
	}
	return summary
}

// String renders a multi-line run summary
func (s RunSummary) String() string {
	var builder strings.Builder

	builder.WriteString("Migration Run Summary:\n")
	builder.WriteString(fmt.Sprintf("  Status: %s\n", s.Status))
	builder.WriteString(fmt.Sprintf("  Tables: %d\n", len(s.Results)))
	builder.WriteString(fmt.Sprintf("  Records: %d total, %d migrated, %d failed\n",
		s.TotalRecords, s.MigratedRecords, s.FailedRecords))
	builder.WriteString(fmt.Sprintf("  Duration: %s\n", s.Duration.Round(time.Millisecond)))

	for i := range s.Results {
		builder.WriteString(fmt.Sprintf("  - %s\n", s.Results[i].String()))
	}

	return builder.String()
}
