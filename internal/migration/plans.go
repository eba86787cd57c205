package migration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlanFile is the on-disk shape of a migration plan set
type PlanFile struct {
	Plans []MigrationPlan `yaml:"plans"`
}

// LoadPlansFromFile reads a YAML plan file, binds named transforms and
// validators, and validates the resulting plan set
func LoadPlansFromFile(path string) ([]MigrationPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}
	return ParsePlans(data)
}

// ParsePlans parses a YAML plan document
func ParsePlans(data []byte) ([]MigrationPlan, error) {
	var file PlanFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}

	for i := range file.Plans {
		for j := range file.Plans[i].Tables {
			table := &file.Plans[i].Tables[j]
			if err := ResolveTransforms(table); err != nil {
				return nil, err
			}
			if err := ResolveValidators(table); err != nil {
				return nil, err
			}
		}
	}

	if err := ValidatePlans(file.Plans); err != nil {
		return nil, err
	}
	return file.Plans, nil
}

func rule(source, target, transformName string, required bool) TransformationRule {
	r := TransformationRule{
		SourceColumn: source,
		TargetColumn: target,
		TransformRef: transformName,
		Required:     required,
	}
	if transformName != "" {
		r.Transform, _ = LookupTransform(transformName)
	}
	return r
}

// DefaultCarePlans returns the standard three phase plan set for moving the
// legacy care records store into per-service databases: people first, then
// clinical data referencing them, then assessments and documents.
func DefaultCarePlans() []MigrationPlan {
	return []MigrationPlan{
		{
			Phase:       1,
			ServiceName: "resident-service",
			Tables: []MigrationTableConfig{
				{
					SourceTable: "residents",
					TargetTable: "resident_records",
					TransformationRules: []TransformationRule{
						rule("id", "id", "", true),
						rule("first_name", "first_name", "title_case", true),
						rule("last_name", "last_name", "title_case", true),
						rule("nhs_number", "nhs_number", "normalize_nhs_number", false),
						rule("date_of_birth", "date_of_birth", "normalize_date", true),
						rule("room_number", "room_number", "trim", false),
						rule("admitted_at", "admitted_at", "normalize_date", false),
					},
					ValidationRules: []ValidationRule{
						{Column: "first_name", Kind: RuleRequired},
						{Column: "last_name", Kind: RuleRequired},
						{Column: "nhs_number", Kind: RuleNHSNumber, ErrorMessage: "invalid NHS number"},
						{Column: "date_of_birth", Kind: RuleDate},
					},
					ContainsPII:    true,
					PIIColumns:     []string{"first_name", "last_name", "nhs_number", "date_of_birth"},
					RetentionYears: 8,
				},
				{
					SourceTable: "resident_contacts",
					TargetTable: "resident_contact_records",
					TransformationRules: []TransformationRule{
						rule("id", "id", "", true),
						rule("resident_id", "resident_id", "", true),
						rule("name", "name", "title_case", true),
						rule("relationship", "relationship", "lowercase", false),
						rule("phone", "phone", "normalize_phone", false),
						rule("email", "email", "lowercase", false),
					},
					ValidationRules: []ValidationRule{
						{Column: "name", Kind: RuleRequired},
						{Column: "phone", Kind: RulePhone},
						{Column: "email", Kind: RuleEmail},
					},
					ContainsPII:    true,
					PIIColumns:     []string{"name", "phone", "email"},
					RetentionYears: 8,
				},
			},
			RollbackProcedure: "restore resident-service from the latest verified backup",
		},
		{
			Phase:       1,
			ServiceName: "staff-service",
			Tables: []MigrationTableConfig{
				{
					SourceTable: "staff",
					TargetTable: "staff_records",
					TransformationRules: []TransformationRule{
						rule("id", "id", "", true),
						rule("first_name", "first_name", "title_case", true),
						rule("last_name", "last_name", "title_case", true),
						rule("role", "role", "lowercase", true),
						rule("email", "email", "lowercase", false),
						rule("phone", "phone", "normalize_phone", false),
					},
					ValidationRules: []ValidationRule{
						{Column: "first_name", Kind: RuleRequired},
						{Column: "last_name", Kind: RuleRequired},
						{Column: "role", Kind: RuleRequired},
						{Column: "email", Kind: RuleEmail},
						{Column: "phone", Kind: RulePhone},
					},
					ContainsPII:    true,
					PIIColumns:     []string{"first_name", "last_name", "email", "phone"},
					RetentionYears: 6,
				},
			},
			RollbackProcedure: "restore staff-service from the latest verified backup",
		},
		{
			Phase:       2,
			ServiceName: "care-plan-service",
			Tables: []MigrationTableConfig{
				{
					SourceTable: "care_plans",
					TargetTable: "care_plan_records",
					TransformationRules: []TransformationRule{
						rule("id", "id", "", true),
						rule("resident_id", "resident_id", "", true),
						rule("title", "title", "trim", true),
						rule("care_level", "care_level", "lowercase", true),
						rule("review_date", "review_date", "normalize_date", false),
						rule("notes", "notes", "empty_to_null", false),
					},
					ValidationRules: []ValidationRule{
						{Column: "resident_id", Kind: RuleRequired},
						{Column: "title", Kind: RuleRequired},
						{Column: "review_date", Kind: RuleDate},
					},
					RetentionYears: 8,
				},
			},
			Dependencies:      []string{"resident-service"},
			RollbackProcedure: "restore care-plan-service from the latest verified backup",
		},
		{
			Phase:       2,
			ServiceName: "medication-service",
			Tables: []MigrationTableConfig{
				{
					SourceTable: "medications",
					TargetTable: "medication_records",
					TransformationRules: []TransformationRule{
						rule("id", "id", "", true),
						rule("name", "name", "trim", true),
						rule("dosage", "dosage", "trim", false),
						rule("route", "route", "lowercase", false),
					},
					ValidationRules: []ValidationRule{
						{Column: "name", Kind: RuleRequired},
					},
					RetentionYears: 8,
				},
				{
					SourceTable: "resident_medications",
					TargetTable: "medication_schedule_records",
					TransformationRules: []TransformationRule{
						rule("id", "id", "", true),
						rule("resident_id", "resident_id", "", true),
						rule("medication_id", "medication_id", "", true),
						rule("start_date", "start_date", "normalize_date", true),
						rule("end_date", "end_date", "normalize_date", false),
						rule("frequency", "frequency", "lowercase", false),
					},
					ValidationRules: []ValidationRule{
						{Column: "resident_id", Kind: RuleRequired},
						{Column: "medication_id", Kind: RuleRequired},
						{Column: "start_date", Kind: RuleDate},
						{Column: "end_date", Kind: RuleDate},
					},
					RetentionYears: 8,
				},
			},
			Dependencies:      []string{"resident-service"},
			RollbackProcedure: "restore medication-service from the latest verified backup",
		},
		{
			Phase:       3,
			ServiceName: "assessment-service",
			Tables: []MigrationTableConfig{
				{
					SourceTable: "assessments",
					TargetTable: "assessment_records",
					TransformationRules: []TransformationRule{
						rule("id", "id", "", true),
						rule("resident_id", "resident_id", "", true),
						rule("assessor_id", "assessor_id", "", false),
						rule("assessment_type", "assessment_type", "lowercase", true),
						rule("assessed_at", "assessed_at", "normalize_date", true),
						rule("score", "score", "", false),
						rule("summary", "summary", "empty_to_null", false),
					},
					ValidationRules: []ValidationRule{
						{Column: "resident_id", Kind: RuleRequired},
						{Column: "assessment_type", Kind: RuleRequired},
						{Column: "assessed_at", Kind: RuleDate},
					},
					RetentionYears: 8,
				},
			},
			Dependencies:      []string{"resident-service", "staff-service"},
			RollbackProcedure: "restore assessment-service from the latest verified backup",
		},
		{
			Phase:       3,
			ServiceName: "document-service",
			Tables: []MigrationTableConfig{
				{
					SourceTable: "documents",
					TargetTable: "document_records",
					TransformationRules: []TransformationRule{
						rule("id", "id", "", true),
						rule("resident_id", "resident_id", "", false),
						rule("title", "title", "trim", true),
						rule("document_type", "document_type", "lowercase", false),
						rule("uploaded_at", "uploaded_at", "normalize_date", false),
						rule("storage_path", "storage_path", "trim", true),
					},
					ValidationRules: []ValidationRule{
						{Column: "title", Kind: RuleRequired},
						{Column: "storage_path", Kind: RuleRequired},
					},
					RetentionYears: 6,
				},
			},
			Dependencies:      []string{"resident-service"},
			RollbackProcedure: "restore document-service from the latest verified backup",
		},
	}
}
