package migration

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Transforms are pure functions applied per record. Named transforms are
// registered here so plan files can reference them by name; plans defined in
// code may attach functions directly.

var (
	transformMu sync.RWMutex
	transforms  = map[string]TransformFunc{
		"trim":                 transformTrim,
		"uppercase":            transformUppercase,
		"lowercase":            transformLowercase,
		"title_case":           transformTitleCase,
		"normalize_date":       transformNormalizeDate,
		"normalize_phone":      transformNormalizePhone,
		"normalize_nhs_number": transformNormalizeNHSNumber,
		"empty_to_null":        transformEmptyToNull,
	}
)

// RegisterTransform adds a named transform. Registering an existing name
// replaces it.
func RegisterTransform(name string, fn TransformFunc) {
	transformMu.Lock()
	defer transformMu.Unlock()
	transforms[name] = fn
}

// LookupTransform resolves a named transform
func LookupTransform(name string) (TransformFunc, bool) {
	transformMu.RLock()
	defer transformMu.RUnlock()
	fn, ok := transforms[name]
	return fn, ok
}

// ResolveTransforms binds TransformRef names to functions after a plan is
// loaded from a file. Rules that already carry a function are left alone.
func ResolveTransforms(config *MigrationTableConfig) error {
	for i := range config.TransformationRules {
		rule := &config.TransformationRules[i]
		if rule.Transform != nil || rule.TransformRef == "" {
			continue
		}
		fn, ok := LookupTransform(rule.TransformRef)
		if !ok {
			return fmt.Errorf("table %s: unknown transform %q for column %s",
				config.SourceTable, rule.TransformRef, rule.SourceColumn)
		}
		rule.Transform = fn
	}
	return nil
}

// ApplyTransformations maps a source record to a target record by applying
// every rule in order. A required rule whose source value is null or missing
// fails the record. A transform returning an error also fails the record.
func ApplyTransformations(record Record, rules []TransformationRule) (Record, error) {
	target := make(Record, len(rules))

	for i := range rules {
		rule := &rules[i]
		value, present := record[rule.SourceColumn]
		if !present || value == nil {
			if rule.Required {
				return nil, fmt.Errorf("required column %s is missing", rule.SourceColumn)
			}
			continue
		}

		if rule.Transform != nil {
			transformed, err := rule.Transform(value, record)
			if err != nil {
				return nil, fmt.Errorf("transform failed for column %s: %w", rule.SourceColumn, err)
			}
			value = transformed
		}

		target[rule.TargetColumn] = value
	}

	return target, nil
}

// stringValue coerces a field value to a string at the boundary. The MySQL
// driver returns text columns as []byte.
func stringValue(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

func transformTrim(value interface{}, _ Record) (interface{}, error) {
	s, ok := stringValue(value)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	return strings.TrimSpace(s), nil
}

func transformUppercase(value interface{}, _ Record) (interface{}, error) {
	s, ok := stringValue(value)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	return strings.ToUpper(strings.TrimSpace(s)), nil
}

func transformLowercase(value interface{}, _ Record) (interface{}, error) {
	s, ok := stringValue(value)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	return strings.ToLower(strings.TrimSpace(s)), nil
}

// transformTitleCase capitalizes the first letter of each space- or
// hyphen-separated part. Covers compound surnames.
func transformTitleCase(value interface{}, _ Record) (interface{}, error) {
	s, ok := stringValue(value)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}

	var builder strings.Builder
	upperNext := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if upperNext && r >= 'a' && r <= 'z' {
			builder.WriteRune(r - 32)
		} else {
			builder.WriteRune(r)
		}
		upperNext = r == ' ' || r == '-' || r == '\''
	}
	return builder.String(), nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
}

// transformNormalizeDate parses common UK date layouts and renders ISO 8601
func transformNormalizeDate(value interface{}, _ Record) (interface{}, error) {
	if t, ok := value.(time.Time); ok {
		return t.Format("2006-01-02"), nil
	}

	s, ok := stringValue(value)
	if !ok {
		return nil, fmt.Errorf("expected date string, got %T", value)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty date")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

// transformNormalizePhone strips separators and rewrites the +44 country
// prefix to the domestic 0 form
func transformNormalizePhone(value interface{}, _ Record) (interface{}, error) {
	s, ok := stringValue(value)
	if !ok {
		return nil, fmt.Errorf("expected phone string, got %T", value)
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	switch {
	case strings.HasPrefix(cleaned, "+44"):
		cleaned = "0" + cleaned[3:]
	case strings.HasPrefix(cleaned, "0044"):
		cleaned = "0" + cleaned[4:]
	}
	return cleaned, nil
}

// transformNormalizeNHSNumber strips spaces and dashes from the common
// "943 476 5919" formatting. Validation is a separate rule.
func transformNormalizeNHSNumber(value interface{}, _ Record) (interface{}, error) {
	s, ok := stringValue(value)
	if !ok {
		return nil, fmt.Errorf("expected NHS number string, got %T", value)
	}
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s)), nil
}

func transformEmptyToNull(value interface{}, _ Record) (interface{}, error) {
	s, ok := stringValue(value)
	if !ok {
		return value, nil
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return s, nil
}
