package migration

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	validatorMu      sync.RWMutex
	customValidators = map[string]ValidateFunc{}

	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^(\+44|0)\d{9,10}$`)
)

// RegisterValidator adds a named custom validator for plan files to
// reference
func RegisterValidator(name string, fn ValidateFunc) {
	validatorMu.Lock()
	defer validatorMu.Unlock()
	customValidators[name] = fn
}

// LookupValidator resolves a named custom validator
func LookupValidator(name string) (ValidateFunc, bool) {
	validatorMu.RLock()
	defer validatorMu.RUnlock()
	fn, ok := customValidators[name]
	return fn, ok
}

// ResolveValidators binds ValidatorRef names to functions after a plan is
// loaded from a file
func ResolveValidators(config *MigrationTableConfig) error {
	for i := range config.ValidationRules {
		rule := &config.ValidationRules[i]
		if rule.Kind != RuleCustom || rule.Validator != nil {
			continue
		}
		fn, ok := LookupValidator(rule.ValidatorRef)
		if !ok {
			return fmt.Errorf("table %s: unknown validator %q for column %s",
				config.SourceTable, rule.ValidatorRef, rule.Column)
		}
		rule.Validator = fn
	}
	return nil
}

// ValidateRecord runs every rule against the record and returns the failure
// messages. An empty slice means the record passed.
func ValidateRecord(record Record, rules []ValidationRule) []string {
	var failures []string

	for i := range rules {
		rule := &rules[i]
		value := record[rule.Column]

		if passesRule(rule, value, record) {
			continue
		}

		message := rule.ErrorMessage
		if message == "" {
			message = fmt.Sprintf("column %s failed %s validation", rule.Column, rule.Kind)
		}
		failures = append(failures, message)
	}

	return failures
}

func passesRule(rule *ValidationRule, value interface{}, record Record) bool {
	switch rule.Kind {
	case RuleRequired:
		return hasValue(value)
	case RuleNHSNumber:
		// optional unless paired with a required rule
		if !hasValue(value) {
			return true
		}
		s, ok := stringValue(value)
		return ok && ValidNHSNumber(s)
	case RuleDate:
		if !hasValue(value) {
			return true
		}
		return validDate(value)
	case RuleEmail:
		if !hasValue(value) {
			return true
		}
		s, ok := stringValue(value)
		return ok && emailPattern.MatchString(strings.TrimSpace(s))
	case RulePhone:
		if !hasValue(value) {
			return true
		}
		s, ok := stringValue(value)
		return ok && phonePattern.MatchString(strings.TrimSpace(s))
	case RuleCustom:
		if rule.Validator == nil {
			return false
		}
		return rule.Validator(value, record)
	}
	return false
}

func hasValue(value interface{}) bool {
	if value == nil {
		return false
	}
	if s, ok := stringValue(value); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func validDate(value interface{}) bool {
	if _, ok := value.(time.Time); ok {
		return true
	}
	s, ok := stringValue(value)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// ValidNHSNumber checks a 10-digit NHS number with the modulus 11 algorithm:
// multiply digit i (0-indexed, first 9 digits) by (10-i), sum, take mod 11,
// expected check digit is 11 minus the remainder with 11 mapped to 0. A
// computed check of 10 never matches a real digit, so such numbers are
// invalid.
func ValidNHSNumber(number string) bool {
	if len(number) != 10 {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		digit := int(number[i] - '0')
		if digit < 0 || digit > 9 {
			return false
		}
		sum += digit * (10 - i)
	}

	check := int(number[9] - '0')
	if check < 0 || check > 9 {
		return false
	}

	expected := 11 - sum%11
	if expected == 11 {
		expected = 0
	}
	return expected == check
}
