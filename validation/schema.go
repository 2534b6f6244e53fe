package validation

import (
	"fmt"
	"regexp"
	"sort"
)

// Validate checks value against schema and returns every violation found.
// A nil schema always validates successfully (no schema configured).
func Validate(schema *Schema, value any, mode Mode) Result {
	var issues []Issue
	if schema == nil {
		return Result{}
	}
	walk(schema, value, "$", mode, &issues)
	return Result{Issues: issues}
}

func walk(s *Schema, v any, path string, mode Mode, issues *[]Issue) {
	if s.Type != "" {
		if !checkType(s.Type, v) {
			*issues = append(*issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("expected type %q", s.Type),
				Expected: s.Type,
				Actual:   fmt.Sprintf("%T", v),
			})
			return // further checks against a mistyped value aren't meaningful
		}
	}

	if len(s.Enum) > 0 {
		if !inEnum(s.Enum, v) {
			*issues = append(*issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "value is not one of the allowed enum values",
				Expected: s.Enum,
				Actual:   v,
			})
		}
	}

	switch s.Type {
	case "object":
		walkObject(s, v, path, mode, issues)
	case "array":
		walkArray(s, v, path, mode, issues)
	case "string":
		walkString(s, v, path, issues)
	case "number", "integer":
		walkNumber(s, v, path, issues)
	}
}

func walkObject(s *Schema, v any, path string, mode Mode, issues *[]Issue) {
	m, ok := v.(map[string]any)
	if !ok {
		return // type mismatch already reported by checkType
	}

	for _, req := range s.Required {
		if _, present := m[req]; !present {
			*issues = append(*issues, Issue{
				Severity: SeverityError,
				Path:     path + "." + req,
				Message:  "required property is missing",
			})
		}
	}

	if s.MinProperties != nil && len(m) < *s.MinProperties {
		sev := SeverityError
		if mode == Lax {
			sev = SeverityWarning
		}
		*issues = append(*issues, Issue{
			Severity: sev,
			Path:     path,
			Message:  fmt.Sprintf("object has %d properties, expected at least %d", len(m), *s.MinProperties),
			Expected: *s.MinProperties,
			Actual:   len(m),
		})
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		val := m[k]
		if propSchema, known := s.Properties[k]; known {
			walk(propSchema, val, path+"."+k, mode, issues)
			continue
		}
		if s.AdditionalProperties != nil && !*s.AdditionalProperties {
			sev := SeverityError
			if mode == Lax {
				sev = SeverityWarning
			}
			*issues = append(*issues, Issue{
				Severity: sev,
				Path:     path + "." + k,
				Message:  "additional property not allowed by schema",
			})
		}
	}
}

func walkArray(s *Schema, v any, path string, mode Mode, issues *[]Issue) {
	arr, ok := v.([]any)
	if !ok {
		return
	}

	if s.MinItems != nil && len(arr) < *s.MinItems {
		*issues = append(*issues, Issue{
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("array has %d items, expected at least %d", len(arr), *s.MinItems),
			Expected: *s.MinItems,
			Actual:   len(arr),
		})
	}
	if s.MaxItems != nil && len(arr) > *s.MaxItems {
		*issues = append(*issues, Issue{
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("array has %d items, expected at most %d", len(arr), *s.MaxItems),
			Expected: *s.MaxItems,
			Actual:   len(arr),
		})
	}
	if s.UniqueItems {
		seen := make(map[string]bool, len(arr))
		for _, item := range arr {
			key := fmt.Sprintf("%v", item)
			if seen[key] {
				*issues = append(*issues, Issue{
					Severity: SeverityError,
					Path:     path,
					Message:  "array items must be unique",
				})
				break
			}
			seen[key] = true
		}
	}
	if s.Items != nil {
		for i, item := range arr {
			walk(s.Items, item, fmt.Sprintf("%s[%d]", path, i), mode, issues)
		}
	}
}

func walkString(s *Schema, v any, path string, issues *[]Issue) {
	str, ok := v.(string)
	if !ok {
		return
	}
	if s.MinLength != nil && len(str) < *s.MinLength {
		*issues = append(*issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf("string shorter than minLength %d", *s.MinLength)})
	}
	if s.MaxLength != nil && len(str) > *s.MaxLength {
		*issues = append(*issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf("string longer than maxLength %d", *s.MaxLength)})
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf("invalid pattern %q: %v", s.Pattern, err)})
		} else if !re.MatchString(str) {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf("string does not match pattern %q", s.Pattern)})
		}
	}
}

func walkNumber(s *Schema, v any, path string, issues *[]Issue) {
	n, ok := asFloat(v)
	if !ok {
		return
	}
	if s.Minimum != nil && n < *s.Minimum {
		*issues = append(*issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf("value %v below minimum %v", n, *s.Minimum), Expected: *s.Minimum, Actual: n})
	}
	if s.Maximum != nil && n > *s.Maximum {
		*issues = append(*issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf("value %v above maximum %v", n, *s.Maximum), Expected: *s.Maximum, Actual: n})
	}
	if s.MultipleOf != nil && *s.MultipleOf != 0 {
		q := n / *s.MultipleOf
		if q != float64(int64(q)) {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf("value %v is not a multiple of %v", n, *s.MultipleOf)})
		}
	}
}

func checkType(t string, v any) bool {
	switch t {
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "null":
		return v == nil
	case "integer":
		n, ok := asFloat(v)
		return ok && n == float64(int64(n))
	case "number":
		_, ok := asFloat(v)
		return ok
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func inEnum(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
