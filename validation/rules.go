package validation

import (
	"fmt"
	"strings"

	"github.com/sflowg-labs/deliverable-workflows/condition"
)

// ApplyCustomRules runs the three named custom-rule kinds against value
// (expected to be a map[string]any) after schema validation has already run.
func ApplyCustomRules(rules []CustomRule, value any, evalCtx *condition.Context) Result {
	var issues []Issue
	root, _ := value.(map[string]any)

	for _, r := range rules {
		switch r.Kind {
		case RangeCheck:
			issues = append(issues, applyRangeCheck(r, root)...)
		case Dependency:
			issues = append(issues, applyDependency(r, root)...)
		case Expression:
			issues = append(issues, applyExpression(r, evalCtx)...)
		}
	}
	return Result{Issues: issues}
}

func ruleSeverity(r CustomRule) Severity {
	if r.Severity != "" {
		return r.Severity
	}
	return SeverityError
}

func applyRangeCheck(r CustomRule, root map[string]any) []Issue {
	v, ok := lookupPath(root, r.Path)
	if !ok {
		return nil
	}
	n, ok := asFloat(v)
	if !ok {
		return []Issue{{Severity: ruleSeverity(r), Path: r.Path, Message: "range_check target is not numeric"}}
	}
	if r.Min != nil && n < *r.Min {
		return []Issue{{Severity: ruleSeverity(r), Path: r.Path, Message: rangeMessage(r, "below minimum"), Expected: *r.Min, Actual: n}}
	}
	if r.Max != nil && n > *r.Max {
		return []Issue{{Severity: ruleSeverity(r), Path: r.Path, Message: rangeMessage(r, "above maximum"), Expected: *r.Max, Actual: n}}
	}
	return nil
}

func rangeMessage(r CustomRule, fallback string) string {
	if r.Message != "" {
		return r.Message
	}
	return fallback
}

func applyDependency(r CustomRule, root map[string]any) []Issue {
	ifVal, ifPresent := lookupPath(root, r.If)
	if !ifPresent || isZeroish(ifVal) {
		return nil
	}
	if _, present := lookupPath(root, r.Requires); !present {
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("%q requires %q to be present", r.If, r.Requires)
		}
		return []Issue{{Severity: ruleSeverity(r), Path: r.Requires, Message: msg}}
	}
	return nil
}

func applyExpression(r CustomRule, evalCtx *condition.Context) []Issue {
	if evalCtx == nil {
		return nil
	}
	ok, err := condition.Eval(r.Expr, evalCtx)
	if err != nil {
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("expression rule failed to evaluate: %v", err)
		}
		return []Issue{{Severity: ruleSeverity(r), Path: r.Expr, Message: msg}}
	}
	if !ok {
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("expression %q evaluated to false", r.Expr)
		}
		return []Issue{{Severity: ruleSeverity(r), Path: r.Expr, Message: msg}}
	}
	return nil
}

// lookupPath walks a dot-separated path (e.g. "address.zip") through nested
// map[string]any values.
func lookupPath(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segs := strings.Split(path, ".")
	var cur any = root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func isZeroish(v any) bool {
	switch t := v.(type) {
	case bool:
		return !t
	case nil:
		return true
	case string:
		return t == ""
	default:
		n, ok := asFloat(v)
		return ok && n == 0
	}
}
