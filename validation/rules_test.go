package validation

import (
	"testing"

	"github.com/sflowg-labs/deliverable-workflows/condition"
)

func TestApplyRangeCheck(t *testing.T) {
	rules := []CustomRule{
		{Kind: RangeCheck, Path: "risk.score", Min: ptr(0.0), Max: ptr(1.0)},
	}
	ok := map[string]any{"risk": map[string]any{"score": 0.5}}
	if res := ApplyCustomRules(rules, ok, nil); !res.Valid() {
		t.Fatalf("expected in-range value to pass, got %+v", res.Issues)
	}

	bad := map[string]any{"risk": map[string]any{"score": 1.5}}
	if res := ApplyCustomRules(rules, bad, nil); res.Valid() {
		t.Fatal("expected out-of-range value to fail")
	}
}

func TestApplyDependency(t *testing.T) {
	rules := []CustomRule{
		{Kind: Dependency, If: "wantsShipping", Requires: "shippingAddress"},
	}
	missing := map[string]any{"wantsShipping": true}
	if res := ApplyCustomRules(rules, missing, nil); res.Valid() {
		t.Fatal("expected missing dependency to fail")
	}

	present := map[string]any{"wantsShipping": true, "shippingAddress": "123 Main St"}
	if res := ApplyCustomRules(rules, present, nil); !res.Valid() {
		t.Fatalf("expected satisfied dependency to pass, got %+v", res.Issues)
	}

	notTriggered := map[string]any{"wantsShipping": false}
	if res := ApplyCustomRules(rules, notTriggered, nil); !res.Valid() {
		t.Fatal("expected dependency rule to be skipped when 'if' is falsy")
	}
}

func TestApplyExpression(t *testing.T) {
	rules := []CustomRule{
		{Kind: Expression, Expr: `$input.score >= 0.5`},
	}
	ctx := &condition.Context{Input: map[string]any{"score": 0.75}}
	if res := ApplyCustomRules(rules, nil, ctx); !res.Valid() {
		t.Fatalf("expected expression to pass, got %+v", res.Issues)
	}

	ctx2 := &condition.Context{Input: map[string]any{"score": 0.1}}
	if res := ApplyCustomRules(rules, nil, ctx2); res.Valid() {
		t.Fatal("expected expression to fail for low score")
	}
}

func TestApplyExpressionEvalErrorBecomesIssueNotPanic(t *testing.T) {
	rules := []CustomRule{
		{Kind: Expression, Expr: `$input.missing == 1`},
	}
	ctx := &condition.Context{Input: map[string]any{}}
	res := ApplyCustomRules(rules, nil, ctx)
	if res.Valid() {
		t.Fatal("expected unresolved variable to surface as a validation issue")
	}
}
