package depgraph

import (
	"reflect"
	"testing"
)

func refs(n int, exprs ...string) StepRef {
	return StepRef{StepNumber: n, Exprs: exprs}
}

func TestBuild_NoDependencies(t *testing.T) {
	g, err := Build([]StepRef{refs(1), refs(2)})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Steps()) != 2 {
		t.Errorf("expected 2 steps, got %d", len(g.Steps()))
	}
}

func TestBuild_ForwardReference(t *testing.T) {
	_, err := Build([]StepRef{
		refs(1, "$step2.x"),
		refs(2),
	})
	var refErr *RefError
	if err == nil {
		t.Fatal("expected forward reference error")
	}
	if !asRefError(err, &refErr) || refErr.Reason != "forward reference" {
		t.Errorf("expected forward reference error, got %v", err)
	}
}

func TestBuild_SelfReference(t *testing.T) {
	_, err := Build([]StepRef{refs(1, "$step1.x")})
	var refErr *RefError
	if !asRefError(err, &refErr) || refErr.Reason != "self-reference" {
		t.Errorf("expected self-reference error, got %v", err)
	}
}

func TestBuild_KnownStepListedOutOfOrder(t *testing.T) {
	_, err := Build([]StepRef{refs(2, "$step1.x"), refs(1)})
	// step 1 exists but comes after step 2 in the list passed to Build — Build
	// treats "known" as "appears anywhere in the slice", so this should
	// succeed: ordering validation is a separate concern (ValidateNumbering).
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func asRefError(err error, target **RefError) bool {
	re, ok := err.(*RefError)
	if ok {
		*target = re
	}
	return ok
}

// Scenario 1 from spec.md §8: 4 steps, step 3 references $step1.x, step 4
// references $step2.y and $step3.z -> waves [[1,2],[3],[4]].
func TestWaves_Scenario1(t *testing.T) {
	g, err := Build([]StepRef{
		refs(1),
		refs(2),
		refs(3, "$step1.x"),
		refs(4, "$step2.y", "$step3.z"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	waves, err := g.Waves()
	if err != nil {
		t.Fatalf("Waves failed: %v", err)
	}
	want := [][]int{{1, 2}, {3}, {4}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("waves = %v, want %v", waves, want)
	}
}

func TestWaves_Cycle(t *testing.T) {
	// Can't express a true cycle through the forward-reference-rejecting
	// Build API directly (every $stepK reference must point backward), so
	// the two-step cycle here is built by hand as a Graph literal.
	g := &Graph{
		steps: []int{1, 2},
		deps:  map[int][]int{1: {2}, 2: {1}},
		rdeps: map[int][]int{1: {2}, 2: {1}},
	}
	_, err := g.Waves()
	var cycleErr *CycleError
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if ce, ok := err.(*CycleError); ok {
		cycleErr = ce
	}
	if cycleErr == nil || len(cycleErr.Cycles) == 0 {
		t.Errorf("expected a reported cycle, got %v", err)
	}
}

func TestCanExecuteInParallel(t *testing.T) {
	g, _ := Build([]StepRef{
		refs(1),
		refs(2),
		refs(3, "$step1.x"),
	})
	if !g.CanExecuteInParallel(1, 2) {
		t.Error("1 and 2 should be parallelizable (no edge either way)")
	}
	if g.CanExecuteInParallel(1, 3) {
		t.Error("1 and 3 should not be parallelizable (3 depends on 1)")
	}
}

func TestCriticalPathAndParallelizationFactor_SingleStep(t *testing.T) {
	g, _ := Build([]StepRef{refs(1)})
	if len(g.CriticalPath()) != 1 {
		t.Errorf("expected critical path length 1, got %d", len(g.CriticalPath()))
	}
	if g.ParallelizationFactor() != 0 {
		t.Errorf("expected parallelizationFactor 0 for a single step, got %f", g.ParallelizationFactor())
	}
}

func TestValidateNumbering(t *testing.T) {
	if err := ValidateNumbering([]int{1, 2, 3}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateNumbering([]int{1, 1, 2}); err == nil {
		t.Error("expected duplicate error")
	}
	if err := ValidateNumbering([]int{1, 3}); err == nil {
		t.Error("expected gap error")
	}
}
