// Package depgraph builds the dependency DAG induced by a workflow's step
// references ($stepK.var) and derives the artifacts the executor and UI need
// from it: topological waves, a critical path, and pairwise parallelizability.
// Adapted line-for-line in structure from the teacher's
// cli/internal/graph/dependency.go (BuildGraph/TopologicalSort/findCycle),
// generalized from string plugin-name nodes to integer step numbers.
package depgraph

import (
	"fmt"
	"regexp"
	"sort"
)

// stepRefPattern matches $stepK.var / $stepK references inside an expression
// string (inputMapping values or a condition).
var stepRefPattern = regexp.MustCompile(`\$step(\d+)\b`)

// Graph is the dependency DAG for one workflow run. Nodes are step numbers.
type Graph struct {
	steps []int        // all step numbers, in declaration order
	deps  map[int][]int // step -> steps it depends on (referenced $stepK's)
	rdeps map[int][]int // step -> steps that depend on it
}

// RefError reports an invalid $stepK reference: self-reference, forward
// reference, or reference to a step number that doesn't exist.
type RefError struct {
	Step      int
	Reference int
	Reason    string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("step %d: invalid reference to $step%d: %s", e.Step, e.Reference, e.Reason)
}

// CycleError reports one or more cycles found in the dependency graph.
type CycleError struct {
	Cycles [][]int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency graph has %d cycle(s), first: %v", len(e.Cycles), e.Cycles[0])
}

// StepRef is the minimal view of a Step this package needs to extract
// dependencies: its number and the expression strings that may reference
// earlier steps ($stepK.var).
type StepRef struct {
	StepNumber int
	Exprs      []string // inputMapping values + condition, concatenated by the caller
}

// Build extracts $stepK references from each step's expressions and
// constructs the DAG. It validates self/forward references but does not run
// cycle detection (use DetectCycles for that, since the spec wants cycles
// reported as a distinct validation error from forward references).
func Build(steps []StepRef) (*Graph, error) {
	g := &Graph{
		deps:  make(map[int][]int),
		rdeps: make(map[int][]int),
	}

	known := make(map[int]bool, len(steps))
	for _, s := range steps {
		known[s.StepNumber] = true
		g.steps = append(g.steps, s.StepNumber)
	}

	for _, s := range steps {
		refs := extractRefs(s.Exprs)
		seen := make(map[int]bool, len(refs))
		for _, ref := range refs {
			if seen[ref] {
				continue
			}
			seen[ref] = true

			if ref == s.StepNumber {
				return nil, &RefError{Step: s.StepNumber, Reference: ref, Reason: "self-reference"}
			}
			if ref >= s.StepNumber {
				return nil, &RefError{Step: s.StepNumber, Reference: ref, Reason: "forward reference"}
			}
			if !known[ref] {
				return nil, &RefError{Step: s.StepNumber, Reference: ref, Reason: "no such step"}
			}

			g.deps[s.StepNumber] = append(g.deps[s.StepNumber], ref)
			g.rdeps[ref] = append(g.rdeps[ref], s.StepNumber)
		}
	}

	return g, nil
}

func extractRefs(exprs []string) []int {
	var refs []int
	for _, e := range exprs {
		for _, m := range stepRefPattern.FindAllStringSubmatch(e, -1) {
			n := 0
			for _, r := range m[1] {
				n = n*10 + int(r-'0')
			}
			refs = append(refs, n)
		}
	}
	return refs
}

// Waves returns topological generations sorted deterministically within each
// generation by step number: the parallel waves of spec.md §4.5. Uses Kahn's
// algorithm, as the teacher's TopologicalSort does.
func (g *Graph) Waves() ([][]int, error) {
	inDegree := make(map[int]int, len(g.steps))
	for _, s := range g.steps {
		inDegree[s] = len(g.deps[s])
	}

	remaining := len(g.steps)
	var waves [][]int

	for remaining > 0 {
		var wave []int
		for _, s := range g.steps {
			if inDegree[s] == 0 {
				wave = append(wave, s)
			}
		}
		if len(wave) == 0 {
			cycles := g.findCycles()
			return nil, &CycleError{Cycles: cycles}
		}
		sort.Ints(wave)
		waves = append(waves, wave)

		for _, s := range wave {
			inDegree[s] = -1 // mark consumed, never re-selected
			remaining--
		}
		for _, s := range wave {
			for _, dependent := range g.rdeps[s] {
				if inDegree[dependent] > 0 {
					inDegree[dependent]--
				}
			}
		}
	}

	return waves, nil
}

// DetectCycles runs DFS-based cycle detection independent of Waves, so
// validation can report "cycle detected" distinctly from a successful wave
// computation.
func (g *Graph) DetectCycles() [][]int {
	return g.findCycles()
}

// findCycles uses DFS with a recursion stack, mirroring the teacher's
// findCycle, generalized to collect every cycle reachable from an unvisited
// node rather than stopping at the first.
func (g *Graph) findCycles() [][]int {
	visited := make(map[int]bool)
	inStack := make(map[int]bool)
	parent := make(map[int]int)
	var cycles [][]int

	var dfs func(node int)
	dfs = func(node int) {
		visited[node] = true
		inStack[node] = true

		for _, dep := range g.deps[node] {
			if !visited[dep] {
				parent[dep] = node
				dfs(dep)
			} else if inStack[dep] {
				cycle := []int{dep}
				cur := node
				for cur != dep {
					cycle = append([]int{cur}, cycle...)
					cur = parent[cur]
				}
				cycle = append(cycle, dep)
				cycles = append(cycles, cycle)
			}
		}

		inStack[node] = false
	}

	for _, s := range g.steps {
		if !visited[s] {
			dfs(s)
		}
	}

	return cycles
}

// CriticalPath returns the longest root-to-leaf path by node count (for UI
// and estimation only, per spec.md §4.5).
func (g *Graph) CriticalPath() []int {
	memo := make(map[int][]int)

	var longest func(node int) []int
	longest = func(node int) []int {
		if p, ok := memo[node]; ok {
			return p
		}
		best := []int{}
		for _, dependent := range g.rdeps[node] {
			p := longest(dependent)
			if len(p) > len(best) {
				best = p
			}
		}
		path := append([]int{node}, best...)
		memo[node] = path
		return path
	}

	var best []int
	roots := g.roots()
	for _, r := range roots {
		p := longest(r)
		if len(p) > len(best) {
			best = p
		}
	}
	return best
}

// roots returns steps with no dependencies, in ascending order.
func (g *Graph) roots() []int {
	var roots []int
	for _, s := range g.steps {
		if len(g.deps[s]) == 0 {
			roots = append(roots, s)
		}
	}
	sort.Ints(roots)
	return roots
}

// ParallelizationFactor is 1 - criticalPathLength/totalSteps.
func (g *Graph) ParallelizationFactor() float64 {
	total := len(g.steps)
	if total == 0 {
		return 0
	}
	cp := len(g.CriticalPath())
	return 1 - float64(cp)/float64(total)
}

// CanExecuteInParallel reports whether there is no directed path between a
// and b in either direction.
func (g *Graph) CanExecuteInParallel(a, b int) bool {
	if a == b {
		return false
	}
	return !g.hasPath(a, b) && !g.hasPath(b, a)
}

// hasPath reports whether from depends (transitively) on to, i.e. whether
// there is a directed path to -> ... -> from in the dependency direction
// (from's predecessors reach to).
func (g *Graph) hasPath(from, to int) bool {
	visited := make(map[int]bool)
	var dfs func(n int) bool
	dfs = func(n int) bool {
		if n == to {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		for _, dep := range g.deps[n] {
			if dfs(dep) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// Steps returns all step numbers in the graph, ascending.
func (g *Graph) Steps() []int {
	out := make([]int, len(g.steps))
	copy(out, g.steps)
	sort.Ints(out)
	return out
}

// Predecessors returns the steps that s directly depends on.
func (g *Graph) Predecessors(s int) []int { return append([]int(nil), g.deps[s]...) }

// Successors returns the steps that directly depend on s.
func (g *Graph) Successors(s int) []int { return append([]int(nil), g.rdeps[s]...) }

// ValidateNumbering checks spec.md §3's contiguous-numbering invariant:
// stepNumbers form 1..N with no gaps or duplicates.
func ValidateNumbering(stepNumbers []int) error {
	seen := make(map[int]bool, len(stepNumbers))
	for _, n := range stepNumbers {
		if seen[n] {
			return fmt.Errorf("depgraph: duplicate step number %d", n)
		}
		seen[n] = true
	}
	for i := 1; i <= len(stepNumbers); i++ {
		if !seen[i] {
			return fmt.Errorf("depgraph: missing step number %d (steps must be contiguous 1..N)", i)
		}
	}
	return nil
}
