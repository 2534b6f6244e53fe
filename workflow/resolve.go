package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// resolveExpr resolves one inputMapping value against a context snapshot.
// Per spec.md §3, a mapping value is "an expression string that may
// reference $input.*, $stepK.*, $context.*". This is a single variable
// reference (not the boolean grammar used by condition/riskrules), so it is
// resolved directly by walking the snapshot's three namespaces; a value with
// no leading "$" is a literal, passed through as-is (numbers are parsed so
// step executors receive typed values rather than literal strings).
func resolveExpr(expr string, input, ctxMeta, steps map[string]any) (any, error) {
	if !strings.HasPrefix(expr, "$") {
		return literal(expr), nil
	}

	path := strings.Split(expr[1:], ".")
	if len(path) == 0 || path[0] == "" {
		return nil, fmt.Errorf("workflow: empty variable reference %q", expr)
	}
	head, rest := path[0], path[1:]

	switch {
	case head == "input":
		return walk(input, rest, expr)
	case head == "context":
		return walk(ctxMeta, rest, expr)
	case head == "steps":
		if len(rest) == 0 {
			return nil, fmt.Errorf("workflow: unresolved variable %q", expr)
		}
		root, ok := steps[rest[0]]
		if !ok {
			return nil, fmt.Errorf("workflow: unresolved variable %q", expr)
		}
		return walkAny(root, rest[1:], expr)
	case isStepHead(head):
		if len(rest) == 0 {
			return nil, fmt.Errorf("workflow: unresolved variable %q", expr)
		}
		root, ok := steps[rest[0]]
		if !ok {
			return nil, fmt.Errorf("workflow: unresolved variable %q", expr)
		}
		return walkAny(root, rest[1:], expr)
	default:
		return nil, fmt.Errorf("workflow: unresolved variable %q", expr)
	}
}

func isStepHead(head string) bool {
	const prefix = "step"
	if len(head) <= len(prefix) || head[:len(prefix)] != prefix {
		return false
	}
	for _, r := range head[len(prefix):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func walk(m map[string]any, path []string, raw string) (any, error) {
	return walkAny(m, path, raw)
}

// walkAny descends a dotted path through a decoded JSON-shaped tree
// (map[string]any/[]any) using github.com/Jeffail/gabs/v2, the teacher's
// own JSON-navigation dependency (present in its go.mod but never actually
// wired into plugins/http or plugins/postgres) — its Path/Exists pair is a
// closer fit for this "segment-by-segment, fail on any missing key" walk
// than re-deriving the same traversal by hand.
func walkAny(root any, path []string, raw string) (any, error) {
	if len(path) == 0 {
		return root, nil
	}
	c := gabs.Wrap(root)
	joined := strings.Join(path, ".")
	if !c.ExistsP(joined) {
		return nil, fmt.Errorf("workflow: unresolved variable %q", raw)
	}
	return c.Path(joined).Data(), nil
}

// literal parses bare scalars (numbers/booleans) out of a non-"$" mapping
// value so step executors get typed input; anything that doesn't parse is
// passed through as a plain string.
func literal(s string) any {
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

// ResolveInputMapping resolves every entry of a step's inputMapping against
// a context snapshot, returning the fully-resolved argument map passed to
// the StepExecutor.
func ResolveInputMapping(mapping map[string]string, input, ctxMeta, steps map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(mapping))
	for name, expr := range mapping {
		v, err := resolveExpr(expr, input, ctxMeta, steps)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
