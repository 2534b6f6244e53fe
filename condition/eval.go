package condition

import (
	"fmt"
	"reflect"
)

// ExtraResolver resolves a namespace head (anything other than "input",
// "context", "stepN" or "steps") into a value by walking the remaining path
// segments. Used by the risk rule engine to expose "$assessment.*".
type ExtraResolver func(path []string) (any, bool)

// Context is the read-only snapshot a condition expression is evaluated
// against. It mirrors the three top-level maps of workflow.ExecutionContext
// (§3): Input, free-form Context metadata, and per-step outputs keyed by
// outputVariable.
type Context struct {
	Input map[string]any
	Ctx   map[string]any
	Steps map[string]any
	Extra map[string]ExtraResolver
}

// Eval evaluates the compiled expression against ctx. The empty expression
// always evaluates to true.
func (e *Expression) Eval(ctx *Context) (bool, error) {
	if e.root == nil {
		return true, nil
	}
	v, err := evalExpr(e.root, ctx)
	if err != nil {
		return false, err
	}
	return v, nil
}

// Eval is a convenience one-shot parse+evaluate helper.
func Eval(source string, ctx *Context) (bool, error) {
	expr, err := Parse(source)
	if err != nil {
		return false, err
	}
	return expr.Eval(ctx)
}

func evalExpr(n expr, ctx *Context) (bool, error) {
	switch t := n.(type) {
	case orExpr:
		for _, term := range t.terms {
			v, err := evalExpr(term, ctx)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil // short-circuit
			}
		}
		return false, nil
	case andExpr:
		for _, term := range t.terms {
			v, err := evalExpr(term, ctx)
			if err != nil {
				return false, err
			}
			if !v {
				return false, nil // short-circuit
			}
		}
		return true, nil
	case notExpr:
		v, err := evalExpr(t.inner, ctx)
		if err != nil {
			return false, err
		}
		return !v, nil
	case comparison:
		return evalComparison(t, ctx)
	default:
		return false, &ParseError{Message: fmt.Sprintf("internal: unknown node %T", n)}
	}
}

func evalComparison(c comparison, ctx *Context) (bool, error) {
	left, err := resolveValue(c.left, ctx)
	if err != nil {
		return false, err
	}
	right, err := resolveValue(c.right, ctx)
	if err != nil {
		return false, err
	}

	switch c.op {
	case tokEq:
		return structuralEqual(left, right), nil
	case tokNeq:
		return !structuralEqual(left, right), nil
	case tokLt, tokGt, tokLte, tokGte:
		lf, lok := asNumber(left)
		rf, rok := asNumber(right)
		if !lok || !rok {
			return false, &TypeMismatchError{Op: opSymbol(c.op), Left: left, Right: right, Expected: "numeric"}
		}
		switch c.op {
		case tokLt:
			return lf < rf, nil
		case tokGt:
			return lf > rf, nil
		case tokLte:
			return lf <= rf, nil
		default:
			return lf >= rf, nil
		}
	case tokIn, tokNotIn:
		list, ok := right.([]any)
		if !ok {
			return false, &TypeMismatchError{Op: opSymbol(c.op), Left: left, Right: right, Expected: "list"}
		}
		found := false
		for _, item := range list {
			if structuralEqual(left, item) {
				found = true
				break
			}
		}
		if c.op == tokIn {
			return found, nil
		}
		return !found, nil
	default:
		return false, &UnsupportedOperatorError{Op: opSymbol(c.op)}
	}
}

func opSymbol(k tokenKind) string {
	switch k {
	case tokEq:
		return "=="
	case tokNeq:
		return "!="
	case tokLt:
		return "<"
	case tokGt:
		return ">"
	case tokLte:
		return "<="
	case tokGte:
		return ">="
	case tokIn:
		return "IN"
	case tokNotIn:
		return "NOT IN"
	default:
		return "?"
	}
}

func resolveValue(v valueExpr, ctx *Context) (any, error) {
	switch t := v.(type) {
	case numberNode:
		return t.val, nil
	case stringNode:
		return t.val, nil
	case boolNode:
		return t.val, nil
	case listNode:
		items := make([]any, len(t.items))
		for i, it := range t.items {
			val, err := resolveValue(it, ctx)
			if err != nil {
				return nil, err
			}
			items[i] = val
		}
		return items, nil
	case variableNode:
		return resolveVariable(t, ctx)
	default:
		return nil, &ParseError{Message: fmt.Sprintf("internal: unknown value node %T", v)}
	}
}

// resolveVariable implements §4.1's variable resolution: the head names the
// source ("input"→Input, "context"→Ctx, "stepN"/"steps"→Steps by the first
// remaining path segment, any other head→Extra[head]).
func resolveVariable(v variableNode, ctx *Context) (any, error) {
	if len(v.path) == 0 || v.path[0] == "" {
		return nil, &UnresolvedVariableError{Variable: v.raw}
	}
	head := v.path[0]
	rest := v.path[1:]

	switch {
	case head == "input":
		return walk(ctx.Input, rest, v.raw)
	case head == "context":
		return walk(ctx.Ctx, rest, v.raw)
	case head == "steps":
		if len(rest) == 0 {
			return nil, &UnresolvedVariableError{Variable: v.raw}
		}
		root, ok := ctx.Steps[rest[0]]
		if !ok {
			return nil, &UnresolvedVariableError{Variable: v.raw}
		}
		return walkAny(root, rest[1:], v.raw)
	case isStepHead(head):
		if len(rest) == 0 {
			return nil, &UnresolvedVariableError{Variable: v.raw}
		}
		root, ok := ctx.Steps[rest[0]]
		if !ok {
			return nil, &UnresolvedVariableError{Variable: v.raw}
		}
		return walkAny(root, rest[1:], v.raw)
	default:
		if ctx.Extra != nil {
			if resolver, ok := ctx.Extra[head]; ok {
				val, found := resolver(rest)
				if !found {
					return nil, &UnresolvedVariableError{Variable: v.raw}
				}
				return val, nil
			}
		}
		return nil, &UnresolvedVariableError{Variable: v.raw}
	}
}

// isStepHead matches "step" followed by one or more digits, e.g. "step1",
// "step23".
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

func walkAny(root any, path []string, raw string) (any, error) {
	cur := root
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, &UnresolvedVariableError{Variable: raw}
		}
		next, ok := m[seg]
		if !ok {
			return nil, &UnresolvedVariableError{Variable: raw}
		}
		cur = next
	}
	return cur, nil
}

func asNumber(v any) (float64, bool) {
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

// structuralEqual implements cross-type-is-always-not-equal semantics: two
// values compare equal only if they share a comparable representation
// (numbers compare by value across int/float kinds; everything else uses
// deep structural equality).
func structuralEqual(a, b any) bool {
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}
