package audit

import "fmt"

const (
	maxStringBytes = 10 * 1024
	maxDepth       = 5
)

// Sanitize applies spec.md §3's audit-context invariants: binary payloads
// replaced by size markers, strings over 10KB truncated, nesting capped at
// depth 5. Used on every context snapshot before a Sink write.
func Sanitize(v any) any {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if depth >= maxDepth {
		return "<max-depth-exceeded>"
	}
	switch t := v.(type) {
	case []byte:
		return fmt.Sprintf("<binary %d bytes>", len(t))
	case string:
		if len(t) > maxStringBytes {
			return t[:maxStringBytes] + fmt.Sprintf("...<truncated, %d bytes total>", len(t))
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = sanitize(child, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = sanitize(child, depth+1)
		}
		return out
	default:
		return t
	}
}

// SanitizeMap is a convenience wrapper for the common map[string]any case
// (context snapshots), returning a map rather than an `any`.
func SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	s, _ := Sanitize(m).(map[string]any)
	return s
}
