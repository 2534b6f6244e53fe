// Package preferences implements the Correction & Preference learners
// (component L): classifying human edits to AI-generated output into a
// fixed correction taxonomy, mining a per-user Preference once the same
// correction type recurs often enough in a rolling window, and applying the
// learned preferences back onto future responses via deterministic
// rewrites. Grounded on itsneelabh-gomind/resilience/retry.go's
// DefaultErrorClassifier (a short-circuiting chain of predicate checks,
// first match wins) for the correction classifier, and
// orchestration/hitl_policy.go's rule-then-decide shape for how a
// Preference's scope precedence resolves at lookup time.
package preferences

import "time"

// CorrectionType is the fixed taxonomy a human edit is classified into
// (spec.md §4.12).
type CorrectionType string

const (
	FormatPreference CorrectionType = "format_preference"
	LengthAdjustment CorrectionType = "length_adjustment"
	ToneAdjustment   CorrectionType = "tone_adjustment"
	ContentAddition  CorrectionType = "content_addition"
	ContentRemoval   CorrectionType = "content_removal"
	FactualError     CorrectionType = "factual_error"
)

// Scope is a Preference's applicability level; lookup precedence is
// task > topic > session > global (spec.md §3).
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeSession Scope = "session"
	ScopeTopic   Scope = "topic"
	ScopeTask    Scope = "task"
)

var scopeRank = map[Scope]int{
	ScopeGlobal:  0,
	ScopeSession: 1,
	ScopeTopic:   2,
	ScopeTask:    3,
}

// priorityTable is the fixed per-type default priority (spec.md §4.12).
var priorityTable = map[CorrectionType]int{
	FormatPreference: 70,
	LengthAdjustment: 65,
	ToneAdjustment:   60,
	ContentAddition:  50,
	ContentRemoval:   50,
	FactualError:      40,
}

// Correction is one recorded AI-vs-human output pair.
type Correction struct {
	UserID     string
	Type       CorrectionType
	Original   string
	Corrected  string
	RecordedAt time.Time
}

// Preference is a learned user-level rewriting rule (spec.md §3).
type Preference struct {
	UserID          string
	Type            CorrectionType
	Key             string
	Value           string
	ConfidenceScore float64
	Priority        int
	Scope           Scope
	TimesApplied    int
	TimesSuccessful int
	TimesOverridden int
	CreatedAt       time.Time
}

// confidenceFor maps an occurrence count to the fixed confidence steps
// (spec.md §4.12: 0.6/0.8/0.9 at thresholds 3/5/10).
func confidenceFor(occurrences int) (float64, bool) {
	switch {
	case occurrences >= 10:
		return 0.9, true
	case occurrences >= 5:
		return 0.8, true
	case occurrences >= 3:
		return 0.6, true
	default:
		return 0, false
	}
}
