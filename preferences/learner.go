package preferences

import (
	"sort"
	"sync"
	"time"
)

const rollingWindow = 30 * 24 * time.Hour

// Learner accumulates Corrections and synthesizes Preferences once a
// (userId, correctionType) pair recurs often enough inside the rolling
// window. It holds its own lock so RecordCorrection can be called
// concurrently from multiple response-handling goroutines.
type Learner struct {
	mu          sync.Mutex
	corrections []Correction
	preferences map[string][]Preference // userId -> preferences
}

// NewLearner constructs an empty in-memory learner.
func NewLearner() *Learner {
	return &Learner{preferences: make(map[string][]Preference)}
}

// RecordCorrection classifies and stores one AI-vs-human pair, then
// re-evaluates whether a Preference should be synthesized or refreshed for
// this (userId, type) pair. now is passed explicitly (rather than
// time.Now()) so callers control the rolling window's reference point.
func (l *Learner) RecordCorrection(userID, original, corrected string, now time.Time) Correction {
	c := Correction{
		UserID:     userID,
		Type:       Classify(original, corrected),
		Original:   original,
		Corrected:  corrected,
		RecordedAt: now,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.corrections = append(l.corrections, c)
	l.synthesizeLocked(userID, c.Type, now)
	return c
}

func (l *Learner) synthesizeLocked(userID string, ctype CorrectionType, now time.Time) {
	cutoff := now.Add(-rollingWindow)
	occurrences := 0
	for _, c := range l.corrections {
		if c.UserID == userID && c.Type == ctype && !c.RecordedAt.Before(cutoff) {
			occurrences++
		}
	}

	confidence, ok := confidenceFor(occurrences)
	if !ok {
		return
	}

	priority := priorityTable[ctype]
	existing := l.preferences[userID]
	for i, p := range existing {
		if p.Type == ctype && p.Scope == ScopeGlobal {
			existing[i].ConfidenceScore = confidence
			existing[i].Priority = priority
			return
		}
	}
	l.preferences[userID] = append(existing, Preference{
		UserID:          userID,
		Type:            ctype,
		Key:             string(ctype),
		Value:           defaultValueFor(ctype),
		ConfidenceScore: confidence,
		Priority:        priority,
		Scope:           ScopeGlobal,
		CreatedAt:       now,
	})
}

// defaultValueFor gives newly-synthesized preferences a sensible default
// rewrite directive; callers may overwrite Value with a more specific one
// (e.g. an explicit sentence-count target for length_adjustment) via
// UpsertPreference.
func defaultValueFor(ctype CorrectionType) string {
	switch ctype {
	case FormatPreference:
		return "bullets"
	case LengthAdjustment:
		return "3"
	case ToneAdjustment:
		return "casual"
	default:
		return ""
	}
}

// UpsertPreference explicitly records or replaces a preference at a given
// scope, bypassing the occurrence-count synthesis path — used when a
// preference is set directly (e.g. a user-configured setting) rather than
// mined from corrections.
func (l *Learner) UpsertPreference(p Preference) {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing := l.preferences[p.UserID]
	for i, e := range existing {
		if e.Type == p.Type && e.Scope == p.Scope && e.Key == p.Key {
			existing[i] = p
			return
		}
	}
	l.preferences[p.UserID] = append(existing, p)
}

// Preferences returns every preference recorded for userID, most-applicable
// first per the scope precedence table (task > topic > session > global;
// ties broken by higher priority, then higher confidence, then newer).
func (l *Learner) Preferences(userID string) []Preference {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Preference, len(l.preferences[userID]))
	copy(out, l.preferences[userID])
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if scopeRank[a.Scope] != scopeRank[b.Scope] {
			return scopeRank[a.Scope] > scopeRank[b.Scope]
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.ConfidenceScore != b.ConfidenceScore {
			return a.ConfidenceScore > b.ConfidenceScore
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out
}

// RecordApplication updates the usage counters for the preference identified
// by (userID, type, scope, key) after it has been applied to a response and
// the outcome (accepted vs. overridden again by the user) is known.
func (l *Learner) RecordApplication(userID string, ctype CorrectionType, scope Scope, key string, successful bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, p := range l.preferences[userID] {
		if p.Type == ctype && p.Scope == scope && p.Key == key {
			l.preferences[userID][i].TimesApplied++
			if successful {
				l.preferences[userID][i].TimesSuccessful++
			} else {
				l.preferences[userID][i].TimesOverridden++
			}
			return
		}
	}
}
