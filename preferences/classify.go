package preferences

import (
	"regexp"
	"strings"
)

var bulletPrefix = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+`)

// contractionPairs is the documented formal/casual pair list both the
// classifier's tone-shift counter and ApplyToResponse's rewrite step share,
// so "what gets detected" and "what gets rewritten" never drift apart.
var contractionPairs = [][2]string{
	{"do not", "don't"},
	{"does not", "doesn't"},
	{"cannot", "can't"},
	{"will not", "won't"},
	{"it is", "it's"},
	{"is not", "isn't"},
	{"are not", "aren't"},
	{"i am", "i'm"},
	{"you are", "you're"},
	{"they are", "they're"},
	{"we are", "we're"},
	{"have not", "haven't"},
	{"would not", "wouldn't"},
	{"should not", "shouldn't"},
	{"let us", "let's"},
}

func countContractions(s string) int {
	lower := strings.ToLower(s)
	n := 0
	for _, pair := range contractionPairs {
		n += strings.Count(lower, pair[1])
	}
	return n
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// Classify assigns a CorrectionType to an (original, corrected) output pair
// (spec.md §4.12): detect presence of bullet/number prefixes on either side
// first (structural edits dominate); then word-count ratio
// (<0.8 shortened, >1.2 lengthened); then a contraction-count shift signals
// a tone change; anything left over is treated as a factual correction.
func Classify(original, corrected string) CorrectionType {
	origBulleted := bulletPrefix.MatchString(original)
	corrBulleted := bulletPrefix.MatchString(corrected)
	if origBulleted != corrBulleted {
		return FormatPreference
	}

	origWords := wordCount(original)
	corrWords := wordCount(corrected)
	if origWords > 0 {
		ratio := float64(corrWords) / float64(origWords)
		// Both length_adjustment and content_removal fall under the same
		// "< 0.8" band in spec.md §4.12; a severe cut (more than half the
		// text gone) reads as whole-section removal rather than trimming.
		if ratio < 0.5 {
			return ContentRemoval
		}
		if ratio < 0.8 {
			return LengthAdjustment
		}
		if ratio > 1.2 {
			return ContentAddition
		}
	}

	origContractions := countContractions(original)
	corrContractions := countContractions(corrected)
	if origContractions != corrContractions {
		return ToneAdjustment
	}

	return FactualError
}
