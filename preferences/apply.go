package preferences

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sentenceSplit = regexp.MustCompile(`(?:[.!?]+)(?:\s+|$)`)

// ApplyToResponse rewrites text according to the highest-precedence
// applicable preference of each type found in prefs (already filtered to
// the relevant userId and sorted by Learner.Preferences' scope/priority/
// confidence/recency order). Rewrites are deterministic: applying the same
// preference set to the same text twice yields the same result as applying
// it once (spec.md §8 "applying the same Preference twice ... yields the
// same result as once").
func ApplyToResponse(text string, prefs []Preference) string {
	applied := make(map[CorrectionType]bool)
	out := text
	for _, p := range prefs {
		if applied[p.Type] {
			continue
		}
		switch p.Type {
		case FormatPreference:
			out = applyFormat(out, p.Value)
		case LengthAdjustment:
			out = applyLength(out, p.Value)
		case ToneAdjustment:
			out = applyTone(out, p.Value)
		default:
			continue
		}
		applied[p.Type] = true
	}
	return out
}

// applyFormat converts a paragraph into bullets or a numbered list, or joins
// sentences into one paragraph, based on Value ("bullets" | "numbered" |
// "paragraph"); "paragraph" does not strip existing bullet or number
// prefixes. Splitting
// on sentence boundaries is idempotent: a text already in bullet form has
// no bare sentence-ending punctuation runs outside its prefixes, so
// re-applying detects the existing bullets and leaves them alone.
func applyFormat(text, value string) string {
	if isAlreadyListed(text) && (value == "bullets" || value == "numbered") {
		return text
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return text
	}
	switch value {
	case "numbered":
		lines := make([]string, len(sentences))
		for i, s := range sentences {
			lines[i] = fmt.Sprintf("%d. %s", i+1, s)
		}
		return strings.Join(lines, "\n")
	case "paragraph":
		return strings.Join(sentences, ". ") + "."
	default: // "bullets"
		lines := make([]string, len(sentences))
		for i, s := range sentences {
			lines[i] = "- " + s
		}
		return strings.Join(lines, "\n")
	}
}

func isAlreadyListed(text string) bool {
	return bulletPrefix.MatchString(text)
}

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyLength truncates text to the first N sentences, where N is parsed
// from Value. Truncating an already-short text is a no-op, which is what
// makes a second application idempotent.
func applyLength(text, value string) string {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return text
	}
	sentences := splitSentences(text)
	if len(sentences) <= n {
		return text
	}
	return strings.Join(sentences[:n], ". ") + "."
}

// applyTone swaps contractions in or out of text depending on Value
// ("casual" expands formal phrasing into contractions, "formal" does the
// reverse). The pair list is the same contractionPairs the classifier uses
// to detect a tone shift, so what gets detected and what gets rewritten
// always agree.
func applyTone(text, value string) string {
	out := text
	for _, pair := range contractionPairs {
		formal, casual := pair[0], pair[1]
		if value == "formal" {
			out = replaceCaseInsensitive(out, casual, formal)
		} else {
			out = replaceCaseInsensitive(out, formal, casual)
		}
	}
	return out
}

// replaceCaseInsensitive replaces every case-insensitive occurrence of from
// in s with to, preserving the original's leading-capital casing so a
// sentence-initial swap still reads naturally.
func replaceCaseInsensitive(s, from, to string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(from))
	return re.ReplaceAllStringFunc(s, func(match string) string {
		if len(match) > 0 && match[0] >= 'A' && match[0] <= 'Z' {
			return strings.ToUpper(to[:1]) + to[1:]
		}
		return to
	})
}
