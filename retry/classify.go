package retry

import "strings"

// classifier is one predicate in the classification chain, checked in order;
// the first match wins. Mirrors gomind's DefaultErrorClassifier chain-of-
// predicates shape (resilience/retry.go).
type classifier struct {
	class      Classification
	substrings []string
}

// catalogue is the fixed, documented set of message substrings used to
// classify an arbitrary error (spec.md §4.3). Checked top to bottom.
var catalogue = []classifier{
	{Permanent, []string{
		"unauthorized", "forbidden", "authentication failed", "invalid credentials",
		"validation failed", "invalid input", "bad request", "not found",
		"permission denied", "access denied",
	}},
	{Timeout, []string{
		"deadline exceeded", "context deadline exceeded", "timed out", "timeout",
	}},
	{Transient, []string{
		"connection reset", "connection refused", "broken pipe", "eof",
		"too many requests", "rate limit", "429",
		"500 internal server error", "502 bad gateway", "503 service unavailable",
		"504 gateway timeout", "deadlock", "temporary failure", "try again",
		"i/o timeout", "network is unreachable", "no route to host",
	}},
}

// Classify maps an arbitrary error to one of TRANSIENT/PERMANENT/TIMEOUT/
// UNKNOWN by matching message substrings, case-insensitively.
func Classify(err error) Classification {
	if err == nil {
		return Unknown
	}
	msg := strings.ToLower(err.Error())
	for _, c := range catalogue {
		for _, sub := range c.substrings {
			if strings.Contains(msg, sub) {
				return c.class
			}
		}
	}
	return Unknown
}
