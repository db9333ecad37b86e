package relay

import "regexp"

var stopIntentPattern = regexp.MustCompile(`(?i)\b(stop|quit|cancel|end|exit|bye|terminate|shut\s+up)\b`)

// IsStopIntent reports whether text asks to end the conversation. Matching is
// case-insensitive on whole words anywhere in the text, so "stopwatch" does
// not match but "ok, bye!" does.
func IsStopIntent(text string) bool {
	return stopIntentPattern.MatchString(text)
}
