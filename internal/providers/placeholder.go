package providers

import "regexp"

var placeholderRegex = regexp.MustCompile(`(?i)^\s*(episode|ep\.?)\s*\d+\s*$`)

var nonLatinRegex = regexp.MustCompile(`[\x{3040}-\x{30ff}\x{3400}-\x{4dbf}\x{4e00}-\x{9fff}]`)

func isPureNumeric(s string) bool {
	matched, _ := regexp.MatchString(`^\d+$`, s)
	return matched
}

// IsNonLatinOnly reports whether s contains CJK script characters and no
// Latin letters - used to prefer Latin-script titles in the episode-title
// fallback chain (spec.md §4.5).
func IsNonLatinOnly(s string) bool {
	if !nonLatinRegex.MatchString(s) {
		return false
	}
	return !regexp.MustCompile(`[A-Za-z]`).MatchString(s)
}
