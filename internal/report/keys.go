package report

import (
	"regexp"
	"sort"
	"strings"
)

var (
	keySeparators = regexp.MustCompile(`[\s\-.]+`)
	keyInvalid    = regexp.MustCompile(`[^a-z0-9_]`)
	keyRepeats    = regexp.MustCompile(`_{2,}`)
)

// NormalizeKey maps a client supplied question or metric key onto the canonical
// snake_case form used by the bank ("Headache-Intensity" -> "headache_intensity").
func NormalizeKey(input string) string {
	lower := strings.ToLower(strings.TrimSpace(input))
	lower = keySeparators.ReplaceAllString(lower, "_")
	lower = keyInvalid.ReplaceAllString(lower, "")
	lower = keyRepeats.ReplaceAllString(lower, "_")
	return strings.Trim(lower, "_")
}

// NormalizeAnswers returns a copy of answers with normalized keys. Later duplicates win in
// sorted original-key order so the outcome does not depend on map iteration.
func NormalizeAnswers(in Answers) Answers {
	out := make(Answers, len(in))
	for _, k := range in.Keys() {
		if nk := NormalizeKey(k); nk != "" {
			out[nk] = in[k]
		}
	}
	return out
}

// NormalizeTrends returns a copy of trends with normalized keys.
func NormalizeTrends(in Trends) Trends {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Trends, len(in))
	for _, k := range keys {
		if nk := NormalizeKey(k); nk != "" {
			out[nk] = in[k]
		}
	}
	return out
}
