package triage

import (
	"regexp"
	"slices"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9\s]+`)

// MergeSymptoms adds the extracted labels that are not already accumulated
// (exact match after trimming) and returns the canonical set: trimmed,
// sorted, without duplicates or blanks. Inputs are not modified.
func MergeSymptoms(accumulated, extracted []string) []string {
	seen := make(map[string]struct{}, len(accumulated))
	out := make([]string, 0, len(accumulated)+len(extracted))
	for _, s := range accumulated {
		s = strings.TrimSpace(s)
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range extracted {
		s = strings.TrimSpace(s)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return canonicalSymptoms(out)
}

func canonicalSymptoms(labels []string) []string {
	out := slices.DeleteFunc(labels, func(s string) bool { return s == "" })
	slices.Sort(out)
	return slices.Compact(out)
}

// CleanForRetrieval lower-cases text and replaces every run of characters
// other than ASCII letters, digits and whitespace with a space.
func CleanForRetrieval(text string) string {
	return strings.TrimSpace(strings.ToLower(nonAlnum.ReplaceAllString(text, " ")))
}

// countWords counts whitespace separated words.
func countWords(s string) int {
	return len(strings.Fields(s))
}
