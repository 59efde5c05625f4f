package simindex

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// minTokenRunes drops single-character tokens, which carry no signal in
// clinical descriptions ("a", "x", stray digits).
const minTokenRunes = 2

// Tokenize normalises text (NFKC, case folding) and splits it into runs of
// letters and digits of at least two runes.
func Tokenize(text string) []string {
	// A Caser keeps state, so one is created per call.
	folded := cases.Fold().String(norm.NFKC.String(text))

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTokenRunes {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
