package profile

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the comparison form of a term or text unit: case folded,
// NFC composed, trimmed, with internal whitespace collapsed to single spaces.
func Normalize(s string) string {
	folded := cases.Fold().String(s)
	return strings.Join(strings.Fields(norm.NFC.String(folded)), " ")
}

// IsEdgePunct reports whether r is stripped from the edges of a word before
// comparison. Text tokens and list terms share this rule.
func IsEdgePunct(r rune) bool { return unicode.IsPunct(r) }

// TrimWord strips edge punctuation from one word.
func TrimWord(w string) string {
	return strings.TrimFunc(w, IsEdgePunct)
}

// ComparisonForm normalizes s and trims edge punctuation from each of its
// words, dropping words that were punctuation only.
func ComparisonForm(s string) string {
	words := strings.Fields(Normalize(s))
	out := words[:0]
	for _, w := range words {
		if w = TrimWord(w); w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}
