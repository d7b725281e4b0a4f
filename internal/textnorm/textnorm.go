// Package textnorm folds transcript text for matching.
//
// Folding lowercases and strips diacritics rune by rune, so a folded string
// always has the same rune count as its source. Regex and keyword matches found
// on folded text can therefore be mapped back onto the original wording.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	repeatedPunct = regexp.MustCompile(`([.,!?;:])[.,!?;:]+`)
	spaces        = regexp.MustCompile(`\s+`)
)

func stripper() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// FoldRune lowercases r and removes its diacritic.
func FoldRune(r rune) rune {
	r = unicode.ToLower(r)
	if r < utf8.RuneSelf {
		return r
	}
	s, _, err := transform.String(stripper(), string(r))
	if err != nil || s == "" {
		return r
	}
	base, _ := utf8.DecodeRuneInString(s)
	return base
}

// Canonical composes s (NFC), so an accent typed as a combining mark folds
// the same way as the precomposed letter.
func Canonical(s string) string {
	return norm.NFC.String(s)
}

// Fold returns s lowercased without diacritics, rune-aligned with s.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(FoldRune(r))
	}
	return b.String()
}

// Collapse composes s, squeezes repeated punctuation and whitespace runs and
// trims it.
func Collapse(s string) string {
	s = Canonical(s)
	s = repeatedPunct.ReplaceAllString(s, "$1")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Words splits folded text into words, dropping surrounding punctuation.
func Words(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := TrimPunct(f)
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// TrimPunct trims leading and trailing punctuation and symbols.
func TrimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// HasWordChars reports whether s contains any letter or digit.
func HasWordChars(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// RuneSpan converts a byte span of s into a rune span.
func RuneSpan(s string, start, end int) (int, int) {
	rs := utf8.RuneCountInString(s[:start])
	return rs, rs + utf8.RuneCountInString(s[start:end])
}
