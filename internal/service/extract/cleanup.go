package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"anamnesis-transcript-service/internal/schema"
	"anamnesis-transcript-service/internal/textnorm"
)

// Leading fillers removed from extracted values. Folded.
var fillerPrefixes = []string{
	"e ", "eh ", "ah ", "hum ", "entao ", "bom ", "tipo ", "assim ", "olha ",
	"bem ", "que ", "a ", "o ", "de ", "com ",
}

// Leading words stripped from a contextual sentence remainder. Folded.
var leadingStopwords = map[string]struct{}{
	"eu": {}, "meu": {}, "minha": {}, "meus": {}, "minhas": {},
	"a": {}, "o": {}, "as": {}, "os": {}, "um": {}, "uma": {},
	"e": {}, "de": {}, "da": {}, "do": {}, "que": {}, "foi": {}, "sobre": {},
	"ele": {}, "ela": {},
}

// Words that end a spoken name. Folded.
var nameTerminators = map[string]struct{}{
	"e": {}, "tenho": {}, "sou": {}, "moro": {}, "nasci": {}, "com": {},
	"mas": {}, "que": {}, "trabalho": {}, "estou": {}, "anos": {},
}

var nameParticles = map[string]struct{}{
	"da": {}, "de": {}, "do": {}, "das": {}, "dos": {},
}

const maxNameTokens = 5

// clean strips fillers, applies the field format and trims punctuation.
// An empty result means the candidate is dropped.
func clean(value string, f *schema.Field) string {
	value = strings.TrimSpace(value)
	for {
		stripped := stripFillerPrefix(value)
		if stripped == value {
			break
		}
		value = stripped
	}

	switch f.Format {
	case schema.FormatName:
		value = formatName(value)
	case schema.FormatAge:
		value = formatAge(value)
	case schema.FormatLower:
		value = strings.ToLower(value)
	}
	return strings.TrimSpace(textnorm.TrimPunct(strings.TrimSpace(value)))
}

func stripFillerPrefix(value string) string {
	folded := textnorm.Fold(value)
	for _, p := range fillerPrefixes {
		if strings.HasPrefix(folded, p) {
			// Folding keeps rune counts, so the prefix length in runes applies
			// to the display value as well.
			n := utf8.RuneCountInString(p)
			return strings.TrimSpace(string([]rune(value)[n:]))
		}
	}
	return value
}

func formatName(value string) string {
	var out []string
	for _, tok := range strings.Fields(value) {
		word := textnorm.TrimPunct(tok)
		if word == "" {
			continue
		}
		folded := textnorm.Fold(word)
		if _, stop := nameTerminators[folded]; stop && len(out) > 0 {
			break
		}
		if _, ok := nameParticles[folded]; ok && len(out) > 0 {
			out = append(out, folded)
		} else {
			out = append(out, titleCase(word))
		}
		if len(out) == maxNameTokens {
			break
		}
		if word != tok && strings.ContainsAny(tok[len(tok)-1:], ",.;!?") {
			break
		}
	}
	return strings.Join(out, " ")
}

func titleCase(word string) string {
	r := []rune(strings.ToLower(word))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func formatAge(value string) string {
	start := strings.IndexFunc(value, isASCIIDigit)
	if start < 0 {
		return strings.ToLower(value)
	}
	end := start
	for end < len(value) && isASCIIDigit(rune(value[end])) {
		end++
	}
	return value[start:end] + " anos"
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
