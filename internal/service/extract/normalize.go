package extract

import (
	"strings"
	"unicode/utf8"

	"anamnesis-transcript-service/internal/textnorm"
)

// Informal contractions, keyed by folded form.
var contractions = map[string]string{
	"to":   "estou",
	"ta":   "está",
	"tava": "estava",
	"pra":  "para",
	"pro":  "para o",
	"pros": "para os",
	"vc":   "você",
	"ce":   "você",
	"ne":   "não é",
	"tb":   "também",
	"tbm":  "também",
	"q":    "que",
	"n":    "não",
}

// text holds a fragment in two rune-aligned forms: display keeps the original
// casing and accents, folded is used for matching.
type text struct {
	display []rune
	folded  []rune
	foldedS string
}

func normalize(s string) text {
	s = textnorm.Collapse(s)
	tokens := strings.Fields(s)
	for i, tok := range tokens {
		core := textnorm.TrimPunct(tok)
		if core == "" {
			continue
		}
		repl, ok := contractions[textnorm.Fold(core)]
		if !ok {
			continue
		}
		start := strings.Index(tok, core)
		tokens[i] = tok[:start] + repl + tok[start+len(core):]
	}
	display := strings.Join(tokens, " ")
	folded := textnorm.Fold(display)
	return text{
		display: []rune(display),
		folded:  []rune(folded),
		foldedS: folded,
	}
}

// span is a rune range [start, end) inside a text.
type span struct{ start, end int }

func (t text) displaySpan(sp span) string {
	return string(t.display[sp.start:sp.end])
}

func (t text) foldedSpan(sp span) string {
	return string(t.folded[sp.start:sp.end])
}

// sentences splits t at sentence terminators.
func (t text) sentences() []span {
	var out []span
	start := 0
	for i, r := range t.folded {
		switch r {
		case '.', '!', '?', ';', '\n':
			if i > start {
				out = append(out, span{start, i})
			}
			start = i + 1
		}
	}
	if start < len(t.folded) {
		out = append(out, span{start, len(t.folded)})
	}
	return out
}

// groupSpan maps the first capture group of a FindStringSubmatchIndex result
// on the folded form back to a rune span.
func (t text) groupSpan(loc []int) (span, bool) {
	if len(loc) < 4 || loc[2] < 0 || loc[3] <= loc[2] {
		return span{}, false
	}
	rs, re := textnorm.RuneSpan(t.foldedS, loc[2], loc[3])
	return span{rs, re}, true
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
