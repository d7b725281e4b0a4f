// Package extract scores accepted transcript text against every schema field
// and proposes typed values.
//
// Extraction is rule-based: a keyword pass gates and scores each field, then
// the first of regex capture, contextual sentence or keyword proximity window
// supplies the value. The value is cleaned and the declarative boost rules are
// applied to the cleaned value. Extract has no hidden state; the only record
// dependency is whether a field is already filled.
package extract

import (
	"math"
	"sort"
	"strings"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/schema"
	"anamnesis-transcript-service/internal/textnorm"
)

// Score contributions of each extraction stage.
const (
	baseCap          = 0.6
	keywordShare     = 0.3
	patternBonus     = 0.5
	contextualBonus  = 0.3
	proximityBonus   = 0.25
	proximityBefore  = 3
	proximityAfter   = 4
	minContextualLen = 2
)

// Config holds extractor tuning.
type Config struct {
	MinConfidence float64 // candidates below are not emitted
	MaxConfidence float64 // clamp
	Boosts        []BoostRule
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.3,
		MaxConfidence: 0.95,
		Boosts:        DefaultBoostRules(),
	}
}

// Extractor proposes CandidateMatches for a compiled schema.
type Extractor struct {
	schema *schema.Schema
	cfg    Config
}

// New creates an Extractor. A nil Boosts list selects the default rules.
func New(s *schema.Schema, cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MaxConfidence <= 0 || cfg.MaxConfidence > 1 {
		cfg.MaxConfidence = def.MaxConfidence
	}
	if cfg.Boosts == nil {
		cfg.Boosts = def.Boosts
	}
	return &Extractor{schema: s, cfg: cfg}
}

// Extract returns every candidate at or above the confidence floor, sorted by
// confidence descending with schema order breaking ties. rec may be nil.
func (e *Extractor) Extract(input string, rec *models.RecordState, focusedFieldID string) []models.CandidateMatch {
	evidence := strings.TrimSpace(input)
	if evidence == "" {
		return nil
	}
	t := normalize(evidence)

	var out []models.CandidateMatch
	for _, f := range e.schema.Fields() {
		if rec != nil {
			if cur := rec.Field(f.Path()); cur != nil && cur.Filled() {
				continue
			}
		}
		c, ok := e.extractField(t, f, focusedFieldID)
		if !ok {
			continue
		}
		c.EvidenceText = evidence
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func (e *Extractor) extractField(t text, f *schema.Field, focusedFieldID string) (models.CandidateMatch, bool) {
	matched := matchedKeywords(t.foldedS, f.Keywords)
	if len(matched) == 0 {
		return models.CandidateMatch{}, false
	}
	score := math.Min(float64(len(matched))/math.Max(float64(len(f.Keywords))*keywordShare, 1), baseCap)

	value, bonus, ok := patternValue(t, f)
	if !ok {
		value, bonus, ok = contextualValue(t, matched)
	}
	if !ok {
		value, bonus, ok = proximityValue(t, matched)
	}
	if !ok {
		return models.CandidateMatch{}, false
	}

	value = clean(value, f)
	if value == "" {
		return models.CandidateMatch{}, false
	}

	score = ApplyBoosts(e.cfg.Boosts, BoostInput{Field: f, Value: value, FocusedFieldID: focusedFieldID}, score+bonus)
	score = math.Min(score, e.cfg.MaxConfidence)
	if score < e.cfg.MinConfidence {
		return models.CandidateMatch{}, false
	}
	return models.CandidateMatch{
		FieldID:    f.ID,
		SectionID:  f.SectionID,
		Value:      value,
		Confidence: score,
	}, true
}

func matchedKeywords(folded string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if strings.Contains(folded, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func patternValue(t text, f *schema.Field) (string, float64, bool) {
	for _, re := range f.Patterns {
		sp, ok := t.groupSpan(re.FindStringSubmatchIndex(t.foldedS))
		if !ok {
			continue
		}
		return t.displaySpan(sp), patternBonus, true
	}
	return "", 0, false
}

func contextualValue(t text, matched []string) (string, float64, bool) {
	for _, sp := range t.sentences() {
		if len(matchedKeywords(t.foldedSpan(sp), matched)) == 0 {
			continue
		}
		// Only the first sentence carrying a keyword is considered.
		rest := stripLeading(removeKeywords(strings.Fields(t.displaySpan(sp)), matched))
		value := strings.TrimSpace(textnorm.TrimPunct(strings.Join(rest, " ")))
		if runeLen(value) > minContextualLen {
			return value, contextualBonus, true
		}
		return "", 0, false
	}
	return "", 0, false
}

// removeKeywords drops every token run that spells out one of keywords.
func removeKeywords(tokens []string, keywords []string) []string {
	folded := make([]string, len(tokens))
	for i, tok := range tokens {
		folded[i] = textnorm.Fold(textnorm.TrimPunct(tok))
	}

	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		if n := keywordRunAt(folded, i, keywords); n > 0 {
			i += n
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out
}

func keywordRunAt(folded []string, i int, keywords []string) int {
	for _, kw := range keywords {
		parts := strings.Fields(kw)
		if i+len(parts) > len(folded) {
			continue
		}
		match := true
		for j, p := range parts {
			if folded[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return len(parts)
		}
	}
	return 0
}

func stripLeading(tokens []string) []string {
	for len(tokens) > 0 {
		w := textnorm.Fold(textnorm.TrimPunct(tokens[0]))
		if _, ok := leadingStopwords[w]; !ok && w != "" {
			break
		}
		tokens = tokens[1:]
	}
	return tokens
}

func proximityValue(t text, matched []string) (string, float64, bool) {
	tokens := strings.Fields(string(t.display))
	for i, tok := range tokens {
		folded := textnorm.Fold(tok)
		for _, kw := range matched {
			first, _, _ := strings.Cut(kw, " ")
			if strings.Contains(folded, first) {
				return strings.Join(proximityWindow(tokens, i), " "), proximityBonus, true
			}
		}
	}
	return "", 0, false
}

// proximityWindow returns tokens[i-3 : i+4] inclusive, clipped to bounds.
func proximityWindow(tokens []string, i int) []string {
	lo := max(i-proximityBefore, 0)
	hi := min(i+proximityAfter+1, len(tokens))
	return tokens[lo:hi]
}
