// Package gate decides which raw transcription results are trustworthy enough
// to reach extraction.
//
// The STT collaborator is known to produce caption credits, filler and
// repeated words on silence or low volume. Gate.Evaluate applies an ordered
// list of heuristics; the first one that matches rejects the fragment.
// Evaluate is pure. Tracker adds the only state, the last accepted text per
// channel, used for near-duplicate suppression.
package gate

import (
	"math"
	"strings"
	"unicode/utf8"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/textnorm"
)

// Reason names why a fragment was rejected.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonBoilerplate    Reason = "boilerplate"
	ReasonTooShort       Reason = "too_short"
	ReasonLowInformation Reason = "low_information"
	ReasonRepetition     Reason = "repetition"
	ReasonLowConfidence  Reason = "low_confidence"
	ReasonIrrelevant     Reason = "irrelevant"
	ReasonDuplicate      Reason = "duplicate"
)

// Decision is the outcome of evaluating one fragment.
type Decision struct {
	Accepted bool
	Reason   Reason
}

func accept() Decision         { return Decision{Accepted: true} }
func reject(r Reason) Decision { return Decision{Reason: r} }

func (d Decision) String() string {
	if d.Accepted {
		return "accept"
	}
	return "reject(" + string(d.Reason) + ")"
}

// Config holds the gate thresholds. The defaults are heuristic and are kept
// configurable rather than treated as tuned.
type Config struct {
	MinLength         int     // trimmed characters
	MinConfidence     float64 // inclusive lower bound
	RepetitionRatio   float64 // share of the most frequent word
	DuplicateRatio    float64 // shared words over the longer token count
	MinSentenceLength int     // characters for the sentence-shape relevance check
	ShortTokenLength  int     // runes
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		MinLength:         3,
		MinConfidence:     0.7,
		RepetitionRatio:   0.6,
		DuplicateRatio:    0.8,
		MinSentenceLength: 15,
		ShortTokenLength:  3,
	}
}

// Gate evaluates fragments against the configured heuristics.
type Gate struct {
	cfg Config
}

// New creates a Gate. Zero-valued thresholds fall back to the defaults.
func New(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.RepetitionRatio <= 0 {
		cfg.RepetitionRatio = def.RepetitionRatio
	}
	if cfg.DuplicateRatio <= 0 {
		cfg.DuplicateRatio = def.DuplicateRatio
	}
	if cfg.MinSentenceLength <= 0 {
		cfg.MinSentenceLength = def.MinSentenceLength
	}
	if cfg.ShortTokenLength <= 0 {
		cfg.ShortTokenLength = def.ShortTokenLength
	}
	return &Gate{cfg: cfg}
}

// Config returns the effective thresholds.
func (g *Gate) Config() Config {
	return g.cfg
}

// Evaluate classifies f. lastAccepted is the last text accepted on the same
// channel, or "".
func (g *Gate) Evaluate(f models.TranscriptFragment, lastAccepted string) Decision {
	text := textnorm.Canonical(strings.TrimSpace(f.Text))
	folded := textnorm.Fold(text)

	if isBoilerplate(folded) {
		return reject(ReasonBoilerplate)
	}
	if utf8.RuneCountInString(text) < g.cfg.MinLength {
		return reject(ReasonTooShort)
	}

	words := textnorm.Words(folded)
	if g.isLowInformation(folded, words) {
		return reject(ReasonLowInformation)
	}
	if g.isRepetitive(words) {
		return reject(ReasonRepetition)
	}
	if c := f.Confidence; math.IsNaN(c) || c < g.cfg.MinConfidence || c > 1 {
		return reject(ReasonLowConfidence)
	}
	if !g.isRelevant(text, folded, words) {
		return reject(ReasonIrrelevant)
	}
	if lastAccepted != "" && g.isDuplicate(words, textnorm.Words(textnorm.Fold(textnorm.Canonical(lastAccepted)))) {
		return reject(ReasonDuplicate)
	}
	return accept()
}

func isBoilerplate(folded string) bool {
	for _, p := range boilerplatePhrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

func (g *Gate) isLowInformation(folded string, words []string) bool {
	if !textnorm.HasWordChars(folded) {
		return true
	}

	phrase := strings.Join(words, " ")
	for _, p := range fillerPhrases {
		if phrase == p {
			return true
		}
	}

	if len(words) <= 2 {
		short := true
		for _, w := range words {
			if utf8.RuneCountInString(w) > g.cfg.ShortTokenLength {
				short = false
				break
			}
		}
		if short {
			return true
		}
	}

	run := 1
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] && utf8.RuneCountInString(words[i]) <= g.cfg.ShortTokenLength {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

func (g *Gate) isRepetitive(words []string) bool {
	if len(words) < 3 {
		return false
	}
	counts := make(map[string]int, len(words))
	top := 0
	for _, w := range words {
		counts[w]++
		if counts[w] > top {
			top = counts[w]
		}
	}
	return float64(top)/float64(len(words)) > g.cfg.RepetitionRatio
}

func (g *Gate) isRelevant(text, folded string, words []string) bool {
	for _, term := range medicalTerms {
		if strings.Contains(folded, term) {
			return true
		}
	}
	return utf8.RuneCountInString(text) >= g.cfg.MinSentenceLength && len(words) >= 3
}

func (g *Gate) isDuplicate(current, last []string) bool {
	if len(current) < 3 || len(last) < 3 {
		return false
	}
	lastSet := make(map[string]struct{}, len(last))
	for _, w := range last {
		lastSet[w] = struct{}{}
	}
	shared := 0
	seen := make(map[string]struct{}, len(current))
	for _, w := range current {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := lastSet[w]; ok {
			shared++
		}
	}
	longer := len(current)
	if len(last) > longer {
		longer = len(last)
	}
	return float64(shared)/float64(longer) > g.cfg.DuplicateRatio
}
