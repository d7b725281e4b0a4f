package record

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"anamnesis-transcript-service/internal/models"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidPatch = errors.New("invalid field patch")
)

// Thresholds partition candidates by confidence. Candidates above AutoFill
// are written, candidates in [Suggest, AutoFill] become suggestions and the
// rest are discarded.
type Thresholds struct {
	AutoFill float64
	Suggest  float64
}

// DefaultThresholds returns the reference policy.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoFill: 0.7, Suggest: 0.4}
}

// FieldPatch is a partial manual update. Nil members are left unchanged.
type FieldPatch struct {
	Value        *string  `json:"value,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Confirmed    *bool    `json:"confirmed,omitempty"`
	EvidenceText *string  `json:"evidenceText,omitempty"`
}

// Machine is the record state machine. It holds no record; every operation
// takes the current record and returns a new one, leaving the input intact.
// Callers serialize operations per consultation.
type Machine struct {
	th  Thresholds
	now func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a Machine. Invalid thresholds fall back to the defaults.
func NewMachine(th Thresholds, opts ...Option) *Machine {
	def := DefaultThresholds()
	if th.AutoFill <= 0 || th.AutoFill > 1 {
		th.AutoFill = def.AutoFill
	}
	if th.Suggest <= 0 || th.Suggest > th.AutoFill {
		th.Suggest = def.Suggest
	}
	m := &Machine{th: th, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Apply writes high-confidence candidates into empty fields, highest first,
// and attaches medium-confidence candidates as suggestions. It returns the new
// record and one Delta per written field. Suggestions produce no Delta.
func (m *Machine) Apply(candidates []models.CandidateMatch, rec *models.RecordState) (*models.RecordState, []models.Delta) {
	out := rec.Clone()

	ordered := make([]models.CandidateMatch, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	var deltas []models.Delta
	changed := false
	for _, c := range ordered {
		f := out.Field(c.Path())
		if f == nil || !StateOf(*f).AcceptsAutoFill() {
			continue
		}
		value := strings.TrimSpace(c.Value)
		if value == "" {
			continue
		}

		switch {
		case c.Confidence > m.th.AutoFill:
			from := snapshot(*f)
			f.Value = value
			f.Confidence = c.Confidence
			f.EvidenceText = c.EvidenceText
			f.Suggestion = nil
			deltas = append(deltas, models.Delta{Path: c.Path(), From: from, To: *f})
			changed = true
		case c.Confidence >= m.th.Suggest:
			if f.Suggestion == nil || c.Confidence > f.Suggestion.Confidence {
				f.Suggestion = &models.Suggestion{Value: value, Confidence: c.Confidence}
				changed = true
			}
		}
	}

	if changed {
		out.UpdatedAt = m.now().UTC()
	}
	return out, deltas
}

// NextUnanswered returns the first field in schema order that is neither
// filled nor confirmed.
func NextUnanswered(rec *models.RecordState) (models.FieldPath, bool) {
	for _, s := range rec.Sections {
		for _, f := range s.Fields {
			if !f.Filled() && !f.Confirmed {
				return models.FieldPath{SectionID: s.ID, FieldID: f.ID}, true
			}
		}
	}
	return models.FieldPath{}, false
}

// ConfirmField marks the field at p as confirmed without touching its value.
func (m *Machine) ConfirmField(rec *models.RecordState, p models.FieldPath) (*models.RecordState, models.Delta, error) {
	out := rec.Clone()
	f := out.Field(p)
	if f == nil {
		return nil, models.Delta{}, fmt.Errorf("%w: %s", ErrUnknownField, p)
	}
	from := snapshot(*f)
	f.Confirmed = true
	out.UpdatedAt = m.now().UTC()
	return out, models.Delta{Path: p, From: from, To: *f}, nil
}

// UpdateField applies a manual patch. A manual value always wins: it replaces
// any value, confirmed or not, and a non-empty value blocks later auto-fill.
func (m *Machine) UpdateField(rec *models.RecordState, p models.FieldPath, patch FieldPatch) (*models.RecordState, models.Delta, error) {
	if c := patch.Confidence; c != nil && (*c < 0 || *c > 1) {
		return nil, models.Delta{}, fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidPatch, *c)
	}

	out := rec.Clone()
	f := out.Field(p)
	if f == nil {
		return nil, models.Delta{}, fmt.Errorf("%w: %s", ErrUnknownField, p)
	}
	from := snapshot(*f)

	if patch.Value != nil {
		f.Value = strings.TrimSpace(*patch.Value)
		f.Confidence = 1
		f.Suggestion = nil
		if f.Value == "" {
			f.Confidence = 0
		}
	}
	if patch.Confidence != nil {
		f.Confidence = *patch.Confidence
	}
	if patch.Confirmed != nil {
		f.Confirmed = *patch.Confirmed
	}
	if patch.EvidenceText != nil {
		f.EvidenceText = *patch.EvidenceText
	}

	out.UpdatedAt = m.now().UTC()
	return out, models.Delta{Path: p, From: from, To: *f}, nil
}

// snapshot returns a copy of f for Delta.From, or nil when f was empty.
func snapshot(f models.Field) *models.Field {
	if !f.Filled() && !f.Confirmed {
		return nil
	}
	cp := f
	if f.Suggestion != nil {
		sg := *f.Suggestion
		cp.Suggestion = &sg
	}
	return &cp
}
