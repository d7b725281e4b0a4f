package models

import (
	"strings"
	"time"
)

// FieldPath addresses a field as (sectionId, fieldId).
type FieldPath struct {
	SectionID string `json:"sectionId"`
	FieldID   string `json:"fieldId"`
}

func (p FieldPath) String() string {
	return p.SectionID + "." + p.FieldID
}

// IsZero reports whether p addresses nothing.
func (p FieldPath) IsZero() bool {
	return p.SectionID == "" && p.FieldID == ""
}

// ParseFieldPath parses "section.field".
func ParseFieldPath(s string) (FieldPath, bool) {
	section, field, ok := strings.Cut(s, ".")
	if !ok || section == "" || field == "" {
		return FieldPath{}, false
	}
	return FieldPath{SectionID: section, FieldID: field}, true
}

// Suggestion is a medium-confidence candidate attached to an empty field.
// It is an annotation only and never blocks auto-fill.
type Suggestion struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Field is one slot of the clinical record. An empty Value means unanswered.
type Field struct {
	ID           string      `json:"id"`
	Label        string      `json:"label"`
	Value        string      `json:"value,omitempty"`
	Confidence   float64     `json:"confidence"`
	Confirmed    bool        `json:"confirmed"`
	EvidenceText string      `json:"evidenceText,omitempty"`
	Suggestion   *Suggestion `json:"suggestion,omitempty"`
}

// Filled reports whether the field carries a value.
func (f Field) Filled() bool {
	return strings.TrimSpace(f.Value) != ""
}

// Section is an ordered, named group of fields.
type Section struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`
}

// RecordState is the full anamnesis record of one consultation.
type RecordState struct {
	ConsultationID string    `json:"consultationId"`
	Sections       []Section `json:"sections"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of r.
func (r *RecordState) Clone() *RecordState {
	if r == nil {
		return nil
	}
	out := &RecordState{
		ConsultationID: r.ConsultationID,
		UpdatedAt:      r.UpdatedAt,
		Sections:       make([]Section, len(r.Sections)),
	}
	for i, s := range r.Sections {
		fields := make([]Field, len(s.Fields))
		copy(fields, s.Fields)
		for j := range fields {
			if fields[j].Suggestion != nil {
				sg := *fields[j].Suggestion
				fields[j].Suggestion = &sg
			}
		}
		out.Sections[i] = Section{ID: s.ID, Title: s.Title, Fields: fields}
	}
	return out
}

// Field returns a pointer to the field at p, or nil.
func (r *RecordState) Field(p FieldPath) *Field {
	for i := range r.Sections {
		if r.Sections[i].ID != p.SectionID {
			continue
		}
		for j := range r.Sections[i].Fields {
			if r.Sections[i].Fields[j].ID == p.FieldID {
				return &r.Sections[i].Fields[j]
			}
		}
	}
	return nil
}

// FilledCount returns how many fields carry a value.
func (r *RecordState) FilledCount() (filled, total int) {
	for _, s := range r.Sections {
		for _, f := range s.Fields {
			total++
			if f.Filled() {
				filled++
			}
		}
	}
	return filled, total
}

// Delta is a before/after change of one field. From is nil when the field was
// empty before the change.
type Delta struct {
	Path FieldPath `json:"fieldPath"`
	From *Field    `json:"from"`
	To   Field     `json:"to"`
}

// CandidateMatch is one proposed extraction for one text fragment.
type CandidateMatch struct {
	FieldID      string  `json:"fieldId"`
	SectionID    string  `json:"section"`
	Value        string  `json:"extractedValue"`
	Confidence   float64 `json:"confidence"`
	EvidenceText string  `json:"evidenceText,omitempty"`
}

// Path returns the field path of the candidate.
func (c CandidateMatch) Path() FieldPath {
	return FieldPath{SectionID: c.SectionID, FieldID: c.FieldID}
}
