// Package schema loads the anamnesis section/field tables.
//
// The schema is declarative data: sections, fields, keyword lists, extraction
// regexes and per-field formatting. It is loaded once at startup and is
// read-only afterwards. A malformed schema is fatal; Load and Compile fail
// before any fragment is accepted.
package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/textnorm"
)

//go:embed anamnesis.yaml
var defaultDocument []byte

// Format selects the value cleanup applied to a field.
type Format string

const (
	FormatText  Format = "text"
	FormatName  Format = "name"
	FormatAge   Format = "age"
	FormatLower Format = "lower"
)

// IsValid reports whether f is a recognised format.
func (f Format) IsValid() bool {
	switch f {
	case FormatText, FormatName, FormatAge, FormatLower:
		return true
	}
	return false
}

// Document is the on-disk representation of a schema.
type Document struct {
	Version  int           `yaml:"version"`
	Sections []SectionSpec `yaml:"sections"`
}

// SectionSpec declares an ordered group of fields.
type SectionSpec struct {
	ID     string      `yaml:"id"`
	Title  string      `yaml:"title"`
	Fields []FieldSpec `yaml:"fields"`
}

// FieldSpec declares one question and its matching rules.
type FieldSpec struct {
	ID       string   `yaml:"id"`
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
	Specific string   `yaml:"specific"`
	Format   Format   `yaml:"format"`
}

// Field is a compiled FieldSpec.
type Field struct {
	SectionID string
	ID        string
	Label     string
	Keywords  []string // folded
	Patterns  []*regexp.Regexp
	Specific  *regexp.Regexp
	Format    Format
}

// Path returns the field address.
func (f *Field) Path() models.FieldPath {
	return models.FieldPath{SectionID: f.SectionID, FieldID: f.ID}
}

// Section is a compiled SectionSpec.
type Section struct {
	ID     string
	Title  string
	Fields []*Field
}

// Schema is the compiled, immutable schema.
type Schema struct {
	Version  int
	Sections []Section

	fields []*Field
	byID   map[string]*Field
}

// LoadDefault compiles the embedded default schema.
func LoadDefault() (*Schema, error) {
	return Parse(defaultDocument)
}

// Load reads and compiles the schema at path. An empty path selects the
// embedded default.
func Load(path string) (*Schema, error) {
	if path == "" {
		return LoadDefault()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("schema: parse %q: %w", path, err)
	}
	return s, nil
}

// LoadFromReader decodes YAML from r and compiles it.
func LoadFromReader(r io.Reader) (*Schema, error) {
	doc := &Document{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	return Compile(doc)
}

// Parse decodes and compiles a YAML document held in memory.
func Parse(data []byte) (*Schema, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Compile validates doc and compiles every regex and keyword.
func Compile(doc *Document) (*Schema, error) {
	if err := New().Validate(doc); err != nil {
		return nil, err
	}

	s := &Schema{
		Version: doc.Version,
		byID:    make(map[string]*Field),
	}
	for _, sec := range doc.Sections {
		cs := Section{ID: sec.ID, Title: sec.Title}
		for _, fs := range sec.Fields {
			f := &Field{
				SectionID: sec.ID,
				ID:        fs.ID,
				Label:     fs.Label,
				Format:    fs.Format,
			}
			if f.Format == "" {
				f.Format = FormatText
			}
			for _, kw := range fs.Keywords {
				f.Keywords = append(f.Keywords, textnorm.Fold(kw))
			}
			for _, p := range fs.Patterns {
				// Validate has already compiled every pattern once.
				f.Patterns = append(f.Patterns, regexp.MustCompile(p))
			}
			if fs.Specific != "" {
				f.Specific = regexp.MustCompile(fs.Specific)
			}
			cs.Fields = append(cs.Fields, f)
			s.fields = append(s.fields, f)
			s.byID[f.ID] = f
		}
		s.Sections = append(s.Sections, cs)
	}
	return s, nil
}

// Fields returns every field in schema order.
func (s *Schema) Fields() []*Field {
	return s.fields
}

// Lookup returns the field with the given id.
func (s *Schema) Lookup(fieldID string) (*Field, bool) {
	f, ok := s.byID[fieldID]
	return f, ok
}

// NewRecord builds an empty record for a consultation.
func (s *Schema) NewRecord(consultationID string) *models.RecordState {
	rec := &models.RecordState{
		ConsultationID: consultationID,
		UpdatedAt:      time.Now().UTC(),
		Sections:       make([]models.Section, 0, len(s.Sections)),
	}
	for _, sec := range s.Sections {
		ms := models.Section{ID: sec.ID, Title: sec.Title, Fields: make([]models.Field, 0, len(sec.Fields))}
		for _, f := range sec.Fields {
			ms.Fields = append(ms.Fields, models.Field{ID: f.ID, Label: f.Label})
		}
		rec.Sections = append(rec.Sections, ms)
	}
	return rec
}
