package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadDefault(t *testing.T) {
	s, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if len(s.Sections) == 0 {
		t.Fatal("expected sections in default schema")
	}
	for _, id := range []string{"nome_completo", "idade", "sexo"} {
		f, ok := s.Lookup(id)
		if !ok {
			t.Errorf("expected field %q in default schema", id)
			continue
		}
		if len(f.Patterns) == 0 {
			t.Errorf("field %q should carry extraction patterns", id)
		}
	}
}

func TestCompile_FoldsKeywords(t *testing.T) {
	s, err := LoadFromReader(strings.NewReader(`
version: 1
sections:
  - id: s
    title: S
    fields:
      - id: f
        label: F
        keywords: [Pressão Alta]
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, _ := s.Lookup("f")
	if f.Keywords[0] != "pressao alta" {
		t.Errorf("expected folded keyword, got %q", f.Keywords[0])
	}
	if f.Format != FormatText {
		t.Errorf("expected default format text, got %q", f.Format)
	}
}

func TestNewRecord_FollowsSchemaOrder(t *testing.T) {
	s, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	rec := s.NewRecord("c-1")
	if rec.ConsultationID != "c-1" {
		t.Errorf("expected consultation id c-1, got %s", rec.ConsultationID)
	}
	if len(rec.Sections) != len(s.Sections) {
		t.Fatalf("expected %d sections, got %d", len(s.Sections), len(rec.Sections))
	}
	first := rec.Sections[0].Fields[0]
	if first.ID != s.Fields()[0].ID || first.Filled() {
		t.Errorf("unexpected first field: %+v", first)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "malformed regex",
			yaml: `
sections:
  - id: s
    fields:
      - id: f
        keywords: [a]
        patterns: ['(unclosed']
`,
			want: "patterns[0]",
		},
		{
			name: "no capture group",
			yaml: `
sections:
  - id: s
    fields:
      - id: f
        keywords: [a]
        patterns: ['abc']
`,
			want: "no capturing group",
		},
		{
			name: "duplicate field",
			yaml: `
sections:
  - id: s
    fields:
      - id: f
        keywords: [a]
      - id: f
        keywords: [b]
`,
			want: "already declared",
		},
		{
			name: "missing keywords",
			yaml: `
sections:
  - id: s
    fields:
      - id: f
`,
			want: "keywords must not be empty",
		},
		{
			name: "bad format",
			yaml: `
sections:
  - id: s
    fields:
      - id: f
        keywords: [a]
        format: upper
`,
			want: "format",
		},
		{
			name: "no sections",
			yaml: `version: 1`,
			want: "at least one section",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidSchema) {
				t.Errorf("expected ErrInvalidSchema, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFromReader_UnknownKey(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
sections:
  - id: s
    colour: red
    fields:
      - id: f
        keywords: [a]
`))
	if err == nil {
		t.Fatal("expected error for unknown yaml key")
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte(`
sections:
  - id: s
    fields:
      - id: f
        keywords: [a]
        pattern: ['(\w+)']
`))
	if err == nil {
		t.Fatal("expected error for misspelled field key")
	}
}
