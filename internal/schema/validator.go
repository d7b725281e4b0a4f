package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSchema wraps every schema validation failure.
var ErrInvalidSchema = errors.New("invalid schema")

// Validator checks a schema document before it is compiled.
type Validator struct{}

// New returns a Validator.
func New() *Validator {
	return &Validator{}
}

// Validate returns a joined error listing every problem found in doc.
func (v *Validator) Validate(doc *Document) error {
	var errs []error

	if len(doc.Sections) == 0 {
		errs = append(errs, errors.New("at least one section is required"))
	}

	sectionsSeen := make(map[string]int, len(doc.Sections))
	fieldsSeen := make(map[string]string)

	for i, sec := range doc.Sections {
		prefix := fmt.Sprintf("sections[%d]", i)
		if sec.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if strings.Contains(sec.ID, ".") {
			errs = append(errs, fmt.Errorf("%s.id %q must not contain '.'", prefix, sec.ID))
		} else if prev, ok := sectionsSeen[sec.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of sections[%d]", prefix, sec.ID, prev))
		} else {
			sectionsSeen[sec.ID] = i
		}
		if len(sec.Fields) == 0 {
			errs = append(errs, fmt.Errorf("%s has no fields", prefix))
		}

		for j, f := range sec.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", prefix, j)
			errs = append(errs, v.validateField(fp, f, fieldsSeen, sec.ID)...)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSchema, errors.Join(errs...))
}

func (v *Validator) validateField(prefix string, f FieldSpec, seen map[string]string, sectionID string) []error {
	var errs []error

	switch {
	case f.ID == "":
		errs = append(errs, fmt.Errorf("%s.id is required", prefix))
	case strings.Contains(f.ID, "."):
		errs = append(errs, fmt.Errorf("%s.id %q must not contain '.'", prefix, f.ID))
	default:
		if prev, ok := seen[f.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is already declared in section %q", prefix, f.ID, prev))
		}
		seen[f.ID] = sectionID
	}

	if len(f.Keywords) == 0 {
		errs = append(errs, fmt.Errorf("%s.keywords must not be empty", prefix))
	}
	for k, kw := range f.Keywords {
		if strings.TrimSpace(kw) == "" {
			errs = append(errs, fmt.Errorf("%s.keywords[%d] is blank", prefix, k))
		}
	}

	for k, p := range f.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.patterns[%d]: %w", prefix, k, err))
			continue
		}
		if re.NumSubexp() < 1 {
			errs = append(errs, fmt.Errorf("%s.patterns[%d] %q has no capturing group", prefix, k, p))
		}
	}

	if f.Specific != "" {
		if _, err := regexp.Compile(f.Specific); err != nil {
			errs = append(errs, fmt.Errorf("%s.specific: %w", prefix, err))
		}
	}

	if f.Format != "" && !f.Format.IsValid() {
		errs = append(errs, fmt.Errorf("%s.format %q is invalid; valid values: text, name, age, lower", prefix, f.Format))
	}
	return errs
}
