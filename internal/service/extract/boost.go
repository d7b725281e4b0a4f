package extract

import (
	"anamnesis-transcript-service/internal/schema"
)

// BoostInput is what a boost rule can look at.
type BoostInput struct {
	Field          *schema.Field
	Value          string
	FocusedFieldID string
}

// BoostRule adds Delta to a candidate's confidence when When holds.
type BoostRule struct {
	Name  string
	Delta float64
	When  func(BoostInput) bool
}

// DefaultBoostRules returns the reference scoring policy, applied in order
// after base scoring.
func DefaultBoostRules() []BoostRule {
	return []BoostRule{
		{
			Name:  "focused",
			Delta: 0.25,
			When: func(in BoostInput) bool {
				return in.FocusedFieldID != "" && in.Field.ID == in.FocusedFieldID
			},
		},
		{
			Name:  "long_value",
			Delta: 0.1,
			When: func(in BoostInput) bool {
				return runeLen(in.Value) > 10
			},
		},
		{
			Name:  "looks_specific",
			Delta: 0.15,
			When: func(in BoostInput) bool {
				return in.Field.Specific != nil && in.Field.Specific.MatchString(in.Value)
			},
		},
	}
}

// ApplyBoosts adds every matching rule's delta to base.
func ApplyBoosts(rules []BoostRule, in BoostInput, base float64) float64 {
	for _, r := range rules {
		if r.When(in) {
			base += r.Delta
		}
	}
	return base
}
