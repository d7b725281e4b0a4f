// Package record applies extraction candidates and manual edits to a
// consultation's RecordState and reports every change as a Delta.
package record

import (
	"fmt"

	"anamnesis-transcript-service/internal/models"
)

// FieldState is the lifecycle state of one record field.
//
// State transitions:
//
//	EMPTY ──suggest──→ SUGGESTED
//	  │                   │
//	  └──auto-fill/edit───┴──→ FILLED ──confirm──→ CONFIRMED
//
// Rules:
//   - EMPTY and SUGGESTED accept auto-fill. A suggestion is an annotation and
//     never blocks a later high-confidence value.
//   - FILLED is never overwritten automatically (first write wins).
//   - CONFIRMED is terminal for automatic writes; manual edits may still patch it.
type FieldState int

const (
	StateEmpty FieldState = iota
	StateSuggested
	StateFilled
	StateConfirmed
)

// String returns the string representation of the state.
func (s FieldState) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateSuggested:
		return "SUGGESTED"
	case StateFilled:
		return "FILLED"
	case StateConfirmed:
		return "CONFIRMED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// AcceptsAutoFill reports whether an automatic write may set the field.
func (s FieldState) AcceptsAutoFill() bool {
	return s == StateEmpty || s == StateSuggested
}

// StateOf derives the state of f. A confirmed field is CONFIRMED even when a
// human accepted it empty.
func StateOf(f models.Field) FieldState {
	switch {
	case f.Confirmed:
		return StateConfirmed
	case f.Filled():
		return StateFilled
	case f.Suggestion != nil:
		return StateSuggested
	default:
		return StateEmpty
	}
}
