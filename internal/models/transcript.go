// Package models defines the data structures shared by the transcript pipeline.
package models

import (
	"fmt"
	"time"
)

// Channel identifies the speaker role / audio source a fragment came from.
type Channel string

const (
	ChannelDoctor  Channel = "doctor"
	ChannelPatient Channel = "patient"

	// ChannelHeuristic tags fragments whose speaker was guessed rather than
	// captured on a dedicated microphone. Never produced by a dispatcher.
	ChannelHeuristic Channel = "heuristic-speaker"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelDoctor, ChannelPatient, ChannelHeuristic:
		return true
	}
	return false
}

// ParseChannel converts s into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// TranscriptFragment is one raw STT result for one audio chunk.
type TranscriptFragment struct {
	Channel    Channel   `json:"channel"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"capturedAt"`
	Sequence   uint64    `json:"sequence"`

	// SpeakerHint is only set on heuristic-speaker fragments.
	SpeakerHint Channel `json:"speakerHint,omitempty"`
}

// AssignHeuristicSpeakers tags untagged transcript lines by alternating the
// speaker role, starting with the doctor. This is a degraded-mode fallback for
// sources that carry no channel identity.
func AssignHeuristicSpeakers(texts []string, at time.Time) []TranscriptFragment {
	out := make([]TranscriptFragment, 0, len(texts))
	for i, t := range texts {
		hint := ChannelDoctor
		if i%2 == 1 {
			hint = ChannelPatient
		}
		out = append(out, TranscriptFragment{
			Channel:     ChannelHeuristic,
			Text:        t,
			Confidence:  1,
			CapturedAt:  at,
			Sequence:    uint64(i + 1),
			SpeakerHint: hint,
		})
	}
	return out
}

// Event type names carried in the "type" field of sink events.
const (
	EventTypeTranscription = "transcription"
	EventTypeDelta         = "delta"
	EventTypeStatus        = "status"
)

// TranscriptionEvent is emitted for every accepted fragment.
type TranscriptionEvent struct {
	EventID        string  `json:"eventId"`
	Type           string  `json:"type"`
	ConsultationID string  `json:"consultationId"`
	Channel        Channel `json:"channel"`
	SpeakerHint    Channel `json:"speakerHint,omitempty"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	Timestamp      int64   `json:"timestamp"`
}

// DeltaEvent carries the field changes of one processing call.
type DeltaEvent struct {
	EventID        string           `json:"eventId"`
	Type           string           `json:"type"`
	ConsultationID string           `json:"consultationId"`
	Deltas         []Delta          `json:"deltas"`
	Suggestions    []CandidateMatch `json:"suggestions,omitempty"`
	NextField      *FieldPath       `json:"nextField,omitempty"`
	Source         string           `json:"source"`
	Timestamp      int64            `json:"timestamp"`
}

// Speech status values reported on StatusEvent.
const (
	StatusReceiving      = "receiving"
	StatusQuiet          = "quiet"
	StatusNoUsableSpeech = "no_usable_speech"
	StatusNavigate       = "navigate"
	StatusWarning        = "warning"
)

// StatusEvent reports session-level conditions to the UI.
type StatusEvent struct {
	EventID        string     `json:"eventId"`
	Type           string     `json:"type"`
	ConsultationID string     `json:"consultationId"`
	Status         string     `json:"status"`
	Message        string     `json:"message,omitempty"`
	Field          *FieldPath `json:"field,omitempty"`
	Timestamp      int64      `json:"timestamp"`
}
