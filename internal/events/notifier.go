// Package events delivers transcription, field-delta and status events to
// the outside world: Kafka topics for downstream consumers and a websocket hub
// for the consultation UI.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"anamnesis-transcript-service/internal/models"
)

// Notifier is the sink of every session event. Implementations must be safe
// for concurrent use.
type Notifier interface {
	PublishTranscription(ctx context.Context, ev models.TranscriptionEvent) error
	PublishDelta(ctx context.Context, ev models.DeltaEvent) error
	PublishStatus(ctx context.Context, ev models.StatusEvent) error
}

// Fanout publishes every event to all of its notifiers. One failing notifier
// does not stop the others.
type Fanout []Notifier

var _ Notifier = Fanout(nil)

// PublishTranscription implements Notifier.
func (f Fanout) PublishTranscription(ctx context.Context, ev models.TranscriptionEvent) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.PublishTranscription(ctx, ev))
	}
	return errors.Join(errs...)
}

// PublishDelta implements Notifier.
func (f Fanout) PublishDelta(ctx context.Context, ev models.DeltaEvent) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.PublishDelta(ctx, ev))
	}
	return errors.Join(errs...)
}

// PublishStatus implements Notifier.
func (f Fanout) PublishStatus(ctx context.Context, ev models.StatusEvent) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.PublishStatus(ctx, ev))
	}
	return errors.Join(errs...)
}

// NewTranscriptionEvent builds the event for an accepted fragment.
func NewTranscriptionEvent(consultationID string, f models.TranscriptFragment) models.TranscriptionEvent {
	return models.TranscriptionEvent{
		EventID:        uuid.NewString(),
		Type:           models.EventTypeTranscription,
		ConsultationID: consultationID,
		Channel:        f.Channel,
		SpeakerHint:    f.SpeakerHint,
		Text:           f.Text,
		Confidence:     f.Confidence,
		Timestamp:      time.Now().UnixMilli(),
	}
}

// NewDeltaEvent builds the event for one extraction batch or manual edit.
func NewDeltaEvent(consultationID, source string, deltas []models.Delta, suggestions []models.CandidateMatch, next *models.FieldPath) models.DeltaEvent {
	if deltas == nil {
		deltas = []models.Delta{}
	}
	return models.DeltaEvent{
		EventID:        uuid.NewString(),
		Type:           models.EventTypeDelta,
		ConsultationID: consultationID,
		Deltas:         deltas,
		Suggestions:    suggestions,
		NextField:      next,
		Source:         source,
		Timestamp:      time.Now().UnixMilli(),
	}
}

// NewStatusEvent builds a session status event. field may be nil.
func NewStatusEvent(consultationID, status, message string, field *models.FieldPath) models.StatusEvent {
	return models.StatusEvent{
		EventID:        uuid.NewString(),
		Type:           models.EventTypeStatus,
		ConsultationID: consultationID,
		Status:         status,
		Message:        message,
		Field:          field,
		Timestamp:      time.Now().UnixMilli(),
	}
}
