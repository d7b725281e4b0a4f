package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"anamnesis-transcript-service/internal/models"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (r *recordingNotifier) add(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	return r.err
}

func (r *recordingNotifier) PublishTranscription(ctx context.Context, ev models.TranscriptionEvent) error {
	return r.add(ev.Type)
}

func (r *recordingNotifier) PublishDelta(ctx context.Context, ev models.DeltaEvent) error {
	return r.add(ev.Type)
}

func (r *recordingNotifier) PublishStatus(ctx context.Context, ev models.StatusEvent) error {
	return r.add(ev.Type + ":" + ev.Status)
}

func TestFanout_DeliversToAll(t *testing.T) {
	boom := errors.New("broker down")
	failing := &recordingNotifier{err: boom}
	ok := &recordingNotifier{}
	f := Fanout{failing, ok}
	ctx := context.Background()

	err := f.PublishStatus(ctx, NewStatusEvent("c-1", models.StatusReceiving, "", nil))
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to wrap %v, got %v", boom, err)
	}
	if err := (Fanout{ok}).PublishDelta(ctx, NewDeltaEvent("c-1", "manual", nil, nil, nil)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if len(failing.events) != 1 || failing.events[0] != "status:receiving" {
		t.Errorf("failing notifier events = %v", failing.events)
	}
	want := []string{"status:receiving", "delta"}
	if len(ok.events) != len(want) {
		t.Fatalf("ok notifier events = %v, want %v", ok.events, want)
	}
	for i := range want {
		if ok.events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, ok.events[i], want[i])
		}
	}
}

func TestFanout_Empty(t *testing.T) {
	var f Fanout
	frag := models.TranscriptFragment{Channel: models.ChannelDoctor, Text: "qual o seu nome"}
	if err := f.PublishTranscription(context.Background(), NewTranscriptionEvent("c-1", frag)); err != nil {
		t.Errorf("empty fanout returned %v", err)
	}
}

func TestEventConstructors(t *testing.T) {
	frag := models.TranscriptFragment{
		Channel:     models.ChannelHeuristic,
		SpeakerHint: models.ChannelPatient,
		Text:        "tenho dor nas costas",
		Confidence:  0.8,
	}
	tr := NewTranscriptionEvent("c-9", frag)
	if tr.Type != models.EventTypeTranscription || tr.ConsultationID != "c-9" {
		t.Errorf("unexpected transcription event %+v", tr)
	}
	if tr.SpeakerHint != models.ChannelPatient || tr.Text != frag.Text {
		t.Errorf("fragment not carried: %+v", tr)
	}
	if tr.EventID == "" || tr.Timestamp == 0 {
		t.Error("expected event id and timestamp")
	}

	d := NewDeltaEvent("c-9", "extraction", nil, nil, &models.FieldPath{SectionID: "s", FieldID: "f"})
	if d.Deltas == nil {
		t.Error("expected non-nil deltas so the JSON carries an empty list")
	}
	if d.NextField == nil || d.NextField.FieldID != "f" {
		t.Errorf("next field = %+v", d.NextField)
	}

	a := NewStatusEvent("c-9", models.StatusWarning, "persist failed", nil)
	b := NewStatusEvent("c-9", models.StatusWarning, "persist failed", nil)
	if a.EventID == b.EventID {
		t.Error("expected distinct event ids")
	}
}
