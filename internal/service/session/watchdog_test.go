package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"anamnesis-transcript-service/internal/models"
)

func TestCheckSpeech(t *testing.T) {
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	sec := func(n int) time.Time { return base.Add(time.Duration(n) * time.Second) }

	tests := []struct {
		name         string
		lastSpeech   time.Time
		lastAccepted time.Time
		now          time.Time
		want         string
	}{
		{"nothing heard", time.Time{}, time.Time{}, sec(30), models.StatusQuiet},
		{"recent accepted", sec(25), sec(25), sec(30), models.StatusReceiving},
		{"rejected speech in grace period", sec(5), time.Time{}, sec(10), models.StatusReceiving},
		{"rejected speech past timeout", sec(28), time.Time{}, sec(30), models.StatusNoUsableSpeech},
		{"only rejections since last accept", sec(39), sec(10), sec(40), models.StatusNoUsableSpeech},
		{"everything stale", sec(5), sec(5), sec(60), models.StatusQuiet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{
				cfg:          Config{SilenceTimeout: 20 * time.Second},
				log:          zerolog.Nop(),
				now:          time.Now,
				outboxClosed: true,
			}
			s.speech.since = base
			s.speech.lastSpeech = tt.lastSpeech
			s.speech.lastAccepted = tt.lastAccepted

			if got := s.checkSpeech(tt.now); got != tt.want {
				t.Errorf("checkSpeech = %s, want %s", got, tt.want)
			}
			if s.SpeechStatus() != tt.want {
				t.Errorf("SpeechStatus = %s", s.SpeechStatus())
			}
		})
	}
}

func TestCheckSpeech_PublishesOnChange(t *testing.T) {
	r, n := newTestRegistry(t, testConfig(), nil)
	s := openSession(t, r, "c-1")
	now := time.Now()

	s.checkSpeech(now)
	s.checkSpeech(now)
	eventually(t, "quiet status", func() bool { return len(n.statusEvents(models.StatusQuiet)) == 1 })

	s.noteSpeech(fragment(models.ChannelPatient, "tenho dor de cabeça"), true)
	s.checkSpeech(time.Now())
	eventually(t, "receiving status", func() bool { return len(n.statusEvents(models.StatusReceiving)) == 1 })

	// Empty transcriptions are silence, not speech.
	s.speech.mu.Lock()
	s.speech.lastSpeech = time.Time{}
	s.speech.mu.Unlock()
	s.noteSpeech(fragment(models.ChannelPatient, "  "), false)
	s.speech.mu.Lock()
	blank := s.speech.lastSpeech.IsZero()
	s.speech.mu.Unlock()
	if !blank {
		t.Error("blank text counted as speech")
	}
	if got := len(n.statusEvents(models.StatusQuiet)); got != 1 {
		t.Errorf("quiet published %d times", got)
	}
}
