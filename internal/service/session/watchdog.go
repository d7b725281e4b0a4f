package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"anamnesis-transcript-service/internal/models"
)

// speechActivity tells "connected but quiet" apart from "hearing speech that
// never passes the gate".
type speechActivity struct {
	mu           sync.Mutex
	since        time.Time // session start
	lastSpeech   time.Time // any transcribed text, accepted or not
	lastAccepted time.Time
	status       string
}

func (s *Session) noteSpeech(f models.TranscriptFragment, accepted bool) {
	if strings.TrimSpace(f.Text) == "" {
		return
	}
	now := s.now()
	s.speech.mu.Lock()
	defer s.speech.mu.Unlock()
	s.speech.lastSpeech = now
	if accepted {
		s.speech.lastAccepted = now
	}
}

// checkSpeech recomputes the speech status at now and publishes it when it
// changed.
func (s *Session) checkSpeech(now time.Time) string {
	a := &s.speech
	a.mu.Lock()
	timeout := s.cfg.SilenceTimeout
	ref := a.lastAccepted
	if ref.IsZero() {
		ref = a.since
	}

	var status string
	switch {
	case !a.lastAccepted.IsZero() && now.Sub(a.lastAccepted) < timeout:
		status = models.StatusReceiving
	case !a.lastSpeech.IsZero() && now.Sub(a.lastSpeech) < timeout:
		status = models.StatusReceiving
		if now.Sub(ref) >= timeout {
			status = models.StatusNoUsableSpeech
		}
	default:
		status = models.StatusQuiet
	}
	changed := status != a.status
	a.status = status
	a.mu.Unlock()

	if changed {
		s.log.Info().Str("status", status).Msg("Speech status changed")
		s.publishStatus(status, "", nil)
	}
	return status
}

// SpeechStatus returns the last computed speech status.
func (s *Session) SpeechStatus() string {
	s.speech.mu.Lock()
	defer s.speech.mu.Unlock()
	return s.speech.status
}

func (s *Session) runWatchdog(ctx context.Context) {
	defer close(s.watchdogDone)
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkSpeech(s.now())
		}
	}
}
