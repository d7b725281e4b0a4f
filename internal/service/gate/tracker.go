package gate

import (
	"sync"

	"anamnesis-transcript-service/internal/models"
)

// Tracker applies a Gate per channel and remembers the last accepted text of
// each channel. One Tracker belongs to one consultation session.
type Tracker struct {
	gate *Gate

	mu   sync.Mutex
	last map[models.Channel]string
}

// NewTracker creates a Tracker around g.
func NewTracker(g *Gate) *Tracker {
	return &Tracker{
		gate: g,
		last: make(map[models.Channel]string),
	}
}

// Admit evaluates f against the channel's last accepted text and records f
// as the new last accepted text when it passes.
func (t *Tracker) Admit(f models.TranscriptFragment) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.gate.Evaluate(f, t.last[f.Channel])
	if d.Accepted {
		t.last[f.Channel] = f.Text
	}
	return d
}

// LastAccepted returns the last accepted text for ch.
func (t *Tracker) LastAccepted(ch models.Channel) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[ch]
}
