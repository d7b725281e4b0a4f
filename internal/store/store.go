// Package store persists consultation records and accepted transcript text.
package store

import (
	"context"
	"sync"
	"time"

	"anamnesis-transcript-service/internal/models"
)

// Store is the persistence collaborator of a session. Calls may be slow or
// fail; callers never roll back in-memory state on error.
type Store interface {
	// SaveRecord upserts the full record of a consultation.
	SaveRecord(ctx context.Context, rec *models.RecordState) error
	// SaveTranscriptText appends one accepted fragment to the consultation
	// transcript.
	SaveTranscriptText(ctx context.Context, consultationID string, f models.TranscriptFragment) error
	// LoadRecord returns the last saved record, or (nil, nil) when none exists.
	LoadRecord(ctx context.Context, consultationID string) (*models.RecordState, error)
	Ping(ctx context.Context) error
}

// TranscriptLine is one persisted fragment.
type TranscriptLine struct {
	ConsultationID string
	Channel        models.Channel
	SpeakerHint    models.Channel
	Text           string
	Confidence     float64
	Sequence       uint64
	CapturedAt     time.Time
}

func lineFrom(consultationID string, f models.TranscriptFragment) TranscriptLine {
	return TranscriptLine{
		ConsultationID: consultationID,
		Channel:        f.Channel,
		SpeakerHint:    f.SpeakerHint,
		Text:           f.Text,
		Confidence:     f.Confidence,
		Sequence:       f.Sequence,
		CapturedAt:     f.CapturedAt,
	}
}

// MemoryStore keeps everything in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]*models.RecordState
	transcripts map[string][]TranscriptLine
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]*models.RecordState),
		transcripts: make(map[string][]TranscriptLine),
	}
}

// SaveRecord implements Store.
func (m *MemoryStore) SaveRecord(ctx context.Context, rec *models.RecordState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ConsultationID] = rec.Clone()
	return nil
}

// SaveTranscriptText implements Store.
func (m *MemoryStore) SaveTranscriptText(ctx context.Context, consultationID string, f models.TranscriptFragment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[consultationID] = append(m.transcripts[consultationID], lineFrom(consultationID, f))
	return nil
}

// LoadRecord implements Store.
func (m *MemoryStore) LoadRecord(ctx context.Context, consultationID string) (*models.RecordState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[consultationID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Transcript returns a copy of the persisted lines of a consultation.
func (m *MemoryStore) Transcript(consultationID string) []TranscriptLine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TranscriptLine(nil), m.transcripts[consultationID]...)
}
