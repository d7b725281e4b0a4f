package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/observability/logging"
	"anamnesis-transcript-service/internal/schema"
)

// Registry owns the live sessions, keyed by consultation id.
type Registry struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. deps.Schema is required.
func NewRegistry(deps Deps, cfg Config) *Registry {
	return &Registry{
		deps:     deps.withDefaults(),
		cfg:      cfg.withDefaults(),
		log:      logging.WithComponent("registry"),
		sessions: make(map[string]*Session),
	}
}

// Open returns the session of a consultation, creating it when needed. A new
// session resumes the last saved record when the store has one. created
// reports whether this call created the session.
func (r *Registry) Open(ctx context.Context, consultationID string) (s *Session, created bool, err error) {
	consultationID = strings.TrimSpace(consultationID)
	if consultationID == "" {
		return nil, false, errors.New("session: empty consultation id")
	}
	if s, ok := r.lookup(consultationID); ok {
		return s, false, nil
	}

	// Load outside the lock; a slow store must not block other consultations.
	rec, loadErr := r.load(ctx, consultationID)

	r.mu.Lock()
	if s, ok := r.sessions[consultationID]; ok {
		r.mu.Unlock()
		return s, false, nil
	}
	s = newSession(consultationID, rec, r.deps, r.cfg)
	r.sessions[consultationID] = s
	r.mu.Unlock()

	s.start()
	r.deps.Metrics.RecordSessionOpened()

	filled, total := rec.FilledCount()
	r.log.Info().
		Str("consultationId", consultationID).
		Int("filled", filled).
		Int("total", total).
		Msg("Session opened")

	if loadErr != nil {
		s.enqueue(effect{op: "warn_load", fn: func(context.Context) error {
			s.warn(fmt.Sprintf("load record failed, starting empty: %v", loadErr))
			return nil
		}})
	}
	return s, true, nil
}

// load returns the saved record reconciled with the current schema, or an
// empty record.
func (r *Registry) load(ctx context.Context, consultationID string) (*models.RecordState, error) {
	fresh := r.deps.Schema.NewRecord(consultationID)
	if r.deps.Store == nil {
		return fresh, nil
	}
	saved, err := r.deps.Store.LoadRecord(ctx, consultationID)
	if err != nil {
		r.deps.Metrics.RecordPersistError("load_record")
		r.log.Warn().Err(err).Str("consultationId", consultationID).Msg("Load record failed")
		return fresh, err
	}
	return restore(r.deps.Schema, fresh, saved), nil
}

// restore copies saved field states into a record built from the current
// schema. Fields the schema no longer has are dropped.
func restore(sc *schema.Schema, fresh, saved *models.RecordState) *models.RecordState {
	if saved == nil {
		return fresh
	}
	for _, f := range sc.Fields() {
		old := saved.Field(f.Path())
		if old == nil {
			continue
		}
		cur := fresh.Field(f.Path())
		label := cur.Label
		*cur = *old
		cur.ID = f.ID
		cur.Label = label
		if old.Suggestion != nil {
			sg := *old.Suggestion
			cur.Suggestion = &sg
		}
	}
	if !saved.UpdatedAt.IsZero() {
		fresh.UpdatedAt = saved.UpdatedAt
	}
	return fresh
}

// Get returns a live session.
func (r *Registry) Get(consultationID string) (*Session, error) {
	if s, ok := r.lookup(consultationID); ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, consultationID)
}

// Close closes and forgets one session.
func (r *Registry) Close(ctx context.Context, consultationID string) error {
	r.mu.Lock()
	s, ok := r.sessions[consultationID]
	delete(r.sessions, consultationID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, consultationID)
	}
	err := s.Close(ctx)
	r.deps.Metrics.RecordSessionClosed()
	return err
}

// CloseAll closes every session concurrently.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			err := s.Close(ctx)
			r.deps.Metrics.RecordSessionClosed()
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.ID(), err))
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}
