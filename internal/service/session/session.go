// Package session ties the pipeline together for one consultation.
//
// A Session owns everything that is per consultation: the quality gate
// tracker, the ingestion buffer, the channel dispatchers, the focused field
// and the RecordState. The record is written by a single worker goroutine
// that consumes a job queue of extraction batches and manual edits, so
// applies never race. Persistence and event delivery run on a separate
// ordered outbox and never block the worker.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"anamnesis-transcript-service/internal/events"
	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/observability/logging"
	"anamnesis-transcript-service/internal/service/buffer"
	"anamnesis-transcript-service/internal/service/gate"
	"anamnesis-transcript-service/internal/service/record"
)

var (
	ErrSessionClosed    = errors.New("session closed")
	ErrNotFound         = errors.New("session not found")
	ErrChannelActive    = errors.New("channel already active")
	ErrChannelNotActive = errors.New("channel not active")
	ErrInvalidChannel   = errors.New("invalid channel")
)

// Delta event sources.
const (
	SourceExtraction = "extraction"
	SourceManual     = "manual"
)

type job func()

// Session is the live state of one consultation.
type Session struct {
	id   string
	deps Deps
	cfg  Config
	log  zerolog.Logger
	now  func() time.Time

	tracker *gate.Tracker
	buf     *buffer.Buffer

	ctx    context.Context
	cancel context.CancelFunc

	jobsMu     sync.RWMutex
	jobs       chan job
	jobsClosed bool
	workerDone chan struct{}

	outboxMu     sync.RWMutex
	outbox       chan effect
	outboxClosed bool
	outboxDone   chan struct{}

	mu       sync.RWMutex
	rec      *models.RecordState // replaced, never mutated, by the worker
	focus    models.FieldPath
	channels map[models.Channel]*channelRun
	closed   bool

	// Worker-owned.
	advanceTimer *time.Timer
	advanceGen   atomic.Uint64

	speech       speechActivity
	watchdogStop context.CancelFunc
	watchdogDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newSession(id string, rec *models.RecordState, deps Deps, cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		deps:       deps,
		cfg:        cfg,
		log:        logging.WithConsultation("session", id),
		now:        time.Now,
		tracker:    gate.NewTracker(deps.Gate),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(chan job, cfg.JobQueueSize),
		workerDone: make(chan struct{}),
		outbox:     make(chan effect, cfg.OutboxSize),
		outboxDone: make(chan struct{}),
		rec:        rec,
		channels:   make(map[models.Channel]*channelRun),
	}
	s.speech.since = s.now()
	s.buf = buffer.New(cfg.Buffer, s.onFlush)
	return s
}

func (s *Session) start() {
	go s.runWorker()
	go s.runOutbox()

	wctx, stop := context.WithCancel(s.ctx)
	s.watchdogStop = stop
	s.watchdogDone = make(chan struct{})
	go s.runWatchdog(wctx)
}

// ID returns the consultation id.
func (s *Session) ID() string {
	return s.id
}

// Record returns a snapshot of the current record.
func (s *Session) Record() *models.RecordState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Clone()
}

// NextField returns the first unanswered field of the current record.
func (s *Session) NextField() (models.FieldPath, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return record.NextUnanswered(s.rec)
}

// Focus returns the field the interactive caller is looking at.
func (s *Session) Focus() models.FieldPath {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focus
}

// SetFocus sets the field used for the focus boost. The zero path clears it.
func (s *Session) SetFocus(p models.FieldPath) error {
	if !p.IsZero() {
		f, ok := s.deps.Schema.Lookup(p.FieldID)
		if !ok || f.SectionID != p.SectionID {
			return fmt.Errorf("%w: %s", record.ErrUnknownField, p)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.focus = p
	return nil
}

// IngestText admits an already transcribed fragment through the same gate
// and buffer as dispatcher output.
func (s *Session) IngestText(ctx context.Context, f models.TranscriptFragment) (gate.Decision, error) {
	if !f.Channel.IsValid() {
		return gate.Decision{}, fmt.Errorf("%w: %q", ErrInvalidChannel, f.Channel)
	}
	if s.isClosed() {
		return gate.Decision{}, ErrSessionClosed
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = s.now()
	}

	dec := s.tracker.Admit(f)
	s.deps.Metrics.RecordGateDecision(string(f.Channel), dec.Accepted, string(dec.Reason))
	if !dec.Accepted {
		s.log.Debug().
			Str("channel", string(f.Channel)).
			Str("reason", string(dec.Reason)).
			Str("text", f.Text).
			Msg("Ingested fragment rejected")
		s.Reject(ctx, f, dec.Reason)
		return dec, nil
	}
	s.Accept(ctx, f)
	return dec, nil
}

// IngestUntagged ingests transcript lines that carry no channel identity.
// Speakers are guessed by alternation and tagged heuristic-speaker.
func (s *Session) IngestUntagged(ctx context.Context, texts []string) ([]gate.Decision, error) {
	frags := models.AssignHeuristicSpeakers(texts, s.now())
	out := make([]gate.Decision, 0, len(frags))
	for _, f := range frags {
		dec, err := s.IngestText(ctx, f)
		if err != nil {
			return out, err
		}
		out = append(out, dec)
	}
	return out, nil
}

// Flush hands whatever is buffered to extraction now.
func (s *Session) Flush() {
	s.buf.Flush()
}

// Accept implements dispatch.Sink. It is called concurrently by every channel
// of the session.
func (s *Session) Accept(ctx context.Context, f models.TranscriptFragment) {
	s.noteSpeech(f, true)

	ev := events.NewTranscriptionEvent(s.id, f)
	s.enqueue(effect{op: "publish_transcription", fn: func(ctx context.Context) error {
		return s.deps.Notifier.PublishTranscription(ctx, ev)
	}})
	if st := s.deps.Store; st != nil {
		s.enqueue(effect{op: "save_transcript", persist: true, fn: func(ctx context.Context) error {
			return st.SaveTranscriptText(ctx, s.id, f)
		}})
	}

	s.buf.Add(f.Text, false)
}

// Reject implements dispatch.Sink.
func (s *Session) Reject(ctx context.Context, f models.TranscriptFragment, reason gate.Reason) {
	s.noteSpeech(f, false)
}

// ConfirmField marks a field as confirmed. It runs on the worker, after any
// batch already queued.
func (s *Session) ConfirmField(ctx context.Context, p models.FieldPath) (models.Delta, error) {
	return s.edit(ctx, "confirm", func(rec *models.RecordState) (*models.RecordState, models.Delta, error) {
		return s.deps.Machine.ConfirmField(rec, p)
	})
}

// UpdateField applies a manual patch.
func (s *Session) UpdateField(ctx context.Context, p models.FieldPath, patch record.FieldPatch) (models.Delta, error) {
	return s.edit(ctx, "update", func(rec *models.RecordState) (*models.RecordState, models.Delta, error) {
		return s.deps.Machine.UpdateField(rec, p, patch)
	})
}

type editFunc func(rec *models.RecordState) (*models.RecordState, models.Delta, error)

type editResult struct {
	delta models.Delta
	err   error
}

func (s *Session) edit(ctx context.Context, op string, fn editFunc) (models.Delta, error) {
	done := make(chan editResult, 1)
	err := s.submit(func() {
		next, d, err := fn(s.current())
		if err != nil {
			done <- editResult{err: err}
			return
		}
		s.setRecord(next)
		s.deps.Metrics.RecordManualEdit(op)
		s.log.Info().Str("op", op).Str("field", d.Path.String()).Msg("Manual edit applied")

		s.publishDelta(SourceManual, []models.Delta{d}, nil, next)
		s.persistRecord(next)
		done <- editResult{delta: d}
	})
	if err != nil {
		return models.Delta{}, err
	}
	select {
	case r := <-done:
		return r.delta, r.err
	case <-ctx.Done():
		return models.Delta{}, ctx.Err()
	}
}

// onFlush runs on whichever goroutine triggered the buffer flush.
func (s *Session) onFlush(text string) {
	if err := s.submit(func() { s.process(text) }); err != nil {
		s.log.Warn().Err(err).Int("chars", len(text)).Msg("Flush after close discarded")
	}
}

// process runs one extraction batch. Worker only.
func (s *Session) process(text string) {
	start := time.Now()
	rec := s.current()
	focus := s.Focus()

	cands := s.deps.Extractor.Extract(text, rec, focus.FieldID)
	next, deltas := s.deps.Machine.Apply(cands, rec)
	suggestions := newSuggestions(cands, rec, next)
	s.setRecord(next)

	s.deps.Metrics.RecordExtraction(len(cands), len(deltas), len(suggestions), time.Since(start).Seconds())
	s.log.Debug().
		Int("chars", len(text)).
		Int("candidates", len(cands)).
		Int("filled", len(deltas)).
		Int("suggested", len(suggestions)).
		Msg("Batch processed")

	if len(deltas) == 0 && len(suggestions) == 0 {
		return
	}
	nextField := s.publishDelta(SourceExtraction, deltas, suggestions, next)
	if len(deltas) > 0 {
		s.persistRecord(next)
		s.scheduleAdvance(nextField)
	}
}

// newSuggestions returns the candidates that changed a field's suggestion.
func newSuggestions(cands []models.CandidateMatch, before, after *models.RecordState) []models.CandidateMatch {
	var out []models.CandidateMatch
	for _, c := range cands {
		a := after.Field(c.Path())
		if a == nil || a.Suggestion == nil || a.Filled() {
			continue
		}
		if a.Suggestion.Confidence != c.Confidence {
			continue
		}
		if b := before.Field(c.Path()); b != nil && b.Suggestion != nil && *b.Suggestion == *a.Suggestion {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Session) publishDelta(source string, deltas []models.Delta, suggestions []models.CandidateMatch, rec *models.RecordState) *models.FieldPath {
	var nextField *models.FieldPath
	if p, ok := record.NextUnanswered(rec); ok {
		nextField = &p
	}
	ev := events.NewDeltaEvent(s.id, source, deltas, suggestions, nextField)
	s.enqueue(effect{op: "publish_delta", fn: func(ctx context.Context) error {
		return s.deps.Notifier.PublishDelta(ctx, ev)
	}})
	return nextField
}

func (s *Session) publishStatus(status, message string, field *models.FieldPath) {
	ev := events.NewStatusEvent(s.id, status, message, field)
	s.enqueue(effect{op: "publish_status", fn: func(ctx context.Context) error {
		return s.deps.Notifier.PublishStatus(ctx, ev)
	}})
}

func (s *Session) persistRecord(rec *models.RecordState) {
	st := s.deps.Store
	if st == nil {
		return
	}
	snap := rec.Clone()
	s.enqueue(effect{op: "save_record", persist: true, fn: func(ctx context.Context) error {
		return st.SaveRecord(ctx, snap)
	}})
}

// scheduleAdvance replaces any pending navigate event. Worker only.
func (s *Session) scheduleAdvance(next *models.FieldPath) {
	if !s.cfg.AutoAdvance {
		return
	}
	gen := s.advanceGen.Add(1)
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
	if next == nil {
		return
	}
	p := *next
	s.advanceTimer = time.AfterFunc(s.cfg.AutoAdvanceDelay, func() {
		if s.advanceGen.Load() != gen {
			return
		}
		s.publishStatus(models.StatusNavigate, "", &p)
	})
}

func (s *Session) cancelAdvance() {
	s.advanceGen.Add(1)
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
}

func (s *Session) current() *models.RecordState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

func (s *Session) setRecord(rec *models.RecordState) {
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) submit(j job) error {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	if s.jobsClosed {
		return ErrSessionClosed
	}
	s.jobs <- j
	return nil
}

func (s *Session) runWorker() {
	defer close(s.workerDone)
	for j := range s.jobs {
		j()
	}
}

// Close stops every channel loop (letting each transcribe its last window
// until ctx expires), stops the watchdog, flushes the buffer through a final
// batch, saves the record and drains the outbox. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	runs := make([]*channelRun, 0, len(s.channels))
	for _, run := range s.channels {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	var errs []error
	for _, run := range runs {
		run.d.Finish()
	}
	for _, run := range runs {
		if err := run.await(ctx); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", run.d.Channel(), err))
		}
	}

	s.watchdogStop()
	<-s.watchdogDone

	s.buf.Close()
	s.jobsMu.Lock()
	s.jobsClosed = true
	close(s.jobs)
	s.jobsMu.Unlock()
	<-s.workerDone

	s.cancelAdvance()
	s.persistRecord(s.current())

	s.outboxMu.Lock()
	s.outboxClosed = true
	close(s.outbox)
	s.outboxMu.Unlock()
	<-s.outboxDone

	s.cancel()

	filled, total := s.current().FilledCount()
	s.log.Info().Int("filled", filled).Int("total", total).Msg("Session closed")
	return errors.Join(errs...)
}
