// Package dispatch runs the capture → transcribe → gate loop of one audio
// channel.
//
// Capture and transcription are independent stages connected by a bounded
// queue. Capture closes a window every ChunkWindow and never waits on STT;
// when the queue is full the chunk is dropped. A single transcribe worker
// keeps chunks of one channel in order. STT failures drop the chunk and the
// loop carries on; nothing is retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/observability/logging"
	"anamnesis-transcript-service/internal/observability/metrics"
	"anamnesis-transcript-service/internal/service/gate"
	"anamnesis-transcript-service/internal/service/stt"
)

// Chunk drop reasons.
const (
	DropTooSmall     = "too_small"
	DropTooLarge     = "too_large"
	DropQueueFull    = "queue_full"
	DropCaptureError = "capture_error"
	DropSTTTimeout   = "stt_timeout"
	DropSTTError     = "stt_error"
	DropSTTFailed    = "stt_unsuccessful"
)

// ChunkLimits guard the STT collaborator against near-empty and oversized
// payloads.
type ChunkLimits struct {
	MinBytes int
	MaxBytes int
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() ChunkLimits {
	return ChunkLimits{
		MinBytes: 2 * 1024,
		MaxBytes: 10 * 1024 * 1024, // synchronous recognition payload limit
	}
}

// Config holds the dispatcher policy.
type Config struct {
	ChunkWindow time.Duration
	QueueSize   int
	STTTimeout  time.Duration
	Limits      ChunkLimits
	Provider    string // STT provider label for metrics
}

// DefaultConfig returns the reference policy.
func DefaultConfig() Config {
	return Config{
		ChunkWindow: 3 * time.Second,
		QueueSize:   4,
		STTTimeout:  30 * time.Second,
		Limits:      DefaultLimits(),
		Provider:    "mock",
	}
}

// Admitter is the per-channel quality gate.
type Admitter interface {
	Admit(f models.TranscriptFragment) gate.Decision
}

// Sink receives the outcome of every transcribed chunk. Accepted fragments
// from all channels of a consultation interleave in arrival order.
type Sink interface {
	Accept(ctx context.Context, f models.TranscriptFragment)
	Reject(ctx context.Context, f models.TranscriptFragment, reason gate.Reason)
}

// Dispatcher owns the loop of one channel.
type Dispatcher struct {
	consultationID string
	channel        models.Channel
	rec            Recorder
	stt            stt.Transcriber
	gate           Admitter
	sink           Sink
	cfg            Config
	metrics        *metrics.Metrics
	log            zerolog.Logger

	seq        Sequencer
	finish     chan struct{}
	finishOnce sync.Once
}

// New creates a dispatcher. Zero-valued settings fall back to the defaults.
func New(
	consultationID string,
	ch models.Channel,
	rec Recorder,
	tr stt.Transcriber,
	adm Admitter,
	sink Sink,
	cfg Config,
	m *metrics.Metrics,
) *Dispatcher {
	def := DefaultConfig()
	if cfg.ChunkWindow <= 0 {
		cfg.ChunkWindow = def.ChunkWindow
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.STTTimeout <= 0 {
		cfg.STTTimeout = def.STTTimeout
	}
	if cfg.Limits.MaxBytes <= 0 {
		cfg.Limits.MaxBytes = def.Limits.MaxBytes
	}
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Dispatcher{
		consultationID: consultationID,
		channel:        ch,
		rec:            rec,
		stt:            tr,
		gate:           adm,
		sink:           sink,
		cfg:            cfg,
		metrics:        m,
		log:            logging.WithChannel("dispatcher", consultationID, string(ch)),
		finish:         make(chan struct{}),
	}
}

// Channel returns the channel this dispatcher serves.
func (d *Dispatcher) Channel() models.Channel {
	return d.channel
}

// Finish asks Run to close the current window, transcribe what is queued and
// return. Cancelling Run's context instead stops immediately.
func (d *Dispatcher) Finish() {
	d.finishOnce.Do(func() { close(d.finish) })
}

// Run starts the recorder and blocks until ctx is cancelled or Finish is
// called. The recorder is always stopped before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.rec.Start(ctx); err != nil {
		return fmt.Errorf("dispatch: start recorder for %s: %w", d.channel, err)
	}
	defer func() {
		if err := d.rec.Stop(); err != nil {
			d.log.Warn().Err(err).Msg("Recorder stop failed")
		}
	}()

	d.log.Info().
		Dur("chunkWindow", d.cfg.ChunkWindow).
		Int("queueSize", d.cfg.QueueSize).
		Msg("Channel dispatcher started")

	queue := make(chan Chunk, d.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		return d.capture(gctx, queue)
	})
	g.Go(func() error {
		return d.transcribe(gctx, queue)
	})
	err := g.Wait()

	d.log.Info().Uint64("chunks", d.seq.Current()).Msg("Channel dispatcher stopped")
	return err
}

func (d *Dispatcher) capture(ctx context.Context, queue chan<- Chunk) error {
	ticker := time.NewTicker(d.cfg.ChunkWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.finish:
			d.rotate(ctx, queue, true)
			return nil
		case <-ticker.C:
			if stopped := d.rotate(ctx, queue, false); stopped {
				return nil
			}
		}
	}
}

// rotate closes the current window and enqueues it. Windows outside the size
// limits never take a queue slot. The last window of a finishing dispatcher
// waits for queue space; all others are dropped when the queue is full. It
// reports whether the recorder has gone away.
func (d *Dispatcher) rotate(ctx context.Context, queue chan<- Chunk, last bool) bool {
	c, err := d.rec.Rotate()
	if err != nil {
		if errors.Is(err, ErrRecorderStopped) {
			return true
		}
		d.metrics.RecordChunkDropped(string(d.channel), DropCaptureError)
		d.log.Warn().Err(err).Msg("Capture window lost")
		return false
	}
	c.Sequence = d.seq.Next()
	d.metrics.RecordChunkCaptured(string(d.channel))
	if reason := d.sizeCheck(c); reason != "" {
		d.drop(c, reason)
		return false
	}

	if last {
		select {
		case queue <- c:
		case <-ctx.Done():
		}
		return false
	}
	select {
	case queue <- c:
	default:
		d.drop(c, DropQueueFull)
	}
	return false
}

func (d *Dispatcher) transcribe(ctx context.Context, queue <-chan Chunk) error {
	for c := range queue {
		if ctx.Err() != nil {
			return nil
		}
		d.process(ctx, c)
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, c Chunk) {
	if reason := d.sizeCheck(c); reason != "" {
		d.drop(c, reason)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.STTTimeout)
	start := time.Now()
	res, err := d.stt.Transcribe(callCtx, c.Audio, c.MimeType)
	cancel()
	d.metrics.RecordSTT(d.cfg.Provider, time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		reason := DropSTTError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = DropSTTTimeout
		}
		d.metrics.RecordSTTError(d.cfg.Provider, reason)
		d.log.Warn().Err(err).Str("chunkId", ChunkID(d.consultationID, d.channel, c.Sequence)).Msg("Transcription failed, chunk dropped")
		d.metrics.RecordChunkDropped(string(d.channel), reason)
		return
	}
	if !res.Success {
		d.drop(c, DropSTTFailed)
		return
	}

	f := models.TranscriptFragment{
		Channel:    d.channel,
		Text:       strings.TrimSpace(res.Text),
		Confidence: res.Confidence,
		CapturedAt: c.CapturedAt,
		Sequence:   c.Sequence,
	}
	dec := d.gate.Admit(f)
	d.metrics.RecordGateDecision(string(d.channel), dec.Accepted, string(dec.Reason))
	if !dec.Accepted {
		d.log.Debug().
			Str("reason", string(dec.Reason)).
			Uint64("sequence", f.Sequence).
			Str("text", f.Text).
			Float64("confidence", f.Confidence).
			Msg("Fragment rejected")
		d.sink.Reject(ctx, f, dec.Reason)
		return
	}
	d.sink.Accept(ctx, f)
}

// sizeCheck returns the drop reason for a chunk outside the limits, or "".
func (d *Dispatcher) sizeCheck(c Chunk) string {
	switch {
	case len(c.Audio) == 0 || len(c.Audio) < d.cfg.Limits.MinBytes:
		return DropTooSmall
	case len(c.Audio) > d.cfg.Limits.MaxBytes:
		return DropTooLarge
	}
	return ""
}

func (d *Dispatcher) drop(c Chunk, reason string) {
	d.metrics.RecordChunkDropped(string(d.channel), reason)
	d.log.Debug().
		Str("chunkId", ChunkID(d.consultationID, d.channel, c.Sequence)).
		Int("bytes", len(c.Audio)).
		Str("reason", reason).
		Msg("Chunk dropped")
}
