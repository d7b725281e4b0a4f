package session

import (
	"time"

	"anamnesis-transcript-service/internal/events"
	"anamnesis-transcript-service/internal/observability/metrics"
	"anamnesis-transcript-service/internal/schema"
	"anamnesis-transcript-service/internal/service/buffer"
	"anamnesis-transcript-service/internal/service/dispatch"
	"anamnesis-transcript-service/internal/service/extract"
	"anamnesis-transcript-service/internal/service/gate"
	"anamnesis-transcript-service/internal/service/record"
	"anamnesis-transcript-service/internal/service/stt"
	"anamnesis-transcript-service/internal/store"
)

// Config holds the per-session policy.
type Config struct {
	Buffer   buffer.Config
	Dispatch dispatch.Config

	AutoAdvance      bool
	AutoAdvanceDelay time.Duration

	SilenceTimeout   time.Duration // no accepted fragment for this long → no_usable_speech
	WatchdogInterval time.Duration

	JobQueueSize  int
	OutboxSize    int
	OutboxTimeout time.Duration // per persistence / publish call
}

// DefaultConfig returns the reference policy.
func DefaultConfig() Config {
	return Config{
		Buffer:           buffer.DefaultConfig(),
		Dispatch:         dispatch.DefaultConfig(),
		AutoAdvance:      true,
		AutoAdvanceDelay: 1500 * time.Millisecond,
		SilenceTimeout:   20 * time.Second,
		WatchdogInterval: 2 * time.Second,
		JobQueueSize:     64,
		OutboxSize:       256,
		OutboxTimeout:    5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AutoAdvanceDelay <= 0 {
		c.AutoAdvanceDelay = def.AutoAdvanceDelay
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = def.SilenceTimeout
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = def.WatchdogInterval
	}
	if c.JobQueueSize <= 0 {
		c.JobQueueSize = def.JobQueueSize
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = def.OutboxSize
	}
	if c.OutboxTimeout <= 0 {
		c.OutboxTimeout = def.OutboxTimeout
	}
	return c
}

// Deps are the collaborators shared by every session. Store and Notifier
// may be nil.
type Deps struct {
	Schema    *schema.Schema
	Gate      *gate.Gate
	Extractor *extract.Extractor
	Machine   *record.Machine
	STT       stt.Transcriber
	Store     store.Store
	Notifier  events.Notifier
	Metrics   *metrics.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Gate == nil {
		d.Gate = gate.New(gate.DefaultConfig())
	}
	if d.Extractor == nil {
		d.Extractor = extract.New(d.Schema, extract.DefaultConfig())
	}
	if d.Machine == nil {
		d.Machine = record.NewMachine(record.DefaultThresholds())
	}
	if d.Notifier == nil {
		d.Notifier = events.Fanout{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.DefaultMetrics
	}
	return d
}
