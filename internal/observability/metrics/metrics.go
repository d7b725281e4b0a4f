// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "anamnesis_transcript"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge

	// gRPC audio stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Audio and chunk metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	ChunksCaptured      *prometheus.CounterVec
	ChunksDropped       *prometheus.CounterVec

	// STT metrics
	STTLatency *prometheus.HistogramVec
	STTErrors  *prometheus.CounterVec

	// Quality gate metrics
	FragmentsAccepted *prometheus.CounterVec
	FragmentsRejected *prometheus.CounterVec

	// Extraction and record metrics
	BufferFlushes        prometheus.Counter
	ExtractionCandidates prometheus.Histogram
	ExtractionLatency    prometheus.Histogram
	FieldsFilled         prometheus.Counter
	FieldsSuggested      prometheus.Counter
	ManualEdits          *prometheus.CounterVec

	// Sink metrics
	KafkaPublishTotal    *prometheus.CounterVec
	KafkaPublishErrors   *prometheus.CounterVec
	KafkaPublishLatency  *prometheus.HistogramVec
	WebsocketSubscribers prometheus.Gauge
	WebsocketDropped     prometheus.Counter

	// Persistence metrics
	PersistErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of consultation sessions opened",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open consultation sessions",
		}),

		StreamsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of gRPC audio streams started",
		}),
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active gRPC audio streams",
		}),
		StreamsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed streams",
		}),
		StreamsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed streams",
		}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of gRPC audio streams in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		ChunksCaptured: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_captured_total",
			Help:      "Total number of audio chunks closed by the capture stage",
		}, []string{"channel"}),
		ChunksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total number of audio chunks dropped before producing a fragment",
		}, []string{"channel", "reason"}),

		STTLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Speech-to-text latency per chunk in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		FragmentsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_accepted_total",
			Help:      "Total number of transcript fragments accepted by the quality gate",
		}, []string{"channel"}),
		FragmentsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_rejected_total",
			Help:      "Total number of transcript fragments rejected by the quality gate",
		}, []string{"channel", "reason"}),

		BufferFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_flushes_total",
			Help:      "Total number of ingestion buffer flushes",
		}),
		ExtractionCandidates: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_candidates",
			Help:      "Number of candidates produced per extraction",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		ExtractionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_latency_seconds",
			Help:      "Time spent extracting and applying one flushed batch",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		FieldsFilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_filled_total",
			Help:      "Total number of fields auto-filled",
		}),
		FieldsSuggested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_suggested_total",
			Help:      "Total number of medium-confidence candidates attached as suggestions",
		}),
		ManualEdits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manual_edits_total",
			Help:      "Total number of manual field operations",
		}, []string{"op"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		WebsocketSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_subscribers",
			Help:      "Number of connected websocket subscribers",
		}),
		WebsocketDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_dropped_total",
			Help:      "Total number of events dropped for slow websocket subscribers",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Total number of failed persistence calls",
		}, []string{"op"}),
	}
}

// RecordSessionOpened records a consultation session being opened.
func (m *Metrics) RecordSessionOpened() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionClosed records a consultation session being closed.
func (m *Metrics) RecordSessionClosed() {
	m.SessionsActive.Dec()
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordChunkCaptured records a closed capture window.
func (m *Metrics) RecordChunkCaptured(channel string) {
	m.ChunksCaptured.WithLabelValues(channel).Inc()
}

// RecordChunkDropped records a chunk that never became a fragment.
func (m *Metrics) RecordChunkDropped(channel, reason string) {
	m.ChunksDropped.WithLabelValues(channel, reason).Inc()
}

// RecordSTT records the latency of one STT call.
func (m *Metrics) RecordSTT(provider string, latencySeconds float64) {
	m.STTLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordGateDecision records a quality gate outcome.
func (m *Metrics) RecordGateDecision(channel string, accepted bool, reason string) {
	if accepted {
		m.FragmentsAccepted.WithLabelValues(channel).Inc()
		return
	}
	m.FragmentsRejected.WithLabelValues(channel, reason).Inc()
}

// RecordExtraction records one flushed batch going through extraction.
func (m *Metrics) RecordExtraction(candidates, filled, suggested int, latencySeconds float64) {
	m.BufferFlushes.Inc()
	m.ExtractionCandidates.Observe(float64(candidates))
	m.ExtractionLatency.Observe(latencySeconds)
	m.FieldsFilled.Add(float64(filled))
	m.FieldsSuggested.Add(float64(suggested))
}

// RecordManualEdit records a confirm or update from the interactive caller.
func (m *Metrics) RecordManualEdit(op string) {
	m.ManualEdits.WithLabelValues(op).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordPersistError records a failed persistence call.
func (m *Metrics) RecordPersistError(op string) {
	m.PersistErrors.WithLabelValues(op).Inc()
}
