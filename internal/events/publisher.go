package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/observability/metrics"
)

// Publisher publishes session events to one Kafka topic per event type,
// keyed by consultation id so a consultation's events stay ordered.
type Publisher struct {
	writerTranscription *kafka.Writer
	writerDelta         *kafka.Writer
	writerStatus        *kafka.Writer
	principal           string
	topicTranscription  string
	topicDelta          string
	topicStatus         string
	enabled             bool
	metrics             *metrics.Metrics
}

var _ Notifier = (*Publisher)(nil)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers            []string
	TopicTranscription string
	TopicDelta         string
	TopicStatus        string
	Principal          string
	Enabled            bool
}

// New creates a Kafka publisher. A nil or disabled config yields a log-only
// publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	p := &Publisher{
		principal:          cfg.Principal,
		topicTranscription: cfg.TopicTranscription,
		topicDelta:         cfg.TopicDelta,
		topicStatus:        cfg.TopicStatus,
		metrics:            m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerTranscription = newWriter(cfg.Brokers, cfg.TopicTranscription, transport)
	p.writerDelta = newWriter(cfg.Brokers, cfg.TopicDelta, transport)
	p.writerStatus = newWriter(cfg.Brokers, cfg.TopicStatus, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscription", cfg.TopicTranscription).
		Str("topicDelta", cfg.TopicDelta).
		Str("topicStatus", cfg.TopicStatus).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishTranscription publishes an accepted fragment.
func (p *Publisher) PublishTranscription(ctx context.Context, ev models.TranscriptionEvent) error {
	return p.publish(ctx, p.writerTranscription, p.topicTranscription, ev.Type, ev.ConsultationID, ev)
}

// PublishDelta publishes a batch of field changes.
func (p *Publisher) PublishDelta(ctx context.Context, ev models.DeltaEvent) error {
	return p.publish(ctx, p.writerDelta, p.topicDelta, ev.Type, ev.ConsultationID, ev)
}

// PublishStatus publishes a session status change.
func (p *Publisher) PublishStatus(ctx context.Context, ev models.StatusEvent) error {
	return p.publish(ctx, p.writerStatus, p.topicStatus, ev.Type, ev.ConsultationID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for name, w := range map[string]*kafka.Writer{
		"transcription": p.writerTranscription,
		"delta":         p.writerDelta,
		"status":        p.writerStatus,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
