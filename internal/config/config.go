// Package config loads the service configuration from the environment.
// Invalid values fall back to the defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Dispatch      DispatchConfig
	Gate          GateConfig
	Buffer        BufferConfig
	Extractor     ExtractorConfig
	Record        RecordConfig
	Session       SessionConfig
	Schema        SchemaConfig
	Kafka         KafkaConfig
	Postgres      PostgresConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal       string
	GRPCPort        string
	HTTPPort        string
	ShutdownTimeout time.Duration
}

type STTConfig struct {
	Provider        string // mock, google
	LanguageCode    string
	SampleRateHz    int
	AudioEncoding   string
	Model           string
	CredentialsFile string
	Timeout         time.Duration
	MockLatency     time.Duration
}

type DispatchConfig struct {
	ChunkWindow   time.Duration
	QueueSize     int
	MinChunkBytes int
	MaxChunkBytes int
}

type GateConfig struct {
	MinLength         int
	MinConfidence     float64
	RepetitionRatio   float64
	DuplicateRatio    float64
	MinSentenceLength int
}

type BufferConfig struct {
	MaxChars int
	MaxWait  time.Duration
	Debounce time.Duration
}

type ExtractorConfig struct {
	MinConfidence float64
	MaxConfidence float64
}

type RecordConfig struct {
	AutoFillThreshold float64
	SuggestThreshold  float64
}

type SessionConfig struct {
	AutoAdvance      bool
	AutoAdvanceDelay time.Duration
	SilenceTimeout   time.Duration
	WatchdogInterval time.Duration
	CloseTimeout     time.Duration
}

type SchemaConfig struct {
	Path string // empty uses the embedded default
}

type KafkaConfig struct {
	Enabled            bool
	Brokers            []string
	TopicTranscription string
	TopicDelta         string
	TopicStatus        string
	Principal          string
}

type PostgresConfig struct {
	DSN      string // empty keeps records in memory
	MaxConns int
	Migrate  bool
}

type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Load reads the configuration from the environment.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-anamnesis-transcript")

	return &Config{
		Service: ServiceConfig{
			Principal:       principal,
			GRPCPort:        envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:        envOrDefault("HTTP_PORT", "8080"),
			ShutdownTimeout: envOrDefaultDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		STT: STTConfig{
			Provider:        envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:    envOrDefault("STT_LANGUAGE_CODE", "pt-BR"),
			SampleRateHz:    envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			AudioEncoding:   envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:           os.Getenv("STT_MODEL"),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			Timeout:         envOrDefaultDuration("STT_TIMEOUT", 30*time.Second),
			MockLatency:     envOrDefaultDuration("STT_MOCK_LATENCY", 0),
		},
		Dispatch: DispatchConfig{
			ChunkWindow:   envOrDefaultDuration("DISPATCH_CHUNK_WINDOW", 3*time.Second),
			QueueSize:     envOrDefaultInt("DISPATCH_QUEUE_SIZE", 4),
			MinChunkBytes: envOrDefaultInt("DISPATCH_MIN_CHUNK_BYTES", 2*1024),
			MaxChunkBytes: envOrDefaultInt("DISPATCH_MAX_CHUNK_BYTES", 10*1024*1024),
		},
		Gate: GateConfig{
			MinLength:         envOrDefaultInt("GATE_MIN_LENGTH", 3),
			MinConfidence:     envOrDefaultFloat("GATE_MIN_CONFIDENCE", 0.7),
			RepetitionRatio:   envOrDefaultFloat("GATE_REPETITION_RATIO", 0.6),
			DuplicateRatio:    envOrDefaultFloat("GATE_DUPLICATE_RATIO", 0.8),
			MinSentenceLength: envOrDefaultInt("GATE_MIN_SENTENCE_LENGTH", 15),
		},
		Buffer: BufferConfig{
			MaxChars: envOrDefaultInt("BUFFER_MAX_CHARS", 100),
			MaxWait:  envOrDefaultDuration("BUFFER_MAX_WAIT", 5*time.Second),
			Debounce: envOrDefaultDuration("BUFFER_DEBOUNCE", 2*time.Second),
		},
		Extractor: ExtractorConfig{
			MinConfidence: envOrDefaultFloat("EXTRACTOR_MIN_CONFIDENCE", 0.3),
			MaxConfidence: envOrDefaultFloat("EXTRACTOR_MAX_CONFIDENCE", 0.95),
		},
		Record: RecordConfig{
			AutoFillThreshold: envOrDefaultFloat("RECORD_AUTOFILL_THRESHOLD", 0.7),
			SuggestThreshold:  envOrDefaultFloat("RECORD_SUGGEST_THRESHOLD", 0.4),
		},
		Session: SessionConfig{
			AutoAdvance:      envOrDefaultBool("SESSION_AUTO_ADVANCE", true),
			AutoAdvanceDelay: envOrDefaultDuration("SESSION_AUTO_ADVANCE_DELAY", 1500*time.Millisecond),
			SilenceTimeout:   envOrDefaultDuration("SESSION_SILENCE_TIMEOUT", 20*time.Second),
			WatchdogInterval: envOrDefaultDuration("SESSION_WATCHDOG_INTERVAL", 2*time.Second),
			CloseTimeout:     envOrDefaultDuration("SESSION_CLOSE_TIMEOUT", 10*time.Second),
		},
		Schema: SchemaConfig{
			Path: os.Getenv("SCHEMA_PATH"),
		},
		Kafka: KafkaConfig{
			Enabled:            envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:            envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTranscription: envOrDefault("KAFKA_TOPIC_TRANSCRIPTION", "consultation.transcription"),
			TopicDelta:         envOrDefault("KAFKA_TOPIC_DELTA", "consultation.record.delta"),
			TopicStatus:        envOrDefault("KAFKA_TOPIC_STATUS", "consultation.status"),
			Principal:          envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Postgres: PostgresConfig{
			DSN:      os.Getenv("POSTGRES_DSN"),
			MaxConns: envOrDefaultInt("POSTGRES_MAX_CONNS", 10),
			Migrate:  envOrDefaultBool("POSTGRES_MIGRATE", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
