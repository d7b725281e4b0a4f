package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"anamnesis-transcript-service/internal/models"
)

// Schema is the SQL DDL of the store. Execute it via [PostgresStore.Migrate]
// or apply it during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS anamnesis_records (
    consultation_id TEXT PRIMARY KEY,
    record          JSONB NOT NULL,
    filled_fields   INTEGER NOT NULL DEFAULT 0,
    total_fields    INTEGER NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS transcript_lines (
    id              BIGSERIAL PRIMARY KEY,
    consultation_id TEXT NOT NULL,
    channel         TEXT NOT NULL,
    speaker_hint    TEXT NOT NULL DEFAULT '',
    text            TEXT NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL,
    sequence        BIGINT NOT NULL,
    captured_at     TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_lines_consultation ON transcript_lines(consultation_id, id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL. The record is kept as a
// single JSONB document.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. Call Migrate before
// issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SaveRecord implements Store.
func (s *PostgresStore) SaveRecord(ctx context.Context, rec *models.RecordState) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record %q: %w", rec.ConsultationID, err)
	}
	filled, total := rec.FilledCount()

	const query = `
		INSERT INTO anamnesis_records (consultation_id, record, filled_fields, total_fields, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (consultation_id) DO UPDATE SET
			record = EXCLUDED.record,
			filled_fields = EXCLUDED.filled_fields,
			total_fields = EXCLUDED.total_fields,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, rec.ConsultationID, doc, filled, total); err != nil {
		return fmt.Errorf("store: save record %q: %w", rec.ConsultationID, err)
	}
	return nil
}

// SaveTranscriptText implements Store.
func (s *PostgresStore) SaveTranscriptText(ctx context.Context, consultationID string, f models.TranscriptFragment) error {
	l := lineFrom(consultationID, f)

	const query = `
		INSERT INTO transcript_lines (
			consultation_id, channel, speaker_hint, text, confidence, sequence, captured_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := s.db.Exec(ctx, query,
		l.ConsultationID, string(l.Channel), string(l.SpeakerHint), l.Text,
		l.Confidence, int64(l.Sequence), l.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save transcript %q: %w", consultationID, err)
	}
	return nil
}

// LoadRecord implements Store.
func (s *PostgresStore) LoadRecord(ctx context.Context, consultationID string) (*models.RecordState, error) {
	const query = `SELECT record FROM anamnesis_records WHERE consultation_id = $1`

	var doc []byte
	if err := s.db.QueryRow(ctx, query, consultationID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load record %q: %w", consultationID, err)
	}

	var rec models.RecordState
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal record %q: %w", consultationID, err)
	}
	return &rec, nil
}

// Ping implements Store. A DB without Ping is assumed reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if p, ok := s.db.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
