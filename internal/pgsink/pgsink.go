// Package pgsink persists finalized alerts in PostgreSQL. It is a write-side
// collaborator of the engine: dedup state stays in memory, nothing here is
// ever read back into a live session.
package pgsink

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/pulse/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pulse/internal/pgsink")

//go:embed schema.sql
var schema string

// Sink writes accepted alerts to PostgreSQL.
type Sink struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Sink. The pool is owned by the
// caller and not closed here.
func New(ctx context.Context, pool *pgxpool.Pool) (*Sink, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("pgsink: apply schema: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// Record inserts one evaluation's accepted alerts in a single batch.
func (s *Sink) Record(ctx context.Context, patientID, encounterID string, alerts []alert.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "pgsink.Record", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
		attribute.Int("pulse.alerts.count", len(alerts)),
	))
	defer span.End()

	batch := &pgx.Batch{}
	for _, a := range alerts {
		related, err := json.Marshal(a.Related)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("pgsink: marshal related: %w", err)
		}
		batch.Queue(
			`INSERT INTO alerts (id, patient_id, encounter_id, type, severity, message, suggestion, related, fingerprint, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING`,
			a.ID, patientID, encounterID, string(a.Type), a.Severity.String(),
			a.Message, a.Suggestion, related, a.Fingerprint, a.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range alerts {
		if _, err := br.Exec(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("pgsink: insert alert: %w", err)
		}
	}
	return nil
}

// ListByEncounter returns the stored alerts for one encounter, newest first.
// Serves the ops/debugging surface, never the engine.
func (s *Sink) ListByEncounter(ctx context.Context, patientID, encounterID string) ([]alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgsink.ListByEncounter", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, type, severity, message, suggestion, related, fingerprint, created_at
		 FROM alerts WHERE patient_id = $1 AND encounter_id = $2
		 ORDER BY created_at DESC`,
		patientID, encounterID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("pgsink: query alerts: %w", err)
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		var (
			a        alert.Alert
			typ, sev string
			related  []byte
		)
		if err := rows.Scan(&a.ID, &typ, &sev, &a.Message, &a.Suggestion, &related, &a.Fingerprint, &a.Timestamp); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("pgsink: scan alert: %w", err)
		}
		a.Type = alert.Type(typ)
		if a.Severity, err = alert.ParseSeverity(sev); err != nil {
			return nil, fmt.Errorf("pgsink: %w", err)
		}
		if len(related) > 0 {
			if err := json.Unmarshal(related, &a.Related); err != nil {
				return nil, fmt.Errorf("pgsink: unmarshal related: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
