package pgsink_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/pgsink"
	"github.com/linnemanlabs/pulse/internal/postgres"
)

func openSink(t *testing.T) *pgsink.Sink {
	t.Helper()
	dsn := os.Getenv("PULSE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PULSE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgsink.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgsink.New: %v", err)
	}
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()

	encounterID := "enc-" + ulid.Make().String()
	now := time.Now().Truncate(time.Microsecond).UTC()
	alerts := []alert.Alert{
		{
			ID:          ulid.Make().String(),
			Type:        alert.TypeDrugInteraction,
			Severity:    alert.SeverityCritical,
			Message:     "Potential interaction between warfarin and aspirin.",
			Suggestion:  "Review anticoagulation plan.",
			Related:     map[string]any{"drugs": []any{"warfarin", "aspirin"}},
			Timestamp:   now,
			Fingerprint: "fp-interaction",
		},
		{
			ID:          ulid.Make().String(),
			Type:        alert.TypeMissingLab,
			Severity:    alert.SeverityWarning,
			Message:     "Warfarin mentioned without a recent INR.",
			Timestamp:   now.Add(time.Millisecond),
			Fingerprint: "fp-lab",
		},
	}

	if err := s.Record(ctx, "patient-1", encounterID, alerts); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.ListByEncounter(ctx, "patient-1", encounterID)
	if err != nil {
		t.Fatalf("ListByEncounter: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(alerts) = %d, want 2", len(got))
	}

	// Newest first.
	if got[0].Type != alert.TypeMissingLab {
		t.Errorf("first alert type = %q, want %q", got[0].Type, alert.TypeMissingLab)
	}
	if got[1].Severity != alert.SeverityCritical {
		t.Errorf("second alert severity = %v, want critical", got[1].Severity)
	}
	if got[1].Related["drugs"] == nil {
		t.Error("related payload not round-tripped")
	}
}

func TestRecord_IdempotentOnID(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()

	encounterID := "enc-" + ulid.Make().String()
	a := alert.Alert{
		ID:          ulid.Make().String(),
		Type:        alert.TypeCriticalFinding,
		Severity:    alert.SeverityCritical,
		Message:     "Chest pain radiating to left arm.",
		Timestamp:   time.Now().UTC(),
		Fingerprint: "fp-dup",
	}

	if err := s.Record(ctx, "patient-1", encounterID, []alert.Alert{a}); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := s.Record(ctx, "patient-1", encounterID, []alert.Alert{a}); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	got, err := s.ListByEncounter(ctx, "patient-1", encounterID)
	if err != nil {
		t.Fatalf("ListByEncounter: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(alerts) = %d, want 1 after duplicate insert", len(got))
	}
}

func TestRecord_EmptyBatch(t *testing.T) {
	s := openSink(t)
	if err := s.Record(context.Background(), "patient-1", "enc-x", nil); err != nil {
		t.Fatalf("Record with no alerts: %v", err)
	}
}
