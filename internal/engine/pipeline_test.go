package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/detector"
)

// scriptedDetector runs an arbitrary function as a detector.
type scriptedDetector struct {
	name string
	fn   func(ctx context.Context, transcript string) ([]alert.Candidate, error)
}

func (d *scriptedDetector) Name() string { return d.name }

func (d *scriptedDetector) Detect(ctx context.Context, transcript, _, _ string) ([]alert.Candidate, error) {
	return d.fn(ctx, transcript)
}

func oneCandidate(key string) []alert.Candidate {
	return []alert.Candidate{{
		Type:      alert.TypeCriticalFinding,
		Severity:  alert.SeverityWarning,
		Message:   "finding " + key,
		DedupKeys: []string{key},
	}}
}

func newTestPipeline(t *testing.T, timeout time.Duration, dets ...detector.Detector) *Pipeline {
	t.Helper()
	reg := detector.NewRegistry()
	for _, d := range dets {
		reg.Register(d)
	}
	return NewPipeline(reg, timeout, log.Nop(), NewMetrics(prometheus.NewRegistry()))
}

func TestPipeline_ConcatenatesAllDetectors(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, time.Second,
		&scriptedDetector{name: "a", fn: func(context.Context, string) ([]alert.Candidate, error) { return oneCandidate("a"), nil }},
		&scriptedDetector{name: "b", fn: func(context.Context, string) ([]alert.Candidate, error) { return oneCandidate("b"), nil }},
		&scriptedDetector{name: "c", fn: func(context.Context, string) ([]alert.Candidate, error) { return nil, nil }},
	)

	got := p.Evaluate(context.Background(), "transcript", "p1", "e1")
	if len(got) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(got))
	}
}

func TestPipeline_ErrorIsolated(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, time.Second,
		&scriptedDetector{name: "broken", fn: func(context.Context, string) ([]alert.Candidate, error) {
			return nil, errors.New("rules backend unavailable")
		}},
		&scriptedDetector{name: "ok", fn: func(context.Context, string) ([]alert.Candidate, error) { return oneCandidate("ok"), nil }},
	)

	got := p.Evaluate(context.Background(), "transcript", "p1", "e1")
	if len(got) != 1 {
		t.Fatalf("len(candidates) = %d, want 1 from the healthy detector", len(got))
	}
}

func TestPipeline_PanicIsolated(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, time.Second,
		&scriptedDetector{name: "panicky", fn: func(context.Context, string) ([]alert.Candidate, error) {
			panic("bad rule table")
		}},
		&scriptedDetector{name: "ok", fn: func(context.Context, string) ([]alert.Candidate, error) { return oneCandidate("ok"), nil }},
	)

	got := p.Evaluate(context.Background(), "transcript", "p1", "e1")
	if len(got) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(got))
	}
}

func TestPipeline_TimeoutBoundsSlowDetector(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, 50*time.Millisecond,
		&scriptedDetector{name: "hung", fn: func(ctx context.Context, _ string) ([]alert.Candidate, error) {
			<-ctx.Done() // never returns on its own
			return oneCandidate("late"), ctx.Err()
		}},
		&scriptedDetector{name: "fast", fn: func(context.Context, string) ([]alert.Candidate, error) { return oneCandidate("fast"), nil }},
	)

	start := time.Now()
	got := p.Evaluate(context.Background(), "transcript", "p1", "e1")
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("Evaluate took %v, want bounded by the 50ms detector timeout", elapsed)
	}
	if len(got) != 1 || got[0].DedupKeys[0] != "fast" {
		t.Fatalf("candidates = %+v, want only the fast detector's", got)
	}
}

func TestPipeline_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	p := newTestPipeline(t, time.Second,
		&scriptedDetector{name: "a", fn: func(context.Context, string) ([]alert.Candidate, error) { return oneCandidate("a"), nil }},
		&scriptedDetector{name: "b", fn: func(context.Context, string) ([]alert.Candidate, error) { return nil, nil }},
	)
	p.Evaluate(context.Background(), "transcript", "p1", "e1")

	counts := make(map[string]int)
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
	}
	if counts["pipeline.evaluate"] != 1 {
		t.Errorf("pipeline.evaluate spans = %d, want 1", counts["pipeline.evaluate"])
	}
	if counts["detector.run"] != 2 {
		t.Errorf("detector.run spans = %d, want 2", counts["detector.run"])
	}

	for _, s := range exporter.GetSpans() {
		if s.Name != "pipeline.evaluate" {
			continue
		}
		attrs := make(map[string]any)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if v := attrs["pulse.session.patient_id"]; v != "p1" {
			t.Errorf("pulse.session.patient_id = %v, want p1", v)
		}
		if v := attrs["pulse.detector.count"]; v != int64(2) {
			t.Errorf("pulse.detector.count = %v, want 2", v)
		}
	}
}

func TestPipeline_EmptyRegistry(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, time.Second)
	if got := p.Evaluate(context.Background(), "transcript", "p1", "e1"); got != nil {
		t.Errorf("candidates = %+v, want nil", got)
	}
}
