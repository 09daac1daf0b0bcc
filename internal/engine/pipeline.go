package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/detector"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pulse/internal/engine")

// Pipeline executes the registered detectors concurrently over the
// cumulative transcript with per-detector isolation: an error, panic, or
// timeout in one detector is logged, counted, and contributes zero
// candidates without disturbing its siblings or the overall call.
type Pipeline struct {
	registry *detector.Registry
	timeout  time.Duration
	logger   log.Logger
	metrics  *Metrics
}

// NewPipeline creates a pipeline over the given detector registry.
func NewPipeline(registry *detector.Registry, timeout time.Duration, logger log.Logger, metrics *Metrics) *Pipeline {
	return &Pipeline{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Evaluate runs every detector against the transcript and returns the
// concatenated candidates. It returns when all detectors have finished or
// timed out, whichever comes first per detector.
func (p *Pipeline) Evaluate(ctx context.Context, transcript, patientID, encounterID string) []alert.Candidate {
	dets := p.registry.All()
	if len(dets) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "pipeline.evaluate", trace.WithAttributes(
		attribute.String("pulse.session.patient_id", patientID),
		attribute.String("pulse.session.encounter_id", encounterID),
		attribute.Int("pulse.transcript.length", len(transcript)),
		attribute.Int("pulse.detector.count", len(dets)),
	))
	defer span.End()

	results := make(chan []alert.Candidate, len(dets))
	var wg sync.WaitGroup
	for _, d := range dets {
		wg.Add(1)
		go func(d detector.Detector) {
			defer wg.Done()
			results <- p.runDetector(ctx, d, transcript, patientID, encounterID)
		}(d)
	}
	wg.Wait()
	close(results)

	var out []alert.Candidate
	for cs := range results {
		out = append(out, cs...)
	}
	return out
}

type detectOutcome struct {
	candidates []alert.Candidate
	err        error
	panicked   bool
}

// runDetector isolates one detector call behind the per-detector timeout.
// A detector that ignores ctx may leave its goroutine running past the
// timeout; its late result is discarded.
func (p *Pipeline) runDetector(ctx context.Context, d detector.Detector, transcript, patientID, encounterID string) []alert.Candidate {
	ctx, span := tracer.Start(ctx, "detector.run", trace.WithAttributes(
		attribute.String("pulse.detector.name", d.Name()),
	))
	defer span.End()

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan detectOutcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- detectOutcome{err: fmt.Errorf("detector panic: %v", r), panicked: true}
			}
		}()
		cs, err := d.Detect(dctx, transcript, patientID, encounterID)
		done <- detectOutcome{candidates: cs, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			reason := "error"
			if o.panicked {
				reason = "panic"
			}
			p.metrics.DetectorFailures.WithLabelValues(d.Name(), reason).Inc()
			p.logger.Error(ctx, o.err, "detector failed", "detector", d.Name())
			span.RecordError(o.err)
			span.SetStatus(codes.Error, o.err.Error())
			return nil
		}
		p.metrics.DetectorDuration.WithLabelValues(d.Name()).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.Int("pulse.detector.candidates", len(o.candidates)))
		return o.candidates
	case <-dctx.Done():
		p.metrics.DetectorFailures.WithLabelValues(d.Name(), "timeout").Inc()
		p.logger.Warn(ctx, "detector timed out", "detector", d.Name(), "timeout", p.timeout.String())
		span.SetStatus(codes.Error, "detector timeout")
		return nil
	}
}
