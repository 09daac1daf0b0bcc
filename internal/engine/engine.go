package engine

import (
	"context"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/detector"
)

// Defaults for Options fields left zero.
const (
	DefaultQuiet           = 800 * time.Millisecond
	DefaultCeiling         = 3 * time.Second
	DefaultDetectorTimeout = 5 * time.Second
	DefaultSessionTTL      = 30 * time.Minute
	DefaultSweepInterval   = time.Minute
)

// Notifier receives accepted alerts for out-of-band delivery (e.g. Slack).
// Calls are best-effort: errors are logged and never fail an evaluation.
type Notifier interface {
	Notify(ctx context.Context, key Key, a alert.Alert) error
}

// Sink is an optional persistence collaborator told about finalized alerts.
// The engine never reads anything back from it; dedup state stays in memory.
type Sink interface {
	Record(ctx context.Context, patientID, encounterID string, alerts []alert.Alert) error
}

// Options configures an Engine. Zero durations take the defaults above;
// Notifier, Sink, and Clock are optional.
type Options struct {
	Quiet           time.Duration
	Ceiling         time.Duration
	DetectorTimeout time.Duration
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	Clock           Clock
	Notifier        Notifier
	Sink            Sink
}

// Engine composes the session registry, transcript accumulation, debounce
// scheduling, the detector pipeline, deduplication, and stats behind the
// boundary operations.
type Engine struct {
	registry *Registry
	pipeline *Pipeline
	stats    statsCollector
	subs     *subscribers
	metrics  *Metrics
	logger   log.Logger
	clock    Clock
	notifier Notifier
	sink     Sink

	quiet         time.Duration
	ceiling       time.Duration
	ttl           time.Duration
	sweepInterval time.Duration
}

// New creates an engine over the given detector registry.
func New(detectors *detector.Registry, logger log.Logger, metrics *Metrics, opts Options) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = NewClock()
	}
	if opts.Quiet <= 0 {
		opts.Quiet = DefaultQuiet
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	if opts.DetectorTimeout <= 0 {
		opts.DetectorTimeout = DefaultDetectorTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	return &Engine{
		registry:      NewRegistry(opts.Clock),
		pipeline:      NewPipeline(detectors, opts.DetectorTimeout, logger, metrics),
		subs:          newSubscribers(),
		metrics:       metrics,
		logger:        logger,
		clock:         opts.Clock,
		notifier:      opts.Notifier,
		sink:          opts.Sink,
		quiet:         opts.Quiet,
		ceiling:       opts.Ceiling,
		ttl:           opts.SessionTTL,
		sweepInterval: opts.SweepInterval,
	}
}

func makeKey(patientID, encounterID string) (Key, error) {
	if strings.TrimSpace(patientID) == "" {
		return Key{}, &ValidationError{Field: "patient_id"}
	}
	if strings.TrimSpace(encounterID) == "" {
		return Key{}, &ValidationError{Field: "encounter_id"}
	}
	return Key{PatientID: patientID, EncounterID: encounterID}, nil
}

// StartSession creates the session if absent. Idempotent: a second call for
// the same key is a no-op against the existing session.
func (e *Engine) StartSession(ctx context.Context, patientID, encounterID string) (Stats, error) {
	key, err := makeKey(patientID, encounterID)
	if err != nil {
		return Stats{}, err
	}

	if _, created := e.registry.Ensure(key); created {
		e.recordSessionStart(ctx, key)
	}
	return e.Stats(), nil
}

// EndSession finalizes and removes the session. The pending debounce timer,
// if any, is cancelled without running.
func (e *Engine) EndSession(ctx context.Context, patientID, encounterID string) (Stats, error) {
	key, err := makeKey(patientID, encounterID)
	if err != nil {
		return Stats{}, err
	}

	s, ok := e.registry.End(key, StateClosed)
	if !ok {
		return Stats{}, ErrSessionNotFound
	}

	e.stats.sessionsEnded.Add(1)
	e.metrics.SessionsTotal.WithLabelValues("closed").Inc()
	e.metrics.SessionsActive.Set(float64(e.registry.Len()))

	snap := s.Snapshot()
	e.logger.Info(ctx, "session ended",
		"session", key.String(),
		"transcript_length", snap.TranscriptLength,
		"alerts_emitted", snap.AlertsEmitted,
	)
	return e.Stats(), nil
}

// Process applies the update and evaluates synchronously, returning only
// the alerts newly accepted by this call. The session is created implicitly
// if this is the first call for the key.
func (e *Engine) Process(ctx context.Context, patientID, encounterID, segment, fullTranscript string) ([]alert.Alert, error) {
	key, err := makeKey(patientID, encounterID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(segment) == "" {
		return nil, &ValidationError{Field: "transcript_segment"}
	}

	s, created := e.registry.Ensure(key)
	if created {
		e.recordSessionStart(ctx, key)
	}

	s.mu.Lock()
	_, stale := s.applyUpdate(e.clock.Now(), segment, fullTranscript)
	if stale {
		e.recordStaleUpdate(ctx, s)
	}
	// The synchronous path supersedes any scheduled evaluation, so the
	// decision to run covers the whole pending delta, not just this call's
	// contribution: a stale update must not orphan text an earlier update
	// left scheduled.
	s.cancelTimerLocked()
	pending := s.pendingDelta()
	s.mu.Unlock()

	if !pending {
		return nil, nil
	}
	return e.evaluate(ctx, s, "process"), nil
}

// UpdateTranscript applies an authoritative full-transcript update and
// schedules (never forces) an evaluation through the debounce path. Used by
// callers streaming transcript text independently of alert requests.
func (e *Engine) UpdateTranscript(ctx context.Context, patientID, encounterID, fullTranscript string) (Snapshot, error) {
	key, err := makeKey(patientID, encounterID)
	if err != nil {
		return Snapshot{}, err
	}
	if fullTranscript == "" {
		return Snapshot{}, &ValidationError{Field: "full_transcript"}
	}

	s, created := e.registry.Ensure(key)
	if created {
		e.recordSessionStart(ctx, key)
	}

	s.mu.Lock()
	delta, stale := s.applyUpdate(e.clock.Now(), "", fullTranscript)
	if stale {
		e.recordStaleUpdate(ctx, s)
	}
	if delta != "" {
		e.scheduleEvalLocked(s)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return snap, nil
}

// ForceProcess evaluates any pending delta immediately, cancelling a
// scheduled evaluation. Unlike Process it never creates a session.
func (e *Engine) ForceProcess(ctx context.Context, patientID, encounterID string) ([]alert.Alert, error) {
	key, err := makeKey(patientID, encounterID)
	if err != nil {
		return nil, err
	}

	s, ok := e.registry.Get(key)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	s.cancelTimerLocked()
	s.lastActivity = e.clock.Now()
	s.mu.Unlock()

	return e.evaluate(ctx, s, "force"), nil
}

// SessionInfo returns the session snapshot for key, if a live session exists.
func (e *Engine) SessionInfo(patientID, encounterID string) (Snapshot, bool, error) {
	key, err := makeKey(patientID, encounterID)
	if err != nil {
		return Snapshot{}, false, err
	}

	s, ok := e.registry.Get(key)
	if !ok {
		return Snapshot{}, false, nil
	}
	return s.Snapshot(), true, nil
}

// Stats returns the process-wide counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot(e.registry.Len())
}

// Subscribe registers a listener for alerts accepted for key, regardless of
// which path produced them. The cancel func must be called when done; the
// channel is closed by it. Slow listeners miss alerts rather than block.
func (e *Engine) Subscribe(key Key) (<-chan alert.Alert, func()) {
	return e.subs.subscribe(key)
}

// RunSweeper evicts idle sessions periodically until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepIdle(ctx)
		}
	}
}

// SweepIdle finalizes and removes sessions idle past the TTL. A session with
// a pending delta gets one best-effort final evaluation before removal.
// Returns the number of sessions expired.
func (e *Engine) SweepIdle(ctx context.Context) int {
	now := e.clock.Now()
	expired := 0
	for _, s := range e.registry.Idle(now, e.ttl) {
		s.mu.Lock()
		pending := s.pendingDelta()
		s.mu.Unlock()
		if pending {
			e.evaluate(ctx, s, "sweep")
		}

		if !e.registry.Expire(s, now, e.ttl) {
			continue
		}
		expired++
		e.stats.sessionsEnded.Add(1)
		e.metrics.SessionsTotal.WithLabelValues("expired").Inc()
		e.logger.Info(ctx, "session expired", "session", s.key.String(), "ttl", e.ttl.String())
	}
	e.metrics.SessionsActive.Set(float64(e.registry.Len()))
	return expired
}

// evaluate runs one detector cycle for s and returns the newly accepted
// alerts. The pipeline runs outside the session lock so a slow detector
// never blocks unrelated updates to the session; the watermark and emitted
// set are advanced under the lock afterwards. Output for a session that
// ended mid-flight is discarded: the session is already gone from the
// registry, so its results cannot be deduplicated meaningfully.
func (e *Engine) evaluate(ctx context.Context, s *Session, trigger string) []alert.Alert {
	start := time.Now()

	s.mu.Lock()
	transcript := s.transcript
	if len(transcript) == s.watermark {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	candidates := e.pipeline.Evaluate(ctx, transcript, s.key.PatientID, s.key.EncounterID)

	if live, ok := e.registry.Get(s.key); !ok || live != s {
		e.metrics.EvalsDiscarded.Inc()
		e.logger.Info(ctx, "discarding evaluation for ended session", "session", s.key.String(), "trigger", trigger)
		return nil
	}

	now := e.clock.Now()
	s.mu.Lock()
	if len(transcript) > s.watermark {
		s.watermark = len(transcript)
	}
	accepted := s.filterNew(now, candidates)
	s.mu.Unlock()

	dur := time.Since(start)
	e.stats.recordEvaluation(dur, len(accepted))
	e.metrics.EvaluationsTotal.WithLabelValues(trigger).Inc()
	e.metrics.EvaluationDuration.Observe(dur.Seconds())
	e.metrics.AlertsSuppressed.Add(float64(len(candidates) - len(accepted)))
	for _, a := range accepted {
		e.metrics.AlertsTotal.WithLabelValues(string(a.Type), a.Severity.String()).Inc()
	}

	if len(accepted) > 0 {
		e.subs.publish(s.key, accepted)
		e.dispatch(ctx, s.key, accepted)
	}

	e.logger.Info(ctx, "evaluation complete",
		"session", s.key.String(),
		"trigger", trigger,
		"candidates", len(candidates),
		"accepted", len(accepted),
		"duration", dur.Seconds(),
	)
	return accepted
}

// dispatch hands accepted alerts to the optional notifier and sink without
// blocking the evaluation's caller.
func (e *Engine) dispatch(ctx context.Context, key Key, accepted []alert.Alert) {
	if e.notifier == nil && e.sink == nil {
		return
	}

	bg := context.WithoutCancel(ctx)
	if e.notifier != nil {
		go func() {
			for _, a := range accepted {
				if err := e.notifier.Notify(bg, key, a); err != nil {
					e.logger.Error(bg, err, "alert notification failed", "alert_id", a.ID)
				}
			}
		}()
	}
	if e.sink != nil {
		go func() {
			if err := e.sink.Record(bg, key.PatientID, key.EncounterID, accepted); err != nil {
				e.logger.Error(bg, err, "alert sink write failed", "session", key.String())
			}
		}()
	}
}

func (e *Engine) recordSessionStart(ctx context.Context, key Key) {
	e.stats.sessionsStarted.Add(1)
	e.metrics.SessionsTotal.WithLabelValues("started").Inc()
	e.metrics.SessionsActive.Set(float64(e.registry.Len()))
	e.logger.Info(ctx, "session started", "session", key.String())
}

// recordStaleUpdate counts a discarded shorter full transcript. Caller
// holds s.mu.
func (e *Engine) recordStaleUpdate(ctx context.Context, s *Session) {
	e.metrics.StaleUpdates.Inc()
	e.logger.Warn(ctx, "stale transcript update discarded",
		"session", s.key.String(),
		"stored_length", len(s.transcript),
		"stale_updates", s.staleUpdates,
	)
}
