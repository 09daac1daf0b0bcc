package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/detector"
)

// newDrugEngine builds an engine with only the drug interaction detector so
// alert counts in assertions aren't muddied by monitoring-gap findings.
func newDrugEngine(t *testing.T, clock Clock) *Engine {
	t.Helper()
	reg := detector.NewRegistry()
	reg.Register(detector.NewDrugInteraction())
	return New(reg, log.Nop(), NewMetrics(prometheus.NewRegistry()), Options{Clock: clock})
}

func TestEngine_StartSessionAndStatus(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	ctx := context.Background()

	if _, err := e.StartSession(ctx, "p1", "e1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	snap, ok, err := e.SessionInfo("p1", "e1")
	if err != nil || !ok {
		t.Fatalf("SessionInfo = ok=%v, err=%v", ok, err)
	}
	if snap.State != StateCreated {
		t.Errorf("State = %q, want %q before any transcript", snap.State, StateCreated)
	}

	// Starting again is a no-op, not an error.
	if _, err := e.StartSession(ctx, "p1", "e1"); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if got := e.Stats().SessionsStarted; got != 1 {
		t.Errorf("SessionsStarted = %d, want 1", got)
	}
}

func TestEngine_ValidationErrors(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	ctx := context.Background()

	if _, err := e.StartSession(ctx, "", "e1"); !IsValidation(err) {
		t.Errorf("empty patient id: err = %v, want validation error", err)
	}
	if _, err := e.StartSession(ctx, "p1", "  "); !IsValidation(err) {
		t.Errorf("blank encounter id: err = %v, want validation error", err)
	}
	if _, err := e.Process(ctx, "p1", "e1", "", ""); !IsValidation(err) {
		t.Errorf("empty segment: err = %v, want validation error", err)
	}
	if _, err := e.UpdateTranscript(ctx, "p1", "e1", ""); !IsValidation(err) {
		t.Errorf("empty full transcript: err = %v, want validation error", err)
	}
}

func TestEngine_ProcessEmitsAndDeduplicates(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	ctx := context.Background()

	alerts, err := e.Process(ctx, "p1", "e1",
		"patient is on warfarin and takes aspirin daily", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Type != alert.TypeDrugInteraction {
		t.Errorf("Type = %q, want %q", a.Type, alert.TypeDrugInteraction)
	}
	if a.Severity != alert.SeverityCritical {
		t.Errorf("Severity = %v, want critical", a.Severity)
	}
	if a.ID == "" || a.Fingerprint == "" {
		t.Error("alert missing ID or fingerprint")
	}

	// Same interaction, different phrasing: suppressed by the fingerprint set.
	alerts, err = e.Process(ctx, "p1", "e1", "reminded them aspirin with warfarin is risky", "")
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("repeat alerts = %d, want 0", len(alerts))
	}

	stats := e.Stats()
	if stats.AlertsGenerated != 1 {
		t.Errorf("AlertsGenerated = %d, want 1", stats.AlertsGenerated)
	}
	if stats.ProcessingCalls != 2 {
		t.Errorf("ProcessingCalls = %d, want 2", stats.ProcessingCalls)
	}
}

func TestEngine_ProcessCreatesSessionImplicitly(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	if _, err := e.Process(context.Background(), "p9", "e9", "hello", ""); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok, _ := e.SessionInfo("p9", "e9"); !ok {
		t.Error("Process did not create the session")
	}
	if got := e.Stats().SessionsStarted; got != 1 {
		t.Errorf("SessionsStarted = %d, want 1", got)
	}
}

func TestEngine_EndSession(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	ctx := context.Background()

	e.StartSession(ctx, "p1", "e1")
	if _, err := e.EndSession(ctx, "p1", "e1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, ok, _ := e.SessionInfo("p1", "e1"); ok {
		t.Error("session still visible after end")
	}
	if _, err := e.EndSession(ctx, "p1", "e1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second EndSession err = %v, want ErrSessionNotFound", err)
	}
	if got := e.Stats().SessionsEnded; got != 1 {
		t.Errorf("SessionsEnded = %d, want 1", got)
	}
}

func TestEngine_ForceProcessUnknownSession(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	if _, err := e.ForceProcess(context.Background(), "nobody", "nowhere"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestEngine_SessionsAreIsolated(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	ctx := context.Background()
	segment := "warfarin and aspirin together"

	a1, _ := e.Process(ctx, "p1", "e1", segment, "")
	a2, _ := e.Process(ctx, "p1", "e2", segment, "")
	if len(a1) != 1 || len(a2) != 1 {
		t.Fatalf("alerts = %d and %d, want 1 each: fingerprints must not leak across sessions", len(a1), len(a2))
	}
}

func TestEngine_StaleUpdateProducesNothing(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	ctx := context.Background()

	long := "the patient has been taking warfarin for atrial fibrillation since 2024"
	if _, err := e.Process(ctx, "p1", "e1", long, ""); err != nil {
		t.Fatalf("Process: %v", err)
	}

	snap, err := e.UpdateTranscript(ctx, "p1", "e1", "warfarin")
	if err != nil {
		t.Fatalf("UpdateTranscript: %v", err)
	}
	if snap.TranscriptLength != len(long) {
		t.Errorf("TranscriptLength = %d, want stored %d", snap.TranscriptLength, len(long))
	}
	if snap.StaleUpdates != 1 {
		t.Errorf("StaleUpdates = %d, want 1", snap.StaleUpdates)
	}
}

func TestEngine_WatermarkAdvancesMonotonically(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	ctx := context.Background()

	e.Process(ctx, "p1", "e1", "first segment", "")
	snap1, _, _ := e.SessionInfo("p1", "e1")
	e.Process(ctx, "p1", "e1", "second segment", "")
	snap2, _, _ := e.SessionInfo("p1", "e1")

	if snap1.Watermark != snap1.TranscriptLength {
		t.Errorf("watermark %d not at transcript end %d after evaluation", snap1.Watermark, snap1.TranscriptLength)
	}
	if snap2.Watermark <= snap1.Watermark {
		t.Errorf("watermark went %d -> %d, want strictly forward", snap1.Watermark, snap2.Watermark)
	}
}

// blockingDetector parks in Detect until released, so a test can end the
// session while an evaluation is in flight.
type blockingDetector struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDetector) Name() string { return "blocking" }

func (d *blockingDetector) Detect(context.Context, string, string, string) ([]alert.Candidate, error) {
	close(d.started)
	<-d.release
	return []alert.Candidate{{
		Type:      alert.TypeCriticalFinding,
		Severity:  alert.SeverityCritical,
		Message:   "late finding",
		DedupKeys: []string{"late"},
	}}, nil
}

func TestEngine_EndedMidFlightEvaluationDiscarded(t *testing.T) {
	t.Parallel()

	det := &blockingDetector{started: make(chan struct{}), release: make(chan struct{})}
	reg := detector.NewRegistry()
	reg.Register(det)
	e := New(reg, log.Nop(), NewMetrics(prometheus.NewRegistry()), Options{Clock: newFakeClock()})
	ctx := context.Background()

	results := make(chan []alert.Alert, 1)
	go func() {
		alerts, _ := e.Process(ctx, "p1", "e1", "some dictation", "")
		results <- alerts
	}()

	<-det.started
	if _, err := e.EndSession(ctx, "p1", "e1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	close(det.release)

	select {
	case alerts := <-results:
		if len(alerts) != 0 {
			t.Fatalf("alerts = %d, want results for an ended session discarded", len(alerts))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not return")
	}
	if got := e.Stats().AlertsGenerated; got != 0 {
		t.Errorf("AlertsGenerated = %d, want 0", got)
	}
}

func TestEngine_SweepExpiresIdleAndFlushesPendingDelta(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	det := newCountingDetector()
	reg := detector.NewRegistry()
	reg.Register(det)
	e := New(reg, log.Nop(), NewMetrics(prometheus.NewRegistry()), Options{
		Clock:      clock,
		SessionTTL: 30 * time.Minute,
	})
	ctx := context.Background()

	// Leave an unevaluated delta without arming the debounce timer, the way
	// a crashed client would: update applied, evaluation never requested.
	s, _ := e.registry.Ensure(Key{PatientID: "p1", EncounterID: "e1"})
	s.mu.Lock()
	s.applyUpdate(clock.Now(), "trailing words nobody evaluated", "")
	s.mu.Unlock()

	clock.Advance(31 * time.Minute)

	if expired := e.SweepIdle(ctx); expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	if det.count() != 1 {
		t.Errorf("evaluations = %d, want 1 final flush before expiry", det.count())
	}
	if _, ok, _ := e.SessionInfo("p1", "e1"); ok {
		t.Error("session still visible after sweep")
	}
	if got := e.Stats().SessionsEnded; got != 1 {
		t.Errorf("SessionsEnded = %d, want 1", got)
	}
}

func TestEngine_SweepLeavesActiveSessionsAlone(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	e := newDrugEngine(t, clock)
	ctx := context.Background()

	e.StartSession(ctx, "p1", "e1")
	clock.Advance(10 * time.Minute)

	if expired := e.SweepIdle(ctx); expired != 0 {
		t.Fatalf("expired = %d, want 0 inside the TTL", expired)
	}
	if _, ok, _ := e.SessionInfo("p1", "e1"); !ok {
		t.Error("fresh session evicted")
	}
}

func TestEngine_SubscribeReceivesAcceptedAlerts(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	ctx := context.Background()

	ch, cancel := e.Subscribe(Key{PatientID: "p1", EncounterID: "e1"})
	defer cancel()

	if _, err := e.Process(ctx, "p1", "e1", "warfarin plus aspirin", ""); err != nil {
		t.Fatalf("Process: %v", err)
	}

	select {
	case a := <-ch:
		if a.Type != alert.TypeDrugInteraction {
			t.Errorf("Type = %q, want %q", a.Type, alert.TypeDrugInteraction)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert delivered to subscriber")
	}
}

// recordingSink captures Record calls for assertions.
type recordingSink struct {
	calls chan []alert.Alert
}

func (s *recordingSink) Record(_ context.Context, _, _ string, alerts []alert.Alert) error {
	s.calls <- alerts
	return nil
}

// recordingNotifier captures Notify calls for assertions.
type recordingNotifier struct {
	calls chan alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, _ Key, a alert.Alert) error {
	n.calls <- a
	return nil
}

func TestEngine_DispatchesToNotifierAndSink(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{calls: make(chan []alert.Alert, 1)}
	notifier := &recordingNotifier{calls: make(chan alert.Alert, 1)}
	reg := detector.NewRegistry()
	reg.Register(detector.NewDrugInteraction())
	e := New(reg, log.Nop(), NewMetrics(prometheus.NewRegistry()), Options{
		Clock:    newFakeClock(),
		Sink:     sink,
		Notifier: notifier,
	})

	if _, err := e.Process(context.Background(), "p1", "e1", "warfarin and aspirin", ""); err != nil {
		t.Fatalf("Process: %v", err)
	}

	select {
	case alerts := <-sink.calls:
		if len(alerts) != 1 {
			t.Errorf("sink received %d alerts, want 1", len(alerts))
		}
	case <-time.After(time.Second):
		t.Fatal("sink never called")
	}
	select {
	case a := <-notifier.calls:
		if a.Fingerprint == "" {
			t.Error("notified alert missing fingerprint")
		}
	case <-time.After(time.Second):
		t.Fatal("notifier never called")
	}
}

func TestEngine_ProcessAvgDurationTracked(t *testing.T) {
	t.Parallel()

	e := newDrugEngine(t, newFakeClock())
	e.Process(context.Background(), "p1", "e1", "warfarin and aspirin", "")

	stats := e.Stats()
	if stats.ProcessingCalls != 1 {
		t.Fatalf("ProcessingCalls = %d, want 1", stats.ProcessingCalls)
	}
	if stats.AvgProcessingMillis < 0 {
		t.Errorf("AvgProcessingMillis = %v, want non-negative", stats.AvgProcessingMillis)
	}
	if stats.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", stats.ActiveSessions)
	}
}
