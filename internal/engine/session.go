package engine

import (
	"sync"
	"time"
)

// Key identifies one monitored encounter.
type Key struct {
	PatientID   string
	EncounterID string
}

func (k Key) String() string { return k.PatientID + "/" + k.EncounterID }

// State tracks where a session is in its lifecycle.
type State string

const (
	// StateCreated means registered, no transcript applied yet.
	StateCreated State = "created"

	// StateActive means at least one transcript update was applied.
	StateActive State = "active"

	// StateClosed means explicitly ended. Terminal.
	StateClosed State = "closed"

	// StateExpired means evicted by the idle sweep. Terminal.
	StateExpired State = "expired"
)

// Session is the live state for one (patient, encounter) pair. All mutable
// fields are guarded by mu, so concurrent calls for the same key serialize
// while sessions for different keys proceed fully in parallel.
type Session struct {
	key Key

	mu           sync.Mutex
	state        State
	transcript   string
	watermark    int
	createdAt    time.Time
	lastActivity time.Time
	emitted      map[string]struct{}
	alertCount   int
	staleUpdates int

	// debounce state
	timer      Timer
	timerGen   uint64
	firstDelta time.Time
}

// Key returns the session's identity.
func (s *Session) Key() Key { return s.key }

// Snapshot is the read-only view of a session returned at the boundary.
type Snapshot struct {
	PatientID        string    `json:"patient_id"`
	EncounterID      string    `json:"encounter_id"`
	State            State     `json:"state"`
	TranscriptLength int       `json:"transcript_length"`
	Watermark        int       `json:"watermark"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	AlertsEmitted    int       `json:"alerts_emitted"`
	StaleUpdates     int       `json:"stale_updates,omitempty"`
}

// Snapshot returns a consistent copy of the session's public state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		PatientID:        s.key.PatientID,
		EncounterID:      s.key.EncounterID,
		State:            s.state,
		TranscriptLength: len(s.transcript),
		Watermark:        s.watermark,
		CreatedAt:        s.createdAt,
		LastActivity:     s.lastActivity,
		AlertsEmitted:    s.alertCount,
		StaleUpdates:     s.staleUpdates,
	}
}

// cancelTimerLocked stops any pending debounce timer and advances the
// generation so a callback from a timer that already fired finds itself
// superseded. Caller holds s.mu.
func (s *Session) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}
