// Package detector defines the clinical rule capability the engine's
// pipeline executes: each detector inspects the cumulative transcript of an
// encounter and proposes candidate alerts.
package detector

import (
	"context"
	"regexp"

	"github.com/linnemanlabs/pulse/internal/alert"
)

// Detector proposes candidate alerts for the current transcript. Detectors
// always see the cumulative transcript, never just the newest delta, because
// a qualifying fact may only become recognizable once separated utterances
// are read together. Implementations must be safe for concurrent use and
// should honor ctx; the pipeline enforces a per-detector timeout around
// Detect and discards late results.
type Detector interface {
	Name() string
	Detect(ctx context.Context, transcript, patientID, encounterID string) ([]alert.Candidate, error)
}

// Registry holds detectors in registration order. The order carries no
// execution meaning; the pipeline runs all entries concurrently.
type Registry struct {
	detectors []Detector
	byName    map[string]int
}

// NewRegistry creates an empty detector registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a detector, replacing any previous detector with the same name.
func (r *Registry) Register(d Detector) {
	if i, ok := r.byName[d.Name()]; ok {
		r.detectors[i] = d
		return
	}
	r.byName[d.Name()] = len(r.detectors)
	r.detectors = append(r.detectors, d)
}

// Get retrieves a detector by name.
func (r *Registry) Get(name string) (Detector, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.detectors[i], true
}

// All returns the registered detectors in registration order.
func (r *Registry) All() []Detector {
	out := make([]Detector, len(r.detectors))
	copy(out, r.detectors)
	return out
}

// wordPattern matches term as a whole word, case-insensitively.
func wordPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}
