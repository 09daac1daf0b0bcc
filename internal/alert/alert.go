// Package alert defines the alert domain model shared by the engine,
// the detectors, and the HTTP boundary.
package alert

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"
)

// Type classifies the clinical condition an alert reports.
type Type string

const (
	TypeDrugInteraction Type = "DRUG_INTERACTION"
	TypeMissingLab      Type = "MISSING_LAB"
	TypeCriticalFinding Type = "CRITICAL_FINDING"
	TypeAbnormalLab     Type = "ABNORMAL_LAB"
)

// Severity orders alerts by clinical urgency: INFO < WARNING < CRITICAL.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

// MarshalJSON renders the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a severity from its string name.
func (s *Severity) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	sev, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// ParseSeverity maps a severity name to its value. Empty parses as INFO.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToUpper(name) {
	case "CRITICAL":
		return SeverityCritical, nil
	case "WARNING":
		return SeverityWarning, nil
	case "INFO", "":
		return SeverityInfo, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", name)
	}
}

// Candidate is a detector's proposal before deduplication and id assignment.
// DedupKeys are the normalized fields that identify the underlying clinical
// fact (the unordered drug pair, the lab name, the finding key); their order
// does not affect the fingerprint.
type Candidate struct {
	Type       Type
	Severity   Severity
	Message    string
	Suggestion string
	Related    map[string]any
	DedupKeys  []string
}

// Alert is a surfaced clinical alert. Immutable once created.
type Alert struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	Suggestion  string         `json:"suggestion,omitempty"`
	Related     map[string]any `json:"related,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Fingerprint string         `json:"fingerprint"`
}

// Fingerprint computes the deterministic identity of the candidate's
// underlying clinical fact: the alert type plus its normalized dedup keys.
// Two candidates for the same fact always hash identically, so a condition
// that keeps appearing in full re-scans is suppressed after first emission.
func (c Candidate) Fingerprint() string {
	keys := make([]string, len(c.DedupKeys))
	for i, k := range c.DedupKeys {
		keys[i] = strings.ToLower(strings.TrimSpace(k))
	}
	sort.Strings(keys)

	h := xxhash.New()
	_, _ = h.WriteString(string(c.Type))
	for _, k := range keys {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(k)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Materialize stamps the candidate into an immutable Alert with a fresh ULID.
func (c Candidate) Materialize(now time.Time) Alert {
	return Alert{
		ID:          ulid.Make().String(),
		Type:        c.Type,
		Severity:    c.Severity,
		Message:     c.Message,
		Suggestion:  c.Suggestion,
		Related:     c.Related,
		Timestamp:   now,
		Fingerprint: c.Fingerprint(),
	}
}
