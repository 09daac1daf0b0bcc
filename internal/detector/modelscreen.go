package detector

import (
	"context"
	"strings"

	"github.com/linnemanlabs/pulse/internal/alert"
)

// Finding is one clinical concern returned by a model backend.
type Finding struct {
	Key        string `json:"key"`
	Summary    string `json:"summary"`
	Severity   string `json:"severity"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Provider is the interface to a model backend that screens a transcript
// for findings the rule detectors cannot express.
type Provider interface {
	Screen(ctx context.Context, transcript string) ([]Finding, error)
}

// ModelScreen runs the transcript through a model backend. It is registered
// only when a provider is configured; like every detector it runs under the
// pipeline's timeout and its failures never disturb sibling detectors.
type ModelScreen struct {
	provider Provider
}

// NewModelScreen wraps a model provider as a detector.
func NewModelScreen(p Provider) *ModelScreen {
	return &ModelScreen{provider: p}
}

func (d *ModelScreen) Name() string { return "model_screen" }

// Detect maps model findings onto critical-finding candidates, keyed by the
// model's stable finding key.
func (d *ModelScreen) Detect(ctx context.Context, transcript, _, _ string) ([]alert.Candidate, error) {
	findings, err := d.provider.Screen(ctx, transcript)
	if err != nil {
		return nil, err
	}

	out := make([]alert.Candidate, 0, len(findings))
	for _, f := range findings {
		if f.Key == "" || f.Summary == "" {
			continue
		}
		severity := alert.SeverityWarning
		if strings.EqualFold(f.Severity, "critical") {
			severity = alert.SeverityCritical
		} else if strings.EqualFold(f.Severity, "info") {
			severity = alert.SeverityInfo
		}
		out = append(out, alert.Candidate{
			Type:       alert.TypeCriticalFinding,
			Severity:   severity,
			Message:    f.Summary,
			Suggestion: f.Suggestion,
			Related: map[string]any{
				"source":  "model_screen",
				"finding": f.Key,
			},
			DedupKeys: []string{f.Key},
		})
	}
	return out, nil
}
