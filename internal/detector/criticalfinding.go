package detector

import (
	"context"
	"strings"

	"github.com/linnemanlabs/pulse/internal/alert"
)

// redFlag is a phrase whose presence in a transcript warrants immediate
// clinician attention regardless of surrounding context.
type redFlag struct {
	key        string
	phrases    []string
	message    string
	suggestion string
}

var redFlags = []redFlag{
	{
		key:        "chest_pain_radiating",
		phrases:    []string{"chest pain radiating", "crushing chest pain", "chest pressure radiating"},
		message:    "Transcript describes chest pain with radiation, concerning for acute coronary syndrome.",
		suggestion: "Obtain ECG and troponin immediately.",
	},
	{
		key:        "dyspnea_at_rest",
		phrases:    []string{"shortness of breath at rest", "can't breathe", "cannot breathe"},
		message:    "Transcript describes dyspnea at rest.",
		suggestion: "Assess oxygen saturation and respiratory status now.",
	},
	{
		key:        "gi_bleed",
		phrases:    []string{"blood in stool", "black tarry stool", "vomiting blood"},
		message:    "Transcript suggests gastrointestinal bleeding.",
		suggestion: "Check hemoglobin and hemodynamic stability; consider GI consult.",
	},
	{
		key:        "anaphylaxis",
		phrases:    []string{"throat swelling", "anaphylaxis", "lips swelling"},
		message:    "Transcript suggests a severe allergic reaction.",
		suggestion: "Evaluate airway; epinephrine per protocol if anaphylaxis confirmed.",
	},
	{
		key:        "suicidal_ideation",
		phrases:    []string{"suicidal", "wants to end it all", "thoughts of hurting myself"},
		message:    "Transcript contains language consistent with suicidal ideation.",
		suggestion: "Perform a structured risk assessment before the patient leaves.",
	},
}

// CriticalFinding scans the transcript for red-flag phrases.
type CriticalFinding struct{}

// NewCriticalFinding creates the red-flag phrase detector.
func NewCriticalFinding() *CriticalFinding { return &CriticalFinding{} }

func (d *CriticalFinding) Name() string { return "critical_finding" }

// Detect reports one candidate per matched red flag, keyed by the flag's
// stable key rather than the literal phrase so alternate phrasings of the
// same finding deduplicate together.
func (d *CriticalFinding) Detect(_ context.Context, transcript, _, _ string) ([]alert.Candidate, error) {
	lower := strings.ToLower(transcript)
	var out []alert.Candidate
	for _, f := range redFlags {
		matched := ""
		for _, p := range f.phrases {
			if strings.Contains(lower, p) {
				matched = p
				break
			}
		}
		if matched == "" {
			continue
		}
		out = append(out, alert.Candidate{
			Type:       alert.TypeCriticalFinding,
			Severity:   alert.SeverityCritical,
			Message:    f.message,
			Suggestion: f.suggestion,
			Related: map[string]any{
				"finding": f.key,
				"phrase":  matched,
			},
			DedupKeys: []string{f.key},
		})
	}
	return out, nil
}
