package detector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/linnemanlabs/pulse/internal/alert"
)

// interactionRule is one contraindicated drug pair with its guidance.
type interactionRule struct {
	a, b       string
	severity   alert.Severity
	risk       string
	suggestion string
}

var interactionRules = []interactionRule{
	{
		a: "warfarin", b: "aspirin",
		severity:   alert.SeverityCritical,
		risk:       "significantly increased bleeding risk",
		suggestion: "Review anticoagulation plan; consider gastroprotection or alternative antiplatelet strategy.",
	},
	{
		a: "warfarin", b: "ibuprofen",
		severity:   alert.SeverityCritical,
		risk:       "increased bleeding risk and elevated INR",
		suggestion: "Avoid NSAIDs with warfarin; prefer acetaminophen for analgesia.",
	},
	{
		a: "lisinopril", b: "spironolactone",
		severity:   alert.SeverityWarning,
		risk:       "risk of hyperkalemia",
		suggestion: "Check serum potassium and renal function before continuing both.",
	},
	{
		a: "sildenafil", b: "nitroglycerin",
		severity:   alert.SeverityCritical,
		risk:       "risk of severe hypotension",
		suggestion: "Do not co-administer; separate by at least 24 hours.",
	},
	{
		a: "methotrexate", b: "trimethoprim",
		severity:   alert.SeverityCritical,
		risk:       "risk of severe myelosuppression",
		suggestion: "Choose an alternative antibiotic or hold methotrexate with close monitoring.",
	},
	{
		a: "simvastatin", b: "clarithromycin",
		severity:   alert.SeverityWarning,
		risk:       "increased risk of myopathy and rhabdomyolysis",
		suggestion: "Suspend the statin for the course of the macrolide or switch antibiotics.",
	},
}

// DrugInteraction flags mentions of known contraindicated drug pairs
// anywhere in the transcript, even when the two drugs appear in separate
// utterances.
type DrugInteraction struct {
	patterns map[string]*regexp.Regexp
}

// NewDrugInteraction builds the detector with precompiled drug patterns.
func NewDrugInteraction() *DrugInteraction {
	d := &DrugInteraction{patterns: make(map[string]*regexp.Regexp)}
	for _, r := range interactionRules {
		for _, term := range []string{r.a, r.b} {
			if _, ok := d.patterns[term]; !ok {
				d.patterns[term] = wordPattern(term)
			}
		}
	}
	return d
}

func (d *DrugInteraction) Name() string { return "drug_interaction" }

// Detect reports a candidate for each contraindicated pair present in the
// transcript. The dedup key is the unordered drug pair, so repeat mentions
// of the same pair later in the encounter hash identically.
func (d *DrugInteraction) Detect(_ context.Context, transcript, _, _ string) ([]alert.Candidate, error) {
	var out []alert.Candidate
	for _, r := range interactionRules {
		if !d.patterns[r.a].MatchString(transcript) || !d.patterns[r.b].MatchString(transcript) {
			continue
		}
		out = append(out, alert.Candidate{
			Type:       alert.TypeDrugInteraction,
			Severity:   r.severity,
			Message:    fmt.Sprintf("Potential interaction between %s and %s: %s.", r.a, r.b, r.risk),
			Suggestion: r.suggestion,
			Related: map[string]any{
				"drugs": []string{r.a, r.b},
			},
			DedupKeys: []string{r.a, r.b},
		})
	}
	return out, nil
}
