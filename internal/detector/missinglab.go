package detector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/linnemanlabs/pulse/internal/alert"
)

// monitoringRule ties a condition or therapy mention to the lab that should
// accompany it.
type monitoringRule struct {
	trigger string
	lab     string
	reason  string
}

var monitoringRules = []monitoringRule{
	{trigger: "warfarin", lab: "INR", reason: "anticoagulation with warfarin requires INR monitoring"},
	{trigger: "diabetes", lab: "HbA1c", reason: "glycemic control should be assessed in diabetic patients"},
	{trigger: "lisinopril", lab: "potassium", reason: "ACE inhibitors can cause hyperkalemia"},
	{trigger: "methotrexate", lab: "liver function", reason: "methotrexate requires hepatic monitoring"},
	{trigger: "hypothyroid", lab: "TSH", reason: "thyroid replacement needs TSH follow-up"},
	{trigger: "lithium", lab: "lithium level", reason: "lithium has a narrow therapeutic window"},
}

// MissingLab flags conditions or therapies mentioned in the transcript whose
// expected monitoring lab is never mentioned.
type MissingLab struct {
	triggers map[string]*regexp.Regexp
	labs     map[string]*regexp.Regexp
}

// NewMissingLab builds the detector with precompiled patterns.
func NewMissingLab() *MissingLab {
	d := &MissingLab{
		triggers: make(map[string]*regexp.Regexp),
		labs:     make(map[string]*regexp.Regexp),
	}
	for _, r := range monitoringRules {
		d.triggers[r.trigger] = wordPattern(r.trigger)
		d.labs[r.lab] = wordPattern(r.lab)
	}
	return d
}

func (d *MissingLab) Name() string { return "missing_lab" }

// Detect reports a candidate per absent lab. The dedup key is the lab name:
// once the gap has been surfaced for this session it stays suppressed even
// though every later re-scan of the transcript reproduces it.
func (d *MissingLab) Detect(_ context.Context, transcript, _, _ string) ([]alert.Candidate, error) {
	var out []alert.Candidate
	for _, r := range monitoringRules {
		if !d.triggers[r.trigger].MatchString(transcript) {
			continue
		}
		if d.labs[r.lab].MatchString(transcript) {
			continue
		}
		out = append(out, alert.Candidate{
			Type:       alert.TypeMissingLab,
			Severity:   alert.SeverityWarning,
			Message:    fmt.Sprintf("No %s mentioned although %s.", r.lab, r.reason),
			Suggestion: fmt.Sprintf("Consider ordering %s.", r.lab),
			Related: map[string]any{
				"trigger": r.trigger,
				"lab":     r.lab,
			},
			DedupKeys: []string{r.lab},
		})
	}
	return out, nil
}
