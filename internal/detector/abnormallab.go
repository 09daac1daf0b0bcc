package detector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/linnemanlabs/pulse/internal/alert"
)

// labRange holds simplified reference bounds for labs commonly dictated
// inline ("potassium is 2.9"). A zero bound means the side is unchecked.
type labRange struct {
	name  string
	units string
	low   float64
	high  float64
}

var labRanges = []labRange{
	{name: "glucose", units: "mg/dL", low: 70, high: 180},
	{name: "creatinine", units: "mg/dL", high: 1.2},
	{name: "potassium", units: "mmol/L", low: 3.5, high: 5.5},
	{name: "sodium", units: "mmol/L", low: 135, high: 145},
	{name: "hemoglobin", units: "g/dL", low: 12},
	{name: "platelets", units: "10^3/uL", low: 150},
	{name: "crp", units: "mg/dL", high: 1.0},
}

// AbnormalLab flags dictated numeric lab values outside simplified
// reference ranges.
type AbnormalLab struct {
	patterns map[string]*regexp.Regexp
}

// NewAbnormalLab builds the detector. Each lab gets a pattern matching the
// lab name followed, within a short span, by a number: "glucose of 240",
// "potassium: 2.9", "sodium was 128".
func NewAbnormalLab() *AbnormalLab {
	d := &AbnormalLab{patterns: make(map[string]*regexp.Regexp)}
	for _, lr := range labRanges {
		d.patterns[lr.name] = regexp.MustCompile(
			`(?i)\b` + regexp.QuoteMeta(lr.name) + `\b[^0-9\n]{0,20}?(\d+(?:\.\d+)?)`)
	}
	return d
}

func (d *AbnormalLab) Name() string { return "abnormal_lab" }

// Detect reports one candidate per lab per direction. The dedup key is the
// lab name plus the direction, so a glucose that stays high through the
// encounter alerts once.
func (d *AbnormalLab) Detect(_ context.Context, transcript, _, _ string) ([]alert.Candidate, error) {
	var out []alert.Candidate
	for _, lr := range labRanges {
		for _, m := range d.patterns[lr.name].FindAllStringSubmatch(transcript, -1) {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			direction := ""
			var severity alert.Severity
			switch {
			case lr.high > 0 && v > lr.high:
				direction, severity = "high", alert.SeverityWarning
			case lr.low > 0 && v < lr.low:
				direction, severity = "low", alert.SeverityWarning
			default:
				continue
			}
			out = append(out, alert.Candidate{
				Type:       alert.TypeAbnormalLab,
				Severity:   severity,
				Message:    fmt.Sprintf("Dictated %s of %g %s is %s.", lr.name, v, lr.units, direction),
				Suggestion: fmt.Sprintf("Verify the %s result and trend against prior values.", lr.name),
				Related: map[string]any{
					"lab":       lr.name,
					"value":     v,
					"direction": direction,
				},
				DedupKeys: []string{lr.name, direction},
			})
		}
	}
	return out, nil
}
