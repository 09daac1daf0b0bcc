package engine

import (
	"time"

	"github.com/linnemanlabs/pulse/internal/alert"
)

// filterNew suppresses candidates whose fingerprint was already emitted
// during this session's lifetime and stamps the rest into alerts. The
// emitted set is append-only while the session lives, so a condition that
// keeps qualifying on every full re-scan surfaces at most once. Caller
// holds s.mu.
func (s *Session) filterNew(now time.Time, candidates []alert.Candidate) []alert.Alert {
	var accepted []alert.Alert
	for _, c := range candidates {
		fp := c.Fingerprint()
		if _, seen := s.emitted[fp]; seen {
			continue
		}
		s.emitted[fp] = struct{}{}
		accepted = append(accepted, c.Materialize(now))
	}
	s.alertCount += len(accepted)
	return accepted
}
