package engine

import "time"

// applyUpdate reconciles an incremental segment and an optional
// authoritative full transcript into the stored transcript and returns the
// unevaluated delta (everything past the watermark). Caller holds s.mu.
//
// Reconciliation policy:
//   - A full transcript at least as long as the stored text replaces it
//     outright; the segment is assumed to be contained in it.
//   - A shorter full transcript is a stale out-of-order update: the stored
//     (longer) transcript wins, the delta is empty, and the discrepancy is
//     counted for diagnostics.
//   - A bare segment is appended.
//
// The watermark moves only when an evaluation consumes the delta, not here,
// so a scheduled or forced evaluation later still sees this text exactly
// once. The stored transcript never shrinks, which keeps the watermark
// non-decreasing for the life of the session.
func (s *Session) applyUpdate(now time.Time, segment, fullTranscript string) (delta string, stale bool) {
	s.lastActivity = now
	if s.state == StateCreated {
		s.state = StateActive
	}

	switch {
	case fullTranscript != "" && len(fullTranscript) >= len(s.transcript):
		s.transcript = fullTranscript
	case fullTranscript != "":
		s.staleUpdates++
		return "", true
	case segment != "":
		if s.transcript != "" {
			s.transcript += " "
		}
		s.transcript += segment
	}

	return s.transcript[s.watermark:], false
}

// pendingDelta reports whether unevaluated transcript text exists.
// Caller holds s.mu.
func (s *Session) pendingDelta() bool {
	return len(s.transcript) > s.watermark
}
