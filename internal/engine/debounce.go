package engine

import "context"

// scheduleEvalLocked arranges a debounced evaluation for s. Each new delta
// supersedes the previous quiet-window timer so evaluation happens once
// dictation pauses; when the oldest unevaluated delta has already waited
// past the ceiling the evaluation fires immediately instead, bounding
// worst-case alert latency under continuous dictation. The generation
// counter keeps at most one timer live per session: a real timer that fires
// concurrently with being superseded still runs its callback, but the
// callback carries the old generation and does nothing. Caller holds s.mu.
func (e *Engine) scheduleEvalLocked(s *Session) {
	now := e.clock.Now()

	if s.timer == nil {
		s.firstDelta = now
	} else {
		if now.Sub(s.firstDelta) >= e.ceiling {
			s.cancelTimerLocked()
			go e.evaluate(context.Background(), s, "ceiling")
			return
		}
		s.timer.Stop()
	}

	s.timerGen++
	gen := s.timerGen
	s.timer = e.clock.AfterFunc(e.quiet, func() { e.timerFired(s, gen) })
}

// timerFired runs the debounced evaluation after a quiet window elapses.
// gen names the timer that scheduled this call; a stale generation means
// the timer was superseded or cancelled after it fired.
func (e *Engine) timerFired(s *Session, gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	e.evaluate(context.Background(), s, "debounce")
}
