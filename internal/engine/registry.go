package engine

import (
	"sync"
	"time"
)

// Registry is the process-wide session table. Presence in the table is the
// sole source of truth for "session active": terminal sessions are removed,
// and a later call with the same key creates a brand-new session.
type Registry struct {
	clock Clock

	mu       sync.RWMutex
	sessions map[Key]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry(clock Clock) *Registry {
	return &Registry{
		clock:    clock,
		sessions: make(map[Key]*Session),
	}
}

// Ensure returns the live session for key, creating it if absent. The second
// return reports whether this call created it.
func (r *Registry) Ensure(key Key) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, false
	}

	now := r.clock.Now()
	s = &Session{
		key:          key,
		state:        StateCreated,
		createdAt:    now,
		lastActivity: now,
		emitted:      make(map[string]struct{}),
	}
	r.sessions[key] = s
	return s, true
}

// Get retrieves the live session for key, if any.
func (r *Registry) Get(key Key) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// End removes the session for key and transitions it to the given terminal
// state, cancelling any pending debounce timer without running it. Returns
// the removed session, or false if no session exists.
func (r *Registry) End(key Key, state State) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	s.state = state
	s.cancelTimerLocked()
	s.mu.Unlock()
	return s, true
}

// Expire removes s only if it is still the registered session for its key
// and is still idle past ttl at now. A session that saw activity between
// the idle scan and this call survives.
func (r *Registry) Expire(s *Session, now time.Time, ttl time.Duration) bool {
	r.mu.Lock()
	cur, ok := r.sessions[s.key]
	if !ok || cur != s {
		r.mu.Unlock()
		return false
	}

	s.mu.Lock()
	if now.Sub(s.lastActivity) < ttl {
		s.mu.Unlock()
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.key)
	s.state = StateExpired
	s.cancelTimerLocked()
	s.mu.Unlock()
	r.mu.Unlock()
	return true
}

// Idle returns sessions whose last activity is older than ttl at now.
func (r *Registry) Idle(now time.Time, ttl time.Duration) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*Session
	for _, s := range r.sessions {
		s.mu.Lock()
		if now.Sub(s.lastActivity) >= ttl {
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}
	return idle
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
