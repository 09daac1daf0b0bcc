package engine

import (
	"sync"

	"github.com/linnemanlabs/pulse/internal/alert"
)

const subscriberBuffer = 16

// subscribers fans accepted alerts out to per-session listeners, used by the
// websocket stream. Publishing never blocks: a listener that falls behind
// its buffer misses alerts rather than stalling an evaluation.
type subscribers struct {
	mu   sync.Mutex
	subs map[Key]map[int]chan alert.Alert
	next int
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[Key]map[int]chan alert.Alert)}
}

func (s *subscribers) subscribe(key Key) (<-chan alert.Alert, func()) {
	ch := make(chan alert.Alert, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]chan alert.Alert)
	}
	s.subs[key][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if m, ok := s.subs[key]; ok {
			if _, ok := m[id]; ok {
				delete(m, id)
				close(ch)
			}
			if len(m) == 0 {
				delete(s.subs, key)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *subscribers) publish(key Key, alerts []alert.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[key] {
		for _, a := range alerts {
			select {
			case ch <- a:
			default:
			}
		}
	}
}
