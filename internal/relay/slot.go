package relay

import (
	"sync"

	"github.com/smazurov/detectnode/internal/process"
)

// Slot holds at most one long-running worker, such as the server camera.
// Installing a new session stops the previous one.
type Slot struct {
	mu      sync.Mutex
	current *process.Session
}

// Replace installs sess and stops the session it displaces, if any.
func (s *Slot) Replace(sess *process.Session) {
	s.mu.Lock()
	prev := s.current
	s.current = sess
	s.mu.Unlock()
	if prev != nil && prev != sess {
		prev.Stop()
	}
}

// Release clears the slot if sess still occupies it.
func (s *Slot) Release(sess *process.Session) {
	s.mu.Lock()
	if s.current == sess {
		s.current = nil
	}
	s.mu.Unlock()
}

// Stop stops the occupying session and reports whether there was one.
func (s *Slot) Stop() bool {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()
	if prev == nil {
		return false
	}
	prev.Stop()
	return true
}

// Current returns the occupying session or nil.
func (s *Slot) Current() *process.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
