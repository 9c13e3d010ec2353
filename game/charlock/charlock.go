// Package charlock serializes mutations per character. Different characters
// never contend with each other.
package charlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set is a keyed mutex. The zero value is ready to use.
type Set struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

// Lock acquires charID's lock and returns the matching unlock function.
func (s *Set) Lock(charID int64) (unlock func()) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[int64]*entry)
	}
	e, ok := s.locks[charID]
	if !ok {
		e = &entry{}
		s.locks[charID] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, charID)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of characters currently locked or waiting.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
