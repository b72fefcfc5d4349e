package sweph

import "sync"

// Session holds the state that outlives a single file: the global constants
// and DE number of the most recently opened file, the elements of the last
// any-asteroid file, and one Body slot per body number.
//
// Every File owns its Body records. A file is published to its session only
// once it has been opened successfully; its bodies then take over their
// slots, while files opened earlier keep decoding with their own records.
// All numbered asteroids share one slot.
type Session struct {
	mu        sync.Mutex
	constants GlobalConstants
	deNumber  int32
	elements  *AsteroidElements
	slots     map[int]*Body
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{slots: make(map[int]*Body)}
}

func slotID(id int) int {
	if id >= AstOffset {
		return BodyAnyBody
	}
	return id
}

// commit publishes the state of a successfully opened file.
func (s *Session) commit(f *File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.constants = f.Constants
	s.deNumber = f.DENumber
	if f.elements != nil {
		el := *f.elements
		s.elements = &el
	}
	for _, b := range f.Bodies {
		s.slots[slotID(b.ID)] = b
	}
}

// Slot returns the body of the last opened file that carries id.
func (s *Session) Slot(id int) (*Body, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.slots[slotID(id)]
	return b, ok
}

// Constants returns the global constants of the last opened file.
func (s *Session) Constants() GlobalConstants {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.constants
}

// DENumber returns the JPL ephemeris number of the last opened file.
func (s *Session) DENumber() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deNumber
}

// AsteroidElements returns the elements of the last opened any-asteroid
// file.
func (s *Session) AsteroidElements() (AsteroidElements, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.elements == nil {
		return AsteroidElements{}, false
	}
	return *s.elements, true
}
