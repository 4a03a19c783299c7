package drama

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cast is a (scenario, character) pair.
type Cast struct {
	Scenario  string `yaml:"scenario"`
	Character string `yaml:"character"`
}

// Session is one correspondent's place in the play.
type Session struct {
	ID            string
	Correspondent string
	// Room is the transport address replies are sent to.
	Room      string
	Scenario  string
	Character string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sessions is the session table. It is safe for concurrent use; callers
// receive copies.
type Sessions struct {
	mu  sync.RWMutex
	m   map[string]*Session
	now func() time.Time
}

// NewSessions returns an empty table.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session), now: time.Now}
}

// Get returns the session for who.
func (s *Sessions) Get(who string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.m[who]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// GetOrCreate returns the session for who, creating it cast as c when
// absent. created reports whether a new session was made.
func (s *Sessions) GetOrCreate(who, room string, c Cast) (sess Session, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[who]; ok {
		return *existing, false
	}
	now := s.now()
	fresh := &Session{
		ID:            uuid.NewString(),
		Correspondent: who,
		Room:          room,
		Scenario:      c.Scenario,
		Character:     c.Character,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.m[who] = fresh
	return *fresh, true
}

// Update applies fn to the session for who and returns the result.
func (s *Sessions) Update(who string, fn func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[who]
	if !ok {
		return Session{}, false
	}
	fn(sess)
	sess.UpdatedAt = s.now()
	return *sess, true
}

// Delete removes the session for who.
func (s *Sessions) Delete(who string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[who]
	delete(s.m, who)
	return ok
}

// List returns all sessions ordered by correspondent.
func (s *Sessions) List() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.m))
	for _, sess := range s.m {
		out = append(out, *sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Correspondent < out[j].Correspondent })
	return out
}

// Len returns the number of sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Replace swaps the whole table for sessions.
func (s *Sessions) Replace(sessions []Session) {
	m := make(map[string]*Session, len(sessions))
	for i := range sessions {
		sess := sessions[i]
		m[sess.Correspondent] = &sess
	}
	s.mu.Lock()
	s.m = m
	s.mu.Unlock()
}
