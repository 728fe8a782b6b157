package selection

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Store isolates selection state per session. Each session owns one State per
// context key; a session and all its contexts are dropped after it has been
// idle for longer than the configured timeout.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	idle     time.Duration
	now      func() time.Time
}

type session struct {
	contexts map[string]*State
	lastSeen time.Time
}

// NewStore creates a session store. idle <= 0 disables expiry.
func NewStore(idle time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*session),
		idle:     idle,
		now:      time.Now,
	}
}

// State returns the state for (sessionID, contextKey), creating an empty one on
// first access.
func (s *Store) State(sessionID, contextKey string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{contexts: make(map[string]*State)}
		s.sessions[sessionID] = sess
	}
	sess.lastSeen = s.now()

	st, ok := sess.contexts[contextKey]
	if !ok {
		st = NewState(contextKey)
		sess.contexts[contextKey] = st
	}
	return st
}

// Contexts returns the sorted context keys that exist for a session.
func (s *Store) Contexts(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(sess.contexts))
	for k := range sess.contexts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DropContext discards one context of a session.
func (s *Store) DropContext(sessionID, contextKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		delete(sess.contexts, contextKey)
	}
}

// EndSession discards a session and all of its contexts.
func (s *Store) EndSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Expire drops sessions idle for longer than the timeout and returns how many
// were removed.
func (s *Store) Expire() int {
	if s.idle <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idle)
	n := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Run expires idle sessions every period until ctx is done.
func (s *Store) Run(ctx context.Context, period time.Duration) {
	if s.idle <= 0 || period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Expire(); n > 0 {
				log.Printf("[Sessions] expired %d idle session(s)", n)
			}
		}
	}
}
