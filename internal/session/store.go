// Package session keeps in-memory per-chat survey sessions and serializes
// all work on a chat through a per-chat lock, so webhook handling and the
// idle-session reaper can never interleave on the same conversation.
package session

import (
	"log/slog"
	"sync"

	"surveyflow/internal/models"
)

// Store holds the active sessions. Access to a chat's state happens only
// inside Do, which runs the caller's function under that chat's lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*models.SessionState
	locks    map[string]*chatLock
}

// chatLock is refcounted so entries for idle chats are dropped once the last
// waiter leaves.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*models.SessionState),
		locks:    make(map[string]*chatLock),
	}
}

func (s *Store) acquire(chatID string) *chatLock {
	s.mu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &chatLock{}
		s.locks[chatID] = l
	}
	l.refs++
	s.mu.Unlock()
	l.mu.Lock()
	return l
}

func (s *Store) release(chatID string, l *chatLock) {
	l.mu.Unlock()
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, chatID)
	}
	s.mu.Unlock()
}

// Do runs fn under the chat's lock with the current session state (nil when
// the chat has none). The state fn returns replaces the stored one; returning
// nil removes the session. Calls for different chats proceed in parallel;
// calls for the same chat are strictly serialized.
func (s *Store) Do(chatID string, fn func(state *models.SessionState) *models.SessionState) {
	l := s.acquire(chatID)
	defer s.release(chatID, l)

	s.mu.Lock()
	state := s.sessions[chatID]
	s.mu.Unlock()

	next := fn(state)

	s.mu.Lock()
	if next == nil {
		if state != nil {
			delete(s.sessions, chatID)
			slog.Debug("Session removed", "chat_id", chatID)
		}
	} else {
		s.sessions[chatID] = next
	}
	s.mu.Unlock()
}

// Snapshot returns the chat ids with active sessions.
func (s *Store) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
