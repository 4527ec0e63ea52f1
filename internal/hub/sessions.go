package hub

import (
	"sync"

	"gamehub/internal/catalog"
)

// SessionManager tracks every live session. The handler is the only
// writer of session identity and room membership; the manager's lock
// covers the set itself so the accept loop and cleanup paths can
// add and remove concurrently.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[*Session]struct{})}
}

// Add registers a freshly accepted session.
func (sm *SessionManager) Add(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[s] = struct{}{}
}

// Remove drops a session on disconnect.
func (sm *SessionManager) Remove(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, s)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// IsLoggedIn reports whether any session past CONNECTED carries the
// username. Enforces the one-session-per-user invariant at login.
func (sm *SessionManager) IsLoggedIn(username string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for s := range sm.sessions {
		if s.State() != StateConnected && s.Username() == username {
			return true
		}
	}
	return false
}

// Players returns the usernames of logged-in player sessions.
func (sm *SessionManager) Players() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	names := make([]string, 0, len(sm.sessions))
	for s := range sm.sessions {
		if name := s.Username(); name != "" && s.Role() == catalog.RolePlayer {
			names = append(names, name)
		}
	}
	return names
}

// ForEachInRoom calls fn for every session whose room id matches.
func (sm *SessionManager) ForEachInRoom(roomID int, fn func(*Session)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for s := range sm.sessions {
		if s.RoomID() == roomID {
			fn(s)
		}
	}
}
