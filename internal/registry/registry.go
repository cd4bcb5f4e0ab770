package registry

import (
	"sync"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// Session tracks one transport connection. It is created on connect,
// destroyed on disconnect, and never persisted.
type Session struct {
	ID        string
	UserID    string // empty until authenticated
	CreatedAt time.Time

	rooms map[string]struct{}
}

// Registry maps user identities to their open sessions and derives presence
// transitions from the per-user reference count. All mutations are guarded
// by one mutex so a user's online/offline transitions are strictly ordered.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	userSessions map[string]map[string]struct{} // userID -> session ids

	// Presence callbacks run synchronously under the registry lock, which
	// is what keeps transitions ordered. They must be fast and must not
	// call back into the registry.
	onOnline  []func(userID string, at time.Time)
	onOffline []func(userID string, lastSeen time.Time)
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		userSessions: make(map[string]map[string]struct{}),
	}
}

// OnPresenceOnline registers a callback for 0->1 session transitions.
func (r *Registry) OnPresenceOnline(fn func(userID string, at time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOnline = append(r.onOnline, fn)
}

// OnPresenceOffline registers a callback for 1->0 session transitions.
func (r *Registry) OnPresenceOffline(fn func(userID string, lastSeen time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOffline = append(r.onOffline, fn)
}

// RegisterSession creates an unauthenticated session.
func (r *Registry) RegisterSession(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		ID:        sessionID,
		CreatedAt: time.Now(),
		rooms:     make(map[string]struct{}),
	}
	r.sessions[sessionID] = s

	log.L().Debug().Str(log.FieldSessionID, sessionID).Msg("session registered")
	return s
}

// Authenticate binds a verified user id to a session. The caller has already
// verified the credential; this fails only if the session no longer exists.
// A 0->1 session count transition emits presence_online.
func (r *Registry) Authenticate(sessionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.UserID == userID {
		return nil
	}
	if s.UserID != "" {
		// Rebinding a session to a different user counts as a destroy+auth
		// for presence purposes.
		r.detachUserLocked(s)
	}

	s.UserID = userID

	set, ok := r.userSessions[userID]
	if !ok {
		set = make(map[string]struct{})
		r.userSessions[userID] = set
	}
	set[sessionID] = struct{}{}

	if len(set) == 1 {
		now := time.Now()
		for _, fn := range r.onOnline {
			fn(userID, now)
		}
	}

	log.L().Debug().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldUserID, userID).
		Msg("session authenticated")
	return nil
}

// DestroySession removes the session and returns the rooms it had joined so
// the caller can cascade the removal. A 1->0 session count transition
// records lastSeen and emits presence_offline.
func (r *Registry) DestroySession(sessionID string) (userID string, rooms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return "", nil
	}
	delete(r.sessions, sessionID)

	rooms = make([]string, 0, len(s.rooms))
	for roomID := range s.rooms {
		rooms = append(rooms, roomID)
	}

	userID = s.UserID
	r.detachUserLocked(s)

	log.L().Debug().Str(log.FieldSessionID, sessionID).Msg("session destroyed")
	return userID, rooms
}

// detachUserLocked removes the session from its user's set and emits
// presence_offline on the 1->0 transition. Caller holds r.mu.
func (r *Registry) detachUserLocked(s *Session) {
	if s.UserID == "" {
		return
	}
	set := r.userSessions[s.UserID]
	delete(set, s.ID)
	if len(set) == 0 {
		delete(r.userSessions, s.UserID)
		lastSeen := time.Now()
		for _, fn := range r.onOffline {
			fn(s.UserID, lastSeen)
		}
	}
}

// SessionsForUser returns the user's open session ids.
func (r *Registry) SessionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.userSessions[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// UserForSession resolves the user bound to a session, if any.
func (r *Registry) UserForSession(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.UserID == "" {
		return "", false
	}
	return s.UserID, true
}

// IsAuthenticated reports whether the session completed the auth handshake.
func (r *Registry) IsAuthenticated(sessionID string) bool {
	_, ok := r.UserForSession(sessionID)
	return ok
}

// TrackRoom records that the session joined a room, for disconnect cleanup.
func (r *Registry) TrackRoom(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.rooms[roomID] = struct{}{}
	}
}

// UntrackRoom records that the session left a room.
func (r *Registry) UntrackRoom(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		delete(s.rooms, roomID)
	}
}

// RoomsForSession lists rooms the session has joined.
func (r *Registry) RoomsForSession(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.rooms))
	for roomID := range s.rooms {
		out = append(out, roomID)
	}
	return out
}

// SessionCount returns the number of open sessions, for stats endpoints.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
