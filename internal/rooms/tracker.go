package rooms

import (
	"context"
	"fmt"
	"sync"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/store"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// Tracker maps room ids to the sessions currently subscribed to them. A
// session appears in a room's set iff it joined and has not since left or
// disconnected.
type Tracker struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // roomID -> session ids
	catalog store.RoomCatalog
}

// NewTracker creates a tracker backed by the external room catalog.
func NewTracker(catalog store.RoomCatalog) *Tracker {
	return &Tracker{
		members: make(map[string]map[string]struct{}),
		catalog: catalog,
	}
}

// Join adds the session to the room's set. Idempotent: joining twice leaves
// the membership state unchanged and reports added=false. Fails if the room
// does not exist in the catalog; direct-conversation rooms are implicit and
// skip the lookup.
func (t *Tracker) Join(ctx context.Context, sessionID, roomID string) (added bool, err error) {
	if !domain.IsConversationID(roomID) {
		exists, err := t.catalog.RoomExists(ctx, roomID)
		if err != nil {
			return false, fmt.Errorf("room catalog lookup: %w", err)
		}
		if !exists {
			return false, domain.ErrRoomNotFound
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		t.members[roomID] = set
	}
	if _, ok := set[sessionID]; ok {
		return false, nil
	}
	set[sessionID] = struct{}{}

	log.L().Debug().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldRoomID, roomID).
		Msg("session joined room")
	return true, nil
}

// Leave removes the session from the room's set. A no-op, never an error,
// when the session was not a member.
func (t *Tracker) Leave(sessionID, roomID string) (removed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.members[roomID]
	if !ok {
		return false
	}
	if _, ok := set[sessionID]; !ok {
		return false
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(t.members, roomID)
	}

	log.L().Debug().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldRoomID, roomID).
		Msg("session left room")
	return true
}

// MembersOf returns the session ids currently joined to the room. Used to
// resolve fan-out targets.
func (t *Tracker) MembersOf(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.members[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// MemberCount returns the number of sessions in the room.
func (t *Tracker) MemberCount(roomID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members[roomID])
}

// IsMember reports whether the session is joined to the room.
func (t *Tracker) IsMember(sessionID, roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[roomID][sessionID]
	return ok
}
