package typing

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTTL clears a typing entry that receives no refresh.
const DefaultTTL = 5 * time.Second

// Aggregator tracks which users are typing in which rooms. Entries expire
// after the TTL unless refreshed; expiry behaves exactly like an explicit
// stop. Repeated "still typing" signals inside the TTL window refresh the
// timer without re-emitting, so observers see one start and one stop per
// typing burst.
type Aggregator struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*time.Timer // "roomID:userID" -> expiry timer
	emit    func(roomID, userID string, isTyping bool)
}

// NewAggregator creates an aggregator emitting transitions through emit.
// A non-positive ttl falls back to DefaultTTL.
func NewAggregator(ttl time.Duration, emit func(roomID, userID string, isTyping bool)) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{
		ttl:     ttl,
		entries: make(map[string]*time.Timer),
		emit:    emit,
	}
}

func entryKey(roomID, userID string) string {
	return fmt.Sprintf("%s:%s", roomID, userID)
}

// SetTyping inserts, refreshes, or removes a typing entry. Only genuine
// transitions emit: a new entry emits true, an explicit stop on an existing
// entry emits false, everything else is silent.
func (a *Aggregator) SetTyping(roomID, userID string, isTyping bool) {
	key := entryKey(roomID, userID)

	a.mu.Lock()
	timer, exists := a.entries[key]

	if isTyping {
		if exists {
			timer.Reset(a.ttl)
			a.mu.Unlock()
			return
		}
		a.entries[key] = time.AfterFunc(a.ttl, func() {
			a.expire(roomID, userID)
		})
		a.mu.Unlock()
		a.emit(roomID, userID, true)
		return
	}

	if !exists {
		a.mu.Unlock()
		return
	}
	timer.Stop()
	delete(a.entries, key)
	a.mu.Unlock()
	a.emit(roomID, userID, false)
}

// expire handles TTL expiry: identical to an explicit stop.
func (a *Aggregator) expire(roomID, userID string) {
	key := entryKey(roomID, userID)

	a.mu.Lock()
	if _, ok := a.entries[key]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.entries, key)
	a.mu.Unlock()
	a.emit(roomID, userID, false)
}

// ClearRoomUser removes the entry for a (room, user) pair, emitting a stop
// if one was active. Called when the user leaves the room.
func (a *Aggregator) ClearRoomUser(roomID, userID string) {
	a.SetTyping(roomID, userID, false)
}

// ClearUser removes the user's entries across the given rooms, emitting a
// stop for each active one. Called on session destruction.
func (a *Aggregator) ClearUser(userID string, roomIDs []string) {
	for _, roomID := range roomIDs {
		a.SetTyping(roomID, userID, false)
	}
}

// TypingIn returns whether the user is currently marked typing in the room.
func (a *Aggregator) TypingIn(roomID, userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[entryKey(roomID, userID)]
	return ok
}

// Stop cancels all timers without emitting. Used on shutdown.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, timer := range a.entries {
		timer.Stop()
		delete(a.entries, key)
	}
}
