package registry

import (
	"testing"
	"time"
)

func TestAuthenticateUnknownSession(t *testing.T) {
	r := NewRegistry()
	if err := r.Authenticate("missing", "user-1"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestAuthenticateBindsUser(t *testing.T) {
	r := NewRegistry()
	r.RegisterSession("s1")

	if r.IsAuthenticated("s1") {
		t.Fatal("fresh session must not be authenticated")
	}
	if err := r.Authenticate("s1", "user-1"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	userID, ok := r.UserForSession("s1")
	if !ok || userID != "user-1" {
		t.Fatalf("UserForSession = %q, %v; want user-1, true", userID, ok)
	}
	if got := r.SessionsForUser("user-1"); len(got) != 1 || got[0] != "s1" {
		t.Fatalf("SessionsForUser = %v; want [s1]", got)
	}
}

func TestPresenceTransitions(t *testing.T) {
	r := NewRegistry()

	var events []string
	r.OnPresenceOnline(func(userID string, at time.Time) {
		events = append(events, "online:"+userID)
	})
	r.OnPresenceOffline(func(userID string, lastSeen time.Time) {
		events = append(events, "offline:"+userID)
	})

	r.RegisterSession("s1")
	r.RegisterSession("s2")

	// First session: 0 -> 1 emits online.
	r.Authenticate("s1", "user-1")
	// Second session: 1 -> 2 emits nothing.
	r.Authenticate("s2", "user-1")
	// First disconnect: 2 -> 1 emits nothing.
	r.DestroySession("s1")
	// Last disconnect: 1 -> 0 emits offline.
	r.DestroySession("s2")

	want := []string{"online:user-1", "offline:user-1"}
	if len(events) != len(want) {
		t.Fatalf("events = %v; want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %q; want %q", i, events[i], want[i])
		}
	}
}

func TestAuthenticateIdempotent(t *testing.T) {
	r := NewRegistry()

	onlines := 0
	r.OnPresenceOnline(func(string, time.Time) { onlines++ })

	r.RegisterSession("s1")
	r.Authenticate("s1", "user-1")
	r.Authenticate("s1", "user-1")

	if onlines != 1 {
		t.Fatalf("online events = %d; want 1", onlines)
	}
}

func TestRebindSessionToDifferentUser(t *testing.T) {
	r := NewRegistry()

	var events []string
	r.OnPresenceOnline(func(userID string, _ time.Time) { events = append(events, "online:"+userID) })
	r.OnPresenceOffline(func(userID string, _ time.Time) { events = append(events, "offline:"+userID) })

	r.RegisterSession("s1")
	r.Authenticate("s1", "user-1")
	r.Authenticate("s1", "user-2")

	want := []string{"online:user-1", "offline:user-1", "online:user-2"}
	if len(events) != len(want) {
		t.Fatalf("events = %v; want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %q; want %q", i, events[i], want[i])
		}
	}
	if got := r.SessionsForUser("user-1"); len(got) != 0 {
		t.Fatalf("user-1 still has sessions: %v", got)
	}
}

func TestDestroySessionReturnsRooms(t *testing.T) {
	r := NewRegistry()
	r.RegisterSession("s1")
	r.Authenticate("s1", "user-1")
	r.TrackRoom("s1", "room-a")
	r.TrackRoom("s1", "room-b")
	r.UntrackRoom("s1", "room-b")

	userID, rooms := r.DestroySession("s1")
	if userID != "user-1" {
		t.Fatalf("userID = %q; want user-1", userID)
	}
	if len(rooms) != 1 || rooms[0] != "room-a" {
		t.Fatalf("rooms = %v; want [room-a]", rooms)
	}

	// Destroying again is a no-op.
	userID, rooms = r.DestroySession("s1")
	if userID != "" || rooms != nil {
		t.Fatalf("second destroy = %q, %v; want empty", userID, rooms)
	}
}

func TestUnauthenticatedDestroyEmitsNothing(t *testing.T) {
	r := NewRegistry()
	offlines := 0
	r.OnPresenceOffline(func(string, time.Time) { offlines++ })

	r.RegisterSession("s1")
	r.DestroySession("s1")

	if offlines != 0 {
		t.Fatalf("offline events = %d; want 0", offlines)
	}
}

func TestSessionCount(t *testing.T) {
	r := NewRegistry()
	r.RegisterSession("s1")
	r.RegisterSession("s2")
	if got := r.SessionCount(); got != 2 {
		t.Fatalf("SessionCount = %d; want 2", got)
	}
	r.DestroySession("s1")
	if got := r.SessionCount(); got != 1 {
		t.Fatalf("SessionCount = %d; want 1", got)
	}
}
